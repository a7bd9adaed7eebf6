package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"algoforge/internal/common/storage"
	"algoforge/internal/problem/repository"
	pkgerrors "algoforge/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	dataPackContentType = "application/zstd"
	maxDataPackBytes    = 64 << 20
)

// dataPackPayload is the on-wire layout of a compressed test data pack.
type dataPackPayload struct {
	Version   int                   `json:"version"`
	ProblemID int64                 `json:"problem_id"`
	Cases     []repository.TestCase `json:"cases"`
}

// DataPackStore builds, uploads and loads compressed test data packs.
// Test cases never live in the database; a problem row only carries the
// object key and content hash of its pack.
type DataPackStore struct {
	storage storage.ObjectStorage
	bucket  string
}

func NewDataPackStore(objectStorage storage.ObjectStorage, bucket string) *DataPackStore {
	return &DataPackStore{storage: objectStorage, bucket: bucket}
}

// Build serializes and compresses the test cases, returning the pack bytes
// and the hex sha256 of the compressed payload.
func (s *DataPackStore) Build(problemID int64, cases []repository.TestCase) ([]byte, string, error) {
	payload := dataPackPayload{
		Version:   1,
		ProblemID: problemID,
		Cases:     cases,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, "", pkgerrors.Wrap(fmt.Errorf("marshal data pack: %w", err), pkgerrors.DataPackPutFailed)
	}

	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, "", pkgerrors.Wrap(fmt.Errorf("create zstd writer: %w", err), pkgerrors.DataPackPutFailed)
	}
	if _, err := encoder.Write(raw); err != nil {
		encoder.Close()
		return nil, "", pkgerrors.Wrap(fmt.Errorf("compress data pack: %w", err), pkgerrors.DataPackPutFailed)
	}
	if err := encoder.Close(); err != nil {
		return nil, "", pkgerrors.Wrap(fmt.Errorf("flush data pack: %w", err), pkgerrors.DataPackPutFailed)
	}

	packed := buf.Bytes()
	if int64(len(packed)) > maxDataPackBytes {
		return nil, "", pkgerrors.New(pkgerrors.TestCaseTooLarge)
	}
	sum := sha256.Sum256(packed)
	return packed, hex.EncodeToString(sum[:]), nil
}

// Upload stores a built pack under the problem's object prefix and returns
// the object key.
func (s *DataPackStore) Upload(ctx context.Context, problemID int64, hash string, packed []byte) (string, error) {
	key := DataPackKey(problemID, hash)
	reader := io.NopCloser(bytes.NewReader(packed))
	if err := s.storage.PutObject(ctx, s.bucket, key, reader, int64(len(packed)), dataPackContentType); err != nil {
		return "", pkgerrors.Wrap(fmt.Errorf("upload data pack: %w", err), pkgerrors.DataPackPutFailed)
	}
	return key, nil
}

// Load fetches a pack, verifies its hash and returns the decoded test cases.
func (s *DataPackStore) Load(ctx context.Context, key, wantHash string) ([]repository.TestCase, error) {
	reader, err := s.storage.GetObject(ctx, s.bucket, key)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("fetch data pack %s: %w", key, err), pkgerrors.DataPackLoadFailed)
	}
	defer reader.Close()

	packed, err := io.ReadAll(io.LimitReader(reader, maxDataPackBytes+1))
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("read data pack %s: %w", key, err), pkgerrors.DataPackLoadFailed)
	}
	if int64(len(packed)) > maxDataPackBytes {
		return nil, pkgerrors.New(pkgerrors.DataPackCorrupt)
	}
	if wantHash != "" {
		sum := sha256.Sum256(packed)
		if hex.EncodeToString(sum[:]) != wantHash {
			return nil, pkgerrors.New(pkgerrors.DataPackCorrupt)
		}
	}

	decoder, err := zstd.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("open data pack %s: %w", key, err), pkgerrors.DataPackCorrupt)
	}
	defer decoder.Close()

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("decompress data pack %s: %w", key, err), pkgerrors.DataPackCorrupt)
	}

	var payload dataPackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("decode data pack %s: %w", key, err), pkgerrors.DataPackCorrupt)
	}
	if len(payload.Cases) == 0 {
		return nil, pkgerrors.New(pkgerrors.TestCaseSetEmpty)
	}
	return payload.Cases, nil
}

// DataPackKey returns the canonical object key for a problem's test data.
func DataPackKey(problemID int64, hash string) string {
	return fmt.Sprintf("problems/%d/data/%s.json.zst", problemID, hash)
}
