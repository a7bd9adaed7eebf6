package service

import (
	"context"
	"fmt"
	"time"

	"algoforge/internal/common/storage"
	"algoforge/internal/problem/repository"
	pkgerrors "algoforge/pkg/errors"
	"algoforge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	uploadPartTTL  = 15 * time.Minute
	maxUploadParts = 1000
	packHashLength = 64
)

// TestDataUpload identifies one in-flight direct pack upload.
type TestDataUpload struct {
	UploadID  string
	ObjectKey string
}

// BeginTestDataUpload starts a direct multipart upload of a pre-built test
// data pack. The inline authoring path tops out at maxDataPackBytes per
// request body; packs near that limit go through presigned parts instead.
// The pack is addressed by the sha256 of its compressed bytes, which the
// client must supply up front and which is verified on completion.
func (s *ProblemService) BeginTestDataUpload(ctx context.Context, problemID int64, actorID int64, actorRole string, packHash string) (*TestDataUpload, error) {
	if _, err := s.getOwned(ctx, problemID, actorID, actorRole); err != nil {
		return nil, err
	}
	if !isPackHash(packHash) {
		return nil, pkgerrors.ValidationError("pack_hash", "must be a hex sha256")
	}

	key := DataPackKey(problemID, packHash)
	uploadID, err := s.packs.storage.CreateMultipartUpload(ctx, s.packs.bucket, key, dataPackContentType)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("create pack upload: %w", err), pkgerrors.DataPackPutFailed)
	}
	return &TestDataUpload{UploadID: uploadID, ObjectKey: key}, nil
}

// PresignTestDataPart returns a presigned PUT URL for one part of an
// in-flight pack upload.
func (s *ProblemService) PresignTestDataPart(ctx context.Context, problemID int64, actorID int64, actorRole string, packHash, uploadID string, partNumber int) (string, error) {
	if _, err := s.getOwned(ctx, problemID, actorID, actorRole); err != nil {
		return "", err
	}
	if !isPackHash(packHash) {
		return "", pkgerrors.ValidationError("pack_hash", "must be a hex sha256")
	}
	if uploadID == "" {
		return "", pkgerrors.ValidationError("upload_id", "required")
	}
	if partNumber < 1 || partNumber > maxUploadParts {
		return "", pkgerrors.ValidationError("part_number", "must be 1-1000")
	}

	key := DataPackKey(problemID, packHash)
	url, err := s.packs.storage.PresignUploadPart(ctx, s.packs.bucket, key, uploadID, partNumber, uploadPartTTL, dataPackContentType)
	if err != nil {
		return "", pkgerrors.Wrap(fmt.Errorf("presign pack part: %w", err), pkgerrors.DataPackPutFailed)
	}
	return url, nil
}

// CompleteTestDataUpload assembles the uploaded parts, verifies the pack
// against the declared hash, and attaches it to the problem. A pack that
// fails verification is removed again so a bad upload never becomes the
// problem's test data.
func (s *ProblemService) CompleteTestDataUpload(ctx context.Context, problemID int64, actorID int64, actorRole string, packHash, uploadID string, parts []storage.CompletedPart) error {
	if _, err := s.getOwned(ctx, problemID, actorID, actorRole); err != nil {
		return err
	}
	if !isPackHash(packHash) {
		return pkgerrors.ValidationError("pack_hash", "must be a hex sha256")
	}
	if uploadID == "" {
		return pkgerrors.ValidationError("upload_id", "required")
	}
	if len(parts) == 0 || len(parts) > maxUploadParts {
		return pkgerrors.ValidationError("parts", "must be 1-1000 entries")
	}

	key := DataPackKey(problemID, packHash)
	if _, err := s.packs.storage.CompleteMultipartUpload(ctx, s.packs.bucket, key, uploadID, parts); err != nil {
		return pkgerrors.Wrap(fmt.Errorf("complete pack upload: %w", err), pkgerrors.DataPackPutFailed)
	}

	cases, err := s.packs.Load(ctx, key, packHash)
	if err == nil {
		if verr := validateTestCases(cases); verr != nil {
			err = verr
		}
	}
	if err != nil {
		s.removeUploadedPack(ctx, key)
		return err
	}

	if err := s.repo.UpdateDataPack(ctx, nil, problemID, key, packHash, int32(len(cases))); err != nil {
		if err == repository.ErrProblemNotFound {
			return pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return pkgerrors.Wrap(fmt.Errorf("record data pack failed: %w", err), pkgerrors.ProblemUpdateFailed)
	}
	return nil
}

// AbortTestDataUpload abandons an in-flight pack upload and frees its parts.
func (s *ProblemService) AbortTestDataUpload(ctx context.Context, problemID int64, actorID int64, actorRole string, packHash, uploadID string) error {
	if _, err := s.getOwned(ctx, problemID, actorID, actorRole); err != nil {
		return err
	}
	if !isPackHash(packHash) {
		return pkgerrors.ValidationError("pack_hash", "must be a hex sha256")
	}
	if uploadID == "" {
		return pkgerrors.ValidationError("upload_id", "required")
	}

	key := DataPackKey(problemID, packHash)
	if err := s.packs.storage.AbortMultipartUpload(ctx, s.packs.bucket, key, uploadID); err != nil {
		return pkgerrors.Wrap(fmt.Errorf("abort pack upload: %w", err), pkgerrors.DataPackPutFailed)
	}
	return nil
}

func (s *ProblemService) removeUploadedPack(ctx context.Context, key string) {
	if err := s.packs.storage.RemoveObjects(ctx, s.packs.bucket, []string{key}); err != nil {
		logger.Warn(ctx, "remove rejected data pack failed", zap.String("key", key), zap.Error(err))
	}
}

func isPackHash(hash string) bool {
	if len(hash) != packHashLength {
		return false
	}
	for _, r := range hash {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
