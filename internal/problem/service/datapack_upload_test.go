package service

import (
	"context"
	"strings"
	"testing"

	"algoforge/internal/common/storage"
	pkgerrors "algoforge/pkg/errors"
)

func TestProblemService_DirectTestDataUpload(t *testing.T) {
	t.Parallel()

	svc, repo, store := newProblemServiceForTest()
	ctx := context.Background()

	id, err := svc.CreateProblem(ctx, CreateInput{Title: "big pack", Difficulty: "easy", OwnerID: 1})
	if err != nil {
		t.Fatalf("create problem failed: %v", err)
	}

	packed, hash, err := NewDataPackStore(store, "problems").Build(id, sampleCases())
	if err != nil {
		t.Fatalf("build pack failed: %v", err)
	}

	upload, err := svc.BeginTestDataUpload(ctx, id, 1, "user", hash)
	if err != nil {
		t.Fatalf("begin upload failed: %v", err)
	}
	if upload.UploadID == "" || upload.ObjectKey != DataPackKey(id, hash) {
		t.Fatalf("unexpected upload descriptor: %+v", upload)
	}

	url, err := svc.PresignTestDataPart(ctx, id, 1, "user", hash, upload.UploadID, 1)
	if err != nil {
		t.Fatalf("presign part failed: %v", err)
	}
	if !strings.Contains(url, upload.UploadID) {
		t.Fatalf("presigned URL should reference the upload, got %s", url)
	}

	// Split the pack across two parts like a real client would.
	half := len(packed) / 2
	store.putPart(upload.UploadID, 1, packed[:half])
	store.putPart(upload.UploadID, 2, packed[half:])

	parts := []storage.CompletedPart{
		{PartNumber: 1, ETag: "etag-1"},
		{PartNumber: 2, ETag: "etag-2"},
	}
	if err := svc.CompleteTestDataUpload(ctx, id, 1, "user", hash, upload.UploadID, parts); err != nil {
		t.Fatalf("complete upload failed: %v", err)
	}

	problem := repo.problems[id]
	if problem.DataPackKey != upload.ObjectKey || problem.DataPackHash != hash {
		t.Fatalf("pack should be attached to the problem, got %+v", problem)
	}
	if problem.TestCaseCount != 2 {
		t.Fatalf("expected 2 test cases recorded, got %d", problem.TestCaseCount)
	}

	cases, err := svc.LoadTestCases(ctx, problem)
	if err != nil {
		t.Fatalf("load test cases after direct upload failed: %v", err)
	}
	if len(cases) != 2 || cases[1].Expected != "12\n" {
		t.Fatalf("unexpected cases: %+v", cases)
	}

	if err := svc.PublishProblem(ctx, id, 1, "user"); err != nil {
		t.Fatalf("publish after direct upload failed: %v", err)
	}
}

func TestProblemService_DirectUploadRejectsMismatchedPack(t *testing.T) {
	t.Parallel()

	svc, repo, store := newProblemServiceForTest()
	ctx := context.Background()

	id, err := svc.CreateProblem(ctx, CreateInput{Title: "tampered", Difficulty: "easy", OwnerID: 1})
	if err != nil {
		t.Fatalf("create problem failed: %v", err)
	}

	packed, _, err := NewDataPackStore(store, "problems").Build(id, sampleCases())
	if err != nil {
		t.Fatalf("build pack failed: %v", err)
	}

	// Declare a hash that does not match the uploaded bytes.
	wrongHash := strings.Repeat("ab", 32)
	upload, err := svc.BeginTestDataUpload(ctx, id, 1, "user", wrongHash)
	if err != nil {
		t.Fatalf("begin upload failed: %v", err)
	}
	store.putPart(upload.UploadID, 1, packed)

	err = svc.CompleteTestDataUpload(ctx, id, 1, "user", wrongHash, upload.UploadID, []storage.CompletedPart{{PartNumber: 1, ETag: "e"}})
	if err == nil || !pkgerrors.Is(err, pkgerrors.DataPackCorrupt) {
		t.Fatalf("expected DataPackCorrupt, got %v", err)
	}

	// The rejected object must not linger, and the problem stays without data.
	if _, ok := store.objects["problems/"+upload.ObjectKey]; ok {
		t.Fatalf("rejected pack should be removed from storage")
	}
	if repo.problems[id].DataPackKey != "" {
		t.Fatalf("problem should not reference a rejected pack")
	}
}

func TestProblemService_DirectUploadValidation(t *testing.T) {
	t.Parallel()

	svc, _, store := newProblemServiceForTest()
	ctx := context.Background()

	id, err := svc.CreateProblem(ctx, CreateInput{Title: "guarded", Difficulty: "easy", OwnerID: 1})
	if err != nil {
		t.Fatalf("create problem failed: %v", err)
	}
	hash := strings.Repeat("0f", 32)

	if _, err := svc.BeginTestDataUpload(ctx, id, 1, "user", "not-a-hash"); err == nil {
		t.Fatalf("expected rejection of malformed hash")
	}

	// Only the owner or an admin may upload test data.
	_, err = svc.BeginTestDataUpload(ctx, id, 2, "user", hash)
	if err == nil || !pkgerrors.Is(err, pkgerrors.ProblemAccessDenied) {
		t.Fatalf("expected ProblemAccessDenied, got %v", err)
	}

	upload, err := svc.BeginTestDataUpload(ctx, id, 1, "user", hash)
	if err != nil {
		t.Fatalf("begin upload failed: %v", err)
	}
	if _, err := svc.PresignTestDataPart(ctx, id, 1, "user", hash, upload.UploadID, 0); err == nil {
		t.Fatalf("expected rejection of part number 0")
	}
	if _, err := svc.PresignTestDataPart(ctx, id, 1, "user", hash, "", 1); err == nil {
		t.Fatalf("expected rejection of empty upload id")
	}

	if err := svc.AbortTestDataUpload(ctx, id, 1, "user", hash, upload.UploadID); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if len(store.uploads) != 0 {
		t.Fatalf("aborted upload should be gone, %d remain", len(store.uploads))
	}
}
