package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"algoforge/internal/common/mq"
	"algoforge/internal/judge/model"
	"algoforge/internal/submit/repository"
	appErr "algoforge/pkg/errors"
	"algoforge/pkg/utils/logger"

	"go.uber.org/zap"
)

// FinalResultHandler reacts to a submission reaching a terminal state, after
// the row has been finalized.
type FinalResultHandler interface {
	HandleFinalResult(ctx context.Context, record model.StatusRecord) error
}

// HandleFinalResultMessage consumes terminal judge results and writes them
// back to the submission row exactly once.
func (s *SubmitService) HandleFinalResultMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var event model.ResultEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "decode result event failed")
	}
	if event.Type != model.ResultEventFinal {
		return appErr.New(appErr.InvalidParams).WithMessage("result event type is invalid")
	}
	record := event.Status
	if record.SubmissionID <= 0 {
		return appErr.ValidationError("submission_id", "required")
	}
	if !record.Status.Terminal() {
		return appErr.New(appErr.InvalidParams).WithMessage("result status is not terminal")
	}

	firstWrite, err := s.finalizeSubmission(ctx, record)
	if err != nil {
		return err
	}
	if !firstWrite {
		logger.Info(ctx, "skip duplicate final result", zap.Int64("submission_id", record.SubmissionID))
		return nil
	}

	for _, handler := range s.finalResultHandlers {
		if handler == nil {
			continue
		}
		if err := handler.HandleFinalResult(ctx, record); err != nil {
			return fmt.Errorf("handle final result failed: %w", err)
		}
	}
	return nil
}

func (s *SubmitService) finalizeSubmission(ctx context.Context, record model.StatusRecord) (bool, error) {
	finishedAt := record.FinishedAt
	if finishedAt == 0 {
		finishedAt = time.Now().Unix()
	}
	result := repository.FinalResult{
		SubmissionID: record.SubmissionID,
		Verdict:      string(record.Verdict),
		TimeUsedMS:   record.TimeUsedMS,
		MemoryUsedKB: record.MemoryUsedKB,
		FailedTest:   int32(record.FailedTest),
		ErrorMessage: record.ErrorMessage,
		TestResults:  record.TestResults,
		FinishedAt:   time.Unix(finishedAt, 0),
	}
	switch record.Status {
	case model.StatusFinished:
		result.Status = repository.StatusFinished
	case model.StatusFailed:
		result.Status = repository.StatusFailed
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	err := s.submissionRepo.Finalize(ctxDB.ctx, nil, result)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyFinalized) {
			return false, nil
		}
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			logger.Warn(ctx, "final result for unknown submission", zap.Int64("submission_id", record.SubmissionID))
			return false, nil
		}
		return false, appErr.Wrapf(err, appErr.DatabaseError, "finalize submission failed")
	}
	return true, nil
}
