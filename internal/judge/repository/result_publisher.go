package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"algoforge/internal/common/mq"
	"algoforge/internal/judge/model"
	appErr "algoforge/pkg/errors"
)

// ResultPublisher publishes terminal judge results for async processing.
type ResultPublisher interface {
	PublishFinal(ctx context.Context, record model.StatusRecord) error
}

// MQResultPublisher publishes result events to a message queue.
type MQResultPublisher struct {
	queue mq.MessageQueue
	topic string
}

// NewMQResultPublisher creates a new MQ result publisher.
func NewMQResultPublisher(queue mq.MessageQueue, topic string) *MQResultPublisher {
	return &MQResultPublisher{queue: queue, topic: topic}
}

// PublishFinal publishes a terminal result event.
func (p *MQResultPublisher) PublishFinal(ctx context.Context, record model.StatusRecord) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("result publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("result topic is required")
	}
	if record.SubmissionID <= 0 {
		return appErr.ValidationError("submission_id", "required")
	}
	if !record.Status.Terminal() {
		return appErr.New(appErr.InvalidParams).WithMessage("result status is not terminal")
	}
	event := model.ResultEvent{
		Type:      model.ResultEventFinal,
		Status:    record,
		CreatedAt: time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal result event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = strconv.FormatInt(record.SubmissionID, 10)
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish result event failed")
	}
	return nil
}
