// Package alerts notifies operators about events that reached the dead letter
// channel.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/billsync/pkg/logger"
)

const defaultPublishTimeout = 15 * time.Second

// DeadLetter describes one dead-lettered inbound event.
type DeadLetter struct {
	ProviderEventID string    `json:"providerEventId"`
	EventType       string    `json:"eventType"`
	Reason          string    `json:"reason"`
	Error           string    `json:"error,omitempty"`
	AttemptCount    int       `json:"attemptCount"`
	FailedAt        time.Time `json:"failedAt"`
}

// Alerter delivers dead letter notifications.
type Alerter interface {
	DeadLettered(ctx context.Context, alert DeadLetter) error
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

// PubSubAlerter publishes alerts as JSON messages.
type PubSubAlerter struct {
	pub publisher
}

// NewPubSubAlerter wraps a Pub/Sub publisher.
func NewPubSubAlerter(p *gcppubsub.Publisher) (*PubSubAlerter, error) {
	if p == nil {
		return nil, errors.New("pubsub publisher required")
	}
	return &PubSubAlerter{pub: &gcpPublisher{Publisher: p}}, nil
}

func (a *PubSubAlerter) DeadLettered(ctx context.Context, alert DeadLetter) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal dead letter alert: %w", err)
	}
	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"provider_event_id": alert.ProviderEventID,
			"event_type":        alert.EventType,
			"reason":            alert.Reason,
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := a.pub.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish dead letter alert: %w", err)
	}
	return nil
}

// LogAlerter writes alerts to the structured log. Used when no topic is set.
type LogAlerter struct {
	logg *logger.Logger
}

func NewLogAlerter(logg *logger.Logger) *LogAlerter {
	return &LogAlerter{logg: logg}
}

func (a *LogAlerter) DeadLettered(ctx context.Context, alert DeadLetter) error {
	if a == nil || a.logg == nil {
		return nil
	}
	ctx = a.logg.WithFields(ctx, map[string]any{
		"provider_event_id": alert.ProviderEventID,
		"event_type":        alert.EventType,
		"reason":            alert.Reason,
		"attempt_count":     alert.AttemptCount,
		"last_error":        alert.Error,
	})
	a.logg.Warn(ctx, "event dead lettered")
	return nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}
