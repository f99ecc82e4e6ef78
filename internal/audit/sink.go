package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/org/clipguard/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// AlertSink receives out-of-band notifications for critical violations.
type AlertSink interface {
	Alert(ctx context.Context, a models.Alert) error
}

// LogSink writes alerts to the process log.
type LogSink struct{}

func (LogSink) Alert(_ context.Context, a models.Alert) error {
	log.Error().
		Str("kind", string(a.Kind)).
		Str("principal", a.PrincipalID).
		Str("resource_id", a.ResourceID).
		Str("request_id", a.RequestID).
		Time("at", a.Timestamp).
		Msg("security alert: " + a.Message)
	return nil
}

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes alerts as JSON on a Redis channel for paging
// integrations to consume.
type RedisSink struct {
	client  publisher
	channel string
}

// NewRedisSink creates a sink publishing on channel.
func NewRedisSink(client publisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Alert(ctx context.Context, a models.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing alert: %w", err)
	}
	return nil
}

// MultiSink fans an alert out to every sink, attempting all of them.
type MultiSink []AlertSink

func (m MultiSink) Alert(ctx context.Context, a models.Alert) error {
	var errList []error
	for _, s := range m {
		if err := s.Alert(ctx, a); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
