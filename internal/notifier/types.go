package notifier

import (
	"context"
	"time"
)

type Kind string

const (
	KindSuccess   Kind = "success"
	KindFailure   Kind = "failure"
	KindScheduled Kind = "scheduled"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	OnSuccess   bool
	OnFailure   bool
	OnScheduled bool
}

// DefaultConfig matches the documented defaults for an enabled notifier.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Workers:    1,
		QueueSize:  128,
		RatePerSec: 2,
		// a failed delivery is logged and dropped unless retries are configured
		RetryMax:      0,
		RetryBase:     500 * time.Millisecond,
		RetryMaxDelay: 10 * time.Second,
		OnSuccess:     true,
		OnFailure:     true,
		OnScheduled:   false,
	}
}

// Allows applies the per-kind toggles.
func (c Config) Allows(k Kind) bool {
	switch k {
	case KindSuccess:
		return c.OnSuccess
	case KindFailure:
		return c.OnFailure
	case KindScheduled:
		return c.OnScheduled
	default:
		return false
	}
}

// Channel is one delivery target.
type Channel interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// NotificationEvent is published on the event bus for delivery outcomes.
type NotificationEvent struct {
	Channel string    `json:"channel"`
	Kind    Kind      `json:"kind"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

type HistoryItem struct {
	At      time.Time
	Kind    Kind
	Channel string
	Text    string
}
