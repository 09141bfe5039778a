package notifier

import (
	"context"
	"time"
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
	// OnlyFailures suppresses reports of batches where every target succeeded.
	OnlyFailures bool
	// SendPhotos attaches successful artifacts to batch reports.
	SendPhotos bool
	// MaxPhotos caps attachments per report; 0 means 10.
	MaxPhotos int
}

// Message is one queued notification. Photos are artifact paths sent after
// the text.
type Message struct {
	Kind   string
	Text   string
	Photos []Photo
}

type Photo struct {
	Path    string
	Caption string
}

// Sender delivers messages to one destination.
type Sender interface {
	SendText(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, path, caption string) error
}

type HistoryItem struct {
	At   time.Time
	Kind string
	Text string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	Kind  string    `json:"kind"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
