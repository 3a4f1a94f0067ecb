package port

import (
	"context"
	"time"

	"github.com/garyjia/printshop-workflow/internal/domain/event"
)

// EmailMessage is a customer-facing email
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// EmailSender delivers customer email
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// Broadcaster publishes events to real-time subscribers
type Broadcaster interface {
	Broadcast(ctx context.Context, evt *event.Event) error
}

// Alert is an operator notification
type Alert struct {
	Title    string
	Severity string
	Message  string
	Fields   map[string]string
}

// AlertSender delivers operator alerts
type AlertSender interface {
	SendAlert(ctx context.Context, alert Alert) error
}

// DispatchCache remembers recently dispatched notifications
type DispatchCache interface {
	// Seen reports whether the key was marked and has not expired
	Seen(ctx context.Context, key string) (bool, error)

	// Mark records the key for ttl
	Mark(ctx context.Context, key string, ttl time.Duration) error
}
