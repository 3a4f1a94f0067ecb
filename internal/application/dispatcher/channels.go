package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/event"
)

// Channel names
const (
	ChannelEmail     = "email"
	ChannelBroadcast = "broadcast"
	ChannelAlert     = "alert"
)

// EmailChannel sends customer-facing events by email
type EmailChannel struct {
	sender port.EmailSender
}

// NewEmailChannel creates an email channel
func NewEmailChannel(sender port.EmailSender) *EmailChannel {
	return &EmailChannel{sender: sender}
}

func (c *EmailChannel) Name() string { return ChannelEmail }

func (c *EmailChannel) Accepts(eventType event.Type) bool {
	return eventType.IsCustomerFacing()
}

func (c *EmailChannel) Send(ctx context.Context, evt *event.Event) error {
	msg, err := RenderEmail(evt)
	if err != nil {
		return err
	}
	return c.sender.Send(ctx, msg)
}

// RenderEmail builds the customer email for a quote event
func RenderEmail(evt *event.Event) (port.EmailMessage, error) {
	to := evt.GetPayloadString(event.KeyCustomerEmail)
	if to == "" {
		return port.EmailMessage{}, fmt.Errorf("event %s has no customer email", evt.ID)
	}
	name := evt.GetPayloadString(event.KeyCustomerName)
	quoteNumber := evt.GetPayloadString(event.KeyQuoteNumber)

	msg := port.EmailMessage{To: to, ToName: name}
	var body strings.Builder
	if name != "" {
		fmt.Fprintf(&body, "Hello %s,\n\n", name)
	}

	switch evt.Type {
	case event.TypeQuoteConverted:
		orderNumber := evt.GetPayloadString(event.KeyOrderNumber)
		msg.Subject = fmt.Sprintf("Quote %s Converted to Order %s", quoteNumber, orderNumber)
		fmt.Fprintf(&body, "Thank you for approving quote %s.\n", quoteNumber)
		fmt.Fprintf(&body, "Your order %s has been created", orderNumber)
		if total := evt.GetPayloadString(event.KeyTotal); total != "" {
			fmt.Fprintf(&body, " for %s", total)
		}
		body.WriteString(" and will be scheduled for production.\n")
	case event.TypeQuoteRejected:
		msg.Subject = fmt.Sprintf("Quote %s Rejected", quoteNumber)
		fmt.Fprintf(&body, "Quote %s has been marked as rejected.\n", quoteNumber)
		if reason := evt.GetPayloadString(event.KeyReason); reason != "" {
			fmt.Fprintf(&body, "Reason: %s\n", reason)
		}
		body.WriteString("Reply to this email if you would like a revised quote.\n")
	default:
		return port.EmailMessage{}, fmt.Errorf("no email template for event type %s", evt.Type)
	}

	msg.Body = body.String()
	return msg, nil
}

// BroadcastChannel publishes every event to real-time subscribers
type BroadcastChannel struct {
	broadcaster port.Broadcaster
}

// NewBroadcastChannel creates a broadcast channel
func NewBroadcastChannel(b port.Broadcaster) *BroadcastChannel {
	return &BroadcastChannel{broadcaster: b}
}

func (c *BroadcastChannel) Name() string { return ChannelBroadcast }

func (c *BroadcastChannel) Accepts(eventType event.Type) bool { return true }

func (c *BroadcastChannel) Send(ctx context.Context, evt *event.Event) error {
	return c.broadcaster.Broadcast(ctx, evt)
}

// AlertChannel forwards failures that need an operator
type AlertChannel struct {
	sender port.AlertSender
}

// NewAlertChannel creates an operator alert channel
func NewAlertChannel(sender port.AlertSender) *AlertChannel {
	return &AlertChannel{sender: sender}
}

func (c *AlertChannel) Name() string { return ChannelAlert }

func (c *AlertChannel) Accepts(eventType event.Type) bool {
	return eventType.IsOperatorAlert()
}

func (c *AlertChannel) Send(ctx context.Context, evt *event.Event) error {
	return c.sender.SendAlert(ctx, RenderAlert(evt))
}

// RenderAlert builds the operator alert for a task failure event
func RenderAlert(evt *event.Event) port.Alert {
	title := "Workflow task failed"
	if evt.Type == event.TypeTaskDeadLettered {
		title = "Workflow task dead-lettered"
	}

	fields := map[string]string{}
	for _, key := range []string{
		event.KeyTaskID,
		event.KeyTaskType,
		event.KeyQuoteID,
		event.KeyAttempts,
		event.KeyLastError,
	} {
		if v, ok := evt.Payload[key]; ok {
			fields[key] = fmt.Sprint(v)
		}
	}

	msg := fmt.Sprintf("%s %s stopped after %s attempt(s): %s",
		fields[event.KeyTaskType], evt.EntityID, fields[event.KeyAttempts], fields[event.KeyLastError])
	if hint := evt.GetPayloadString(event.KeyRemediation); hint != "" {
		msg += "\nRemediation: " + hint
	}

	return port.Alert{
		Title:    title,
		Severity: "critical",
		Message:  msg,
		Fields:   fields,
	}
}
