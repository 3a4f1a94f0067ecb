package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
)

// messageCreator is the slice of the IM API the alert sender needs
type messageCreator interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
}

// AlertSender implements port.AlertSender by posting interactive cards to a chat
type AlertSender struct {
	messages messageCreator
	chatID   string
	logger   *zap.Logger
}

// NewAlertSender creates an alert sender for the client's configured chat
func NewAlertSender(sdkClient *SDKClient, logger *zap.Logger) *AlertSender {
	return &AlertSender{
		messages: sdkClient.GetClient().Im.Message,
		chatID:   sdkClient.GetChatID(),
		logger:   logger,
	}
}

// SendAlert posts the alert as a card message
func (s *AlertSender) SendAlert(ctx context.Context, alert port.Alert) error {
	if s.chatID == "" {
		return fmt.Errorf("chatID cannot be empty")
	}

	body, err := newAlertMessageBody(s.chatID, alert)
	if err != nil {
		return err
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("chat_id").
		Body(body).
		Build()

	resp, err := s.messages.Create(ctx, req)
	if err != nil {
		s.logger.Error("Failed to send alert",
			zap.String("chat_id", s.chatID),
			zap.String("title", alert.Title),
			zap.Error(err))
		return fmt.Errorf("failed to send alert: %w", err)
	}

	if !resp.Success() {
		s.logger.Error("API returned failure",
			zap.String("chat_id", s.chatID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	s.logger.Info("Alert sent",
		zap.String("message_id", messageID),
		zap.String("title", alert.Title))
	return nil
}

// newAlertMessageBody builds the interactive card message for a chat
func newAlertMessageBody(chatID string, alert port.Alert) (*larkim.CreateMessageReqBody, error) {
	card, err := json.Marshal(buildAlertCard(alert))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal card content: %w", err)
	}
	return larkim.NewCreateMessageReqBodyBuilder().
		ReceiveId(chatID).
		MsgType("interactive").
		Content(string(card)).
		Build(), nil
}

// buildAlertCard renders an alert as a Lark interactive card
func buildAlertCard(alert port.Alert) map[string]interface{} {
	template := "orange"
	if alert.Severity == "critical" {
		template = "red"
	}

	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, map[string]interface{}{
			"is_short": true,
			"text": map[string]interface{}{
				"tag":     "lark_md",
				"content": fmt.Sprintf("**%s**\n%s", k, alert.Fields[k]),
			},
		})
	}

	elements := []interface{}{
		map[string]interface{}{
			"tag": "div",
			"text": map[string]interface{}{
				"tag":     "lark_md",
				"content": alert.Message,
			},
		},
	}
	if len(fields) > 0 {
		elements = append(elements, map[string]interface{}{
			"tag":    "div",
			"fields": fields,
		})
	}

	return map[string]interface{}{
		"config": map[string]interface{}{"wide_screen_mode": true},
		"header": map[string]interface{}{
			"template": template,
			"title": map[string]interface{}{
				"tag":     "plain_text",
				"content": alert.Title,
			},
		},
		"elements": elements,
	}
}

var _ port.AlertSender = (*AlertSender)(nil)
