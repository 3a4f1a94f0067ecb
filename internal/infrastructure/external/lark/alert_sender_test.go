package lark

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
)

type fakeMessages struct {
	reqs []*larkim.CreateMessageReq
	resp *larkim.CreateMessageResp
	err  error
}

func (f *fakeMessages) Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

var deadLetter = port.Alert{
	Title:    "Workflow task dead-lettered",
	Severity: "critical",
	Message:  "CREATE_JOB q1 stopped after 3 attempt(s): db down",
	Fields:   map[string]string{"task_type": "CREATE_JOB", "attempts": "3"},
}

func TestSendAlert(t *testing.T) {
	fake := &fakeMessages{resp: &larkim.CreateMessageResp{
		Data: &larkim.CreateMessageRespData{MessageId: larkcore.StringPtr("om_1")},
	}}
	s := &AlertSender{messages: fake, chatID: "oc_ops", logger: zap.NewNop()}

	require.NoError(t, s.SendAlert(context.Background(), deadLetter))
	require.Len(t, fake.reqs, 1)
	require.NotNil(t, fake.reqs[0])
}

func TestNewAlertMessageBody(t *testing.T) {
	body, err := newAlertMessageBody("oc_ops", deadLetter)
	require.NoError(t, err)
	require.NotNil(t, body)
	require.NotNil(t, body.ReceiveId)
	require.NotNil(t, body.MsgType)
	require.NotNil(t, body.Content)
	assert.Equal(t, "oc_ops", *body.ReceiveId)
	assert.Equal(t, "interactive", *body.MsgType)

	var card map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(*body.Content), &card))
	header := card["header"].(map[string]interface{})
	assert.Equal(t, "red", header["template"])
	assert.Equal(t, "Workflow task dead-lettered", header["title"].(map[string]interface{})["content"])
}

func TestSendAlertErrors(t *testing.T) {
	ctx := context.Background()

	empty := &AlertSender{messages: &fakeMessages{}, logger: zap.NewNop()}
	assert.Error(t, empty.SendAlert(ctx, deadLetter))

	transport := &AlertSender{messages: &fakeMessages{err: errors.New("dial tcp: timeout")}, chatID: "oc_ops", logger: zap.NewNop()}
	assert.Error(t, transport.SendAlert(ctx, deadLetter))

	rejected := &AlertSender{
		messages: &fakeMessages{resp: &larkim.CreateMessageResp{CodeError: larkcore.CodeError{Code: 230001, Msg: "bot not in chat"}}},
		chatID:   "oc_ops",
		logger:   zap.NewNop(),
	}
	err := rejected.SendAlert(ctx, deadLetter)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "230001")
}

func TestBuildAlertCardSortsFields(t *testing.T) {
	card := buildAlertCard(port.Alert{Title: "t", Severity: "warning", Message: "m", Fields: map[string]string{"b": "2", "a": "1"}})

	assert.Equal(t, "orange", card["header"].(map[string]interface{})["template"])
	elements := card["elements"].([]interface{})
	require.Len(t, elements, 2)
	fields := elements[1].(map[string]interface{})["fields"].([]interface{})
	first := fields[0].(map[string]interface{})["text"].(map[string]interface{})["content"]
	assert.Equal(t, "**a**\n1", first)
}
