package dynamo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/persistence/storetest"
)

// TestAuditStore runs against DynamoDB Local, e.g.
// docker run -p 8000:8000 amazon/dynamodb-local with DYNAMODB_ENDPOINT=http://localhost:8000
func TestAuditStore(t *testing.T) {
	endpoint := os.Getenv("DYNAMODB_ENDPOINT")
	if endpoint == "" {
		t.Skip("DYNAMODB_ENDPOINT not set")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, Config{
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "local",
		SecretAccessKey: "local",
	})
	require.NoError(t, err)

	storetest.RunAuditStoreTests(t, func(t *testing.T) port.AuditStore {
		table := "audit-" + uuid.New().String()
		require.NoError(t, EnsureTable(ctx, client, table))
		return NewAuditStore(client, table, zap.NewNop())
	})
}

func TestSortPrefixOrdersByTime(t *testing.T) {
	early := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	late := early.Add(time.Millisecond)

	assert.Len(t, sortPrefix(early), 20)
	assert.Less(t, sortPrefix(early), sortPrefix(late))
}

func TestAuditItemRoundTrip(t *testing.T) {
	e := &entity.AuditLogEntry{
		ID:         "a1",
		EntityType: entity.EntityQuote,
		EntityID:   "q1",
		Action:     entity.ActionQuoteApproved,
		Actor:      "tester",
		Timestamp:  time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		Metadata:   map[string]interface{}{"approver": "John Smith"},
	}

	it := toAuditItem(e)
	assert.Equal(t, "quote#q1", it.PK)
	assert.Equal(t, sortPrefix(e.Timestamp)+"#a1", it.SK)

	got := fromAuditItem(it)
	assert.Equal(t, e.Action, got.Action)
	assert.True(t, e.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, "John Smith", got.Metadata["approver"])
}
