package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/garyjia/printshop-workflow/internal/application/dispatcher"
	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/application/queue"
	"github.com/garyjia/printshop-workflow/internal/application/service"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/persistence/memory"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

// outbox records sent emails and can be told to fail
type outbox struct {
	mu       sync.Mutex
	messages []port.EmailMessage
	failures int
}

func (o *outbox) Send(ctx context.Context, msg port.EmailMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failures > 0 {
		o.failures--
		return errors.New("smtp: 421 service not available")
	}
	o.messages = append(o.messages, msg)
	return nil
}

func (o *outbox) sent() []port.EmailMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]port.EmailMessage(nil), o.messages...)
}

type mapCache struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (c *mapCache) Seen(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[key], nil
}

func (c *mapCache) Mark(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys == nil {
		c.keys = make(map[string]bool)
	}
	c.keys[key] = true
	return nil
}

type harness struct {
	repo     *memory.EntityRepository
	tasks    *memory.TaskStore
	audit    service.AuditLog
	queue    *queue.Queue
	disp     dispatcher.Dispatcher
	outbox   *outbox
	handlers *TaskHandlers
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:   memory.NewEntityRepository(),
		tasks:  memory.NewTaskStore(),
		outbox: &outbox{},
	}
	h.audit = service.NewAuditLog(memory.NewAuditStore(), nopLogger{})
	h.disp = dispatcher.NewDispatcher(
		dispatcher.WithCache(&mapCache{}, time.Hour),
		dispatcher.WithChannels(dispatcher.NewEmailChannel(h.outbox)),
	)
	h.queue = queue.New(h.tasks, h.audit, nopLogger{},
		queue.WithRetryPolicy(queue.RetryPolicy{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond}),
		queue.WithRemediation(Remediation),
	)
	h.handlers = NewTaskHandlers(h.repo, h.audit, h.disp, nopLogger{})
	h.handlers.Register(h.queue)
	h.orch = NewOrchestrator(h.repo, h.queue, h.audit, memory.NewTxManager(), nopLogger{}, WithDispatcher(h.disp))

	t.Cleanup(func() { _ = h.disp.Close() })
	return h
}

// drain runs the queue until no task is runnable, waiting out short backoffs
func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, err := h.queue.Process(ctx, "test-worker", 30*time.Second)
		require.NoError(t, err)
		if res != nil {
			continue
		}
		stats, err := h.queue.Stats(ctx)
		require.NoError(t, err)
		if stats.Depth[entity.TaskWaiting] == 0 && stats.Depth[entity.TaskLeased] == 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("queue did not drain")
}

func (h *harness) seedQuote(t *testing.T, id, number, status string, mutate ...func(*entity.Quote)) *entity.Quote {
	t.Helper()
	now := time.Now().UTC()
	q := &entity.Quote{
		ID:     id,
		Number: number,
		Status: status,
		Customer: entity.CustomerRef{
			ID:    "cust-acme",
			Name:  "Acme Signs",
			Email: "orders@acme.example",
		},
		LineItems: []entity.LineItem{
			{Description: "Vinyl banner 3x6", Quantity: 5, UnitPriceCents: 15000, TotalCents: 75000},
			{Description: "Yard signs", Quantity: 25, UnitPriceCents: 1100, TotalCents: 27500},
		},
		Totals:    entity.Totals{SubtotalCents: 102500, TaxCents: 8275, TotalCents: 110775},
		ExpiresAt: now.Add(30 * 24 * time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, fn := range mutate {
		fn(q)
	}
	require.NoError(t, h.repo.CreateQuote(context.Background(), q))
	return q
}

// actions returns the audit actions in chronological order
func (h *harness) actions(t *testing.T, filter entity.AuditFilter) []string {
	t.Helper()
	entries, err := h.audit.Query(context.Background(), filter)
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i := range entries {
		out[len(entries)-1-i] = entries[i].Action
	}
	return out
}

func subsequence(all []string, want ...string) bool {
	i := 0
	for _, a := range all {
		if i < len(want) && a == want[i] {
			i++
		}
	}
	return i == len(want)
}

var alice = ApproverInfo{Name: "Alice Customer", Email: "alice@acme.example", Signature: "data:image/png;base64,iVBORw0"}
