package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuiRamos84/aintar-payments/internal/clock"
	"github.com/RuiRamos84/aintar-payments/internal/notification_service/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryNotificationRepo keeps histories in a map for store tests.
type memoryNotificationRepo struct {
	mu        sync.Mutex
	histories map[string][]domain.Notification
	saveErr   error
}

func newMemoryNotificationRepo() *memoryNotificationRepo {
	return &memoryNotificationRepo{histories: make(map[string][]domain.Notification)}
}

func (r *memoryNotificationRepo) Load(ctx context.Context, principalID string) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := r.histories[principalID]
	out := make([]domain.Notification, len(history))
	copy(out, history)
	return out, nil
}

func (r *memoryNotificationRepo) Save(ctx context.Context, principalID string, history []domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	stored := make([]domain.Notification, len(history))
	copy(stored, history)
	r.histories[principalID] = stored
	return nil
}

func (r *memoryNotificationRepo) Clear(ctx context.Context, principalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.histories, principalID)
	return nil
}

func (r *memoryNotificationRepo) Principals(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.histories))
	for principalID := range r.histories {
		out = append(out, principalID)
	}
	return out, nil
}

func newTestStore(repo domain.NotificationRepository) (*Store, *clock.Manual) {
	clk := clock.NewManual(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	return NewStore(repo, clk, StoreConfig{
		HistoryLimit:        100,
		MaxAge:              7 * 24 * time.Hour,
		TaskDedupWindow:     3 * time.Second,
		DocumentDedupWindow: 5 * time.Second,
	}, testLogger()), clk
}

func taskEvent(id, correlationID string) IngestEvent {
	return IngestEvent{ID: id, Kind: domain.KindTask, CorrelationID: correlationID, PrincipalID: "user-1"}
}

func TestIngest(t *testing.T) {
	repo := newMemoryNotificationRepo()
	s, _ := newTestStore(repo)

	record, err := s.Ingest(context.Background(), taskEvent("n1", "task-9"))
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "n1", record.ID)
	assert.False(t, record.Read)

	history, unread, err := s.List(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, unread)
}

func TestIngest_GeneratesIDWhenMissing(t *testing.T) {
	repo := newMemoryNotificationRepo()
	s, _ := newTestStore(repo)

	record, err := s.Ingest(context.Background(), taskEvent("", ""))
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.NotEmpty(t, record.ID)
}

func TestIngest_RejectsMalformed(t *testing.T) {
	repo := newMemoryNotificationRepo()
	s, _ := newTestStore(repo)

	_, err := s.Ingest(context.Background(), IngestEvent{Kind: domain.KindTask})
	assert.Error(t, err, "missing principal id")

	_, err = s.Ingest(context.Background(), IngestEvent{Kind: "email", PrincipalID: "user-1"})
	assert.Error(t, err, "unknown kind")
}

func TestIngest_DuplicateIDSuppressed(t *testing.T) {
	repo := newMemoryNotificationRepo()
	s, clk := newTestStore(repo)

	_, err := s.Ingest(context.Background(), taskEvent("n1", ""))
	require.NoError(t, err)

	// Redelivery long after any correlation window: the id rule alone must
	// catch it.
	clk.Advance(time.Minute)
	record, err := s.Ingest(context.Background(), taskEvent("n1", ""))
	require.NoError(t, err)
	assert.Nil(t, record, "duplicate id must be suppressed without error")

	history, _, err := s.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestIngest_CorrelationWindow(t *testing.T) {
	tests := []struct {
		name       string
		kind       domain.Kind
		advance    time.Duration
		suppressed bool
	}{
		{"task inside window", domain.KindTask, 2 * time.Second, true},
		{"task outside window", domain.KindTask, 3 * time.Second, false},
		{"document inside window", domain.KindDocument, 4 * time.Second, true},
		{"document outside window", domain.KindDocument, 5 * time.Second, false},
		{"system has no window", domain.KindSystem, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemoryNotificationRepo()
			s, clk := newTestStore(repo)

			_, err := s.Ingest(context.Background(), IngestEvent{
				ID: "n1", Kind: tc.kind, CorrelationID: "corr-1", PrincipalID: "user-1",
			})
			require.NoError(t, err)

			clk.Advance(tc.advance)
			record, err := s.Ingest(context.Background(), IngestEvent{
				ID: "n2", Kind: tc.kind, CorrelationID: "corr-1", PrincipalID: "user-1",
			})
			require.NoError(t, err)
			if tc.suppressed {
				assert.Nil(t, record)
			} else {
				assert.NotNil(t, record)
			}
		})
	}
}

func TestIngest_DifferentCorrelationNotSuppressed(t *testing.T) {
	repo := newMemoryNotificationRepo()
	s, _ := newTestStore(repo)

	_, err := s.Ingest(context.Background(), taskEvent("n1", "task-1"))
	require.NoError(t, err)
	record, err := s.Ingest(context.Background(), taskEvent("n2", "task-2"))
	require.NoError(t, err)
	assert.NotNil(t, record, "distinct correlations are independent")
}

func TestIngest_HistoryBounded(t *testing.T) {
	repo := newMemoryNotificationRepo()
	s, clk := newTestStore(repo)

	for i := 0; i < 150; i++ {
		_, err := s.Ingest(context.Background(), taskEvent(fmt.Sprintf("n%d", i), ""))
		require.NoError(t, err)
		clk.Advance(10 * time.Second)
	}

	history, _, err := s.List(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, history, 100)
	assert.Equal(t, "n149", history[0].ID, "newest first")
	assert.Equal(t, "n50", history[99].ID, "oldest overflow dropped")
}

func TestIngest_PrincipalsIsolated(t *testing.T) {
	repo := newMemoryNotificationRepo()
	s, _ := newTestStore(repo)

	_, err := s.Ingest(context.Background(), IngestEvent{ID: "n1", Kind: domain.KindSystem, PrincipalID: "user-1"})
	require.NoError(t, err)
	_, err = s.Ingest(context.Background(), IngestEvent{ID: "n1", Kind: domain.KindSystem, PrincipalID: "user-2"})
	require.NoError(t, err)

	historyA, _, err := s.List(context.Background(), "user-1")
	require.NoError(t, err)
	historyB, _, err := s.List(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Len(t, historyA, 1)
	assert.Len(t, historyB, 1, "same event id in another principal's history is not a duplicate")
}

func TestMarkRead(t *testing.T) {
	repo := newMemoryNotificationRepo()
	s, clk := newTestStore(repo)

	_, err := s.Ingest(context.Background(), taskEvent("n1", ""))
	require.NoError(t, err)
	clk.Advance(10 * time.Second)
	_, err = s.Ingest(context.Background(), taskEvent("n2", ""))
	require.NoError(t, err)

	require.NoError(t, s.MarkRead(context.Background(), "user-1", "n1"))
	_, unread, err := s.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	// Unknown id is a no-op.
	require.NoError(t, s.MarkRead(context.Background(), "user-1", "nope"))

	require.NoError(t, s.MarkAllRead(context.Background(), "user-1"))
	_, unread, err = s.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestEvictOlderThan(t *testing.T) {
	repo := newMemoryNotificationRepo()
	s, clk := newTestStore(repo)

	_, err := s.Ingest(context.Background(), taskEvent("old", ""))
	require.NoError(t, err)
	clk.Advance(8 * 24 * time.Hour)
	_, err = s.Ingest(context.Background(), taskEvent("fresh", ""))
	require.NoError(t, err)

	require.NoError(t, s.EvictOlderThan(context.Background(), "user-1", 0))
	history, _, err := s.List(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "fresh", history[0].ID)
}

func TestEvictAll(t *testing.T) {
	repo := newMemoryNotificationRepo()
	s, clk := newTestStore(repo)

	_, err := s.Ingest(context.Background(), IngestEvent{ID: "a", Kind: domain.KindSystem, PrincipalID: "user-1"})
	require.NoError(t, err)
	_, err = s.Ingest(context.Background(), IngestEvent{ID: "b", Kind: domain.KindSystem, PrincipalID: "user-2"})
	require.NoError(t, err)

	clk.Advance(8 * 24 * time.Hour)
	require.NoError(t, s.EvictAll(context.Background()))

	for _, principalID := range []string{"user-1", "user-2"} {
		history, _, err := s.List(context.Background(), principalID)
		require.NoError(t, err)
		assert.Empty(t, history)
	}
}

func TestClear(t *testing.T) {
	repo := newMemoryNotificationRepo()
	s, _ := newTestStore(repo)

	_, err := s.Ingest(context.Background(), taskEvent("n1", ""))
	require.NoError(t, err)
	require.NoError(t, s.Clear(context.Background(), "user-1"))

	history, unread, err := s.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Zero(t, unread)
}

func TestUnreadCount(t *testing.T) {
	history := []domain.Notification{
		{ID: "a", Read: true},
		{ID: "b"},
		{ID: "c"},
	}
	assert.Equal(t, 2, domain.UnreadCount(history))
	assert.Zero(t, domain.UnreadCount(nil))
}
