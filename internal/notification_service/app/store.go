package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/RuiRamos84/aintar-payments/internal/clock"
	"github.com/RuiRamos84/aintar-payments/internal/notification_service/domain"
)

var (
	ingestedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notifications",
			Name:      "ingested_total",
			Help:      "Notification events accepted into a history, by kind.",
		},
		[]string{"kind"},
	)
	suppressedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notifications",
			Name:      "suppressed_total",
			Help:      "Duplicate notification events suppressed, by rule.",
		},
		[]string{"rule"},
	)
)

// IngestEvent is an incoming notification before dedup.
type IngestEvent struct {
	ID            string          `json:"id,omitempty"`
	Kind          domain.Kind     `json:"kind"`
	CorrelationID string          `json:"correlationId,omitempty"`
	PrincipalID   string          `json:"principalId"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// StoreConfig bounds the history and the dedup windows.
type StoreConfig struct {
	HistoryLimit        int
	MaxAge              time.Duration
	TaskDedupWindow     time.Duration
	DocumentDedupWindow time.Duration
}

// Store is the per-principal notification history with dedup. Writes for one
// principal are read-modify-write atomic: two near-simultaneous ingests cannot
// lose updates.
type Store struct {
	repo   domain.NotificationRepository
	clk    clock.Clock
	cfg    StoreConfig
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(repo domain.NotificationRepository, clk clock.Clock, cfg StoreConfig, logger *slog.Logger) *Store {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.TaskDedupWindow <= 0 {
		cfg.TaskDedupWindow = 3 * time.Second
	}
	if cfg.DocumentDedupWindow <= 0 {
		cfg.DocumentDedupWindow = 5 * time.Second
	}
	return &Store{
		repo:   repo,
		clk:    clk,
		cfg:    cfg,
		logger: logger.With("component", "notification_store"),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(principalID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[principalID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[principalID] = l
	}
	return l
}

func (s *Store) dedupWindow(kind domain.Kind) time.Duration {
	switch kind {
	case domain.KindTask:
		return s.cfg.TaskDedupWindow
	case domain.KindDocument:
		return s.cfg.DocumentDedupWindow
	}
	return 0
}

// Ingest applies both dedup rules and, on accept, prepends the record,
// truncates to the history limit and persists synchronously. A nil record with
// no error means the event was suppressed as a duplicate — an explicit no-op,
// not a failure.
func (s *Store) Ingest(ctx context.Context, event IngestEvent) (*domain.Notification, error) {
	if event.PrincipalID == "" {
		return nil, fmt.Errorf("notification event without principal id")
	}
	if !event.Kind.IsKnown() {
		return nil, fmt.Errorf("notification event with unknown kind %q", event.Kind)
	}

	l := s.lockFor(event.PrincipalID)
	l.Lock()
	defer l.Unlock()

	history, err := s.repo.Load(ctx, event.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("loading notification history: %w", err)
	}

	id := event.ID
	if id == "" {
		// Client-generated fallback when the producer did not assign one.
		id = uuid.New().String()
	}

	for _, existing := range history {
		if existing.ID == id {
			s.logger.DebugContext(ctx, "Notification suppressed: duplicate id",
				"principal_id", event.PrincipalID, "id", id)
			suppressedCounter.WithLabelValues("id").Inc()
			return nil, nil
		}
	}

	now := s.clk.Now()
	if window := s.dedupWindow(event.Kind); window > 0 && event.CorrelationID != "" {
		for _, existing := range history {
			if existing.CorrelationID == event.CorrelationID && now.Sub(existing.Timestamp) < window {
				s.logger.DebugContext(ctx, "Notification suppressed: correlation window",
					"principal_id", event.PrincipalID, "correlation_id", event.CorrelationID, "window", window)
				suppressedCounter.WithLabelValues("correlation_window").Inc()
				return nil, nil
			}
		}
	}

	record := domain.Notification{
		ID:            id,
		Kind:          event.Kind,
		CorrelationID: event.CorrelationID,
		Timestamp:     now,
		Payload:       event.Payload,
	}
	history = append([]domain.Notification{record}, history...)
	if len(history) > s.cfg.HistoryLimit {
		history = history[:s.cfg.HistoryLimit]
	}

	if err := s.repo.Save(ctx, event.PrincipalID, history); err != nil {
		return nil, fmt.Errorf("persisting notification history: %w", err)
	}

	ingestedCounter.WithLabelValues(string(event.Kind)).Inc()
	s.logger.InfoContext(ctx, "Notification ingested",
		"principal_id", event.PrincipalID, "id", id, "kind", event.Kind,
		"unread", domain.UnreadCount(history))
	return &record, nil
}

// List returns the history and its derived unread count.
func (s *Store) List(ctx context.Context, principalID string) ([]domain.Notification, int, error) {
	l := s.lockFor(principalID)
	l.Lock()
	defer l.Unlock()

	history, err := s.repo.Load(ctx, principalID)
	if err != nil {
		return nil, 0, fmt.Errorf("loading notification history: %w", err)
	}
	return history, domain.UnreadCount(history), nil
}

// MarkRead toggles one record. Unknown ids are a no-op.
func (s *Store) MarkRead(ctx context.Context, principalID, id string) error {
	return s.transform(ctx, principalID, func(history []domain.Notification) []domain.Notification {
		for i := range history {
			if history[i].ID == id {
				history[i].Read = true
			}
		}
		return history
	})
}

// MarkAllRead marks the whole history read.
func (s *Store) MarkAllRead(ctx context.Context, principalID string) error {
	return s.transform(ctx, principalID, func(history []domain.Notification) []domain.Notification {
		for i := range history {
			history[i].Read = true
		}
		return history
	})
}

// EvictOlderThan drops records older than maxAge (the configured default when
// maxAge is zero).
func (s *Store) EvictOlderThan(ctx context.Context, principalID string, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = s.cfg.MaxAge
	}
	cutoff := s.clk.Now().Add(-maxAge)
	return s.transform(ctx, principalID, func(history []domain.Notification) []domain.Notification {
		kept := history[:0]
		for _, n := range history {
			if n.Timestamp.After(cutoff) {
				kept = append(kept, n)
			}
		}
		return kept
	})
}

// EvictAll runs the age eviction over every stored principal. Meant to be
// driven by a periodic sweep.
func (s *Store) EvictAll(ctx context.Context) error {
	principals, err := s.repo.Principals(ctx)
	if err != nil {
		return fmt.Errorf("listing principals for eviction: %w", err)
	}
	for _, principalID := range principals {
		if err := s.EvictOlderThan(ctx, principalID, 0); err != nil {
			s.logger.ErrorContext(ctx, "Failed to evict aged notifications",
				"error", err, "principal_id", principalID)
		}
	}
	return nil
}

// Clear removes the principal's history entirely (sign-out teardown).
func (s *Store) Clear(ctx context.Context, principalID string) error {
	l := s.lockFor(principalID)
	l.Lock()
	defer l.Unlock()
	return s.repo.Clear(ctx, principalID)
}

// transform applies a pure transformation over the history under the
// principal's lock, then persists.
func (s *Store) transform(ctx context.Context, principalID string, fn func([]domain.Notification) []domain.Notification) error {
	l := s.lockFor(principalID)
	l.Lock()
	defer l.Unlock()

	history, err := s.repo.Load(ctx, principalID)
	if err != nil {
		return fmt.Errorf("loading notification history: %w", err)
	}
	history = fn(history)
	if err := s.repo.Save(ctx, principalID, history); err != nil {
		return fmt.Errorf("persisting notification history: %w", err)
	}
	return nil
}
