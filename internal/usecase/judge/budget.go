package judge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/artsearch/internal/domain"
)

// BudgetTracker caps the tokens one judge may spend per UTC day.
// Check is in-memory only; Record updates memory first, then writes behind to the store.
type BudgetTracker struct {
	mu        sync.Mutex
	used      int64
	limit     int64
	judge     string
	keyPrefix string
	day       time.Time
	store     BudgetStore
	logger    *zap.Logger
	now       func() time.Time
}

// NewBudgetTracker creates a tracker. A zero limit means unlimited.
func NewBudgetTracker(judge string, dailyLimit int64, logger *zap.Logger) *BudgetTracker {
	b := &BudgetTracker{
		limit:  dailyLimit,
		judge:  judge,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	b.day = truncateToDay(b.now())
	return b
}

// WithStore attaches a persistence store and loads today's counter.
func (b *BudgetTracker) WithStore(ctx context.Context, store BudgetStore, keyPrefix string) *BudgetTracker {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.store = store
	b.keyPrefix = keyPrefix
	if val, err := store.Get(ctx, b.key(b.day)); err == nil {
		b.used = val
	} else {
		b.logger.Warn("Failed to load judge budget from store",
			zap.String("judge", b.judge), zap.Error(err))
	}
	return b
}

func (b *BudgetTracker) key(day time.Time) string {
	return fmt.Sprintf("%sbudget:judge:%s:%s", b.keyPrefix, b.judge, day.Format("2006-01-02"))
}

// Check fails with domain.ErrJudgeQuotaExceeded once today's budget is spent.
func (b *BudgetTracker) Check(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()
	if b.limit > 0 && b.used >= b.limit {
		return fmt.Errorf("judge %s used %d of %d tokens: %w",
			b.judge, b.used, b.limit, domain.ErrJudgeQuotaExceeded)
	}
	return nil
}

// Record registers tokens consumed by a judge call.
func (b *BudgetTracker) Record(tokens int64) {
	if tokens <= 0 {
		return
	}
	b.mu.Lock()
	b.rollover()
	b.used += tokens
	store := b.store
	key := b.key(b.day)
	b.mu.Unlock()

	if store == nil {
		return
	}

	// Write-behind with its own deadline so a slow store never blocks the request.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := store.IncrBy(ctx, key, tokens); err != nil {
		b.logger.Warn("Failed to persist judge budget", zap.String("key", key), zap.Error(err))
	}
}

// Remaining returns tokens left today (-1 if unlimited).
func (b *BudgetTracker) Remaining() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()
	if b.limit == 0 {
		return -1
	}
	return max(b.limit-b.used, 0)
}

func (b *BudgetTracker) rollover() {
	today := truncateToDay(b.now())
	if today.After(b.day) {
		b.used = 0
		b.day = today
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
