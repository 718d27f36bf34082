package tracker

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"gtg-gateway/internal/metrics"
	"gtg-gateway/internal/session"
	"gtg-gateway/pkg/logging/logging"
)

const (
	budgetKey       = "photoSessionBudget"
	pageUsedPrefix  = "autoFetch:"
	pageLimitPrefix = "autoLimit:"

	DefaultBudget      = 20
	ConservativeBudget = 6
)

// Budget limits how many photo fetches reach the network, per session and per page.
// Cache hits never consume it. Every check-and-update is a single atomic store operation,
// so Budgets sharing a store (replicas, or a session re-created after eviction) cannot
// overspend it.
type Budget struct {
	store   session.Store
	initial int
	logger  *zap.Logger
}

// NewBudget returns a budget that starts at initial (DefaultBudget when <= 0) the first time
// the session consumes from it.
func NewBudget(store session.Store, initial int, logger *zap.Logger) *Budget {
	if initial <= 0 {
		initial = DefaultBudget
	}
	return &Budget{
		store:   store,
		initial: initial,
		logger:  logging.OrNop(logger).Named("budget"),
	}
}

func (b *Budget) Remaining(ctx context.Context) int {
	return readInt(ctx, b.store, b.logger, budgetKey, b.initial)
}

// Consume takes one unit from the session budget. It returns false, without writing, once the
// budget is at zero. A store error refuses.
func (b *Budget) Consume(ctx context.Context) bool {
	_, ok, err := b.store.DecrIfPositive(ctx, budgetKey, b.initial, 0)
	if err != nil {
		b.logger.Warn("budget_consume_failed", zap.Error(err))
		return false
	}
	if !ok {
		metrics.PhotoBudgetRefusalsTotal.WithLabelValues("session").Inc()
	}
	return ok
}

// SeedIfUnset sets the session budget to n unless the session already has one. Used for
// narrow (single region) page loads that should fetch less.
func (b *Budget) SeedIfUnset(ctx context.Context, n int) {
	if _, err := b.store.SetIfAbsent(ctx, budgetKey, strconv.Itoa(n), 0); err != nil {
		b.logger.Warn("budget_persist_failed", zap.Error(err))
	}
}

// SetPageLimit overrides the automatic fetch limit of page and resets its usage.
func (b *Budget) SetPageLimit(ctx context.Context, page string, limit int) {
	if err := b.store.Set(ctx, pageLimitPrefix+page, strconv.Itoa(limit), 0); err != nil {
		b.logger.Warn("page_limit_persist_failed", zap.String("page", page), zap.Error(err))
	}
	if err := b.store.Set(ctx, pageUsedPrefix+page, "0", 0); err != nil {
		b.logger.Warn("page_usage_persist_failed", zap.String("page", page), zap.Error(err))
	}
}

func (b *Budget) PageUsage(ctx context.Context, page string) int {
	return readInt(ctx, b.store, b.logger, pageUsedPrefix+page, 0)
}

// ConsumePage counts one automatic fetch against page. It refuses once usage reaches the
// page's limit: the one set by SetPageLimit, else def.
func (b *Budget) ConsumePage(ctx context.Context, page string, def int) bool {
	limit := readInt(ctx, b.store, b.logger, pageLimitPrefix+page, def)
	_, ok, err := b.store.IncrIfBelow(ctx, pageUsedPrefix+page, limit, 0)
	if err != nil {
		b.logger.Warn("page_usage_persist_failed", zap.String("page", page), zap.Error(err))
		return false
	}
	if !ok {
		metrics.PhotoBudgetRefusalsTotal.WithLabelValues("page").Inc()
	}
	return ok
}

// ReleasePage gives back one automatic fetch, for a page slot that was taken but whose fetch
// was then refused by the session budget.
func (b *Budget) ReleasePage(ctx context.Context, page string) {
	if _, _, err := b.store.DecrIfPositive(ctx, pageUsedPrefix+page, 0, 0); err != nil {
		b.logger.Warn("page_usage_persist_failed", zap.String("page", page), zap.Error(err))
	}
}
