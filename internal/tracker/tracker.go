// Package tracker records session-scoped failures per photo reference and per remote host,
// and derives host cooldown windows from them.
//
// Counters never decay and a later success does not reset them. They live exactly as long
// as the session store they are kept in.
package tracker

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"gtg-gateway/internal/clock"
	"gtg-gateway/internal/metrics"
	"gtg-gateway/internal/retry"
	"gtg-gateway/internal/session"
	"gtg-gateway/pkg/logging/logging"
)

const (
	refFailuresPrefix  = "photoRefFailures:"
	hostFailuresPrefix = "hostFailures:"
)

type Config struct {
	BaseCooldown time.Duration
	MaxCooldown  time.Duration
	// SuppressionThreshold is the reference failure count above which automatic attempts stop.
	SuppressionThreshold int
}

const (
	DefaultBaseCooldown         = 10 * time.Second
	DefaultMaxCooldown          = 5 * time.Minute
	DefaultSuppressionThreshold = 2
)

func (c Config) WithDefaults() Config {
	if c.BaseCooldown <= 0 {
		c.BaseCooldown = DefaultBaseCooldown
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = DefaultMaxCooldown
	}
	if c.MaxCooldown < c.BaseCooldown {
		c.MaxCooldown = c.BaseCooldown
	}
	if c.SuppressionThreshold <= 0 {
		c.SuppressionThreshold = DefaultSuppressionThreshold
	}
	return c
}

// HostEntry is the persisted cooldown state of one host.
type HostEntry struct {
	Failures      int       `json:"failures"`
	CooldownUntil time.Time `json:"cooldownUntil"`
}

type Tracker struct {
	cfg    Config
	store  session.Store
	clock  clock.Clock
	logger *zap.Logger

	// serializes read-modify-write on the store
	mu sync.Mutex
}

func New(store session.Store, clk clock.Clock, cfg Config, logger *zap.Logger) *Tracker {
	return &Tracker{
		cfg:    cfg.WithDefaults(),
		store:  store,
		clock:  clock.Or(clk),
		logger: logging.OrNop(logger).Named("tracker"),
	}
}

func (t *Tracker) Config() Config { return t.cfg }

// RecordHostFailure counts one more failure against host and restarts its cooldown window at
// now + min(MaxCooldown, BaseCooldown*2^(failures-1)).
func (t *Tracker) RecordHostFailure(ctx context.Context, host string) HostEntry {
	return t.RecordHostFailureAtLeast(ctx, host, 0)
}

// RecordHostFailureAtLeast is RecordHostFailure for a response that asked for a specific pause
// (Retry-After). The window is the longer of the computed cooldown and floor, still capped.
func (t *Tracker) RecordHostFailureAtLeast(ctx context.Context, host string, floor time.Duration) HostEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.hostEntry(ctx, host)
	entry.Failures++

	cooldown := retry.Cooldown(t.cfg.BaseCooldown, t.cfg.MaxCooldown, entry.Failures)
	if floor > cooldown {
		cooldown = min(floor, t.cfg.MaxCooldown)
	}
	entry.CooldownUntil = t.clock.Now().Add(cooldown)

	data, err := json.Marshal(entry)
	if err == nil {
		err = t.store.Set(ctx, hostFailuresPrefix+host, string(data), 0)
	}
	if err != nil {
		t.logger.Warn("host_failure_persist_failed", zap.String("host", host), zap.Error(err))
	}

	metrics.HostCooldownsTotal.WithLabelValues(host).Inc()
	logging.L(ctx).Info("host_cooldown",
		zap.String("host", host),
		zap.Int("failures", entry.Failures),
		zap.Duration("cooldown", cooldown),
	)
	return entry
}

// HostCooldownRemaining returns how long host stays in cooldown, or 0.
func (t *Tracker) HostCooldownRemaining(ctx context.Context, host string) time.Duration {
	t.mu.Lock()
	entry := t.hostEntry(ctx, host)
	t.mu.Unlock()

	remaining := entry.CooldownUntil.Sub(t.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HostEntry returns the stored state for host. Unknown hosts have a zero entry.
func (t *Tracker) HostEntry(ctx context.Context, host string) HostEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hostEntry(ctx, host)
}

func (t *Tracker) hostEntry(ctx context.Context, host string) HostEntry {
	raw, ok, err := t.store.Get(ctx, hostFailuresPrefix+host)
	if err != nil {
		t.logger.Warn("host_failure_read_failed", zap.String("host", host), zap.Error(err))
		return HostEntry{}
	}
	if !ok {
		return HostEntry{}
	}
	var entry HostEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return HostEntry{}
	}
	return entry
}

// RecordReferenceFailure increments the terminal failure count of ref and returns it.
func (t *Tracker) RecordReferenceFailure(ctx context.Context, ref string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.referenceFailures(ctx, ref) + 1
	if err := t.store.Set(ctx, refFailuresPrefix+ref, strconv.Itoa(n), 0); err != nil {
		t.logger.Warn("reference_failure_persist_failed", zap.String("photo_ref", ref), zap.Error(err))
	}
	return n
}

func (t *Tracker) ReferenceFailures(ctx context.Context, ref string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.referenceFailures(ctx, ref)
}

// Suppressed reports whether ref has failed more often than the suppression threshold.
func (t *Tracker) Suppressed(ctx context.Context, ref string) bool {
	return t.ReferenceFailures(ctx, ref) > t.cfg.SuppressionThreshold
}

func (t *Tracker) referenceFailures(ctx context.Context, ref string) int {
	return readInt(ctx, t.store, t.logger, refFailuresPrefix+ref, 0)
}

// readInt reads an integer counter. Missing keys yield def; unreadable values yield 0.
func readInt(ctx context.Context, store session.Store, logger *zap.Logger, key string, def int) int {
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		logger.Warn("session_read_failed", zap.String("key", key), zap.Error(err))
		return def
	}
	if !ok {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
