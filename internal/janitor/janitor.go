// internal/janitor/janitor.go
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/convogate/internal/dedup"
	"github.com/user/convogate/internal/session"
	"github.com/user/convogate/internal/types"
)

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config bounds one maintenance pass.
type Config struct {
	// Schedule is the cron expression for the sweep.
	Schedule string

	// DedupMaxAge is the staleness bound for leftover fingerprints.
	DedupMaxAge time.Duration

	// MaxConversations is the session store limit enforced on each pass.
	MaxConversations int

	// StaleLockAge is the bound past which a held lock is logged as
	// suspect.
	StaleLockAge time.Duration
}

// Janitor runs the periodic maintenance pass: sweep stale dedup
// fingerprints, trim the session store, and report locks held suspiciously
// long. The sweeps are backstops; the hot path already cleans up after
// itself on every exit.
type Janitor struct {
	cfg      Config
	dedup    *dedup.Deduplicator
	sessions *session.Store
	locks    LockReporter
	cron     *cron.Cron
}

// LockReporter reports conversation locks held longer than maxAge.
// admission.Controller is the production implementation.
type LockReporter interface {
	StaleLocks(maxAge time.Duration) []types.ConversationKey
}

// New creates a janitor. It does not start sweeping until Start.
func New(cfg Config, d *dedup.Deduplicator, s *session.Store, locks LockReporter) *Janitor {
	if cfg.DedupMaxAge <= 0 {
		cfg.DedupMaxAge = 10 * time.Minute
	}
	if cfg.StaleLockAge <= 0 {
		cfg.StaleLockAge = 5 * time.Minute
	}
	return &Janitor{
		cfg:      cfg,
		dedup:    d,
		sessions: s,
		locks:    locks,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the sweep with the cron ticker and starts it.
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc(j.cfg.Schedule, func() {
		j.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	slog.Info("janitor started", "schedule", j.cfg.Schedule)
	return nil
}

// Stop stops the cron ticker.
func (j *Janitor) Stop() {
	j.cron.Stop()
}

// RunOnce executes a single maintenance pass.
func (j *Janitor) RunOnce(ctx context.Context) {
	swept := j.dedup.Sweep(j.cfg.DedupMaxAge)
	if swept > 0 {
		// Every sweep hit is a fingerprint some exit path failed to
		// remove; worth noticing even at low volume.
		slog.Warn("swept stale dedup fingerprints", "count", swept)
	}

	evicted := 0
	if j.cfg.MaxConversations > 0 {
		evicted = j.sessions.EvictExcess(ctx, j.cfg.MaxConversations)
	}

	stale := j.locks.StaleLocks(j.cfg.StaleLockAge)
	for _, key := range stale {
		slog.Warn("conversation lock held past staleness bound", "conversation", key, "bound", j.cfg.StaleLockAge)
	}

	slog.Debug("maintenance pass complete",
		"fingerprints_swept", swept,
		"sessions_evicted", evicted,
		"stale_locks", len(stale),
	)
}
