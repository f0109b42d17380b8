// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/convogate/internal/admission"
	"github.com/user/convogate/internal/dedup"
	"github.com/user/convogate/internal/pending"
	"github.com/user/convogate/internal/session"
	"github.com/user/convogate/internal/stats"
	"github.com/user/convogate/internal/types"
	"github.com/user/convogate/pkg/llm"
)

// Stage names recorded in the latency tracker.
const (
	StageAdmission   = "admission"
	StageInference   = "inference"
	StagePersistence = "persistence"
	StageDelivery    = "delivery"
	StageTotal       = "total"
)

// User-facing notices, one short generic line per failure class. Internal
// causes go to the log, never back to the user.
const (
	noticeBusy     = "I'm still working on your last message. Try again in a moment."
	noticeDegraded = "Service is temporarily degraded. Please try again shortly."
	noticeFailure  = "Sorry, something went wrong processing your message."
)

// truncationMarker is appended to payloads cut at the configured length.
const truncationMarker = " [truncated]"

// Config bounds the orchestrator's resources.
type Config struct {
	// LockTimeout bounds how long an admission attempt waits for the
	// conversation lock.
	LockTimeout time.Duration

	// MaxConversations triggers LRU session eviction when exceeded.
	MaxConversations int

	// EvictionMarginPct is the extra percentage trimmed below the limit
	// so the store does not evict on every insert at capacity.
	EvictionMarginPct int

	// MaxPayloadRunes truncates oversized inbound text before admission.
	// Zero disables truncation.
	MaxPayloadRunes int

	// MaxConcurrent caps simultaneously processing conversations across
	// all keys. Zero means 4.
	MaxConcurrent int64

	// StatSampleCap and MaxStages bound the latency tracker.
	StatSampleCap int
	MaxStages     int
}

// RequestBuilder assembles the inference request for one processing pass.
// prompt.Engine is the production implementation.
type RequestBuilder interface {
	BuildMessages(state *types.SessionState, env *types.Envelope) []llm.Message
}

// Orchestrator is the request entry point. It runs each inbound envelope
// through the admission protocol: dedup gate, external gate, per-key lock,
// processing, merge-drain, cleanup. For one conversation key at most one
// processing pass is ever in flight; messages arriving meanwhile are merged
// and picked up by the current holder.
type Orchestrator struct {
	cfg Config

	dedup    *dedup.Deduplicator
	pending  *pending.Queue
	locks    *admission.Controller
	sessions *session.Store
	stats    *stats.Tracker
	sem      *semaphore.Weighted

	gate    types.AdmissionGate
	backend llm.Provider
	engine  RequestBuilder
	persist types.SessionPersistence
	sender  types.Sender
}

// New wires an orchestrator. The lock table, session map, dedup table, and
// stat tracker are constructed here, once per process, and shared by every
// conversation; collaborators (backend, gate, persistence, sender) are
// injected.
func New(cfg Config, backend llm.Provider, engine RequestBuilder, persist types.SessionPersistence, sender types.Sender, gate types.AdmissionGate) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.StatSampleCap <= 0 {
		cfg.StatSampleCap = 500
	}
	if cfg.MaxStages <= 0 {
		cfg.MaxStages = 16
	}
	if gate == nil {
		gate = types.OpenGate
	}

	o := &Orchestrator{
		cfg:     cfg,
		dedup:   dedup.New(),
		pending: pending.New(),
		locks:   admission.NewController(),
		stats:   stats.NewTracker(cfg.StatSampleCap, cfg.MaxStages),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		gate:    gate,
		backend: backend,
		engine:  engine,
		persist: persist,
		sender:  sender,
	}
	o.sessions = session.NewStore(cfg.MaxConversations, cfg.EvictionMarginPct, persist,
		o.locks.IsLocked,
		session.WithOnEvict(func(key types.ConversationKey) {
			o.pending.Forget(key)
			o.locks.Forget(key)
		}),
	)
	return o
}

// Dedup exposes the dedup table for the janitor's backstop sweep.
func (o *Orchestrator) Dedup() *dedup.Deduplicator { return o.dedup }

// Sessions exposes the session store for the janitor and the admin API.
func (o *Orchestrator) Sessions() *session.Store { return o.sessions }

// Locks exposes the lock table for staleness diagnostics.
func (o *Orchestrator) Locks() *admission.Controller { return o.locks }

// Stats exposes the per-stage latency tracker.
func (o *Orchestrator) Stats() *stats.Tracker { return o.stats }

// Handle runs one inbound envelope through the full admission protocol,
// blocking until the conversation's backlog is drained or the envelope was
// parked for the current holder. Safe to call from any number of
// goroutines; per-key serialization happens inside.
func (o *Orchestrator) Handle(ctx context.Context, env *types.Envelope) error {
	o.truncatePayload(env)

	for env != nil {
		if err := o.admit(ctx, env); err != nil {
			return err
		}
		// The lock is released here. A message that arrived during the
		// final persistence step is still parked, and nobody holds the
		// lock to pick it up, so this caller re-enters the protocol.
		key := env.Conversation
		env = nil
		if !o.locks.IsLocked(key) && o.pending.HasPending(key) {
			env = o.pending.DrainAndMerge(key)
		}
	}
	return nil
}

// admit is steps 1-7 of the protocol for a single envelope: dedup gate,
// external gate, lock, process (with merge-drain loop), cleanup.
func (o *Orchestrator) admit(ctx context.Context, env *types.Envelope) error {
	started := time.Now()
	key := env.Conversation

	fp := dedup.Fingerprint(string(key), env.Sender, env.Text)
	if !o.dedup.AddIfAbsent(fp) {
		slog.Debug("duplicate request dropped", "conversation", key, "sender", env.Sender, "request", env.ID)
		return nil
	}
	// The one invariant that must never break: the fingerprint is removed
	// on every exit path, or all future messages in the conversation are
	// rejected as duplicates.
	defer o.dedup.Remove(fp)

	if !o.gate.CanExecute() {
		slog.Warn("admission gate closed, rejecting", "conversation", key)
		o.notify(ctx, env, noticeDegraded)
		return ErrBackendUnavailable
	}

	if o.locks.IsLocked(key) {
		// Another pass is processing this conversation. Park the message
		// for it and ask it to go again when the in-flight call returns.
		o.pending.QueueMessage(key, env)
		o.pending.SignalCancel(key)
		slog.Debug("conversation busy, message queued for merge", "conversation", key, "sender", env.Sender)
		return nil
	}

	lockStart := time.Now()
	acquired, err := o.locks.Acquire(key, o.cfg.LockTimeout)
	o.stats.Record(StageAdmission, time.Since(lockStart))
	if err != nil || !acquired {
		slog.Warn("admission lock timed out", "conversation", key, "timeout", o.cfg.LockTimeout)
		o.notify(ctx, env, noticeBusy)
		return ErrAdmissionTimeout
	}
	defer o.locks.Release(key)

	o.pending.ResetCancel(key)

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer o.sem.Release(1)

	err = o.runProcessing(ctx, key, env)
	if err == nil {
		o.stats.Record(StageTotal, time.Since(started))
	}
	return err
}

// runProcessing executes processing passes under an already-held lock,
// draining the merged backlog each time a pass observes the cancel flag.
func (o *Orchestrator) runProcessing(ctx context.Context, key types.ConversationKey, env *types.Envelope) error {
	for {
		err := o.processOnce(ctx, key, env)
		if !errors.Is(err, errReprocess) {
			return err
		}
		env = o.pending.DrainAndMerge(key)
		o.pending.ResetCancel(key)
		if env == nil {
			// Cancel was signalled but the backlog is already gone.
			return nil
		}
		slog.Debug("reprocessing merged backlog", "conversation", key, "sender", env.Sender)
	}
}

// processOnce is one processing pass: build the request, call the backend,
// persist, and either deliver or signal a reprocess if new messages
// arrived mid-flight.
func (o *Orchestrator) processOnce(ctx context.Context, key types.ConversationKey, env *types.Envelope) error {
	state := o.sessions.GetOrCreate(ctx, key)
	if o.cfg.MaxConversations > 0 {
		o.sessions.EvictExcess(ctx, o.cfg.MaxConversations)
	}

	state.MarkSeen(env.Sender)
	if env.Target != "" {
		state.OutputTarget = env.Target
	}

	messages := o.engine.BuildMessages(state, env)

	infStart := time.Now()
	resp, err := o.backend.Complete(ctx, messages, nil)
	o.stats.Record(StageInference, time.Since(infStart))
	if err != nil {
		if ctx.Err() != nil {
			// Runtime cancellation (shutdown, caller timeout) propagates
			// untouched; it must not be mistaken for the reprocess signal.
			return ctx.Err()
		}
		slog.Error("inference call failed", "conversation", key, "error", err)
		o.notify(ctx, env, noticeFailure)
		return &InferenceError{Key: key, Err: err}
	}

	persistStart := time.Now()
	entries := state.AppendExchange(env.Sender, env.Text, resp.Content)
	if err := o.persist.Save(ctx, key, state, entries); err != nil {
		// Best-effort: history loss is preferable to failing the request.
		slog.Warn("history save failed", "conversation", key, "error", err)
	}
	o.stats.Record(StagePersistence, time.Since(persistStart))

	if o.pending.IsCancelled(key) && o.pending.HasPending(key) {
		// A new message arrived while the call was in flight. The result
		// is persisted above; instead of answering a question the user has
		// already moved past, fold the backlog into a fresh pass.
		slog.Debug("new message arrived mid-flight", "conversation", key)
		return errReprocess
	}

	if !env.ShouldRespond {
		return nil
	}

	deliverStart := time.Now()
	if _, err := o.sender.Deliver(ctx, state.OutputTarget, resp.Content); err != nil {
		slog.Error("delivery failed", "conversation", key, "target", state.OutputTarget, "error", err)
		o.notify(ctx, env, noticeFailure)
		return nil
	}
	o.stats.Record(StageDelivery, time.Since(deliverStart))
	return nil
}

// notify sends a short generic notice to the envelope's target,
// best-effort.
func (o *Orchestrator) notify(ctx context.Context, env *types.Envelope, text string) {
	if env.Target == "" || !env.ShouldRespond {
		return
	}
	if _, err := o.sender.Deliver(ctx, env.Target, text); err != nil {
		slog.Debug("notice delivery failed", "conversation", env.Conversation, "error", err)
	}
}

func (o *Orchestrator) truncatePayload(env *types.Envelope) {
	if o.cfg.MaxPayloadRunes <= 0 {
		return
	}
	r := []rune(env.Text)
	if len(r) <= o.cfg.MaxPayloadRunes {
		return
	}
	env.Text = string(r[:o.cfg.MaxPayloadRunes]) + truncationMarker
	slog.Debug("oversized payload truncated", "conversation", env.Conversation, "limit", o.cfg.MaxPayloadRunes)
}
