// Package reconciler turns provider session-change events into a published AuthState.
package reconciler

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	identitydomain "nuomoria/backend/internal/identity/domain"
	"nuomoria/backend/internal/identity/provider"
	"nuomoria/backend/internal/mfa"
	mfadomain "nuomoria/backend/internal/mfa/domain"
	"nuomoria/backend/internal/profile"
	"nuomoria/backend/internal/session"
	sessiondomain "nuomoria/backend/internal/session/domain"
	"nuomoria/backend/internal/signupintent"
	"nuomoria/backend/internal/telemetry"
	telemetrydomain "nuomoria/backend/internal/telemetry/domain"
	telemetryotel "nuomoria/backend/internal/telemetry/otel"
	userdomain "nuomoria/backend/internal/user/domain"
)

// Config bounds a reconciliation run.
type Config struct {
	// Timebox is how long a run waits for the profile store before publishing a fallback user.
	Timebox time.Duration
	// ResolverDeadline bounds the resolution itself, which keeps running after the time-box.
	ResolverDeadline time.Duration
}

// localReadTimeout bounds the local state reads behind a fallback user.
const localReadTimeout = 300 * time.Millisecond

// DefaultConfig waits 8s and lets the resolution run for 30s.
var DefaultConfig = Config{Timebox: 8 * time.Second, ResolverDeadline: 30 * time.Second}

// Deps are the collaborators of a Reconciler. Emitter and Metrics may be nil.
type Deps struct {
	Provider    provider.Provider
	Retriever   *session.Retriever
	DirectCache *session.DirectCache
	MFA         *mfa.Coordinator
	Resolver    *profile.Resolver
	Intents     *signupintent.Store
	Emitter     telemetry.EventEmitter
	Metrics     *telemetryotel.Instruments
}

// Reconciler serializes reconciliation runs and publishes their results in
// generation order. Every session-change event bumps the generation; a result
// older than the last published generation is dropped.
type Reconciler struct {
	Deps
	cfg Config
	log zerolog.Logger

	gen atomic.Uint64

	mu        sync.Mutex
	state     AuthState
	published uint64
	subs      map[int]chan AuthState
	nextSub   int

	loopMu  sync.Mutex
	running bool
	dirty   bool
	idle    chan struct{}
	baseCtx context.Context

	unsubscribe func()
	cancel      context.CancelFunc
}

// New returns a reconciler in the initial Loading state. Call Start to begin.
func New(deps Deps, cfg Config, log zerolog.Logger) *Reconciler {
	if cfg.Timebox <= 0 {
		cfg.Timebox = DefaultConfig.Timebox
	}
	if cfg.ResolverDeadline < cfg.Timebox {
		cfg.ResolverDeadline = max(DefaultConfig.ResolverDeadline, cfg.Timebox)
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetryotel.NopInstruments()
	}
	r := &Reconciler{
		Deps:  deps,
		cfg:   cfg,
		log:   log,
		state: AuthState{Loading: true},
		subs:  map[int]chan AuthState{},
		idle:  make(chan struct{}),
	}
	close(r.idle)
	return r
}

// Start subscribes to session changes and runs the initial reconciliation.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.loopMu.Lock()
	r.baseCtx = ctx
	r.loopMu.Unlock()
	r.cancel = cancel
	r.unsubscribe = r.Provider.OnSessionChange(r.handleEvent)
	r.trigger()
}

// Stop unsubscribes and waits for the current run to finish.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	if r.cancel != nil {
		r.cancel()
	}
	return r.Wait(ctx)
}

// State returns a copy of the last published state.
func (r *Reconciler) State() AuthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

// Subscribe returns a channel receiving every published state, starting with
// the current one. A slow reader loses the oldest pending states.
func (r *Reconciler) Subscribe() (<-chan AuthState, func()) {
	ch := make(chan AuthState, 16)
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	ch <- r.state.clone()
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
		r.mu.Unlock()
	}
}

// Wait blocks until no run is in progress.
func (r *Reconciler) Wait(ctx context.Context) error {
	r.loopMu.Lock()
	idle := r.idle
	r.loopMu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) handleEvent(ev provider.Event) {
	gen := r.gen.Add(1)
	r.log.Debug().Str("event", string(ev.Kind)).Uint64("generation", gen).Msg("reconciler: session change")
	if ev.Kind == provider.EventSignedOut {
		ctx := context.Background()
		r.MFA.Reset(ctx)
		r.clearLocal(ctx, false)
		r.publish(ctx, gen, AuthState{}, "signed_out")
		return
	}
	r.trigger()
}

// trigger starts the run loop, or marks it dirty so it runs once more when the
// current run ends. Any number of events during a run collapse into one follow-up.
func (r *Reconciler) trigger() {
	if r.gen.Load() == 0 {
		r.gen.Add(1)
	}
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.running {
		r.dirty = true
		return
	}
	r.running = true
	r.idle = make(chan struct{})
	go r.loop(r.baseCtx, r.idle)
}

func (r *Reconciler) loop(ctx context.Context, idle chan struct{}) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		r.run(ctx, r.gen.Load())

		r.loopMu.Lock()
		if !r.dirty || ctx.Err() != nil {
			r.running = false
			r.dirty = false
			close(idle)
			r.loopMu.Unlock()
			return
		}
		r.dirty = false
		r.loopMu.Unlock()
	}
}

func (r *Reconciler) run(ctx context.Context, gen uint64) {
	ctx, span := r.Metrics.Tracer.Start(ctx, "reconcile.run",
		trace.WithAttributes(attribute.Int64("generation", int64(gen))))
	defer span.End()
	log := r.log.With().Uint64("generation", gen).Logger()

	res, err := r.Retriever.Retrieve(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Msg("reconciler: session rejected by provider")
		r.terminate(ctx, gen, nil, sessionExpired())
		return
	}

	switch res.Status {
	case session.StatusSignedOut:
		r.MFA.Reset(ctx)
		r.publish(ctx, gen, AuthState{}, "signed_out")
		return
	case session.StatusNotReady:
		// Provider unreachable and nothing cached: keep what is on screen.
		prev := r.State()
		prev.Err = nil
		r.publish(ctx, gen, prev, "not_ready")
		return
	}

	s := res.Session
	p := s.Principal
	span.SetAttributes(attribute.String("principal_id", s.PrincipalID()), attribute.Bool("from_cache", res.FromCache))

	if r.stale(gen) {
		// A newer event already published; the session read here may be gone.
		r.Metrics.Discarded(ctx)
		log.Debug().Msg("reconciler: run superseded before mfa evaluation")
		return
	}
	gate := r.MFA.Evaluate(ctx, s)
	if !gate.Open() {
		log.Info().Str("principal_id", s.PrincipalID()).Str("mfa", gate.State.String()).Msg("reconciler: second factor required")
		r.publishMFA(ctx, gen, gate)
		return
	}

	type outcome struct {
		user *userdomain.User
		err  error
	}
	done := make(chan outcome, 1)
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ResolverDeadline)
	go func() {
		defer cancel()
		start := time.Now()
		u, err := r.Resolver.Resolve(rctx, p, gate)
		r.Metrics.Resolution(rctx, time.Since(start), err == nil)
		done <- outcome{u, err}
	}()

	timer := time.NewTimer(r.cfg.Timebox)
	defer timer.Stop()

	select {
	case o := <-done:
		r.settle(ctx, gen, s, gate, res.FromCache, o.user, o.err)
	case <-timer.C:
		log.Warn().Str("principal_id", s.PrincipalID()).Dur("timebox", r.cfg.Timebox).Msg("reconciler: profile store slow, publishing fallback")
		r.fallback(ctx, gen, p, "timeout")
		go func() {
			o := <-done
			r.late(context.WithoutCancel(ctx), gen, s, gate, res.FromCache, o.user, o.err)
		}()
	case <-ctx.Done():
	}
}

// settle applies the resolver's decision table to a result that arrived in time.
func (r *Reconciler) settle(ctx context.Context, gen uint64, s *sessiondomain.Session, gate mfadomain.Gate, fromCache bool, u *userdomain.User, err error) {
	switch action := profile.Decide(err); action {
	case profile.ActionPublish:
		if r.publish(ctx, gen, userState(u), "resolved") && !fromCache {
			r.snapshot(ctx, s)
		}
	case profile.ActionFallback:
		r.log.Warn().Err(err).Str("principal_id", s.PrincipalID()).Msg("reconciler: profile store unavailable, publishing fallback")
		r.fallback(ctx, gen, s.Principal, "store_unavailable")
	case profile.ActionClearSession:
		r.log.Warn().Err(err).Str("principal_id", s.PrincipalID()).Msg("reconciler: profile store refused the session")
		r.terminate(ctx, gen, s.Principal, sessionExpired())
	case profile.ActionBlock:
		r.terminate(ctx, gen, s.Principal, identityConflict())
	case profile.ActionPrompt:
		r.publishMFA(ctx, gen, gate)
	}
}

// late handles a resolution that finished after the time-box. It may only
// replace the fallback it raced against.
func (r *Reconciler) late(ctx context.Context, gen uint64, s *sessiondomain.Session, gate mfadomain.Gate, fromCache bool, u *userdomain.User, err error) {
	if !r.showingFallback(gen, s.PrincipalID()) {
		r.Metrics.Discarded(ctx)
		return
	}
	switch profile.Decide(err) {
	case profile.ActionPublish, profile.ActionClearSession, profile.ActionBlock:
		r.log.Info().Str("principal_id", s.PrincipalID()).Uint64("generation", gen).Msg("reconciler: late resolution")
		r.settle(ctx, gen, s, gate, fromCache, u, err)
	default:
		r.log.Debug().Err(err).Str("principal_id", s.PrincipalID()).Msg("reconciler: late resolution failed, keeping fallback")
	}
}

func (r *Reconciler) showingFallback(gen uint64, principalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.state.User
	return r.published == gen && u != nil && u.Provisional && u.ID == principalID
}

func (r *Reconciler) fallback(ctx context.Context, gen uint64, p *identitydomain.Principal, reason string) {
	lctx, cancel := context.WithTimeout(ctx, localReadTimeout)
	defer cancel()
	u := profile.BuildFallback(p, r.Resolver.PendingIntent(lctx), r.Resolver.CachedRole(lctx))
	if u == nil {
		r.publish(ctx, gen, AuthState{}, "signed_out")
		return
	}
	if r.publish(ctx, gen, userState(u), "fallback") {
		r.Metrics.Fallback(ctx, reason)
	}
}

// terminate signs the session out, clears local caches and publishes authErr.
func (r *Reconciler) terminate(ctx context.Context, gen uint64, p *identitydomain.Principal, authErr *AuthError) {
	if r.superseded(gen) {
		r.Metrics.Discarded(ctx)
		return
	}
	l := r.log.Warn().Str("kind", string(authErr.Kind))
	if p != nil {
		l = l.Str("principal_id", p.ID)
	}
	l.Msg("reconciler: ending session")

	if err := r.Provider.SignOut(ctx); err != nil {
		r.log.Warn().Err(err).Msg("reconciler: sign out")
	}
	r.clearLocal(ctx, true)
	r.MFA.Reset(ctx)
	// SignOut publishes its own signed-out state; the error goes on top of it.
	r.publish(ctx, r.gen.Add(1), AuthState{Err: authErr}, string(authErr.Kind))
}

// clearLocal drops local session caches. Intents and the cached role only go when all is set.
func (r *Reconciler) clearLocal(ctx context.Context, all bool) {
	if r.DirectCache != nil {
		if err := r.DirectCache.Clear(ctx); err != nil {
			r.log.Warn().Err(err).Msg("reconciler: clear direct cache")
		}
	}
	if !all {
		return
	}
	if err := r.Resolver.ClearCache(ctx); err != nil {
		r.log.Warn().Err(err).Msg("reconciler: clear cached role")
	}
	if r.Intents != nil {
		if err := r.Intents.Clear(ctx); err != nil {
			r.log.Warn().Err(err).Msg("reconciler: clear signup intent")
		}
	}
}

func (r *Reconciler) snapshot(ctx context.Context, s *sessiondomain.Session) {
	if r.DirectCache == nil {
		return
	}
	if err := r.DirectCache.Save(ctx, s); err != nil {
		r.log.Warn().Err(err).Msg("reconciler: save direct cache")
	}
}

// publishMFA publishes the closed gate. When a newer signed-out state wins,
// the flow built for the old session is dropped.
func (r *Reconciler) publishMFA(ctx context.Context, gen uint64, gate mfadomain.Gate) {
	if r.publish(ctx, gen, mfaState(gate), "mfa_required") {
		return
	}
	if st := r.State(); st.User == nil && !st.MFAPending {
		r.MFA.Reset(ctx)
	}
}

func (r *Reconciler) stale(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen < r.published
}

// superseded reports whether a newer generation published a session. A newer
// signed-out state does not count: the provider may have ended the session itself.
func (r *Reconciler) superseded(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen < r.published && (r.state.User != nil || r.state.MFAPending)
}

// amend republishes the current generation with u, if u is still the published user.
func (r *Reconciler) amend(ctx context.Context, u *userdomain.User) bool {
	r.mu.Lock()
	gen := r.published
	cur := r.state.User
	r.mu.Unlock()
	if cur == nil || cur.ID != u.ID {
		return false
	}
	return r.publish(ctx, gen, userState(u), "amended")
}

// publish installs st as the state of generation gen unless a newer generation
// already published. It reports whether st was installed.
func (r *Reconciler) publish(ctx context.Context, gen uint64, st AuthState, outcome string) bool {
	r.mu.Lock()
	if gen < r.published {
		r.mu.Unlock()
		r.Metrics.Discarded(ctx)
		r.log.Debug().Uint64("generation", gen).Str("outcome", outcome).Msg("reconciler: stale result dropped")
		r.emit(telemetrydomain.EventAuthStateDiscarded, gen, st, outcome)
		return false
	}
	if st.MFAPending {
		st.User = nil
		st.NeedsProfileCompletion = false
	}
	st.Loading = false
	st.Generation = gen
	r.published = gen
	r.state = st
	for _, ch := range r.subs {
		deliver(ch, st.clone())
	}
	r.mu.Unlock()

	r.Metrics.Run(ctx, outcome)
	r.emit(eventType(st, outcome), gen, st, outcome)
	return true
}

func deliver(ch chan AuthState, st AuthState) {
	for {
		select {
		case ch <- st:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func eventType(st AuthState, outcome string) string {
	switch {
	case st.Err != nil && st.Err.Kind == ErrorConflict:
		return telemetrydomain.EventIdentityConflict
	case st.Err != nil:
		return telemetrydomain.EventSessionExpired
	case st.MFAPending:
		return telemetrydomain.EventMFARequired
	case outcome == "fallback":
		return telemetrydomain.EventFallbackUsed
	default:
		return telemetrydomain.EventAuthStatePublished
	}
}

func (r *Reconciler) emit(eventType string, gen uint64, st AuthState, outcome string) {
	if r.Emitter == nil {
		return
	}
	ev := &telemetrydomain.Event{
		Type:       eventType,
		Generation: gen,
		Outcome:    outcome,
		Source:     "reconciler",
		CreatedAt:  time.Now().UTC(),
	}
	if st.User != nil {
		ev.PrincipalID = st.User.ID
		ev.UserID = st.User.ID
		ev.Metadata, _ = json.Marshal(map[string]any{
			"role":        st.User.Role,
			"provisional": st.User.Provisional,
		})
	}
	telemetry.EmitAsync(r.Emitter, r.log, ev)
}
