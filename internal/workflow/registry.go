package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/fpang/garment-studio/internal/attrcache"
	"github.com/fpang/garment-studio/internal/gallery"
	"github.com/fpang/garment-studio/internal/garment"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Store persists sessions across process restarts within their lifetime.
// Load returns a NotFound error for unknown or expired sessions.
type Store interface {
	Saver
	Load(ctx context.Context, id string) (*Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// Idle sessions are dropped from memory after defaultIdleTTL. Sweeps run at
// most once per sweepInterval, piggybacked on Create and Get.
const (
	defaultIdleTTL = 24 * time.Hour
	sweepInterval  = time.Minute
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	CallTimeout time.Duration
	Cache       attrcache.Cache
	Store       Store
	Clock       gallery.Clock
	// IdleTTL is how long an untouched session stays in memory. A persisted
	// session is rehydrated from the store on its next Get.
	IdleTTL time.Duration
}

// Registry owns the live sessions of a process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	runner    *Runner
	store     Store
	clock     gallery.Clock
	idleTTL   time.Duration
	lastSweep time.Time
}

// NewRegistry creates a registry whose sessions call services.
func NewRegistry(services Services, opts RegistryOptions) *Registry {
	ro := RunnerOptions{CallTimeout: opts.CallTimeout, Cache: opts.Cache}
	if opts.Store != nil {
		ro.Saver = opts.Store
	}
	if opts.Clock == nil {
		opts.Clock = gallery.SystemClock{}
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		runner:    NewRunner(services, ro),
		store:     opts.Store,
		clock:     opts.Clock,
		idleTTL:   opts.IdleTTL,
		lastSweep: opts.Clock.Now(),
	}
}

// Runner returns the registry's runner.
func (g *Registry) Runner() *Runner {
	return g.runner
}

// Create starts a new session.
func (g *Registry) Create(ctx context.Context) *Session {
	g.maybeSweep(ctx)
	s := NewSession(uuid.NewString(), g.clock)

	g.mu.Lock()
	g.sessions[s.ID()] = s
	g.mu.Unlock()

	g.runner.Commit(ctx, s)
	log.Info().Str("sessionId", s.ID()).Msg("Session created")
	return s
}

// Get returns a live session, rehydrating it from the store if this process
// has not seen it.
func (g *Registry) Get(ctx context.Context, id string) (*Session, error) {
	g.maybeSweep(ctx)
	g.mu.RLock()
	s, ok := g.sessions[id]
	g.mu.RUnlock()
	if ok {
		return s, nil
	}
	if g.store == nil {
		return nil, garment.Errorf(garment.KindNotFound, "session", "session %s not found", id)
	}

	snap, err := g.store.Load(ctx, id)
	if err != nil {
		// Keeps the store's kind: NotFound for a missing session, Unknown for an outage.
		return nil, garment.Wrap(garment.KindUnknown, "session", "failed to load session", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions[id]; ok {
		return s, nil
	}
	s = Restore(snap, g.clock)
	g.sessions[id] = s
	log.Info().
		Str("sessionId", id).
		Int("galleryItems", len(snap.Gallery)).
		Msg("Session rehydrated from store")
	return s, nil
}

// Delete drops a session from memory and the store.
func (g *Registry) Delete(ctx context.Context, id string) error {
	g.mu.Lock()
	s, ok := g.sessions[id]
	delete(g.sessions, id)
	g.mu.Unlock()

	if s != nil {
		s.close()
		s.Reset()
		g.runner.Commit(ctx, s)
	}
	if g.store != nil {
		if err := g.store.Delete(ctx, id); err != nil {
			return err
		}
		return nil
	}
	if !ok {
		return garment.Errorf(garment.KindNotFound, "session", "session %s not found", id)
	}
	return nil
}

// ResetAll resets every live session. It runs after a credential change so
// results issued under the old credential are fenced off.
func (g *Registry) ResetAll(ctx context.Context) {
	g.mu.RLock()
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.RUnlock()

	for _, s := range sessions {
		g.runner.Reset(ctx, s)
	}
	log.Info().Int("sessions", len(sessions)).Msg("Sessions reset after credential change")
}

func (g *Registry) maybeSweep(ctx context.Context) {
	now := g.clock.Now()
	g.mu.Lock()
	due := now.Sub(g.lastSweep) >= sweepInterval
	if due {
		g.lastSweep = now
	}
	g.mu.Unlock()
	if due {
		g.EvictIdle(ctx)
	}
}

// EvictIdle drops sessions untouched for longer than the idle TTL and with
// no remote call in flight, and clears their suggestion cache. It returns
// the number of sessions evicted.
func (g *Registry) EvictIdle(ctx context.Context) int {
	now := g.clock.Now()
	var evicted []*Session

	g.mu.Lock()
	for id, s := range g.sessions {
		if s.idle(now, g.idleTTL) {
			delete(g.sessions, id)
			evicted = append(evicted, s)
		}
	}
	g.mu.Unlock()

	for _, s := range evicted {
		g.runner.forget(ctx, s)
	}
	if len(evicted) > 0 {
		log.Info().Int("evicted", len(evicted)).Int("live", g.Len()).Msg("Idle sessions evicted")
	}
	return len(evicted)
}

// Len returns the number of live sessions.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}
