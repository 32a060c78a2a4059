// Package session tracks per-caller concurrency so one client cannot occupy
// every render slot.
package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wellaios/crypto-chart-mcp/internal/errs"
)

// Registry admits tool calls per caller id up to a concurrency cap and
// forgets callers that have been idle past the timeout.
type Registry struct {
	maxInFlight int
	idleTimeout time.Duration
	log         zerolog.Logger

	mu      sync.Mutex
	callers map[string]*callerState

	now func() time.Time
}

type callerState struct {
	inFlight int
	lastSeen time.Time
}

// NewRegistry builds a registry with the given per-caller cap and idle
// timeout. A cap of zero or less means unlimited.
func NewRegistry(maxInFlight int, idleTimeout time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		maxInFlight: maxInFlight,
		idleTimeout: idleTimeout,
		log:         logger.With().Str("component", "session").Logger(),
		callers:     make(map[string]*callerState),
		now:         time.Now,
	}
}

// Handle releases one admitted slot. Releasing twice is a no-op.
type Handle struct {
	release func()
	once    sync.Once
}

// Release frees the slot held by this handle.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(h.release)
}

// Admit reserves a concurrency slot for the caller, or fails with
// TooManyRequests when the caller already has the maximum number of calls in
// flight. Idle callers are swept opportunistically on each admit.
func (r *Registry) Admit(callerID string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweepLocked(now)

	st := r.callers[callerID]
	if st == nil {
		st = &callerState{}
		r.callers[callerID] = st
	}
	if r.maxInFlight > 0 && st.inFlight >= r.maxInFlight {
		r.log.Warn().Str("caller", callerID).Int("in_flight", st.inFlight).Msg("caller over concurrency limit")
		return nil, errs.Newf(errs.TooManyRequests,
			"too many concurrent requests; at most %d may be in flight, retry after an in-flight request completes", r.maxInFlight)
	}
	st.inFlight++
	st.lastSeen = now

	return &Handle{release: func() { r.release(callerID) }}, nil
}

func (r *Registry) release(callerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.callers[callerID]
	if st == nil {
		return
	}
	if st.inFlight > 0 {
		st.inFlight--
	}
	st.lastSeen = r.now()
}

// sweepLocked drops callers idle past the timeout. Callers with calls still
// in flight are never dropped, however old their last activity.
func (r *Registry) sweepLocked(now time.Time) {
	if r.idleTimeout <= 0 {
		return
	}
	for id, st := range r.callers {
		if st.inFlight == 0 && now.Sub(st.lastSeen) > r.idleTimeout {
			delete(r.callers, id)
		}
	}
}

// Active reports how many callers are currently tracked.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callers)
}
