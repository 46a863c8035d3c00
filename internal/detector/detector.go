package detector

import (
	"sync"
	"time"

	"github.com/ygarg25/hyperliquid-exporter/internal/hlapi"
	"github.com/ygarg25/hyperliquid-exporter/internal/logger"
)

type Phase int

const (
	PhaseHealthy Phase = iota
	PhaseJailed
	PhaseRemediation
	PhaseExhausted
)

func (p Phase) String() string {
	switch p {
	case PhaseHealthy:
		return "healthy"
	case PhaseJailed:
		return "jailed"
	case PhaseRemediation:
		return "remediation_in_flight"
	case PhaseExhausted:
		return "remediation_exhausted"
	}
	return "unknown"
}

// EntityState is the single per-validator jail timeline. Exactly one
// exists per tracked validator; every mutation happens under Mu.
type EntityState struct {
	Name        string
	Phase       Phase
	JailedSince time.Time
	Attempt     int
	StartedAt   time.Time
	LastSeenAt  time.Time
	Mu          sync.Mutex
}

// Detector diffs roster snapshots against per-entity state and emits
// transition events. Detection is pull-driven: the upstream API is
// poll-only, so repeated identical snapshots must produce no events.
type Detector struct {
	mu     sync.RWMutex
	states map[string]*EntityState
}

func New() *Detector {
	return &Detector{states: make(map[string]*EntityState)}
}

// Observe runs one detection pass over a roster snapshot. It returns the
// transitions in roster order; entities tracked earlier but absent from
// this snapshot are skipped, not assumed healthy.
func (d *Detector) Observe(now time.Time, roster *hlapi.Roster) []Event {
	var events []Event
	seen := make(map[string]bool, len(roster.Validators))

	for _, v := range roster.Validators {
		addr := hlapi.NormalizeAddress(v.Validator)
		seen[addr] = true
		if ev, ok := d.observeOne(now, addr, v); ok {
			events = append(events, ev)
		}
	}

	// Entities that vanished from the roster: no transition either way.
	d.mu.RLock()
	for addr, st := range d.states {
		if seen[addr] {
			continue
		}
		st.Mu.Lock()
		if !st.LastSeenAt.IsZero() && st.LastSeenAt.Before(now) {
			logger.Warn("DETECT", "Validator %s (%s) absent from snapshot, skipping", st.Name, addr)
			st.LastSeenAt = time.Time{} // log the disappearance once, not every cycle
		}
		st.Mu.Unlock()
	}
	d.mu.RUnlock()

	return events
}

func (d *Detector) observeOne(now time.Time, addr string, v hlapi.ValidatorSummary) (Event, bool) {
	st := d.getOrCreate(addr)

	st.Mu.Lock()
	defer st.Mu.Unlock()

	st.Name = v.Name
	st.LastSeenAt = now

	if v.IsJailed {
		if st.Phase != PhaseHealthy {
			// Already in a jailed-family phase; identical snapshots are silent.
			return Event{}, false
		}
		st.Phase = PhaseJailed
		st.JailedSince = now
		st.Attempt = 0
		logger.Warn("DETECT", "Validator %s (%s) JAILED, stake=%s recentBlocks=%d", v.Name, addr, v.Stake.String(), v.NRecentBlocks)
		return Event{
			Type:         EventJailed,
			Validator:    addr,
			Name:         v.Name,
			Stake:        v.Stake.String(),
			RecentBlocks: v.NRecentBlocks,
			JailedSince:  st.JailedSince,
			Timestamp:    now,
		}, true
	}

	if st.Phase == PhaseHealthy {
		return Event{}, false
	}

	// Jailed, in-flight, or exhausted -> healthy: external recovery.
	since := st.JailedSince
	st.Phase = PhaseHealthy
	st.JailedSince = time.Time{}
	st.Attempt = 0
	st.StartedAt = time.Time{}
	logger.Info("DETECT", "Validator %s (%s) recovered after %v", v.Name, addr, now.Sub(since).Round(time.Second))
	return Event{
		Type:        EventRecovered,
		Validator:   addr,
		Name:        v.Name,
		Stake:       v.Stake.String(),
		JailedSince: since,
		Timestamp:   now,
	}, true
}

// BeginAttempt transitions an entity into RemediationInFlight for attempt
// number `attempt`. It reports false when the entity is no longer in a
// jailed-family phase - the scheduler uses that as its pre-action gate, so
// a cancellation or external recovery always wins over a pending timer.
func (d *Detector) BeginAttempt(addr string, attempt int, now time.Time) bool {
	st := d.get(addr)
	if st == nil {
		return false
	}
	st.Mu.Lock()
	defer st.Mu.Unlock()

	if st.Phase != PhaseJailed && st.Phase != PhaseRemediation {
		return false
	}
	st.Phase = PhaseRemediation
	st.Attempt = attempt
	st.StartedAt = now
	return true
}

// ResolveSuccess clears an in-flight remediation to Healthy.
func (d *Detector) ResolveSuccess(addr string) bool {
	st := d.get(addr)
	if st == nil {
		return false
	}
	st.Mu.Lock()
	defer st.Mu.Unlock()

	if st.Phase != PhaseRemediation {
		return false
	}
	st.Phase = PhaseHealthy
	st.JailedSince = time.Time{}
	st.Attempt = 0
	st.StartedAt = time.Time{}
	return true
}

// MarkExhausted moves an in-flight remediation to the terminal
// RemediationExhausted phase. Only an external Healthy observation
// resets it.
func (d *Detector) MarkExhausted(addr string) bool {
	st := d.get(addr)
	if st == nil {
		return false
	}
	st.Mu.Lock()
	defer st.Mu.Unlock()

	if st.Phase != PhaseRemediation {
		return false
	}
	st.Phase = PhaseExhausted
	return true
}

// StateView is a copied-out snapshot of one entity's state.
type StateView struct {
	Validator   string    `json:"validator"`
	Name        string    `json:"name"`
	Phase       string    `json:"phase"`
	JailedSince time.Time `json:"jailed_since,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
}

// States returns a point-in-time copy of every tracked entity's state.
func (d *Detector) States() map[string]StateView {
	d.mu.RLock()
	defer d.mu.RUnlock()

	views := make(map[string]StateView, len(d.states))
	for addr, st := range d.states {
		st.Mu.Lock()
		views[addr] = StateView{
			Validator:   addr,
			Name:        st.Name,
			Phase:       st.Phase.String(),
			JailedSince: st.JailedSince,
			Attempt:     st.Attempt,
		}
		st.Mu.Unlock()
	}
	return views
}

// jailedSince reports when an entity was first observed jailed, for
// anchoring the remediation timer to the original observation rather
// than the current poll.
func (d *Detector) jailedSince(addr string) (time.Time, bool) {
	st := d.get(addr)
	if st == nil {
		return time.Time{}, false
	}
	st.Mu.Lock()
	defer st.Mu.Unlock()
	if st.Phase == PhaseHealthy || st.JailedSince.IsZero() {
		return time.Time{}, false
	}
	return st.JailedSince, true
}

func (d *Detector) get(addr string) *EntityState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.states[hlapi.NormalizeAddress(addr)]
}

func (d *Detector) getOrCreate(addr string) *EntityState {
	d.mu.RLock()
	st := d.states[addr]
	d.mu.RUnlock()
	if st != nil {
		return st
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if st = d.states[addr]; st == nil {
		st = &EntityState{}
		d.states[addr] = st
	}
	return st
}
