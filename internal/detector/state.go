package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ygarg25/hyperliquid-exporter/internal/hlapi"
)

// StateFile persists jail timelines across restarts so a restart does not
// reset the unjail wait for an already-jailed validator.
type StateFile struct {
	Version   int                       `json:"version"`
	Chain     string                    `json:"chain"`
	UpdatedAt time.Time                 `json:"updated_at"`
	Entities  map[string]EntitySnapshot `json:"entities"`
}

type EntitySnapshot struct {
	Name        string    `json:"name"`
	Phase       string    `json:"phase"`
	JailedSince time.Time `json:"jailed_since"`
	Attempt     int       `json:"attempt"`
}

type StateStore struct {
	path string
}

func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

func (s *StateStore) Load(chain string) (map[string]EntitySnapshot, error) {
	if s.path == "" {
		return make(map[string]EntitySnapshot), nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]EntitySnapshot), nil
		}
		return nil, err
	}

	var state StateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.Chain != "" && state.Chain != chain {
		// State from another chain is worse than no state.
		return make(map[string]EntitySnapshot), nil
	}
	if state.Entities == nil {
		state.Entities = make(map[string]EntitySnapshot)
	}
	return state.Entities, nil
}

func (s *StateStore) Save(chain string, entities map[string]EntitySnapshot) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	state := StateFile{
		Version:   1,
		Chain:     chain,
		UpdatedAt: time.Now().UTC(),
		Entities:  entities,
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tempPath := fmt.Sprintf("%s.tmp", s.path)
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, s.path)
}

// Export snapshots the jailed-family entities for persistence. Healthy
// entities carry no timeline worth saving.
func (d *Detector) Export() map[string]EntitySnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]EntitySnapshot)
	for addr, st := range d.states {
		st.Mu.Lock()
		if st.Phase != PhaseHealthy {
			out[addr] = EntitySnapshot{
				Name:        st.Name,
				Phase:       st.Phase.String(),
				JailedSince: st.JailedSince,
				Attempt:     st.Attempt,
			}
		}
		st.Mu.Unlock()
	}
	return out
}

// Restore seeds the detector from persisted snapshots. In-flight
// remediation is restored as plain Jailed: the timer that owned it died
// with the previous process, and the scheduler will re-anchor from
// JailedSince anyway.
func (d *Detector) Restore(entities map[string]EntitySnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for addr, snap := range entities {
		phase := PhaseJailed
		if snap.Phase == PhaseExhausted.String() {
			phase = PhaseExhausted
		}
		d.states[hlapi.NormalizeAddress(addr)] = &EntityState{
			Name:        snap.Name,
			Phase:       phase,
			JailedSince: snap.JailedSince,
			Attempt:     snap.Attempt,
		}
	}
}
