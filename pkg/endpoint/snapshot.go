package endpoint

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// SignalState is one signal row in a snapshot.
type SignalState struct {
	Path      string  `cbor:"path"`
	Direction string  `cbor:"direction"`
	Min       float32 `cbor:"min"`
	Max       float32 `cbor:"max"`
	Default   float32 `cbor:"default"`
	Value     float32 `cbor:"value"`
}

// PeerState is one peer row in a snapshot.
type PeerState struct {
	Name     string        `cbor:"name"`
	URL      string        `cbor:"url"`
	Scanning bool          `cbor:"scanning"`
	Signals  []SignalState `cbor:"signals"`
}

// TranslationState is one translation row in a snapshot.
type TranslationState struct {
	Source string  `cbor:"source"`
	Dest   string  `cbor:"dest"`
	Value  float32 `cbor:"value"`
}

// State is a point-in-time dump of an endpoint's peers, signals and
// translations, written to disk for post-mortem inspection.
type State struct {
	Name         string             `cbor:"name"`
	URL          string             `cbor:"url"`
	Peers        []PeerState        `cbor:"peers"`
	Signals      []SignalState      `cbor:"signals"`
	Translations []TranslationState `cbor:"translations"`
}

func signalState(s *Signal) SignalState {
	return SignalState{
		Path:      s.path,
		Direction: s.dir.String(),
		Min:       s.limits.Min,
		Max:       s.limits.Max,
		Default:   s.limits.Default,
		Value:     s.value,
	}
}

// Snapshot captures the endpoint's current state.
func (e *Endpoint) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := State{Name: e.name, URL: e.srv.URL()}
	for _, s := range e.signals {
		st.Signals = append(st.Signals, signalState(s))
	}
	for _, p := range e.peers {
		ps := PeerState{Name: p.name, URL: p.addr.URL(), Scanning: p.scanning}
		for _, s := range p.signals {
			ps.Signals = append(ps.Signals, signalState(s))
		}
		st.Peers = append(st.Peers, ps)
	}
	for src, t := range e.translations {
		st.Translations = append(st.Translations, TranslationState{
			Source: src, Dest: t.path, Value: t.currentValue,
		})
	}
	return st
}

// WriteSnapshot dumps the current state to path as CBOR.
func (e *Endpoint) WriteSnapshot(path string) error {
	b, err := cbor.Marshal(e.Snapshot())
	if err != nil {
		return fmt.Errorf("endpoint: encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("endpoint: write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads a snapshot written by WriteSnapshot.
func ReadSnapshot(path string) (State, error) {
	var st State
	b, err := os.ReadFile(path)
	if err != nil {
		return st, fmt.Errorf("endpoint: read snapshot: %w", err)
	}
	if err := cbor.Unmarshal(b, &st); err != nil {
		return st, fmt.Errorf("endpoint: decode snapshot: %w", err)
	}
	return st, nil
}
