package endpoint

import (
	"github.com/ahlstromcj/nsm66/pkg/osc"
	"github.com/ahlstromcj/nsm66/pkg/transport"
)

// Direction says which way a signal's values flow relative to its
// owner.
type Direction int

const (
	Bidirectional Direction = iota
	Input
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "in"
	case Output:
		return "out"
	default:
		return "bi"
	}
}

func directionFrom(s string) Direction {
	switch s {
	case "in":
		return Input
	case "out":
		return Output
	default:
		return Bidirectional
	}
}

// ParamLimits bounds a signal's value range.
type ParamLimits struct {
	Min     float32
	Max     float32
	Default float32
}

// SignalEvent classifies peer-signal notifications.
type SignalEvent int

const (
	SignalCreated SignalEvent = iota
	SignalRemoved
)

// Signal is one named control value. A local signal belongs to the
// endpoint and is dispatchable over the wire; a mirrored signal
// belongs to a peer and tracks what the peer advertised.
type Signal struct {
	ep      *Endpoint
	peer    *Peer // nil for local signals
	path    string
	dir     Direction
	limits  ParamLimits
	value   float32
	handler func(float32)
	onState func(*Signal)
}

// Path returns the full signal path, endpoint name included.
func (s *Signal) Path() string {
	s.ep.mu.Lock()
	defer s.ep.mu.Unlock()
	return s.path
}

// Direction returns the flow direction the signal was created with.
func (s *Signal) Direction() Direction { return s.dir }

// Limits returns the signal's parameter limits.
func (s *Signal) Limits() ParamLimits { return s.limits }

// Peer returns the owner for a mirrored signal, nil for local ones.
func (s *Signal) Peer() *Peer { return s.peer }

// Value returns the last value set or received.
func (s *Signal) Value() float32 {
	s.ep.mu.Lock()
	defer s.ep.mu.Unlock()
	return s.value
}

// OnConnectionState installs a callback fired when a peer disconnects
// from this input signal.
func (s *Signal) OnConnectionState(fn func(*Signal)) {
	s.ep.mu.Lock()
	s.onState = fn
	s.ep.mu.Unlock()
}

// SetValue publishes a new value. Output signals broadcast it to every
// known peer; equal values are not re-sent.
func (s *Signal) SetValue(v float32) {
	s.ep.mu.Lock()
	if v == s.value {
		s.ep.mu.Unlock()
		return
	}
	s.value = v
	var targets []transport.Addr
	if s.dir == Output {
		for _, p := range s.ep.peers {
			targets = append(targets, p.addr)
		}
	}
	path := s.path
	s.ep.mu.Unlock()
	for _, a := range targets {
		_ = s.ep.srv.Send(a, path, v)
	}
}

// Rename gives the local signal a new leaf name, re-registers its
// dispatch method and tells every peer. Any translation whose
// destination is the old path follows the rename.
func (s *Signal) Rename(leaf string) {
	s.ep.mu.Lock()
	oldPath := s.path
	newPath := s.ep.name + leaf
	var targets []transport.Addr
	for _, p := range s.ep.peers {
		targets = append(targets, p.addr)
	}
	s.ep.renameTranslationDestLocked(oldPath, newPath)
	s.path = newPath
	s.ep.mu.Unlock()

	s.ep.srv.DelMethod(oldPath, osc.Nil)
	s.ep.srv.AddMethod(newPath, osc.Nil, s.ep.signalMethod(s))
	for _, a := range targets {
		_ = s.ep.srv.SendTag(a, osc.SigRenamed, oldPath, newPath)
	}
}

// Peer is another endpoint that said hello, plus the signals it has
// advertised.
type Peer struct {
	name     string
	addr     transport.Addr
	scanning bool
	signals  []*Signal
}

// Name returns the peer's announced name.
func (p *Peer) Name() string { return p.name }

// Addr returns the peer's current address.
func (p *Peer) Addr() transport.Addr { return p.addr }

// Scanning reports whether a signal-list scan is still in flight.
func (p *Peer) Scanning() bool { return p.scanning }

// translationDest is the target half of a source-path translation.
// currentValue starts at -1 so the first feedback always goes out.
type translationDest struct {
	path             string
	currentValue     float32
	suppressFeedback bool
}
