// Package endpoint implements the peer-to-peer signal engine: peers
// announce themselves with /signal/hello, scan each other's signal
// lists, mirror remote signals and route incoming control values
// through a translation map with feedback suppression.
package endpoint

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ahlstromcj/nsm66/pkg/osc"
	"github.com/ahlstromcj/nsm66/pkg/transport"
)

// Endpoint owns one transport server and the peer, signal and
// translation state behind it. All state is guarded by one mutex;
// handlers run on the dispatch goroutine started by Start.
type Endpoint struct {
	srv *transport.Server

	mu           sync.Mutex
	name         string
	peers        []*Peer
	signals      []*Signal
	translations map[string]*translationDest
	learnPath    string

	onPeerSignal   func(*Signal, SignalEvent)
	onScanComplete func()
}

// New binds an endpoint server on the given transport. name prefixes
// every local signal path and may be empty until the application knows
// it; hello replies are withheld while it is.
func New(name string, kind transport.Kind, bind string) (*Endpoint, error) {
	srv, err := transport.New(kind, bind)
	if err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}
	e := &Endpoint{
		srv:          srv,
		name:         name,
		translations: make(map[string]*translationDest),
	}
	e.addTagMethod(osc.SigHello, e.helloMethod)
	e.addTagMethod(osc.SigConnect, e.connectMethod)
	e.addTagMethod(osc.SigDisconnect, e.disconnectMethod)
	e.addTagMethod(osc.SigRenamed, e.renamedMethod)
	e.addTagMethod(osc.SigRemoved, e.removedMethod)
	e.addTagMethod(osc.SigCreated, e.createdMethod)
	e.addTagMethod(osc.SigList, e.listerMethod)
	e.addTagMethod(osc.SigReply, e.replyMethod)
	e.srv.AddMethod("", osc.Nil, e.genericMethod)
	return e, nil
}

func (e *Endpoint) addTagMethod(t osc.Tag, fn transport.Handler) {
	path, types, _ := osc.Lookup(t)
	e.srv.AddMethod(path, types, fn)
}

// Server exposes the underlying transport server.
func (e *Endpoint) Server() *transport.Server { return e.srv }

// URL returns the endpoint's own OSC URL.
func (e *Endpoint) URL() string { return e.srv.URL() }

// Port returns the bound port, 0 on unix sockets.
func (e *Endpoint) Port() int { return e.srv.Port() }

// Name returns the endpoint name.
func (e *Endpoint) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

// SetName names the endpoint once the application knows what to call
// itself.
func (e *Endpoint) SetName(name string) {
	e.mu.Lock()
	e.name = name
	e.mu.Unlock()
}

// OnPeerSignal installs the callback fired when a peer's signal is
// discovered or removed.
func (e *Endpoint) OnPeerSignal(fn func(*Signal, SignalEvent)) {
	e.mu.Lock()
	e.onPeerSignal = fn
	e.mu.Unlock()
}

// OnScanComplete installs the callback fired when a peer scan
// finishes.
func (e *Endpoint) OnScanComplete(fn func()) {
	e.mu.Lock()
	e.onScanComplete = fn
	e.mu.Unlock()
}

// Start begins dispatching messages on a background goroutine.
func (e *Endpoint) Start() { e.srv.Run() }

// Stop closes the socket and joins the dispatch goroutine.
func (e *Endpoint) Stop() { e.srv.Stop() }

// Check dispatches pending messages without blocking.
func (e *Endpoint) Check() { e.srv.Check() }

/*
 * Peers.
 */

// Hello introduces this endpoint to the peer at url.
func (e *Endpoint) Hello(url string) error {
	to, err := transport.ParseURL(url)
	if err != nil {
		return err
	}
	return e.srv.SendTag(to, osc.SigHello, e.Name(), e.URL())
}

// AddPeer records a peer without scanning it.
func (e *Endpoint) AddPeer(name, url string) (*Peer, error) {
	addr, err := transport.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("endpoint: add peer %q: %w", name, err)
	}
	zap.L().Info("adding peer", zap.String("peer", name), zap.String("url", url))
	p := &Peer{name: name, addr: addr}
	e.mu.Lock()
	e.peers = append(e.peers, p)
	e.mu.Unlock()
	return p, nil
}

// ScanPeer records a peer and asks it for its signal list.
func (e *Endpoint) ScanPeer(name, url string) (*Peer, error) {
	p, err := e.AddPeer(name, url)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	p.scanning = true
	e.mu.Unlock()
	zap.L().Info("scanning peer", zap.String("peer", name))
	return p, e.srv.SendTag(p.addr, osc.SigList)
}

// FindPeerByName returns the named peer, nil when unknown.
func (e *Endpoint) FindPeerByName(name string) *Peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peerByNameLocked(name)
}

func (e *Endpoint) peerByNameLocked(name string) *Peer {
	for _, p := range e.peers {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (e *Endpoint) peerByAddrLocked(a transport.Addr) *Peer {
	for _, p := range e.peers {
		if p.addr.Matches(a) {
			return p
		}
	}
	return nil
}

// Peers returns a snapshot of the current peer list.
func (e *Endpoint) Peers() []*Peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Peer, len(e.peers))
	copy(out, e.peers)
	return out
}

// handleHello processes one hello: unknown peers get scanned, known
// peers get their address refreshed (and rescanned) when the port
// moved, and we introduce ourselves back unless still unnamed.
func (e *Endpoint) handleHello(peerName, peerURL string, _ transport.Addr) {
	zap.L().Info("hello from peer", zap.String("peer", peerName), zap.String("url", peerURL))
	e.mu.Lock()
	p := e.peerByNameLocked(peerName)
	if p == nil {
		e.mu.Unlock()
		if _, err := e.ScanPeer(peerName, peerURL); err != nil {
			zap.L().Warn("peer scan failed", zap.String("peer", peerName), zap.Error(err))
		}
	} else {
		addr, err := transport.ParseURL(peerURL)
		if err != nil {
			e.mu.Unlock()
			zap.L().Warn("bad peer url in hello", zap.String("url", peerURL), zap.Error(err))
			return
		}
		if addr.Matches(p.addr) {
			e.mu.Unlock()
			return
		}
		zap.L().Info("peer moved, rescanning", zap.String("peer", peerName))
		p.addr = addr
		p.scanning = true
		e.mu.Unlock()
		_ = e.srv.SendTag(addr, osc.SigList)
	}
	if e.Name() == "" {
		zap.L().Info("not sending hello, no name yet")
		return
	}
	if err := e.Hello(peerURL); err != nil {
		zap.L().Warn("hello send failed", zap.String("url", peerURL), zap.Error(err))
	}
}

func (e *Endpoint) helloMethod(m osc.Message, from transport.Addr) transport.Result {
	if len(m.Args) >= 2 {
		e.handleHello(m.Str(0), m.Str(1), from)
	}
	return transport.Handled
}

/*
 * Signals.
 */

// AddSignal creates a local signal named after the endpoint plus leaf,
// registers its dispatch method and announces it to every peer. A leaf
// whose path is already registered is rejected with a nil return; two
// wire handlers on one path would shadow each other.
func (e *Endpoint) AddSignal(leaf string, dir Direction, limits ParamLimits, handler func(float32)) *Signal {
	e.mu.Lock()
	if dup := e.signalByPathLocked(e.name + leaf); dup != nil {
		e.mu.Unlock()
		zap.L().Warn("signal path already registered", zap.String("path", dup.path))
		return nil
	}
	s := &Signal{
		ep:      e,
		path:    e.name + leaf,
		dir:     dir,
		limits:  limits,
		handler: handler,
	}
	e.signals = append(e.signals, s)
	var targets []transport.Addr
	for _, p := range e.peers {
		targets = append(targets, p.addr)
	}
	path := s.path
	e.mu.Unlock()

	e.srv.AddMethod(path, osc.Nil, e.signalMethod(s))
	for _, a := range targets {
		_ = e.srv.SendTag(a, osc.SigCreated,
			path, dir.String(), limits.Min, limits.Max, limits.Default)
	}
	return s
}

// DelSignal unregisters a local signal and tells every peer. Learned
// translations pointing at the removed path are left in place and keep
// forwarding; callers wanting silence must clear them explicitly.
func (e *Endpoint) DelSignal(s *Signal) {
	e.mu.Lock()
	path := s.path
	var targets []transport.Addr
	for _, p := range e.peers {
		targets = append(targets, p.addr)
	}
	kept := e.signals[:0]
	for _, o := range e.signals {
		if o != s {
			kept = append(kept, o)
		}
	}
	e.signals = kept
	e.mu.Unlock()

	e.srv.DelMethod(path, osc.Nil)
	for _, a := range targets {
		_ = e.srv.SendTag(a, osc.SigRemoved, path)
	}
}

// FindSignalByPath returns the local signal with the given full path.
func (e *Endpoint) FindSignalByPath(path string) *Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signalByPathLocked(path)
}

func (e *Endpoint) signalByPathLocked(path string) *Signal {
	for _, s := range e.signals {
		if s.path == path {
			return s
		}
	}
	return nil
}

func peerSignalByPath(p *Peer, path string) *Signal {
	for _, s := range p.signals {
		if s.path == path {
			return s
		}
	}
	return nil
}

// ConnectSignal asks every peer to route their signal at srcPath into
// our output signal s.
func (e *Endpoint) ConnectSignal(s *Signal, srcPath string) bool {
	if s.dir != Output {
		return true
	}
	for _, p := range e.Peers() {
		_ = e.srv.SendTag(p.addr, osc.SigConnect, s.Path(), srcPath)
	}
	return true
}

// DisconnectSignal undoes ConnectSignal, reporting false for
// non-output signals.
func (e *Endpoint) DisconnectSignal(s *Signal, srcPath string) bool {
	if s.dir != Output {
		return false
	}
	for _, p := range e.Peers() {
		_ = e.srv.SendTag(p.addr, osc.SigDisconnect, s.Path(), srcPath)
	}
	return true
}

// signalMethod dispatches values addressed to one local signal. A "f"
// message stores and hands off the value; an empty typespec is a query
// answered with a /reply carrying the current value.
func (e *Endpoint) signalMethod(s *Signal) transport.Handler {
	return func(m osc.Message, from transport.Addr) transport.Result {
		switch m.Types {
		case "f":
			e.mu.Lock()
			s.value = m.Float(0)
			h := s.handler
			v := s.value
			e.mu.Unlock()
			if h != nil {
				h(v)
			}
			return transport.Unhandled
		case "":
			_ = e.srv.Send(from, osc.PathOf(osc.Reply), m.Path, s.Value())
			return transport.Handled
		default:
			return transport.Unhandled
		}
	}
}

func (e *Endpoint) connectMethod(m osc.Message, from transport.Addr) transport.Result {
	if len(m.Args) < 2 {
		return transport.Handled
	}
	srcPath, dstPath := m.Str(0), m.Str(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	dst := e.signalByPathLocked(dstPath)
	if dst == nil {
		zap.L().Warn("connection request for unknown signal", zap.String("path", dstPath))
		return transport.Handled
	}
	zap.L().Info("signal connection requested",
		zap.String("source", srcPath), zap.String("dest", dstPath))
	e.addTranslationLocked(srcPath, dstPath)
	return transport.Handled
}

func (e *Endpoint) disconnectMethod(m osc.Message, from transport.Addr) transport.Result {
	if len(m.Args) < 2 {
		return transport.Handled
	}
	theirPath, ourPath := m.Str(0), m.Str(1)
	e.mu.Lock()
	s := e.signalByPathLocked(ourPath)
	if s == nil || s.dir != Input {
		e.mu.Unlock()
		return transport.Handled
	}
	zap.L().Info("peer disconnected from signal",
		zap.String("signal", ourPath), zap.String("source", theirPath))
	delete(e.translations, theirPath)
	fn := s.onState
	e.mu.Unlock()
	if fn != nil {
		fn(s)
	}
	return transport.Handled
}

func (e *Endpoint) renamedMethod(m osc.Message, from transport.Addr) transport.Result {
	if len(m.Args) < 2 {
		return transport.Handled
	}
	oldPath, newPath := m.Str(0), m.Str(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.peerByAddrLocked(from)
	if p == nil {
		zap.L().Warn("signal rename from unknown peer", zap.String("from", from.URL()))
		return transport.Handled
	}
	s := peerSignalByPath(p, oldPath)
	if s == nil {
		zap.L().Warn("rename of unknown signal", zap.String("path", oldPath))
		return transport.Handled
	}
	zap.L().Info("peer signal renamed",
		zap.String("old", oldPath), zap.String("new", newPath))
	e.renameTranslationSourceLocked(oldPath, newPath)
	s.path = newPath
	return transport.Handled
}

func (e *Endpoint) removedMethod(m osc.Message, from transport.Addr) transport.Result {
	if len(m.Args) < 1 {
		return transport.Handled
	}
	path := m.Str(0)
	e.mu.Lock()
	p := e.peerByAddrLocked(from)
	if p == nil {
		e.mu.Unlock()
		zap.L().Warn("signal removal from unknown peer", zap.String("from", from.URL()))
		return transport.Handled
	}
	s := peerSignalByPath(p, path)
	if s == nil {
		e.mu.Unlock()
		zap.L().Warn("removal of unknown signal", zap.String("path", path))
		return transport.Handled
	}
	zap.L().Info("peer signal removed",
		zap.String("peer", p.name), zap.String("path", path))
	kept := p.signals[:0]
	for _, o := range p.signals {
		if o != s {
			kept = append(kept, o)
		}
	}
	p.signals = kept
	fn := e.onPeerSignal
	e.mu.Unlock()
	if fn != nil {
		fn(s, SignalRemoved)
	}
	return transport.Handled
}

func (e *Endpoint) createdMethod(m osc.Message, from transport.Addr) transport.Result {
	if len(m.Args) < 5 {
		return transport.Handled
	}
	e.mirrorPeerSignal(from, m.Str(0), m.Str(1), m.Float(2), m.Float(3), m.Float(4), false)
	return transport.Handled
}

// mirrorPeerSignal records a signal advertised by a peer, either from
// /signal/created or from a scan reply. Duplicates are ignored, as are
// scan entries once the peer stopped scanning (when fromScan is set).
func (e *Endpoint) mirrorPeerSignal(from transport.Addr, path, dirName string, min, max, def float32, fromScan bool) {
	e.mu.Lock()
	p := e.peerByAddrLocked(from)
	if p == nil {
		e.mu.Unlock()
		zap.L().Warn("signal advertisement from unknown peer", zap.String("from", from.URL()))
		return
	}
	if fromScan && !p.scanning {
		e.mu.Unlock()
		return
	}
	if peerSignalByPath(p, path) != nil {
		e.mu.Unlock()
		return
	}
	s := &Signal{
		ep:     e,
		peer:   p,
		path:   path,
		dir:    directionFrom(dirName),
		limits: ParamLimits{Min: min, Max: max, Default: def},
	}
	p.signals = append(p.signals, s)
	fn := e.onPeerSignal
	e.mu.Unlock()
	zap.L().Info("peer created signal",
		zap.String("peer", p.name), zap.String("path", path),
		zap.String("direction", dirName),
		zap.Float32("min", min), zap.Float32("max", max), zap.Float32("default", def))
	if fn != nil {
		fn(s, SignalCreated)
	}
}

// listerMethod answers /signal/list: one /reply per local signal whose
// path starts with the requested prefix, then a bare-path /reply as
// the terminator.
func (e *Endpoint) listerMethod(m osc.Message, from transport.Addr) transport.Result {
	prefix := ""
	if len(m.Args) > 0 {
		prefix = m.Str(0)
	}
	zap.L().Info("listing signals", zap.String("prefix", prefix))
	e.mu.Lock()
	type row struct {
		path string
		dir  Direction
		pl   ParamLimits
	}
	var rows []row
	for _, s := range e.signals {
		if strings.HasPrefix(s.path, prefix) {
			rows = append(rows, row{s.path, s.dir, s.limits})
		}
	}
	e.mu.Unlock()
	replyPath := osc.PathOf(osc.Reply)
	for _, r := range rows {
		_ = e.srv.Send(from, replyPath,
			m.Path, r.path, r.dir.String(), r.pl.Min, r.pl.Max, r.pl.Default)
	}
	_ = e.srv.Send(from, replyPath, m.Path)
	return transport.Handled
}

// replyMethod consumes the /reply stream of a signal-list scan: six
// arguments describe one remote signal, a lone argument terminates the
// scan. Other replies pass along.
func (e *Endpoint) replyMethod(m osc.Message, from transport.Addr) transport.Result {
	if len(m.Args) == 0 || m.Str(0) != osc.PathOf(osc.SigList) {
		return transport.Unhandled
	}
	if len(m.Args) == 1 {
		e.mu.Lock()
		p := e.peerByAddrLocked(from)
		if p == nil {
			e.mu.Unlock()
			zap.L().Warn("signal-list reply from unknown peer", zap.String("from", from.URL()))
			return transport.Handled
		}
		p.scanning = false
		fn := e.onScanComplete
		e.mu.Unlock()
		zap.L().Info("done scanning", zap.String("peer", p.name))
		if fn != nil {
			fn()
		}
		return transport.Handled
	}
	if len(m.Args) == 6 {
		e.mirrorPeerSignal(from, m.Str(1), m.Str(2), m.Float(3), m.Float(4), m.Float(5), true)
	}
	return transport.Handled
}

/*
 * Translations and the generic handler.
 */

// Learn arms learn mode: the next unhandled message's path becomes a
// translation source for path. One shot.
func (e *Endpoint) Learn(path string) {
	e.mu.Lock()
	e.learnPath = path
	e.mu.Unlock()
}

// AddTranslation maps incoming messages on src to dst.
func (e *Endpoint) AddTranslation(src, dst string) {
	e.mu.Lock()
	e.addTranslationLocked(src, dst)
	e.mu.Unlock()
}

func (e *Endpoint) addTranslationLocked(src, dst string) {
	t, ok := e.translations[src]
	if !ok {
		t = &translationDest{currentValue: -1}
		e.translations[src] = t
	}
	t.path = dst
}

// DelTranslation removes the translation for src.
func (e *Endpoint) DelTranslation(src string) {
	e.mu.Lock()
	delete(e.translations, src)
	e.mu.Unlock()
}

// ClearTranslations drops the whole translation map.
func (e *Endpoint) ClearTranslations() {
	e.mu.Lock()
	e.translations = make(map[string]*translationDest)
	e.mu.Unlock()
}

// Translations returns a source-to-destination copy of the map.
func (e *Endpoint) Translations() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.translations))
	for src, t := range e.translations {
		out[src] = t.path
	}
	return out
}

// Connections lists the translation sources feeding dst.
func (e *Endpoint) Connections(dst string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for src, t := range e.translations {
		if t.path == dst {
			out = append(out, src)
		}
	}
	return out
}

// RenameTranslationSource rekeys the translation at old to new,
// keeping its value and suppression state.
func (e *Endpoint) RenameTranslationSource(oldSrc, newSrc string) {
	e.mu.Lock()
	e.renameTranslationSourceLocked(oldSrc, newSrc)
	e.mu.Unlock()
}

func (e *Endpoint) renameTranslationSourceLocked(oldSrc, newSrc string) {
	if t, ok := e.translations[oldSrc]; ok {
		e.translations[newSrc] = t
		delete(e.translations, oldSrc)
	}
}

// renameTranslationDestLocked repoints the first translation whose
// destination is old.
func (e *Endpoint) renameTranslationDestLocked(old, new string) {
	for _, t := range e.translations {
		if t.path == old {
			t.path = new
			break
		}
	}
}

// SendFeedback pushes a value back to the sources feeding dst.
// A translation that just forwarded suppresses exactly one feedback
// round, and unchanged values are not re-sent.
func (e *Endpoint) SendFeedback(dst string, v float32) {
	type out struct {
		src string
	}
	var sends []out
	e.mu.Lock()
	for src, t := range e.translations {
		if t.path != dst {
			continue
		}
		if !t.suppressFeedback && t.currentValue != v {
			sends = append(sends, out{src: src})
			t.currentValue = v
		}
		t.suppressFeedback = false
	}
	targets := make([]transport.Addr, 0, len(e.peers))
	for _, p := range e.peers {
		targets = append(targets, p.addr)
	}
	e.mu.Unlock()
	for _, s := range sends {
		for _, a := range targets {
			_ = e.srv.Send(a, s.src, v)
		}
	}
}

// genericMethod is the catch-all: it consumes learn mode, forwards
// translated paths back into our own server, and answers prefix
// queries (a path ending in "/") with a method listing.
func (e *Endpoint) genericMethod(m osc.Message, from transport.Addr) transport.Result {
	if len(m.Args) < 1 {
		// A bare message may be a value query for a signal method
		// registered after us.
		return transport.Unhandled
	}
	e.mu.Lock()
	if e.learnPath != "" {
		dst := e.learnPath
		e.addTranslationLocked(m.Path, dst)
		e.learnPath = ""
		e.mu.Unlock()
		zap.L().Info("learned translation",
			zap.String("source", m.Path), zap.String("dest", dst))
		return transport.Handled
	}
	if t, ok := e.translations[m.Path]; ok {
		if m.Types == "f" {
			t.currentValue = m.Float(0)
		}
		t.suppressFeedback = true
		dst := t.path
		e.mu.Unlock()
		fwd := m
		fwd.Path = dst
		_ = e.srv.SendMessage(e.srv.Addr(), fwd)
		return transport.Handled
	}
	e.mu.Unlock()
	if !strings.HasSuffix(m.Path, "/") {
		return transport.Unhandled
	}
	replyPath := osc.PathOf(osc.Reply)
	for _, mp := range e.srv.MethodPaths() {
		if strings.HasPrefix(mp, m.Path) {
			_ = e.srv.Send(from, replyPath, m.Path, mp)
		}
	}
	_ = e.srv.Send(from, replyPath, m.Path)
	return transport.Handled
}
