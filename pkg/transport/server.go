// Package transport wraps a datagram or stream socket in an OSC
// message server: typed sends, a method-dispatch table, a poll loop
// and the default reply/error handlers the session protocol expects.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ahlstromcj/nsm66/pkg/osc"
)

// Result is a handler's verdict on a dispatched message.
type Result int

const (
	// Handled stops dispatch; no later registration sees the message.
	Handled Result = iota
	// Unhandled lets dispatch continue to later registrations,
	// including the generic catch-all.
	Unhandled
)

// Handler processes one incoming message and its source address.
type Handler func(msg osc.Message, from Addr) Result

type method struct {
	path  string // "" is the generic catch-all
	types string // osc.Nil or "?" matches any typespec
	fn    Handler
}

type inbound struct {
	msg  osc.Message
	from Addr
}

// Server binds one socket and dispatches OSC messages to registered
// methods. Methods match on exact address pattern (or the "" catch-all)
// and on typespec unless registered with osc.Nil. Registration order
// decides precedence; a handler returning Unhandled passes the message
// along.
type Server struct {
	kind Kind
	addr Addr

	pc net.PacketConn // udp / unixgram
	ln net.Listener   // tcp

	mu       sync.Mutex
	methods  []method
	active   bool
	tcpConns map[string]net.Conn
	onError  func(path string, code int32, message string)
	onReply  func(from Addr, args []string)

	rxCh      chan inbound
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New binds a server socket. bind is host:port for udp/tcp (empty host
// and port 0 pick defaults) or a filesystem path for unix.
func New(kind Kind, bind string) (*Server, error) {
	s := &Server{
		kind:     kind,
		active:   true,
		tcpConns: make(map[string]net.Conn),
		rxCh:     make(chan inbound, 64),
		stopCh:   make(chan struct{}),
	}
	switch kind {
	case KindUDP:
		pc, err := net.ListenPacket("udp", bind)
		if err != nil {
			return nil, fmt.Errorf("transport: bind udp %q: %w", bind, err)
		}
		s.pc = pc
		s.addr = addrFrom(pc.LocalAddr())
		s.wg.Add(1)
		go s.packetLoop()
	case KindUnix:
		pc, err := net.ListenPacket("unixgram", bind)
		if err != nil {
			return nil, fmt.Errorf("transport: bind unixgram %q: %w", bind, err)
		}
		s.pc = pc
		s.addr = Addr{Kind: KindUnix, Host: bind}
		s.wg.Add(1)
		go s.packetLoop()
	case KindTCP:
		ln, err := net.Listen("tcp", bind)
		if err != nil {
			return nil, fmt.Errorf("transport: bind tcp %q: %w", bind, err)
		}
		s.ln = ln
		s.addr = addrFrom(ln.Addr())
		s.wg.Add(1)
		go s.acceptLoop()
	default:
		return nil, fmt.Errorf("transport: unsupported kind %v", kind)
	}
	return s, nil
}

// Addr returns the bound local address.
func (s *Server) Addr() Addr { return s.addr }

// URL returns the bound address as an OSC URL.
func (s *Server) URL() string { return s.addr.URL() }

// Port returns the bound port, 0 for unix sockets.
func (s *Server) Port() int { return s.addr.Port }

// Active reports whether the server considers itself accepted by its
// peer. The default reply handler sets it; an /error for the announce
// clears it.
func (s *Server) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActive overrides the active flag.
func (s *Server) SetActive(on bool) {
	s.mu.Lock()
	s.active = on
	s.mu.Unlock()
}

// OnError installs the hook called by the default /error handler.
func (s *Server) OnError(fn func(path string, code int32, message string)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// OnReply installs the hook called by the default /reply handler.
func (s *Server) OnReply(fn func(from Addr, args []string)) {
	s.mu.Lock()
	s.onReply = fn
	s.mu.Unlock()
}

// InstallDefaults registers the stock /error "sis" and /reply handlers.
// A zero-argument /reply is passed along unhandled so a later
// registration (the endpoint's scan handler) can claim it.
func (s *Server) InstallDefaults() {
	s.AddMethod("/error", "sis", s.errorMethod)
	s.AddMethod("/reply", osc.Nil, s.replyMethod)
}

func (s *Server) errorMethod(msg osc.Message, from Addr) Result {
	path, code, text := msg.Str(0), msg.Int(1), msg.Str(2)
	zap.L().Warn("peer reported error",
		zap.String("for", path), zap.Int32("code", code), zap.String("message", text))
	s.mu.Lock()
	// Only a rejected registration drops the session; a failed save or
	// open leaves the session registered.
	if path == osc.PathOf(osc.SrvAnnounce) {
		s.active = false
	}
	hook := s.onError
	s.mu.Unlock()
	if hook != nil {
		hook(path, code, text)
	}
	return Handled
}

func (s *Server) replyMethod(msg osc.Message, from Addr) Result {
	if len(msg.Args) == 0 {
		return Unhandled
	}
	args := make([]string, 0, len(msg.Args))
	for i := range msg.Args {
		args = append(args, msg.Str(i))
	}
	s.mu.Lock()
	s.active = true
	hook := s.onReply
	s.mu.Unlock()
	if hook != nil {
		hook(from, args)
	}
	return Handled
}

// AddMethod registers a handler for an address pattern and typespec.
// Pass "" as path for the generic catch-all and osc.Nil as types to
// match any typespec.
func (s *Server) AddMethod(path, types string, fn Handler) {
	s.mu.Lock()
	s.methods = append(s.methods, method{path: path, types: types, fn: fn})
	s.mu.Unlock()
}

// MethodPaths returns the address patterns of every registered
// method, in registration order. The "" catch-all is omitted.
func (s *Server) MethodPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.methods))
	for _, m := range s.methods {
		if m.path != "" {
			out = append(out, m.path)
		}
	}
	return out
}

// DelMethod removes every handler registered for path and types.
func (s *Server) DelMethod(path, types string) {
	s.mu.Lock()
	kept := s.methods[:0]
	for _, m := range s.methods {
		if m.path == path && m.types == types {
			continue
		}
		kept = append(kept, m)
	}
	s.methods = kept
	s.mu.Unlock()
}

func (s *Server) dispatch(in inbound) {
	s.mu.Lock()
	ms := make([]method, len(s.methods))
	copy(ms, s.methods)
	s.mu.Unlock()
	for _, m := range ms {
		if m.path != "" && m.path != in.msg.Path {
			continue
		}
		if m.types != osc.Nil && m.types != "?" && m.types != in.msg.Types {
			continue
		}
		if m.fn(in.msg, in.from) == Handled {
			return
		}
	}
	zap.L().Debug("unhandled message",
		zap.String("path", in.msg.Path), zap.String("types", in.msg.Types),
		zap.String("from", in.from.URL()))
}

// Send marshals args (typespec derived from their Go types) and writes
// one message to the peer.
func (s *Server) Send(to Addr, path string, args ...any) error {
	m, err := osc.NewMessage(path, args...)
	if err != nil {
		return err
	}
	return s.SendMessage(to, m)
}

// SendTag resolves a registry tag to its address pattern and sends
// args to the peer. When the registry fixes a typespec, the derived
// one must match it.
func (s *Server) SendTag(to Addr, t osc.Tag, args ...any) error {
	path, types, ok := osc.Lookup(t)
	if !ok {
		return fmt.Errorf("transport: tag %v not registered", t)
	}
	m, err := osc.NewMessage(path, args...)
	if err != nil {
		return err
	}
	if types != osc.Nil && types != "?" && types != m.Types {
		return fmt.Errorf("transport: tag %v wants %q, args give %q", t, types, m.Types)
	}
	return s.SendMessage(to, m)
}

// SendMessage writes one already-built message to the peer.
func (s *Server) SendMessage(to Addr, m osc.Message) error {
	b, err := m.Marshal()
	if err != nil {
		return err
	}
	zap.L().Debug("send", zap.String("to", to.URL()),
		zap.String("path", m.Path), zap.String("types", m.Types))
	if s.kind == KindTCP {
		return s.sendTCP(to, b)
	}
	na, err := to.netAddr()
	if err != nil {
		return err
	}
	if _, err := s.pc.WriteTo(b, na); err != nil {
		return fmt.Errorf("transport: send to %s: %w", to.URL(), err)
	}
	return nil
}

func (s *Server) sendTCP(to Addr, b []byte) error {
	key := to.URL()
	s.mu.Lock()
	c := s.tcpConns[key]
	s.mu.Unlock()
	if c == nil {
		na, err := to.netAddr()
		if err != nil {
			return err
		}
		c, err = net.DialTimeout("tcp", na.String(), 5*time.Second)
		if err != nil {
			return fmt.Errorf("transport: dial %s: %w", to.URL(), err)
		}
		s.mu.Lock()
		s.tcpConns[key] = c
		s.mu.Unlock()
		s.wg.Add(1)
		go s.connLoop(c)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := c.Write(append(hdr[:], b...)); err != nil {
		s.mu.Lock()
		delete(s.tcpConns, key)
		s.mu.Unlock()
		_ = c.Close()
		return fmt.Errorf("transport: send to %s: %w", to.URL(), err)
	}
	return nil
}

func (s *Server) packetLoop() {
	defer s.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, raddr, err := s.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				zap.L().Error("socket read failed", zap.Error(err))
			}
			return
		}
		s.enqueue(buf[:n], addrFrom(raddr))
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				zap.L().Error("accept failed", zap.Error(err))
			}
			return
		}
		s.mu.Lock()
		s.tcpConns[addrFrom(c.RemoteAddr()).URL()] = c
		s.mu.Unlock()
		s.wg.Add(1)
		go s.connLoop(c)
	}
}

// connLoop reads length-prefixed messages from one TCP peer.
func (s *Server) connLoop(c net.Conn) {
	defer s.wg.Done()
	from := addrFrom(c.RemoteAddr())
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(c, hdr[:]); err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case <-s.stopCh:
				default:
					zap.L().Debug("tcp peer read failed", zap.Error(err))
				}
			}
			s.mu.Lock()
			delete(s.tcpConns, from.URL())
			s.mu.Unlock()
			_ = c.Close()
			return
		}
		n := binary.BigEndian.Uint32(hdr[:])
		if n == 0 || n > 1<<20 {
			zap.L().Warn("tcp frame length out of range", zap.Uint32("length", n))
			_ = c.Close()
			return
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(c, payload); err != nil {
			_ = c.Close()
			return
		}
		s.enqueue(payload, from)
	}
}

func (s *Server) enqueue(b []byte, from Addr) {
	m, err := osc.Unmarshal(b)
	if err != nil {
		zap.L().Warn("dropping undecodable packet",
			zap.String("from", from.URL()), zap.Error(err))
		return
	}
	select {
	case s.rxCh <- inbound{msg: m, from: from}:
	case <-s.stopCh:
	default:
		zap.L().Warn("receive queue full, dropping message", zap.String("path", m.Path))
	}
}

// Run dispatches messages on a background goroutine until Stop.
func (s *Server) Run() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stopCh:
				return
			case in := <-s.rxCh:
				s.dispatch(in)
			}
		}
	}()
}

// Wait blocks up to timeout for at least one message, dispatches all
// pending messages and returns how many were dispatched.
func (s *Server) Wait(timeout time.Duration) int {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.stopCh:
		return 0
	case <-t.C:
		return 0
	case in := <-s.rxCh:
		s.dispatch(in)
		return 1 + s.Check()
	}
}

// Check dispatches every pending message without blocking and returns
// the count.
func (s *Server) Check() int {
	n := 0
	for {
		select {
		case in := <-s.rxCh:
			s.dispatch(in)
			n++
		default:
			return n
		}
	}
}

// Stop closes the socket, unblocks the loops and joins them.
func (s *Server) Stop() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		if s.pc != nil {
			_ = s.pc.Close()
		}
		if s.ln != nil {
			_ = s.ln.Close()
		}
		s.mu.Lock()
		for _, c := range s.tcpConns {
			_ = c.Close()
		}
		s.tcpConns = map[string]net.Conn{}
		s.mu.Unlock()
	})
	s.wg.Wait()
}
