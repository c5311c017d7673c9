package transport

import (
	"testing"
	"time"

	"github.com/ahlstromcj/nsm66/pkg/osc"
)

func newPair(t *testing.T, kind Kind) (*Server, *Server) {
	t.Helper()
	a, err := New(kind, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("bind a: %v", err)
	}
	b, err := New(kind, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("bind b: %v", err)
	}
	t.Cleanup(func() { a.Stop(); b.Stop() })
	return a, b
}

func waitFor(t *testing.T, s *Server, ch <-chan osc.Message) osc.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s.Wait(50 * time.Millisecond)
		select {
		case m := <-ch:
			return m
		default:
		}
	}
	t.Fatalf("no message before deadline")
	return osc.Message{}
}

func TestServerRoundTripUDP(t *testing.T) {
	a, b := newPair(t, KindUDP)
	got := make(chan osc.Message, 1)
	b.AddMethod("/signal/hello", "ss", func(m osc.Message, from Addr) Result {
		got <- m
		return Handled
	})
	if err := a.Send(b.Addr(), "/signal/hello", "nsm66d", a.URL()); err != nil {
		t.Fatalf("send: %v", err)
	}
	m := waitFor(t, b, got)
	if m.Str(0) != "nsm66d" || m.Str(1) != a.URL() {
		t.Fatalf("received %v", m)
	}
}

func TestServerRoundTripTCP(t *testing.T) {
	a, b := newPair(t, KindTCP)
	got := make(chan osc.Message, 1)
	b.AddMethod("/nsm/server/list", "", func(m osc.Message, from Addr) Result {
		got <- m
		return Handled
	})
	if err := a.SendTag(b.Addr(), osc.SrvList); err != nil {
		t.Fatalf("send: %v", err)
	}
	m := waitFor(t, b, got)
	if m.Path != "/nsm/server/list" {
		t.Fatalf("received %v", m)
	}
}

func TestDispatchPrecedence(t *testing.T) {
	a, b := newPair(t, KindUDP)
	var order []string
	done := make(chan osc.Message, 1)
	b.AddMethod("/x", "f", func(m osc.Message, from Addr) Result {
		order = append(order, "typed")
		return Unhandled
	})
	b.AddMethod("/x", osc.Nil, func(m osc.Message, from Addr) Result {
		order = append(order, "any")
		return Unhandled
	})
	b.AddMethod("", osc.Nil, func(m osc.Message, from Addr) Result {
		order = append(order, "generic")
		done <- m
		return Handled
	})
	if err := a.Send(b.Addr(), "/x", float32(0.5)); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, b, done)
	want := []string{"typed", "any", "generic"}
	if len(order) != len(want) {
		t.Fatalf("dispatch order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", order, want)
		}
	}
}

func TestDefaultHandlers(t *testing.T) {
	a, b := newPair(t, KindUDP)
	b.InstallDefaults()
	errCh := make(chan osc.Message, 1)
	b.OnError(func(path string, code int32, text string) {
		m, _ := osc.NewMessage("/error", path, int(code), text)
		errCh <- m
	})
	if err := a.SendTag(b.Addr(), osc.Error, "/nsm/server/announce", -2, "incompatible"); err != nil {
		t.Fatalf("send error: %v", err)
	}
	m := waitFor(t, b, errCh)
	if m.Int(1) != -2 || b.Active() {
		t.Fatalf("error handling: args %v active %v", m.Args, b.Active())
	}
	replyCh := make(chan osc.Message, 1)
	b.OnReply(func(from Addr, args []string) {
		rm := osc.Message{Path: "/reply"}
		for _, s := range args {
			rm.Args = append(rm.Args, s)
		}
		replyCh <- rm
	})
	if err := a.SendTag(b.Addr(), osc.Reply, "/nsm/server/announce", "howdy"); err != nil {
		t.Fatalf("send reply: %v", err)
	}
	m = waitFor(t, b, replyCh)
	if len(m.Args) != 2 || !b.Active() {
		t.Fatalf("reply handling: args %v active %v", m.Args, b.Active())
	}
}

func TestNonAnnounceErrorKeepsActive(t *testing.T) {
	a, b := newPair(t, KindUDP)
	b.InstallDefaults()
	b.SetActive(true)
	errCh := make(chan osc.Message, 1)
	b.OnError(func(path string, code int32, text string) {
		m, _ := osc.NewMessage("/error", path, int(code), text)
		errCh <- m
	})
	if err := a.SendTag(b.Addr(), osc.Error, "/nsm/client/save", -99, "save failed"); err != nil {
		t.Fatalf("send error: %v", err)
	}
	m := waitFor(t, b, errCh)
	if m.Str(0) != "/nsm/client/save" || !b.Active() {
		t.Fatalf("failed save dropped the session: args %v active %v", m.Args, b.Active())
	}
	if err := a.SendTag(b.Addr(), osc.Error, "/nsm/server/announce", -2, "incompatible"); err != nil {
		t.Fatalf("send error: %v", err)
	}
	waitFor(t, b, errCh)
	if b.Active() {
		t.Fatalf("rejected announce left the session active")
	}
}

func TestZeroArgReplyPassesThrough(t *testing.T) {
	a, b := newPair(t, KindUDP)
	b.InstallDefaults()
	got := make(chan osc.Message, 1)
	b.AddMethod("/reply", osc.Nil, func(m osc.Message, from Addr) Result {
		got <- m
		return Handled
	})
	if err := a.Send(b.Addr(), "/reply"); err != nil {
		t.Fatalf("send: %v", err)
	}
	m := waitFor(t, b, got)
	if len(m.Args) != 0 {
		t.Fatalf("expected bare reply, got %v", m)
	}
}

func TestSendTagValidatesTypespec(t *testing.T) {
	a, b := newPair(t, KindUDP)
	err := a.SendTag(b.Addr(), osc.SrvAnnounce, "only-one-string")
	if err == nil {
		t.Fatalf("expected typespec mismatch error")
	}
}

func TestParseURLAndMatches(t *testing.T) {
	a, err := ParseURL("osc.udp://127.0.0.1:19900/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.Kind != KindUDP || a.Port != 19900 {
		t.Fatalf("parsed %+v", a)
	}
	if ExtractPort("osc.udp://somehost:8000/") != 8000 {
		t.Fatalf("extract port failed")
	}
	if ExtractPort("garbage") != 0 {
		t.Fatalf("bad url should give port 0")
	}
	b := Addr{Kind: KindUDP, Host: "10.0.0.9", Port: 19900}
	if !a.Matches(b) {
		t.Fatalf("same port should match across hosts")
	}
	if a.Matches(Addr{Kind: KindUDP, Host: "127.0.0.1", Port: 19901}) {
		t.Fatalf("different ports should not match")
	}
	u, err := ParseURL("osc.unix:///tmp/nsm66.sock")
	if err != nil || u.Host != "/tmp/nsm66.sock" {
		t.Fatalf("unix parse: %v %+v", err, u)
	}
	if _, err := ParseURL("http://x:1/"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestDelMethod(t *testing.T) {
	a, b := newPair(t, KindUDP)
	typed := make(chan osc.Message, 1)
	generic := make(chan osc.Message, 1)
	b.AddMethod("/y", "i", func(m osc.Message, from Addr) Result {
		typed <- m
		return Handled
	})
	b.AddMethod("", osc.Nil, func(m osc.Message, from Addr) Result {
		generic <- m
		return Handled
	})
	b.DelMethod("/y", "i")
	if err := a.Send(b.Addr(), "/y", 7); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, b, generic)
	select {
	case <-typed:
		t.Fatalf("deleted method still dispatched")
	default:
	}
}
