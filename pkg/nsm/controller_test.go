package nsm

import (
	"testing"
	"time"

	"github.com/ahlstromcj/nsm66/pkg/osc"
	"github.com/ahlstromcj/nsm66/pkg/transport"
)

func newTestController(t *testing.T, daemons ...*transport.Server) *Controller {
	t.Helper()
	c, err := NewController(transport.KindUDP, "127.0.0.1:0", "testctl", "/usr/bin/testctl")
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(c.Stop)
	for _, d := range daemons {
		if err := c.AddDaemon(d.URL(), false); err != nil {
			t.Fatalf("add daemon: %v", err)
		}
	}
	return c
}

func ctlPump(t *testing.T, c *Controller, d *transport.Server, got chan osc.Message, path string) osc.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.Wait(10 * time.Millisecond)
		d.Wait(10 * time.Millisecond)
		select {
		case m := <-got:
			if m.Path == path {
				return m
			}
			got <- m
		default:
		}
	}
	t.Fatalf("daemon never received %s", path)
	return osc.Message{}
}

func ctlSettle(t *testing.T, c *Controller, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		c.Wait(10 * time.Millisecond)
	}
	t.Fatalf("controller state never settled")
}

func TestControllerAnnounceAndSessionList(t *testing.T) {
	d, got := fakeDaemon(t)
	c := newTestController(t, d)
	c.Announce(false)
	m := ctlPump(t, c, d, got, "/nsm/gui/gui_announce")
	if m.Types != "sssiii" || m.Str(0) != "testctl" {
		t.Fatalf("announce %q %v", m.Types, m.Args)
	}

	// The daemon acknowledges on the same path; the controller should
	// come up active and ask for the session list.
	if err := d.Send(c.Server().Addr(), "/nsm/gui/gui_announce"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	ctlPump(t, c, d, got, "/nsm/server/list")
	if !c.Active() {
		t.Fatalf("controller not active after ack")
	}

	for _, name := range []string{"alpha", "beta", "alpha", ""} {
		if err := d.SendTag(c.Server().Addr(), osc.Reply, "/nsm/server/list", name); err != nil {
			t.Fatalf("list reply: %v", err)
		}
	}
	ctlSettle(t, c, func() bool { return len(c.SessionList()) == 2 })
	list := c.SessionList()
	if list[0] != "alpha" || list[1] != "beta" {
		t.Fatalf("session list %v", list)
	}
	if c.SessionListText() != "    alpha\n    beta\n" {
		t.Fatalf("list text %q", c.SessionListText())
	}
}

func TestControllerLegacyAnnounceIsBare(t *testing.T) {
	d, got := fakeDaemon(t)
	c := newTestController(t, d)
	c.Announce(true)
	m := ctlPump(t, c, d, got, "/nsm/gui/gui_announce")
	if len(m.Args) != 0 {
		t.Fatalf("legacy announce carries args: %v", m.Args)
	}
}

func TestControllerTracksClientLifecycle(t *testing.T) {
	d, _ := fakeDaemon(t)
	c := newTestController(t, d)
	ctl := c.Server().Addr()
	send := func(tag osc.Tag, args ...any) {
		t.Helper()
		if err := d.SendTag(ctl, tag, args...); err != nil {
			t.Fatalf("send %v: %v", tag, err)
		}
	}

	send(osc.GuiNew, "nAAAA", "synth")
	ctlSettle(t, c, func() bool { return c.ClientByID("nAAAA") != nil })
	cl := c.ClientByID("nAAAA")
	if cl.Name() != "synth" {
		t.Fatalf("client name %q", cl.Name())
	}
	if c.ClientByName("synth") != cl {
		t.Fatalf("lookup by name failed")
	}

	send(osc.GuiStatus, "nAAAA", "ready")
	send(osc.GuiLabel, "nAAAA", "lead")
	send(osc.GuiDirty, "nAAAA", 1)
	send(osc.GuiVisible, "nAAAA", 1)
	send(osc.GuiProgress, "nAAAA", float32(0.25))
	ctlSettle(t, c, func() bool { return cl.Progress() == 0.25 })
	if cl.PendingCommand() != "ready" || cl.Label() != "lead" || !cl.Dirty() || !cl.Visible() {
		t.Fatalf("client state %s dirty=%v visible=%v", cl.Info(), cl.Dirty(), cl.Visible())
	}

	send(osc.GuiStatus, "nAAAA", "stopped")
	ctlSettle(t, c, func() bool { return cl.Stopped() })

	// A session switch re-keys the client under its new ID.
	send(osc.GuiSwitch, "nAAAA", "nBBBB")
	ctlSettle(t, c, func() bool { return c.ClientByID("nBBBB") != nil })
	if c.ClientByID("nAAAA") != nil || c.ClientByID("nBBBB") != cl || cl.ID() != "nBBBB" {
		t.Fatalf("switch did not re-key client")
	}

	send(osc.GuiStatus, "nBBBB", "removed")
	ctlSettle(t, c, func() bool { return c.ClientByID("nBBBB") == nil })
}

func TestControllerSessionName(t *testing.T) {
	d, _ := fakeDaemon(t)
	c := newTestController(t, d)
	if err := d.SendTag(c.Server().Addr(), osc.GuiSessionName, "mysess", "/root/mysess"); err != nil {
		t.Fatalf("send: %v", err)
	}
	ctlSettle(t, c, func() bool { return c.SessionName() == "mysess" })
	if err := d.SendTag(c.Server().Addr(), osc.GuiSessionName, "", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	ctlSettle(t, c, func() bool { return c.SessionName() == "None" })
}

func TestServerCommandFanOut(t *testing.T) {
	d1, got1 := fakeDaemon(t)
	d2, got2 := fakeDaemon(t)
	c := newTestController(t, d1, d2)

	if !c.SendServerCommand(osc.SrvSave, "") {
		t.Fatalf("save refused")
	}
	ctlPump(t, c, d1, got1, "/nsm/server/save")
	ctlPump(t, c, d2, got2, "/nsm/server/save")

	// open needs a session name.
	if c.SendServerCommand(osc.SrvOpen, "") {
		t.Fatalf("open without a session accepted")
	}
	if !c.SendServerCommand(osc.SrvOpen, "mysess") {
		t.Fatalf("open refused")
	}
	m := ctlPump(t, c, d1, got1, "/nsm/server/open")
	if m.Str(0) != "mysess" {
		t.Fatalf("open arg %v", m.Args)
	}
	ctlPump(t, c, d2, got2, "/nsm/server/open")
}

func TestAddTargetsFirstDaemonOnly(t *testing.T) {
	d1, got1 := fakeDaemon(t)
	d2, got2 := fakeDaemon(t)
	c := newTestController(t, d1, d2)
	if !c.SendServerCommand(osc.SrvAdd, "zynaddsubfx") {
		t.Fatalf("add refused")
	}
	m := ctlPump(t, c, d1, got1, "/nsm/server/add")
	if m.Str(0) != "zynaddsubfx" {
		t.Fatalf("add arg %v", m.Args)
	}
	d2.Wait(100 * time.Millisecond)
	select {
	case m := <-got2:
		t.Fatalf("second daemon received %s", m.Path)
	default:
	}
}

func TestClientCommandPromotesDirtyToSave(t *testing.T) {
	d, got := fakeDaemon(t)
	c := newTestController(t, d)
	if !c.SendClientCommand(osc.GuiDirty, "nAAAA") {
		t.Fatalf("dirty refused")
	}
	m := ctlPump(t, c, d, got, "/nsm/gui/client/save")
	if m.Str(0) != "nAAAA" {
		t.Fatalf("save arg %v", m.Args)
	}
	if c.SendClientCommand(osc.SrvSave, "nAAAA") {
		t.Fatalf("server tag accepted as client command")
	}
}

func TestBroadcastRelaySkipsSource(t *testing.T) {
	d1, got1 := fakeDaemon(t)
	d2, got2 := fakeDaemon(t)
	c := newTestController(t, d1, d2)
	if err := d1.Send(c.Server().Addr(), "/nsm/server/broadcast", "/tempo", float32(120)); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	m := ctlPump(t, c, d2, got2, "/nsm/server/broadcast")
	if m.Str(0) != "/tempo" || m.Float(1) != 120 {
		t.Fatalf("relayed %v", m.Args)
	}
	d1.Wait(100 * time.Millisecond)
	select {
	case m := <-got1:
		t.Fatalf("broadcast echoed to source: %s", m.Path)
	default:
	}
}

func TestPingWatchdog(t *testing.T) {
	d, err := transport.New(transport.KindUDP, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("daemon bind: %v", err)
	}
	t.Cleanup(d.Stop)
	d.AddMethod("/osc/ping", "", func(m osc.Message, from transport.Addr) transport.Result {
		_ = d.SendTag(from, osc.Reply, "/osc/ping", "pong")
		return transport.Handled
	})
	go func() {
		for i := 0; i < 200; i++ {
			d.Wait(10 * time.Millisecond)
		}
	}()
	c := newTestController(t, d)
	c.PingCount = 1
	if !c.Ping() {
		t.Fatalf("responsive daemon reported dead")
	}

	// No daemons registered at all is an immediate failure.
	lone, err := NewController(transport.KindUDP, "127.0.0.1:0", "x", "x")
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	defer lone.Stop()
	if lone.Ping() {
		t.Fatalf("ping with no daemons succeeded")
	}
}

func TestQuitRefusedWhileChildrenRun(t *testing.T) {
	d, got := fakeDaemon(t)
	c, err := NewController(transport.KindUDP, "127.0.0.1:0", "testctl", "/usr/bin/testctl")
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(c.Stop)
	if err := c.AddDaemon(d.URL(), true); err != nil {
		t.Fatalf("add daemon: %v", err)
	}

	// A running child blocks quit even with no session open.
	c.Quit()
	for i := 0; i < 5; i++ {
		c.Wait(10 * time.Millisecond)
		d.Wait(10 * time.Millisecond)
	}
	select {
	case m := <-got:
		if m.Path == "/nsm/server/quit" {
			t.Fatalf("quit reached a daemon with a live child")
		}
		got <- m
	default:
	}

	// A detached daemon is told to quit right away.
	free, freeGot := fakeDaemon(t)
	lone := newTestController(t, free)
	lone.Quit()
	ctlPump(t, lone, free, freeGot, "/nsm/server/quit")
}
