package nsm

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ahlstromcj/nsm66/pkg/osc"
	"github.com/ahlstromcj/nsm66/pkg/transport"
)

// Daemon is one session daemon the controller talks to.
type Daemon struct {
	URL     string
	Addr    transport.Addr
	IsChild bool
}

// CtlClient is the controller's view of one client in the open
// session.
type CtlClient struct {
	mu      sync.Mutex
	id      string
	name    string
	label   string
	pending string
	prog    float32
	dirty   bool
	visible bool
	stopped bool
}

// ID returns the daemon-assigned client ID.
func (c *CtlClient) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Name returns the client's application name.
func (c *CtlClient) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Label returns the user-assigned label.
func (c *CtlClient) Label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.label
}

// Progress returns the last reported progress fraction.
func (c *CtlClient) Progress() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prog
}

// Dirty reports unsaved changes.
func (c *CtlClient) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Visible reports optional-GUI visibility.
func (c *CtlClient) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// Stopped reports whether the client process is down.
func (c *CtlClient) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// PendingCommand returns the daemon's last status word for the client.
func (c *CtlClient) PendingCommand() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *CtlClient) setPending(command string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = command
	switch command {
	case "stopped":
		c.stopped = true
	case "ready", "removed":
		c.stopped = false
	default:
		c.stopped = false
	}
}

// Info renders a one-line description for logs and listings.
func (c *CtlClient) Info() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	label := c.label
	if label == "" {
		label = "---"
	}
	return fmt.Sprintf("ID: %s; Name %s; Label %s", c.id, c.name, label)
}

// Controller drives one or more session daemons: it announces itself
// as a control surface, tracks the session and client state the
// daemons report, and fans commands out to them.
type Controller struct {
	srv      *transport.Server
	appName  string
	exeName  string
	caps     string

	mu       sync.Mutex
	daemons  []Daemon
	clients  map[string]*CtlClient
	session  string
	sessions []string
	lastPing time.Time

	// PingCount and PingTimeout govern the watchdog; Ping sends
	// PingCount rounds and fails after PingTimeout of silence.
	PingCount   int
	PingTimeout time.Duration
}

// NewController binds the controller server and registers the status
// methods daemons report through.
func NewController(kind transport.Kind, bind, appName, exeName string) (*Controller, error) {
	srv, err := transport.New(kind, bind)
	if err != nil {
		return nil, fmt.Errorf("nsm: controller: %w", err)
	}
	c := &Controller{
		srv:         srv,
		appName:     appName,
		exeName:     exeName,
		caps:        CapServerControl,
		clients:     make(map[string]*CtlClient),
		PingCount:   3,
		PingTimeout: 10 * time.Second,
	}
	srv.SetActive(false)
	for _, t := range []osc.Tag{
		osc.Error, osc.Reply, osc.ReplyEx, osc.SrvReply,
		osc.Announce, osc.GuiSrvAnnounce, osc.SrvMessage, osc.GuiAnnounceLegacy,
		osc.GuiSession, osc.GuiSessionName, osc.GuiNew, osc.GuiStatus,
		osc.GuiSwitch, osc.GuiProgress, osc.GuiDirty, osc.GuiOption,
		osc.GuiVisible, osc.GuiLabel, osc.SessionRoot,
	} {
		path, types, _ := osc.Lookup(t)
		c.srv.AddMethod(path, types, c.statusMethod)
	}
	path, types, _ := osc.Lookup(osc.SrvBroadcast)
	c.srv.AddMethod(path, types, c.broadcastMethod)
	return c, nil
}

// Server exposes the underlying transport server.
func (c *Controller) Server() *transport.Server { return c.srv }

// Active reports whether any daemon has acknowledged us.
func (c *Controller) Active() bool { return c.srv.Active() }

// SessionName returns the name of the open session, "" when none.
func (c *Controller) SessionName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SessionList returns the sessions the daemons have reported.
func (c *Controller) SessionList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sessions))
	copy(out, c.sessions)
	return out
}

// Clients returns the tracked clients keyed by ID.
func (c *Controller) Clients() map[string]*CtlClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*CtlClient, len(c.clients))
	for id, cl := range c.clients {
		out[id] = cl
	}
	return out
}

// Daemons returns the registered daemons.
func (c *Controller) Daemons() []Daemon {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Daemon, len(c.daemons))
	copy(out, c.daemons)
	return out
}

// AddDaemon registers a daemon by URL. isChild marks daemons this
// process launched.
func (c *Controller) AddDaemon(url string, isChild bool) error {
	addr, err := transport.ParseURL(url)
	if err != nil {
		return fmt.Errorf("nsm: daemon url: %w", err)
	}
	c.mu.Lock()
	c.daemons = append(c.daemons, Daemon{URL: url, Addr: addr, IsChild: isChild})
	c.mu.Unlock()
	return nil
}

// Run dispatches on a background goroutine.
func (c *Controller) Run() { c.srv.Run() }

// Check dispatches pending messages without blocking.
func (c *Controller) Check() { c.srv.Check() }

// Wait blocks up to timeout for messages and dispatches them.
func (c *Controller) Wait(timeout time.Duration) { c.srv.Wait(timeout) }

// Stop shuts the controller server down.
func (c *Controller) Stop() { c.srv.Stop() }

// Announce introduces this controller to every registered daemon.
// Legacy mode sends the bare announce older daemons expect; otherwise
// the versioned form carries name, capabilities, executable, API
// version and pid.
func (c *Controller) Announce(legacy bool) {
	path := osc.PathOf(osc.GuiAnnounce)
	for _, d := range c.Daemons() {
		if legacy || c.appName == "" {
			_ = c.srv.Send(d.Addr, path)
		} else {
			_ = c.srv.Send(d.Addr, path,
				c.appName, c.caps, c.exeName,
				APIVersionMajor, APIVersionMinor, os.Getpid())
		}
	}
}

// SendServerCommand fans a server-directed command out to the
// daemons. open/new/duplicate require a session name in subject. The
// add command targets only the first daemon, since an executable can
// only be launched into one of them.
func (c *Controller) SendServerCommand(t osc.Tag, subject string) bool {
	path, _, ok := osc.Lookup(t)
	if !ok {
		return false
	}
	daemons := c.Daemons()
	switch t {
	case osc.SrvAbort, osc.SrvClose, osc.SrvSave, osc.SrvList:
		zap.L().Info("sending server command", zap.String("path", path))
		for _, d := range daemons {
			_ = c.srv.Send(d.Addr, path)
		}
		return true
	case osc.SrvOpen, osc.SrvDuplicate, osc.SrvNew:
		if subject == "" {
			return false
		}
		zap.L().Info("sending server command",
			zap.String("path", path), zap.String("session", subject))
		for _, d := range daemons {
			_ = c.srv.Send(d.Addr, path, subject)
		}
		return true
	case osc.SrvAdd:
		if len(daemons) == 0 {
			return false
		}
		zap.L().Info("sending add", zap.String("executable", subject))
		_ = c.srv.Send(daemons[0].Addr, path, subject)
		return true
	case osc.SrvQuit:
		c.Quit()
		return true
	}
	return false
}

// SendClientCommand sends a client-directed command, addressed by
// client ID, to every daemon. A dirty query is promoted to a save, as
// the protocol has no client-directed dirty message.
func (c *Controller) SendClientCommand(t osc.Tag, clientID string) bool {
	if t == osc.GuiDirty {
		t = osc.GuiSave
	}
	switch t {
	case osc.GuiSave, osc.GuiShow, osc.GuiHide, osc.GuiRemove, osc.GuiResume, osc.GuiStop:
	default:
		return false
	}
	path := osc.PathOf(t)
	zap.L().Info("sending client command",
		zap.String("path", path), zap.String("client", clientID))
	for _, d := range c.Daemons() {
		_ = c.srv.Send(d.Addr, path, clientID)
	}
	return true
}

// ClientByID returns the tracked client with the given ID.
func (c *Controller) ClientByID(id string) *CtlClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients[id]
}

// ClientByName returns the first tracked client with the given name.
func (c *Controller) ClientByName(name string) *CtlClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cl := range c.clients {
		if cl.name == name {
			return cl
		}
	}
	return nil
}

// Quit tells every daemon to quit. It refuses while any child daemon
// is still running; the session warning fires only when one is open.
func (c *Controller) Quit() {
	children := 0
	for _, d := range c.Daemons() {
		if d.IsChild {
			children++
		}
	}
	if children > 0 {
		if c.SessionName() != "" {
			zap.L().Warn("close the session before quitting")
		}
		return
	}
	path := osc.PathOf(osc.SrvQuit)
	zap.L().Info("telling daemons to quit")
	for _, d := range c.Daemons() {
		_ = c.srv.Send(d.Addr, path)
	}
}

// Ping sends PingCount rounds of /osc/ping to every daemon, waiting a
// second between rounds, and reports whether the daemons kept
// answering within PingTimeout.
func (c *Controller) Ping() bool {
	daemons := c.Daemons()
	if len(daemons) == 0 {
		return false
	}
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
	path := osc.PathOf(osc.OscPing)
	for i := 0; i < c.PingCount; i++ {
		for _, d := range daemons {
			_ = c.srv.Send(d.Addr, path)
		}
		c.mu.Lock()
		silent := time.Since(c.lastPing) > c.PingTimeout
		c.mu.Unlock()
		if silent {
			zap.L().Error("server not responding")
			return false
		}
		c.srv.Wait(time.Second)
	}
	return true
}

func (c *Controller) addSessionToList(name string) {
	if name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		if s == name {
			return
		}
	}
	c.sessions = append(c.sessions, name)
}

func (c *Controller) clientNew(id, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[id]; ok {
		cl.mu.Lock()
		cl.name = name
		cl.mu.Unlock()
		return
	}
	zap.L().Info("new client", zap.String("id", id), zap.String("name", name))
	c.clients[id] = &CtlClient{id: id, name: name}
}

func (c *Controller) clientQuit(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[id]; ok {
		zap.L().Info("client removed", zap.String("client", cl.Info()))
		delete(c.clients, id)
	}
}

// statusMethod is the single handler behind every daemon status path;
// it re-derives the tag from path and typespec and updates state.
func (c *Controller) statusMethod(m osc.Message, from transport.Addr) transport.Result {
	t := osc.ReverseLookup(m.Path, m.Types)
	s0 := ""
	s1 := ""
	if len(m.Args) > 0 {
		s0 = m.Str(0)
	}
	if len(m.Args) > 1 {
		s1 = m.Str(1)
	}
	switch t {
	case osc.SrvMessage:
		zap.L().Info("server message", zap.String("message", s0))
	case osc.GuiSession:
		c.addSessionToList(s0)
	case osc.Announce, osc.GuiAnnounce, osc.GuiAnnounceLegacy:
		// A pre-existing daemon is replying to our announce.
		c.srv.SetActive(true)
		_ = c.srv.Send(from, osc.PathOf(osc.SrvList))
	case osc.GuiSrvAnnounce:
		// A daemon we launched is announcing itself.
		zap.L().Info("daemon announced", zap.String("from", from.URL()))
		c.srv.SetActive(true)
		c.mu.Lock()
		c.daemons = append(c.daemons, Daemon{URL: from.URL(), Addr: from, IsChild: true})
		c.mu.Unlock()
		_ = c.srv.Send(from, osc.PathOf(osc.SrvList))
	case osc.GuiSessionName, osc.SessionName:
		name := s0
		if name == "" {
			zap.L().Warn("daemon reported empty session name")
			name = "None"
		}
		c.mu.Lock()
		c.session = name
		c.mu.Unlock()
	case osc.Error:
		code := Errno(m.Int(1))
		if code != OK {
			zap.L().Error("command failed",
				zap.String("for", s0), zap.Int32("code", int32(code)),
				zap.String("message", m.Str(2)))
			if s0 == osc.PathOf(osc.SrvAnnounce) {
				c.srv.SetActive(false)
			}
		}
	case osc.ReplyEx:
		if s0 == osc.PathOf(osc.SrvAnnounce) {
			zap.L().Info("daemon hello",
				zap.String("message", s1), zap.String("manager", m.Str(2)),
				zap.String("capabilities", m.Str(3)))
			c.srv.SetActive(true)
		}
	case osc.Reply:
		switch s0 {
		case osc.PathOf(osc.SrvList):
			c.addSessionToList(s1)
		case osc.PathOf(osc.OscPing):
			c.pingResponse()
		default:
			zap.L().Info("reply", zap.String("for", s0), zap.String("message", s1))
		}
	case osc.SrvReply:
		if s0 == osc.PathOf(osc.OscPing) {
			c.pingResponse()
		}
	}
	if strings.HasPrefix(m.Path, "/nsm/gui/client/") {
		c.clientStatus(t, m, s0, s1)
	}
	return transport.Handled
}

func (c *Controller) clientStatus(t osc.Tag, m osc.Message, s0, s1 string) {
	if t == osc.GuiNew {
		c.clientNew(s0, s1)
		return
	}
	cl := c.ClientByID(s0)
	if cl == nil {
		zap.L().Info("status for unknown client",
			zap.String("path", m.Path), zap.String("id", s0))
		return
	}
	switch t {
	case osc.GuiStatus:
		if s1 == "removed" {
			c.clientQuit(s0)
		} else {
			cl.setPending(s1)
		}
	case osc.GuiProgress:
		cl.mu.Lock()
		cl.prog = m.Float(1)
		cl.mu.Unlock()
	case osc.GuiDirty:
		cl.mu.Lock()
		cl.dirty = m.Int(1) != 0
		cl.mu.Unlock()
	case osc.GuiVisible:
		cl.mu.Lock()
		cl.visible = m.Int(1) != 0
		cl.mu.Unlock()
	case osc.GuiLabel:
		cl.mu.Lock()
		cl.label = s1
		cl.mu.Unlock()
	case osc.GuiSwitch:
		c.mu.Lock()
		delete(c.clients, s0)
		cl.mu.Lock()
		cl.id = s1
		cl.mu.Unlock()
		c.clients[s1] = cl
		c.mu.Unlock()
	case osc.GuiOption:
		zap.L().Debug("client has optional gui", zap.String("id", s0))
	}
}

func (c *Controller) pingResponse() {
	c.mu.Lock()
	delta := time.Since(c.lastPing)
	c.lastPing = time.Now()
	c.mu.Unlock()
	zap.L().Info("ping response", zap.Duration("after", delta))
}

// broadcastMethod relays a broadcast to every daemon except the one
// that sent it.
func (c *Controller) broadcastMethod(m osc.Message, from transport.Addr) transport.Result {
	zap.L().Info("relaying broadcast", zap.String("path", m.Path))
	for _, d := range c.Daemons() {
		if d.Addr.Matches(from) {
			continue
		}
		_ = c.srv.SendMessage(d.Addr, m)
	}
	return transport.Handled
}

// SessionListText renders the session list for terminal output.
func (c *Controller) SessionListText() string {
	var sb strings.Builder
	for _, s := range c.SessionList() {
		sb.WriteString("    ")
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	return sb.String()
}
