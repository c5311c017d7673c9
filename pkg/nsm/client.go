package nsm

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ahlstromcj/nsm66/pkg/osc"
	"github.com/ahlstromcj/nsm66/pkg/transport"
)

// Handler receives the session-manager callbacks a client must honor.
// Open and Save report failure by returning an error; the client turns
// that into the matching wire reply.
type Handler interface {
	Open(pathName, displayName, clientID string) error
	Save() error
	Loaded()
	Label(label string)
	Show()
	Hide()
	Broadcast(msg osc.Message, from transport.Addr)
}

// Client registers an application with a session daemon and relays the
// daemon's commands to a Handler. A client is inactive until the
// daemon acknowledges its announce; /error on the announce path keeps
// it inactive.
type Client struct {
	srv     *transport.Server
	handler Handler

	appName string
	exeName string
	caps    string

	mu           sync.Mutex
	daemonAddr   transport.Addr
	manager      string
	managerCaps  string
	pathName     string
	displayName  string
	clientID     string
	dirty        bool
	dirtyCount   int
	hidden       bool
	announceErr  Errno
	announceDone bool
}

// NewClient binds a client server and wires the daemon's command
// methods. nsmURL is the daemon address, normally taken from the
// NSM_URL environment variable.
func NewClient(nsmURL, appName, exeName, caps string, h Handler) (*Client, error) {
	addr, err := transport.ParseURL(nsmURL)
	if err != nil {
		return nil, fmt.Errorf("nsm: daemon url: %w", err)
	}
	srv, err := transport.New(addr.Kind, "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("nsm: %w", err)
	}
	c := &Client{
		srv:        srv,
		handler:    h,
		appName:    appName,
		exeName:    exeName,
		caps:       caps,
		daemonAddr: addr,
	}
	srv.SetActive(false)
	srv.InstallDefaults()
	srv.OnError(c.onError)
	srv.OnReply(c.onReply)
	c.addTagMethod(osc.CliOpen, c.openMethod)
	c.addTagMethod(osc.CliSave, c.saveMethod)
	c.addTagMethod(osc.CliLoaded, c.loadedMethod)
	c.addTagMethod(osc.CliLabel, c.labelMethod)
	c.addTagMethod(osc.CliShow, c.showMethod)
	c.addTagMethod(osc.CliHide, c.hideMethod)
	c.addTagMethod(osc.SrvBroadcast, c.broadcastMethod)
	return c, nil
}

func (c *Client) addTagMethod(t osc.Tag, fn transport.Handler) {
	path, types, _ := osc.Lookup(t)
	c.srv.AddMethod(path, types, fn)
}

// Server exposes the underlying transport server.
func (c *Client) Server() *transport.Server { return c.srv }

// Active reports whether the daemon has accepted our announce.
func (c *Client) Active() bool { return c.srv.Active() }

// Manager returns the daemon's announced name, once active.
func (c *Client) Manager() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manager
}

// ManagerCapabilities returns the daemon's capability string.
func (c *Client) ManagerCapabilities() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.managerCaps
}

// ClientID returns the ID assigned by the last open.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// PathName returns the project path assigned by the last open.
func (c *Client) PathName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pathName
}

// DisplayName returns the display name assigned by the last open.
func (c *Client) DisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayName
}

// AnnounceError returns the code from a rejected announce, OK
// otherwise.
func (c *Client) AnnounceError() Errno {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.announceErr
}

// Hidden reports the optional-GUI visibility the daemon last set.
func (c *Client) Hidden() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hidden
}

// Announce registers with the daemon: application name, capabilities,
// executable, API version and pid.
func (c *Client) Announce(pid int) error {
	zap.L().Info("announcing to session manager",
		zap.String("app", c.appName), zap.String("url", c.daemonAddr.URL()))
	return c.srv.SendTag(c.daemonAddr, osc.SrvAnnounce,
		c.appName, c.caps, c.exeName, APIVersionMajor, APIVersionMinor, pid)
}

// Check dispatches pending daemon messages without blocking.
func (c *Client) Check() { c.srv.Check() }

// Run dispatches daemon messages on a background goroutine.
func (c *Client) Run() { c.srv.Run() }

// Stop shuts the client server down.
func (c *Client) Stop() { c.srv.Stop() }

func (c *Client) onError(path string, code int32, message string) {
	if path == osc.PathOf(osc.SrvAnnounce) {
		zap.L().Error("session manager rejected announce",
			zap.Int32("code", code), zap.String("message", message))
		c.mu.Lock()
		c.announceErr = Errno(code)
		c.announceDone = true
		c.mu.Unlock()
	}
}

func (c *Client) onReply(from transport.Addr, args []string) {
	if len(args) == 4 && args[0] == osc.PathOf(osc.SrvAnnounce) {
		c.mu.Lock()
		c.manager = args[2]
		c.managerCaps = args[3]
		c.announceErr = OK
		c.announceDone = true
		c.mu.Unlock()
		zap.L().Info("session manager accepted announce",
			zap.String("manager", args[2]), zap.String("message", args[1]),
			zap.String("capabilities", args[3]))
	}
}

func (c *Client) openMethod(m osc.Message, from transport.Addr) transport.Result {
	pathName, displayName, clientID := m.Str(0), m.Str(1), m.Str(2)
	zap.L().Info("open from session manager",
		zap.String("path", pathName), zap.String("display", displayName),
		zap.String("id", clientID))
	c.mu.Lock()
	c.pathName = pathName
	c.displayName = displayName
	c.clientID = clientID
	c.mu.Unlock()
	err := c.handler.Open(pathName, displayName, clientID)
	c.OpenReply(err == nil)
	return transport.Handled
}

func (c *Client) saveMethod(m osc.Message, from transport.Addr) transport.Result {
	err := c.handler.Save()
	c.SaveReply(err == nil)
	return transport.Handled
}

func (c *Client) loadedMethod(m osc.Message, from transport.Addr) transport.Result {
	c.handler.Loaded()
	return transport.Handled
}

func (c *Client) labelMethod(m osc.Message, from transport.Addr) transport.Result {
	c.handler.Label(m.Str(0))
	return transport.Handled
}

func (c *Client) showMethod(m osc.Message, from transport.Addr) transport.Result {
	c.handler.Show()
	c.SendVisibility(true)
	return transport.Handled
}

func (c *Client) hideMethod(m osc.Message, from transport.Addr) transport.Result {
	c.handler.Hide()
	c.SendVisibility(false)
	return transport.Handled
}

func (c *Client) broadcastMethod(m osc.Message, from transport.Addr) transport.Result {
	c.handler.Broadcast(m, from)
	return transport.Handled
}

// OpenReply acknowledges an open; success clears the dirty flag.
func (c *Client) OpenReply(ok bool) {
	c.reply(osc.CliOpen, ok, ErrGeneral, "No session loaded")
}

// SaveReply acknowledges a save; success clears the dirty flag.
func (c *Client) SaveReply(ok bool) {
	c.reply(osc.CliSave, ok, ErrSaveFailed, "Save failed")
}

func (c *Client) reply(t osc.Tag, ok bool, code Errno, failText string) {
	path := osc.PathOf(t)
	if ok {
		_ = c.srv.SendTag(c.daemonAddr, osc.Reply, path, "OK")
		c.mu.Lock()
		c.dirty = false
		c.mu.Unlock()
	} else {
		_ = c.srv.SendTag(c.daemonAddr, osc.Error, path, int(code), failText)
	}
}

// Dirty tells the daemon whether there are unsaved changes. Requires
// the ":dirty:" capability.
func (c *Client) Dirty(isDirty bool) {
	if !strings.Contains(c.caps, CapDirty) {
		return
	}
	c.mu.Lock()
	c.dirty = isDirty
	c.dirtyCount++
	c.mu.Unlock()
	t := osc.CliClean
	if isDirty {
		t = osc.CliDirty
	}
	_ = c.srv.SendTag(c.daemonAddr, t)
}

// Progress reports completion of a long operation. Requires the
// ":progress:" capability.
func (c *Client) Progress(fraction float32) {
	if !strings.Contains(c.caps, CapProgress) {
		return
	}
	_ = c.srv.SendTag(c.daemonAddr, osc.CliProgress, fraction)
}

// Message sends a status line with a priority. Requires the
// ":message:" capability.
func (c *Client) Message(priority int, text string) {
	if !strings.Contains(c.caps, CapMessage) {
		return
	}
	_ = c.srv.SendTag(c.daemonAddr, osc.CliMessage, priority, text)
}

// SendVisibility tells the daemon whether the optional GUI is shown.
func (c *Client) SendVisibility(shown bool) {
	c.mu.Lock()
	c.hidden = !shown
	c.mu.Unlock()
	t := osc.GuiHidden
	if shown {
		t = osc.GuiShown
	}
	_ = c.srv.SendTag(c.daemonAddr, t)
}

// Broadcast fans a message out through the daemon to every other
// client.
func (c *Client) Broadcast(path string, args ...any) error {
	all := append([]any{path}, args...)
	return c.srv.Send(c.daemonAddr, osc.PathOf(osc.SrvBroadcast), all...)
}
