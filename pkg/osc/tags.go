package osc

// Tag identifies one protocol message in the closed registry below.
// The set covers the session-manager surface (server, client, gui,
// proxy and signal messages) plus the odd legacy paths still spoken
// by older peers.
type Tag int

const (
	Announce Tag = iota
	CliClean
	CliDirty
	CliHide
	CliLabel
	CliLoaded
	CliMessage
	CliOpen
	CliProgress
	CliSave
	CliShow
	CtlAnnounce
	Error
	Generic
	GuiAnnounce
	GuiAnnounceLegacy
	GuiDirty
	GuiHidden
	GuiHide
	GuiLabel
	GuiMessage
	GuiNew
	GuiOption
	GuiProgress
	GuiRemove
	GuiResume
	GuiSave
	GuiSession
	GuiSessionName
	GuiShow
	GuiShown
	GuiSrvAnnounce
	GuiStatus
	GuiStop
	GuiSwitch
	GuiVisible
	NonAddStrip
	NonHello
	Null
	OscPing
	OscReply
	ProxyArgs
	ProxyCfgFile
	ProxyError
	ProxyExe
	ProxyKill
	ProxyLabel
	ProxySave
	ProxyStart
	ProxyStop
	ProxyUpdate
	Reply
	ReplyEx
	SessionList
	SessionName
	SessionRoot
	SigConnect
	SigCreated
	SigDisconnect
	SigHello
	SigList
	SigRemoved
	SigRenamed
	SigReply
	SrvAbort
	SrvAdd
	SrvAnnounce
	SrvBroadcast
	SrvClose
	SrvDuplicate
	SrvList
	SrvMessage
	SrvNew
	SrvOpen
	SrvQuit
	SrvReply
	SrvSave
	StripByNumber
	Illegal
)

// Nil marks a null/wildcard typespec in the registry: the message is
// sent with no typespec at all, and a method registered with Nil
// matches any incoming typespec.
const Nil = "-"

// Wildcard, passed as the typespec to ReverseLookup, matches on the
// address pattern alone. Useful for reply and error messages, whose
// typespec varies.
const Wildcard = "?"

type entry struct {
	tag   Tag
	path  string
	types string
}

// registry holds every protocol message in declaration order. Several
// address patterns appear more than once with different typespecs;
// reverse lookup takes the first match, so order is load-bearing here.
//
// The gui_announce triple is a historical mess: the reference daemon
// sends "/nsm/gui/gui_announce" with no arguments but registers a
// handler for "", while the legacy gui registers the same path
// with "s".
var registry = []entry{
	{Announce, "/nsm/gui/gui_announce", ""},
	{CliClean, "/nsm/client/is_clean", ""},
	{CliDirty, "/nsm/client/is_dirty", ""},
	{CliHide, "/nsm/client/hide_optional_gui", ""},
	{CliLabel, "/nsm/client/label", "s"},
	{CliLoaded, "/nsm/client/session_is_loaded", ""},
	{CliMessage, "/nsm/client/message", "is"},
	{CliOpen, "/nsm/client/open", "sss"},
	{CliProgress, "/nsm/client/progress", "f"},
	{CliSave, "/nsm/client/save", ""},
	{CliShow, "/nsm/client/show_optional_gui", ""},
	{CtlAnnounce, "/nsm/gui/server/announce", "s"},
	{Error, "/error", "sis"},
	{Generic, Nil, Nil},
	{GuiAnnounce, "/nsm/gui/gui_announce", ""},
	{GuiAnnounceLegacy, "/nsm/gui/gui_announce", "s"},
	{GuiDirty, "/nsm/gui/client/dirty", "si"},
	{GuiHidden, "/nsm/client/gui_is_hidden", ""},
	{GuiHide, "/nsm/gui/client/hide_optional_gui", "s"},
	{GuiLabel, "/nsm/gui/client/label", "ss"},
	{GuiMessage, "/nsm/gui/client/message", "s"},
	{GuiNew, "/nsm/gui/client/new", "ss"},
	{GuiOption, "/nsm/gui/client/has_optional_gui", "s"},
	{GuiProgress, "/nsm/gui/client/progress", "sf"},
	{GuiRemove, "/nsm/gui/client/remove", "s"},
	{GuiResume, "/nsm/gui/client/resume", "s"},
	{GuiSave, "/nsm/gui/client/save", "s"},
	{GuiSession, "/nsm/gui/session/session", "s"},
	{GuiSessionName, "/nsm/gui/session/name", "ss"},
	{GuiShow, "/nsm/gui/client/show_optional_gui", "s"},
	{GuiShown, "/nsm/client/gui_is_shown", ""},
	{GuiSrvAnnounce, "/nsm/gui/server_announce", "s"},
	{GuiStatus, "/nsm/gui/client/status", "ss"},
	{GuiStop, "/nsm/gui/client/stop", "s"},
	{GuiSwitch, "/nsm/gui/client/switch", "ss"},
	{GuiVisible, "/nsm/gui/client/gui_visible", "si"},
	{NonAddStrip, "/non/mixer/add_strip", ""},
	{NonHello, "/non/hello", "ssss"},
	{Null, Nil, Nil},
	{OscPing, "/osc/ping", ""},
	{OscReply, "", ""},
	{ProxyArgs, "/nsm/proxy/arguments", "s"},
	{ProxyCfgFile, "/nsm/proxy/config_file", "s"},
	{ProxyError, "/nsm/proxy/client_error", "s"},
	{ProxyExe, "/nsm/proxy/executable", "s"},
	{ProxyKill, "/nsm/proxy/kill", ""},
	{ProxyLabel, "/nsm/proxy/label", "s"},
	{ProxySave, "/nsm/proxy/save_signal", "i"},
	{ProxyStart, "/nsm/proxy/start", "sss"},
	{ProxyStop, "/nsm/proxy/stop_signal", "i"},
	{ProxyUpdate, "/nsm/proxy/update", ""},
	{Reply, "/reply", "ss"},
	{ReplyEx, "/reply", "ssss"},
	{SessionList, "/nsm/session/list", "?"},
	{SessionName, "/nsm/session/name", "ss"},
	{SessionRoot, "/nsm/gui/session/root", "s"},
	{SigConnect, "/signal/connect", "ss"},
	{SigCreated, "/signal/created", "ssfff"},
	{SigDisconnect, "/signal/disconnect", "ss"},
	{SigHello, "/signal/hello", "ss"},
	{SigList, "/signal/list", Nil},
	{SigRemoved, "/signal/removed", "s"},
	{SigRenamed, "/signal/renamed", "ss"},
	{SigReply, "/reply", Nil},
	{SrvAbort, "/nsm/server/abort", ""},
	{SrvAdd, "/nsm/server/add", "s"},
	{SrvAnnounce, "/nsm/server/announce", "sssiii"},
	{SrvBroadcast, "/nsm/server/broadcast", Nil},
	{SrvClose, "/nsm/server/close", ""},
	{SrvDuplicate, "/nsm/server/duplicate", "s"},
	{SrvList, "/nsm/server/list", ""},
	{SrvMessage, "/nsm/gui/server/message", "s"},
	{SrvNew, "/nsm/server/new", "s"},
	{SrvOpen, "/nsm/server/open", "s"},
	{SrvQuit, "/nsm/server/quit", ""},
	{SrvReply, "/reply", "s"},
	{SrvSave, "/nsm/server/save", ""},
	{StripByNumber, "", ""},
}

var tagNames = map[Tag]string{
	Announce: "announce", CliClean: "cliclean", CliDirty: "clidirty",
	CliHide: "clihide", CliLabel: "clilabel", CliLoaded: "cliloaded",
	CliMessage: "climessage", CliOpen: "cliopen", CliProgress: "cliprogress",
	CliSave: "clisave", CliShow: "clishow", CtlAnnounce: "ctlannounce",
	Error: "error", Generic: "generic", GuiAnnounce: "guiannounce",
	GuiAnnounceLegacy: "gui_announce", GuiDirty: "guidirty",
	GuiHidden: "guihidden", GuiHide: "guihide", GuiLabel: "guilabel",
	GuiMessage: "guimessage", GuiNew: "guinew", GuiOption: "guioption",
	GuiProgress: "guiprogress", GuiRemove: "guiremove", GuiResume: "guiresume",
	GuiSave: "guisave", GuiSession: "guisession", GuiSessionName: "guisessionname",
	GuiShow: "guishow", GuiShown: "guishown", GuiSrvAnnounce: "guisrvannounce",
	GuiStatus: "guistatus", GuiStop: "guistop", GuiSwitch: "guiswitch",
	GuiVisible: "guivisible", NonAddStrip: "nonaddstrip", NonHello: "nonhello",
	Null: "null", OscPing: "oscping", OscReply: "oscreply",
	ProxyArgs: "proxyargs", ProxyCfgFile: "proxycfgfile", ProxyError: "proxyerror",
	ProxyExe: "proxyexe", ProxyKill: "proxykill", ProxyLabel: "proxylabel",
	ProxySave: "proxysave", ProxyStart: "proxystart", ProxyStop: "proxystop",
	ProxyUpdate: "proxyupdate", Reply: "reply", ReplyEx: "replyex",
	SessionList: "sessionlist", SessionName: "sessionname", SessionRoot: "sessionroot",
	SigConnect: "sigconnect", SigCreated: "sigcreated", SigDisconnect: "sigdisconnect",
	SigHello: "sighello", SigList: "siglist", SigRemoved: "sigremoved",
	SigRenamed: "sigrenamed", SigReply: "sigreply", SrvAbort: "srvabort",
	SrvAdd: "srvadd", SrvAnnounce: "srvannounce", SrvBroadcast: "srvbroadcast",
	SrvClose: "srvclose", SrvDuplicate: "srvduplicate", SrvList: "srvlist",
	SrvMessage: "srvmessage", SrvNew: "srvnew", SrvOpen: "srvopen",
	SrvQuit: "srvquit", SrvReply: "srvreply", SrvSave: "srvsave",
	StripByNumber: "stripbynumber", Illegal: "illegal",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return "illegal"
}

// Lookup resolves a tag to its address pattern and typespec.
func Lookup(t Tag) (path, types string, ok bool) {
	for _, e := range registry {
		if e.tag == t {
			return e.path, e.types, true
		}
	}
	return "", "", false
}

// PathOf returns the address pattern for t, or "" when t is not
// registered.
func PathOf(t Tag) string {
	p, _, ok := Lookup(t)
	if !ok {
		return ""
	}
	return p
}

// ReverseLookup resolves an address pattern and typespec back to a
// tag. Pass Wildcard as types to match on the pattern alone. Returns
// Illegal when nothing matches. Duplicated patterns resolve to the
// first registry entry, in declaration order.
func ReverseLookup(path, types string) Tag {
	for _, e := range registry {
		if e.path != path {
			continue
		}
		if types != Wildcard && e.types != types {
			continue
		}
		return e.tag
	}
	return Illegal
}

// Tags returns every registered tag in declaration order.
func Tags() []Tag {
	out := make([]Tag, len(registry))
	for i, e := range registry {
		out[i] = e.tag
	}
	return out
}
