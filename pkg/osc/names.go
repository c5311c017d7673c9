package osc

import (
	"fmt"
	"sort"
)

// nameInfo ties a user-facing command name to its tag and says whether
// the command is directed at a single client rather than the server.
type nameInfo struct {
	client bool
	tag    Tag
}

var commandNames = map[string]nameInfo{
	"guisave":   {true, GuiSave},
	"show":      {true, GuiShow},
	"hide":      {true, GuiHide},
	"remove":    {true, GuiRemove},
	"resume":    {true, GuiResume},
	"stop":      {true, GuiStop},
	"abort":     {false, SrvAbort},
	"close":     {false, SrvClose},
	"save":      {false, SrvSave},
	"open":      {false, SrvOpen},
	"duplicate": {false, SrvDuplicate},
	"quit":      {false, SrvQuit},
	"list":      {false, SrvList},
	"new":       {false, SrvNew},
	"add":       {false, SrvAdd},
}

// NameLookup maps a command name to its tag, Illegal when unknown.
func NameLookup(name string) Tag {
	if info, ok := commandNames[name]; ok {
		return info.tag
	}
	return Illegal
}

// NameIsClient reports whether the named command targets a client
// rather than the server. Unknown names report false.
func NameIsClient(name string) bool {
	info, ok := commandNames[name]
	return ok && info.client
}

// NameNeedsArgument reports whether the named command requires a
// trailing argument: client commands take a client ID, and the
// open/new/duplicate server commands take a session name.
func NameNeedsArgument(name string) bool {
	if NameIsClient(name) {
		return true
	}
	return name == "open" || name == "new" || name == "duplicate"
}

// NameActionList renders the command table for help output, one line
// per command, sorted by name.
func NameActionList() []string {
	names := make([]string, 0, len(commandNames))
	for n := range commandNames {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, n := range names {
		info := commandNames[n]
		kind := "server"
		if info.client {
			kind = "client"
		}
		out = append(out, fmt.Sprintf("%-10s [%s]  %s", n, kind, PathOf(info.tag)))
	}
	return out
}
