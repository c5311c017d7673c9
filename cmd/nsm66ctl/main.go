// nsm66ctl sends one command to running session daemons and prints
// what they report back.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ahlstromcj/nsm66/pkg/nsm"
	"github.com/ahlstromcj/nsm66/pkg/osc"
	"github.com/ahlstromcj/nsm66/pkg/session"
	"github.com/ahlstromcj/nsm66/pkg/transport"
)

type urlList []string

func (u *urlList) String() string { return "" }

func (u *urlList) Set(v string) error {
	*u = append(*u, v)
	return nil
}

func main() {
	var urls urlList
	flag.Var(&urls, "url", "daemon OSC URL (repeatable); discovered when omitted")
	listActions := flag.Bool("list-actions", false, "print the available commands and exit")
	ping := flag.Bool("ping", false, "check daemon liveness and exit")
	legacy := flag.Bool("legacy", false, "announce with the bare legacy message")
	wait := flag.Duration("wait", 3*time.Second, "how long to collect daemon replies")
	flag.Parse()

	// Command output belongs on stdout; keep the log channel quiet.
	zap.ReplaceGlobals(zap.NewNop())

	if *listActions {
		for _, line := range osc.NameActionList() {
			fmt.Println(line)
		}
		return
	}

	if len(urls) == 0 {
		lockDir, err := session.RuntimeLockDir()
		if err != nil {
			fatalf("no --url given and no lock directory: %v", err)
		}
		url := session.LookupDaemonURL(lockDir)
		if url == "" {
			fatalf("no --url given and no running daemon found")
		}
		urls = append(urls, url)
	}

	kind := transport.KindUDP
	if a, err := transport.ParseURL(urls[0]); err == nil {
		kind = a.Kind
	}
	ctl, err := nsm.NewController(kind, "127.0.0.1:0", "nsm66ctl", os.Args[0])
	if err != nil {
		fatalf("controller: %v", err)
	}
	defer ctl.Stop()
	for _, u := range urls {
		if err := ctl.AddDaemon(u, false); err != nil {
			fatalf("daemon %s: %v", u, err)
		}
	}

	if *ping {
		if ctl.Ping() {
			fmt.Println("daemons responding")
			return
		}
		fatalf("daemons not responding")
	}

	ctl.Announce(*legacy)
	settle(ctl, *wait, func() bool { return ctl.Active() })
	if !ctl.Active() {
		fatalf("no daemon acknowledged the announce")
	}

	args := flag.Args()
	if len(args) == 0 {
		// Just report session state.
		settle(ctl, *wait, nil)
		report(ctl)
		return
	}

	name := args[0]
	t := osc.NameLookup(name)
	if t == osc.Illegal {
		fatalf("unknown command %q; try --list-actions", name)
	}
	subject := ""
	if len(args) > 1 {
		subject = args[1]
	}
	if osc.NameNeedsArgument(name) && subject == "" {
		fatalf("command %q needs an argument", name)
	}

	ok := false
	if osc.NameIsClient(name) {
		clientID := subject
		if c := findClient(ctl, subject, *wait); c != nil {
			clientID = c.ID()
		}
		ok = ctl.SendClientCommand(t, clientID)
	} else {
		ok = ctl.SendServerCommand(t, subject)
	}
	if !ok {
		fatalf("command %q was refused", name)
	}
	settle(ctl, *wait, nil)
	report(ctl)
}

// settle pumps controller dispatch until cond holds or the window
// elapses; a nil cond just drains the window.
func settle(ctl *nsm.Controller, window time.Duration, cond func() bool) {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if cond != nil && cond() {
			return
		}
		ctl.Wait(50 * time.Millisecond)
	}
}

// findClient resolves a client by ID or by name once the daemons have
// had a chance to report their rosters.
func findClient(ctl *nsm.Controller, subject string, window time.Duration) *nsm.CtlClient {
	settle(ctl, window, func() bool {
		return ctl.ClientByID(subject) != nil || ctl.ClientByName(subject) != nil
	})
	if c := ctl.ClientByID(subject); c != nil {
		return c
	}
	return ctl.ClientByName(subject)
}

func report(ctl *nsm.Controller) {
	if name := ctl.SessionName(); name != "" {
		fmt.Println("Session:", name)
	}
	if text := ctl.SessionListText(); text != "" {
		fmt.Println("Sessions:")
		fmt.Print(text)
	}
	clients := ctl.Clients()
	if len(clients) > 0 {
		fmt.Println("Clients:")
		for _, c := range clients {
			fmt.Println("    " + c.Info())
		}
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
