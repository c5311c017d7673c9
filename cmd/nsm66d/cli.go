package main

import "flag"

// Options holds CLI options for the daemon.
type Options struct {
	ConfigPath  string
	SessionName string
	PeerURLs    multiFlag
}

type multiFlag []string

func (m *multiFlag) String() string { return "" }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("nsm66d", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.SessionName, "session", "", "Session name recorded in the lock file")
	fs.Var(&opts.PeerURLs, "peer", "Peer endpoint URL to greet at startup (repeatable)")
	_ = fs.Parse(args)
	return opts
}
