package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Kind identifies the wire protocol a server or address uses.
type Kind int

const (
	KindUnknown Kind = iota
	KindUDP
	KindUnix
	KindTCP
)

func (k Kind) String() string {
	switch k {
	case KindUDP:
		return "udp"
	case KindUnix:
		return "unix"
	case KindTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// KindFromString parses a protocol name from config or URL scheme.
func KindFromString(s string) Kind {
	switch strings.ToLower(s) {
	case "udp":
		return KindUDP
	case "unix", "unixgram":
		return KindUnix
	case "tcp":
		return KindTCP
	default:
		return KindUnknown
	}
}

// Addr is the location of an OSC peer: host and port for udp/tcp, a
// socket path (in Host, Port zero) for unix.
type Addr struct {
	Kind Kind
	Host string
	Port int
}

// URL renders the address in liblo form, e.g. "osc.udp://host:port/".
func (a Addr) URL() string {
	if a.Kind == KindUnix {
		return "osc.unix://" + a.Host
	}
	return fmt.Sprintf("osc.%s://%s/", a.Kind, net.JoinHostPort(a.Host, strconv.Itoa(a.Port)))
}

func (a Addr) String() string { return a.URL() }

// Matches reports whether two addresses name the same peer. Port
// numbers alone decide for udp/tcp peers; hosts routinely disagree
// between the announced URL and the packet source, so they are not
// compared. Unix addresses compare by socket path.
func (a Addr) Matches(b Addr) bool {
	if a.Port != 0 || b.Port != 0 {
		return a.Port == b.Port
	}
	return a.Host == b.Host
}

// ParseURL parses "osc.udp://host:port/" or "osc.unix://path" URLs,
// tolerating a bare "host:port" with an assumed udp scheme.
func ParseURL(u string) (Addr, error) {
	var a Addr
	rest := u
	if i := strings.Index(u, "://"); i >= 0 {
		scheme := u[:i]
		rest = u[i+3:]
		scheme = strings.TrimPrefix(scheme, "osc.")
		a.Kind = KindFromString(scheme)
		if a.Kind == KindUnknown {
			return a, fmt.Errorf("transport: bad scheme in %q", u)
		}
	} else {
		a.Kind = KindUDP
	}
	if a.Kind == KindUnix {
		if rest == "" {
			return a, fmt.Errorf("transport: empty socket path in %q", u)
		}
		a.Host = rest
		return a, nil
	}
	rest = strings.TrimSuffix(rest, "/")
	host, port, err := net.SplitHostPort(rest)
	if err != nil {
		return a, fmt.Errorf("transport: bad host:port in %q: %w", u, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return a, fmt.Errorf("transport: bad port in %q", u)
	}
	a.Host = host
	a.Port = p
	return a, nil
}

// ExtractPort pulls the port number out of an OSC URL, 0 when absent.
func ExtractPort(u string) int {
	a, err := ParseURL(u)
	if err != nil {
		return 0
	}
	return a.Port
}

// netAddr converts an Addr to the net address used for writes.
func (a Addr) netAddr() (net.Addr, error) {
	switch a.Kind {
	case KindUDP:
		return net.ResolveUDPAddr("udp", net.JoinHostPort(a.Host, strconv.Itoa(a.Port)))
	case KindUnix:
		return &net.UnixAddr{Name: a.Host, Net: "unixgram"}, nil
	case KindTCP:
		return net.ResolveTCPAddr("tcp", net.JoinHostPort(a.Host, strconv.Itoa(a.Port)))
	}
	return nil, fmt.Errorf("transport: no net address for kind %v", a.Kind)
}

// addrFrom converts a packet source to an Addr.
func addrFrom(na net.Addr) Addr {
	switch v := na.(type) {
	case *net.UDPAddr:
		return Addr{Kind: KindUDP, Host: v.IP.String(), Port: v.Port}
	case *net.UnixAddr:
		return Addr{Kind: KindUnix, Host: v.Name}
	case *net.TCPAddr:
		return Addr{Kind: KindTCP, Host: v.IP.String(), Port: v.Port}
	}
	return Addr{}
}
