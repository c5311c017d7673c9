package session

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// IDGenerator issues client IDs from a format string, remembering what
// it has issued so two clients in one session never share an ID.
// Loaded sessions should Reserve their existing IDs before generating
// new ones.
type IDGenerator struct {
	mu   sync.Mutex
	rnd  *rand.Rand
	used map[string]bool
}

// NewIDGenerator seeds a generator. A zero seed uses the clock.
func NewIDGenerator(seed int64) *IDGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &IDGenerator{
		rnd:  rand.New(rand.NewSource(seed)),
		used: make(map[string]bool),
	}
}

// Reserve marks an ID, typically loaded from a session file, as taken.
func (g *IDGenerator) Reserve(id string) {
	g.mu.Lock()
	g.used[id] = true
	g.mu.Unlock()
}

// Generate fills every '-' in the format with a random upper-case
// letter, e.g. "n----" gives "nABCD". The result is unique among the
// IDs this generator has issued or reserved. A format without hyphens
// yields "". With all 26^n combinations in use this would spin
// forever; that limit is left unhandled.
func (g *IDGenerator) Generate(format string) string {
	if !strings.Contains(format, "-") {
		return ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		var sb strings.Builder
		for _, c := range format {
			if c == '-' {
				sb.WriteByte(byte('A' + g.rnd.Intn(26)))
			} else {
				sb.WriteRune(c)
			}
		}
		id := sb.String()
		if !g.used[id] {
			g.used[id] = true
			return id
		}
	}
}
