// Package session holds the small pieces of session bookkeeping shared
// by the daemon and the control tools: the client lines of a session
// file, lock files under the XDG runtime directory, and client-ID
// generation.
package session

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Triplet is one client line of a session file, e.g.
// "JACKPatch:jackpatch:nLWNW".
type Triplet struct {
	Name string
	Exe  string
	ID   string
}

// ParseTriplet splits a "name:exe:id" session line.
func ParseTriplet(line string) (Triplet, error) {
	parts := strings.Split(line, ":")
	if len(parts) != 3 {
		return Triplet{}, fmt.Errorf("session: malformed client line %q", line)
	}
	return Triplet{Name: parts[0], Exe: parts[1], ID: parts[2]}, nil
}

// String renders the session-file form, "" when any field is empty.
func (t Triplet) String() string {
	if t.Name == "" || t.Exe == "" || t.ID == "" {
		return ""
	}
	return t.Name + ":" + t.Exe + ":" + t.ID
}

// ParseSessionLines reads client triplets line by line. Blank and
// malformed lines are skipped.
func ParseSessionLines(r io.Reader) ([]Triplet, error) {
	var out []Triplet
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		t, err := ParseTriplet(line)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("session: read lines: %w", err)
	}
	return out, nil
}

// WriteSessionLines renders triplets back to session-file form,
// skipping incomplete entries.
func WriteSessionLines(w io.Writer, triplets []Triplet) error {
	for _, t := range triplets {
		s := t.String()
		if s == "" {
			continue
		}
		if _, err := io.WriteString(w, s+"\n"); err != nil {
			return fmt.Errorf("session: write lines: %w", err)
		}
	}
	return nil
}
