package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseSessionLines(t *testing.T) {
	input := strings.NewReader(
		"Data-Storage:nsm-data:nQPEJ\n" +
			"JACKPatch:jackpatch:nLWNW\n" +
			"\n" +
			"garbage line\n" +
			"seq66:qseq66:nPSLM\n")
	got, err := ParseSessionLines(input)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []Triplet{
		{"Data-Storage", "nsm-data", "nQPEJ"},
		{"JACKPatch", "jackpatch", "nLWNW"},
		{"seq66", "qseq66", "nPSLM"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d triplets, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("triplet %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestTripletString(t *testing.T) {
	tr := Triplet{"qsynth", "qsynth", "nLMTD"}
	if tr.String() != "qsynth:qsynth:nLMTD" {
		t.Fatalf("string %q", tr.String())
	}
	if (Triplet{Name: "x", Exe: "y"}).String() != "" {
		t.Fatalf("incomplete triplet rendered")
	}
	if _, err := ParseTriplet("only:two"); err == nil {
		t.Fatalf("bad line accepted")
	}
}

func TestWriteSessionLines(t *testing.T) {
	var sb strings.Builder
	err := WriteSessionLines(&sb, []Triplet{
		{"a", "b", "c"},
		{Name: "incomplete"},
		{"d", "e", "f"},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if sb.String() != "a:b:c\nd:e:f\n" {
		t.Fatalf("output %q", sb.String())
	}
}

func TestLockFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	name := LockFileName(dir, "2025-01-26", "/home/u/.local/share/nsm/2025-01-26")
	if filepath.Dir(name) != dir || !strings.HasPrefix(filepath.Base(name), "2025-01-26") {
		t.Fatalf("lock name %q", name)
	}
	other := LockFileName(dir, "2025-01-26", "/elsewhere/nsm/2025-01-26")
	if other == name {
		t.Fatalf("same lock name for different session paths")
	}

	info := LockInfo{
		SessionPath: "/home/u/.local/share/nsm/2025-01-26",
		ServerURL:   "osc.udp://localhost:14143/",
		PID:         71322,
	}
	if err := WriteLockFile(name, info); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadLockFile(name)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != info {
		t.Fatalf("got %+v want %+v", got, info)
	}
	if err := DeleteLockFile(name); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(name); err == nil {
		t.Fatalf("lock file survived delete")
	}
}

func TestDaemonFileLookup(t *testing.T) {
	dir := t.TempDir()
	if url := LookupDaemonURL(dir); url != "" {
		t.Fatalf("url from empty dir: %q", url)
	}
	path, err := DaemonFile(dir, 12345)
	if err != nil {
		t.Fatalf("daemon file: %v", err)
	}
	if err := WriteDaemonFile(path, "osc.udp://localhost:16133/"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if url := LookupDaemonURL(dir); url != "osc.udp://localhost:16133/" {
		t.Fatalf("lookup %q", url)
	}
}

func TestIDGenerator(t *testing.T) {
	g := NewIDGenerator(1)
	if g.Generate("hello") != "" {
		t.Fatalf("hyphen-less format produced an ID")
	}
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := g.Generate("n----")
		if len(id) != 5 || id[0] != 'n' {
			t.Fatalf("bad id %q", id)
		}
		for _, c := range id[1:] {
			if c < 'A' || c > 'Z' {
				t.Fatalf("bad id char in %q", id)
			}
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
	id := g.Generate("[-------]")
	if len(id) != 9 || id[0] != '[' || id[8] != ']' {
		t.Fatalf("bad bracketed id %q", id)
	}
}

func TestIDGeneratorReserve(t *testing.T) {
	// Seeded identically, a second generator would reproduce the
	// first's IDs; reserving them forces fresh ones.
	a := NewIDGenerator(7)
	first := a.Generate("n----")
	b := NewIDGenerator(7)
	b.Reserve(first)
	if got := b.Generate("n----"); got == first {
		t.Fatalf("reserved id %q reissued", got)
	}
}
