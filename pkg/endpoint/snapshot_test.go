package endpoint

import (
	"path/filepath"
	"testing"

	"github.com/ahlstromcj/nsm66/pkg/transport"
)

func TestSnapshotRoundTrip(t *testing.T) {
	e := newEndpoint(t, "/e")
	e.AddSignal("/gain", Input, ParamLimits{Min: 0, Max: 1, Default: 0.5}, nil)
	e.AddTranslation("/fader1", "/e/gain")
	if _, err := e.AddPeer("/p", "osc.udp://127.0.0.1:39990/"); err != nil {
		t.Fatalf("add peer: %v", err)
	}

	path := filepath.Join(t.TempDir(), "state.cbor")
	if err := e.WriteSnapshot(path); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	st, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if st.Name != "/e" || len(st.Signals) != 1 || len(st.Peers) != 1 || len(st.Translations) != 1 {
		t.Fatalf("snapshot %+v", st)
	}
	if st.Signals[0].Path != "/e/gain" || st.Signals[0].Direction != "in" {
		t.Fatalf("signal row %+v", st.Signals[0])
	}
	if st.Translations[0].Source != "/fader1" || st.Translations[0].Dest != "/e/gain" {
		t.Fatalf("translation row %+v", st.Translations[0])
	}
	if st.Translations[0].Value != -1 {
		t.Fatalf("fresh translation value %v", st.Translations[0].Value)
	}
	if tp, _ := transport.ParseURL(st.Peers[0].URL); tp.Port != 39990 {
		t.Fatalf("peer row %+v", st.Peers[0])
	}
}
