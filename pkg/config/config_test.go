package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	c := Default()
	if c.Server.Proto != "udp" || c.Server.Bind != "127.0.0.1:0" {
		t.Fatalf("server defaults %+v", c.Server)
	}
	if c.ClientIDFormat != "n----" || c.Ping.Count != 3 || c.Ping.TimeoutSec != 10 {
		t.Fatalf("defaults %+v", c)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nsm66.yaml")
	data := `
app_name: mydaemon
server:
  proto: tcp
  bind: 127.0.0.1:9000
log:
  level: debug
ping:
  count: 5
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.AppName != "mydaemon" || c.Server.Proto != "tcp" || c.Server.Bind != "127.0.0.1:9000" {
		t.Fatalf("loaded %+v", c)
	}
	if c.Log.Level != "debug" || c.Ping.Count != 5 {
		t.Fatalf("loaded %+v", c)
	}
	// Unset fields keep their defaults.
	if c.Ping.TimeoutSec != 10 || c.ClientIDFormat != "n----" {
		t.Fatalf("defaults lost: %+v", c)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nsm66.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("bad log level accepted")
	}
	if err := os.WriteFile(path, []byte("server:\n  proto: carrier-pigeon\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("bad proto accepted")
	}
}
