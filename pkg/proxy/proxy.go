// Package proxy supervises a single non-NSM-aware program on behalf of
// a session: it launches the program through the shell, signals it to
// save or stop, and persists its launch configuration in the session
// directory.
package proxy

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// ConfigFileName is the file Dump writes under the session path.
const ConfigFileName = "nsm-proxy.config"

// Proxy wraps one proxied process. SaveSignal of zero means the
// program has no save hook; StopSignal defaults to SIGTERM.
type Proxy struct {
	Executable  string
	Arguments   string
	ConfigFile  string
	SaveSignal  syscall.Signal
	StopSignal  syscall.Signal
	Label       string
	ClientError string

	ClientID    string
	DisplayName string

	cmd *exec.Cmd
}

// New prepares a proxy for the given session client identity.
func New(clientID, displayName string) *Proxy {
	return &Proxy{
		StopSignal:  syscall.SIGTERM,
		ClientID:    clientID,
		DisplayName: displayName,
	}
}

// Running reports whether the proxied process is up.
func (p *Proxy) Running() bool { return p.cmd != nil && p.cmd.Process != nil }

// Pid returns the proxied process ID, 0 when not running.
func (p *Proxy) Pid() int {
	if !p.Running() {
		return 0
	}
	return p.cmd.Process.Pid
}

// Start launches the configured executable through the shell, with
// stdout and stderr redirected to error.log in the working directory.
// The client identity is exported in the child's environment; NSM_URL
// is stripped so the child does not try to register itself.
func (p *Proxy) Start() error {
	if p.Running() {
		return nil
	}
	if p.Executable == "" {
		return fmt.Errorf("proxy: no executable configured")
	}
	line := "exec " + p.Executable
	if p.Arguments != "" {
		line += " " + p.Arguments
	}
	line += " > error.log 2>&1"

	cmd := exec.Command("/bin/sh", "-c", line)
	env := make([]string, 0, len(os.Environ())+3)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "NSM_URL=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env,
		"ENV_NSM_CLIENT_ID="+p.ClientID,
		"ENV_NSM_SESSION_NAME="+p.DisplayName)
	if p.ConfigFile != "" {
		env = append(env, "ENV_NSM_CONFIG_FILE="+p.ConfigFile)
	}
	cmd.Env = env
	zap.L().Info("launching proxied process", zap.String("executable", p.Executable))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("proxy: start %s: %w", p.Executable, err)
	}
	p.cmd = cmd
	return nil
}

// Wait blocks until the proxied process exits. An abnormal exit is
// recorded in ClientError; the proxy itself keeps going so the session
// can revive or reconfigure the client.
func (p *Proxy) Wait() error {
	if !p.Running() {
		return nil
	}
	err := p.cmd.Wait()
	if err != nil {
		zap.L().Warn("proxied process died unexpectedly, not dying")
		p.ClientError = fmt.Sprintf(
			"The proxied process terminated abnormally during invocation: %v", err)
	}
	p.cmd = nil
	return err
}

// Save delivers the configured save signal, if any.
func (p *Proxy) Save() {
	if p.Running() && p.SaveSignal != 0 {
		zap.L().Info("sending process save signal")
		_ = p.cmd.Process.Signal(p.SaveSignal)
	}
}

// Kill delivers the configured stop signal.
func (p *Proxy) Kill() {
	if p.Running() {
		_ = p.cmd.Process.Signal(p.StopSignal)
	}
}

// Dump writes the launch configuration under path, one variable name
// per line with its value tab-indented on the next. Empty string
// fields are omitted; the signals are always written.
func (p *Proxy) Dump(path string) error {
	var sb strings.Builder
	pair := func(key, value string) {
		if value != "" {
			sb.WriteString(key + "\n\t" + value + "\n")
		}
	}
	pair("executable", p.Executable)
	pair("arguments", p.Arguments)
	pair("config file", p.ConfigFile)
	pair("save signal", strconv.Itoa(int(p.SaveSignal)))
	pair("stop signal", strconv.Itoa(int(p.StopSignal)))
	pair("label", p.Label)
	fname := filepath.Join(path, ConfigFileName)
	if err := os.WriteFile(fname, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("proxy: dump config: %w", err)
	}
	return nil
}

// Restore reads a configuration written by Dump. Comment and blank
// lines are ignored; unknown variables are skipped.
func (p *Proxy) Restore(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("proxy: restore config: %w", err)
	}
	defer f.Close()
	zap.L().Info("loading proxy config", zap.String("file", filename))

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("proxy: restore config: %w", err)
	}
	for i := 0; i+1 < len(lines); i += 2 {
		value := lines[i+1]
		switch lines[i] {
		case "executable":
			p.Executable = value
		case "arguments":
			p.Arguments = value
		case "config file":
			p.ConfigFile = value
		case "save signal":
			if n, err := strconv.Atoi(value); err == nil {
				p.SaveSignal = syscall.Signal(n)
			}
		case "stop signal":
			if n, err := strconv.Atoi(value); err == nil {
				p.StopSignal = syscall.Signal(n)
			}
		case "label":
			p.Label = value
		}
	}
	return nil
}
