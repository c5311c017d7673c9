package session

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// LockInfo is the content of one daemon lock file: the absolute session
// path, the daemon's OSC URL, and its pid.
type LockInfo struct {
	SessionPath string
	ServerURL   string
	PID         int
}

// LockFileName builds the lock-file path for a session. Two sessions
// with the same simple name under different roots must not collide, so
// a short hash of the absolute session path is appended to the name.
func LockFileName(lockDir, sessionName, absSessionPath string) string {
	h := fnv.New32a()
	h.Write([]byte(absSessionPath))
	return filepath.Join(lockDir, sessionName+strconv.FormatUint(uint64(h.Sum32()%100000), 10))
}

// WriteLockFile records the open session for other processes: three
// newline-terminated lines holding session path, server URL and pid.
// Not a GNU lock file; nothing ever took advantage of those features.
func WriteLockFile(filename string, info LockInfo) error {
	data := fmt.Sprintf("%s\n%s\n%d\n", info.SessionPath, info.ServerURL, info.PID)
	if err := os.WriteFile(filename, []byte(data), 0o644); err != nil {
		return fmt.Errorf("session: write lock file: %w", err)
	}
	zap.L().Info("created lock file", zap.String("file", filename))
	return nil
}

// ReadLockFile parses a lock file written by WriteLockFile.
func ReadLockFile(filename string) (LockInfo, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return LockInfo{}, fmt.Errorf("session: read lock file: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if len(lines) != 3 {
		return LockInfo{}, fmt.Errorf("session: lock file %s has %d lines, want 3", filename, len(lines))
	}
	pid, err := strconv.Atoi(lines[2])
	if err != nil {
		return LockInfo{}, fmt.Errorf("session: lock file %s pid: %w", filename, err)
	}
	return LockInfo{SessionPath: lines[0], ServerURL: lines[1], PID: pid}, nil
}

// DeleteLockFile removes a lock file when a session closes.
func DeleteLockFile(filename string) error {
	if err := os.Remove(filename); err != nil {
		return fmt.Errorf("session: delete lock file: %w", err)
	}
	zap.L().Info("deleted lock file", zap.String("file", filename))
	return nil
}

// RuntimeLockDir returns the per-user directory lock files live in,
// $XDG_RUNTIME_DIR/nsm, creating it if needed. Systems without the
// variable fall back to /run/user/<uid> per the FHS.
func RuntimeLockDir() (string, error) {
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		base = fmt.Sprintf("/run/user/%d", os.Getuid())
	}
	dir := filepath.Join(base, "nsm")
	if err := os.MkdirAll(dir, 0o771); err != nil {
		return "", fmt.Errorf("session: lock directory: %w", err)
	}
	return dir, nil
}

// DaemonFile returns the path a daemon advertises its URL under,
// <lockDir>/d/<pid>, creating the d/ subdirectory.
func DaemonFile(lockDir string, pid int) (string, error) {
	dir := filepath.Join(lockDir, "d")
	if err := os.MkdirAll(dir, 0o771); err != nil {
		return "", fmt.Errorf("session: daemon directory: %w", err)
	}
	return filepath.Join(dir, strconv.Itoa(pid)), nil
}

// WriteDaemonFile advertises a running daemon's URL.
func WriteDaemonFile(path, serverURL string) error {
	if err := os.WriteFile(path, []byte(serverURL+"\n"), 0o644); err != nil {
		return fmt.Errorf("session: write daemon file: %w", err)
	}
	return nil
}

// LookupDaemonURL finds a running daemon by scanning the d/
// subdirectory and reading the first advertised URL. Returns "" when
// no daemon has advertised itself.
func LookupDaemonURL(lockDir string) string {
	dir := filepath.Join(lockDir, "d")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		url := strings.TrimSpace(string(b))
		if strings.HasPrefix(url, "osc") {
			return url
		}
	}
	return ""
}

// SessionRoot returns the directory sessions are stored under,
// creating it if needed. The pre-1.5.4 "~/NSM Sessions" directory
// wins when it already exists; otherwise $XDG_DATA_HOME/nsm (or
// ~/.local/share/nsm) is used.
func SessionRoot() (string, error) {
	home := os.Getenv("HOME")
	if home != "" {
		legacy := filepath.Join(home, "NSM Sessions")
		if fi, err := os.Stat(legacy); err == nil && fi.IsDir() {
			zap.L().Warn("old-style session directory found; "+
				"consider moving sessions to $XDG_DATA_HOME/nsm",
				zap.String("dir", legacy))
			return legacy, nil
		}
	}
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home == "" {
			return "", fmt.Errorf("session: neither XDG_DATA_HOME nor HOME is set")
		}
		dir = filepath.Join(home, ".local", "share")
	}
	dir = filepath.Join(dir, "nsm")
	if err := os.MkdirAll(dir, 0o771); err != nil {
		return "", fmt.Errorf("session: session root: %w", err)
	}
	return dir, nil
}
