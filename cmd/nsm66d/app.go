package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ahlstromcj/nsm66/pkg/config"
	"github.com/ahlstromcj/nsm66/pkg/endpoint"
	"github.com/ahlstromcj/nsm66/pkg/observability"
	"github.com/ahlstromcj/nsm66/pkg/session"
	"github.com/ahlstromcj/nsm66/pkg/transport"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("nsm66d started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	// Each daemon instance gets its own name so peers can tell two
	// daemons on one host apart.
	instance := cfg.AppName + "-" + uuid.NewString()[:8]
	ep, err := endpoint.New(instance, transport.KindFromString(cfg.Server.Proto), cfg.Server.Bind)
	if err != nil {
		zap.L().Error("failed to bind endpoint", zap.Error(err))
		return 1
	}
	defer ep.Stop()
	zap.L().Info("endpoint listening", zap.String("url", ep.URL()))

	// Advertise under the runtime directory so controllers can find us,
	// and take the session lock when a session name was given.
	lockDir, err := session.RuntimeLockDir()
	if err != nil {
		zap.L().Error("failed to prepare lock directory", zap.Error(err))
		return 1
	}
	daemonFile, err := session.DaemonFile(lockDir, os.Getpid())
	if err == nil {
		err = session.WriteDaemonFile(daemonFile, ep.URL())
	}
	if err != nil {
		zap.L().Error("failed to advertise daemon", zap.Error(err))
		return 1
	}
	defer os.Remove(daemonFile)

	var lockFile string
	if opts.SessionName != "" {
		root := cfg.SessionRoot
		if root == "" {
			root, err = session.SessionRoot()
			if err != nil {
				zap.L().Error("failed to prepare session root", zap.Error(err))
				return 1
			}
		}
		sessionPath := filepath.Join(root, opts.SessionName)
		lockFile = session.LockFileName(lockDir, opts.SessionName, sessionPath)
		err = session.WriteLockFile(lockFile, session.LockInfo{
			SessionPath: sessionPath,
			ServerURL:   ep.URL(),
			PID:         os.Getpid(),
		})
		if err != nil {
			zap.L().Error("failed to write lock file", zap.Error(err))
			return 1
		}
		defer func() { _ = session.DeleteLockFile(lockFile) }()
	}

	snapshot := filepath.Join(cfg.DataDir, "endpoint.cbor")
	if _, statErr := os.Stat(snapshot); statErr == nil {
		if st, rdErr := endpoint.ReadSnapshot(snapshot); rdErr == nil {
			for _, tr := range st.Translations {
				ep.AddTranslation(tr.Source, tr.Dest)
			}
			zap.L().Info("restored endpoint snapshot",
				zap.String("file", snapshot), zap.Int("translations", len(st.Translations)))
		} else {
			zap.L().Warn("ignoring unreadable snapshot", zap.Error(rdErr))
		}
	}

	ep.Start()
	for _, url := range opts.PeerURLs {
		if err := ep.Hello(url); err != nil {
			zap.L().Warn("hello failed", zap.String("url", url), zap.Error(err))
		}
	}

	zap.L().Info("daemon is running; press Ctrl+C to exit")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zap.L().Info("shutting down", zap.String("signal", sig.String()))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err == nil {
		if err := ep.WriteSnapshot(snapshot); err != nil {
			zap.L().Warn("failed to write snapshot", zap.Error(err))
		}
	}
	return 0
}
