package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/max-legrand/prise/internal/config"
	"github.com/max-legrand/prise/internal/logger"
	"github.com/max-legrand/prise/internal/reactor"
	"github.com/max-legrand/prise/internal/script"
	"github.com/max-legrand/prise/internal/session"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "prise.yaml"
	}
	return filepath.Join(home, ".config", "prise", "prise.yaml")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = defaultConfigPath()
	}
	return config.Load(path)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the prise server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return runServer(cfg, logger.Log)
		},
	}
}

// runServer binds the Unix-domain socket (spec.md §6 Transport), wires
// the reactor and session.Manager, and runs the reactor's event loop
// until SIGINT/SIGTERM or an RPC-driven quit().
func runServer(cfg *config.Config, log *slog.Logger) error {
	sockPath := cfg.ResolveSocketPath()
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlink stale socket %s: %w", sockPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(sockPath), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	listenFd, err := bindAndListen(sockPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", sockPath, err)
	}
	defer unix.Close(listenFd)
	defer os.Remove(sockPath)

	re := reactor.New()

	// The Script host is a pluggable extension point (spec.md §9 Design
	// Notes); this reference distribution ships only the pass-through
	// Noop host, reloadable via fsnotify like any other script.Loader
	// would be. A real embedded scripting language is outside this
	// repo's scope.
	var sc script.Script = script.Noop{}
	if cfg.ScriptPath != "" {
		watcher, err := script.NewWatcher(cfg.ScriptPath, noopLoader, log)
		if err != nil {
			log.Warn("script: failed to load configured script, falling back to noop", "path", cfg.ScriptPath, "err", err)
		} else {
			sc = watcher
			defer watcher.Close()
		}
	}

	mgr := session.NewManager(re, sc, log)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	mgr.OnQuit = stop

	armAccept(re, listenFd, mgr, log)

	// Staged redraws reach the wire through FlushAllClients, run from a
	// reactor timer that re-arms itself every MinFrameInterval.
	var armFlush func()
	armFlush = func() {
		re.Timeout(session.MinFrameInterval, nil, func(c reactor.Completion) {
			if c.Err == reactor.ErrCanceled {
				return
			}
			mgr.FlushAllClients()
			armFlush()
		})
	}
	armFlush()

	log.Info("prised: listening", "socket", sockPath)

	done := make(chan struct{})
	go func() {
		re.Run(reactor.RunForever)
		close(done)
	}()

	<-ctx.Done()
	log.Info("prised: shutting down")
	re.Stop()
	<-done
	return nil
}

func armAccept(re *reactor.Reactor, listenFd int, mgr *session.Manager, log *slog.Logger) {
	re.Accept(listenFd, nil, func(c reactor.Completion) {
		if c.Err == reactor.ErrCanceled {
			return
		}
		if c.Err != reactor.ErrNone {
			log.Warn("accept failed", "err", c.Error())
			armAccept(re, listenFd, mgr, log)
			return
		}
		mgr.AcceptClient(c.Fd, log)
		armAccept(re, listenFd, mgr, log)
	})
}

// bindAndListen creates, binds, and listens on a Unix-domain stream
// socket. Bind/listen have no place in the reactor's operation set
// (spec.md §4.2 lists only socket/connect/accept/read/write/close/
// timeout/cancel); they run synchronously here during startup, and
// only the resulting listening fd is ever handed to the reactor's
// Accept.
func bindAndListen(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// noopLoader is the built-in script.Loader: it only checks that the
// configured file exists (so a typo in script_path is caught at
// startup) and always hands back the pass-through Noop host.
func noopLoader(path string) (script.Script, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return script.Noop{}, nil
}
