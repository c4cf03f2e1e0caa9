// powerapid is the node-local privileged arbitration daemon: it mediates
// concurrent requests to mutate CPU frequency limits, the P-state
// governor, C-state limits, and RAPL power caps, exposing a single Unix
// domain socket to every client on the node.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cray-hpe/powerapid/internal/arb"
	"github.com/cray-hpe/powerapid/internal/config"
	"github.com/cray-hpe/powerapid/internal/hwsink"
	"github.com/cray-hpe/powerapid/internal/lifecycle"
	"github.com/cray-hpe/powerapid/internal/metrics"
	"github.com/cray-hpe/powerapid/internal/permissions"
	"github.com/cray-hpe/powerapid/internal/rendezvous"
	appversion "github.com/cray-hpe/powerapid/internal/version"
)

func main() {
	os.Exit(run())
}

// cli holds the flags the original daemon accepts: -p overrides the
// pidfile path, -r permits restart over a dirty marker, -n marks a
// foreground run (the daemon never forks; the flag only switches logging
// to the text handler on stderr), and -D/-T raise verbosity.
type cli struct {
	configPath      string
	pidfileOverride string
	allowRestart    bool
	foreground      bool
	debug           bool
	trace           bool
}

func parseFlags(args []string) (cli, error) {
	fs := flag.NewFlagSet("powerapid", flag.ContinueOnError)
	var c cli
	fs.StringVar(&c.configPath, "config", "", "path to configuration file (YAML)")
	fs.StringVar(&c.pidfileOverride, "p", "", "override the pidfile path")
	fs.BoolVar(&c.allowRestart, "r", false, "allow restart despite a dirty state marker")
	fs.BoolVar(&c.foreground, "n", false, "run in the foreground (default: always foreground)")
	fs.BoolVar(&c.debug, "D", false, "enable debug logging")
	fs.BoolVar(&c.trace, "T", false, "enable trace logging (implies debug)")
	if err := fs.Parse(args); err != nil {
		return cli{}, err
	}
	return c, nil
}

func run() int {
	c, err := parseFlags(os.Args[1:])
	if err != nil {
		return 1
	}

	cfg, err := loadConfig(c.configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}
	if c.pidfileOverride != "" {
		cfg.Lifecycle.PIDFilePath = c.pidfileOverride
	}

	logLevel := new(slog.LevelVar)
	setInitialLevel(logLevel, cfg.LogLevel, c.debug, c.trace)
	logger := newLogger(logLevel, c.foreground)

	logger.Info("powerapid starting",
		slog.String("version", appversion.Version),
		slog.String("rendezvous_socket", cfg.Rendezvous.SocketPath),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	stopSignals := lifecycle.IgnoreBenignSignals()
	defer stopSignals()

	markers := lifecycle.New(cfg.Lifecycle.PIDFilePath, cfg.Lifecycle.DirtyMarkerPath, cfg.Lifecycle.AllowRestartPath, logger)
	if err := markers.WritePID(os.Getpid()); err != nil {
		logger.Error("failed to write pidfile", slog.String("error", err.Error()))
		return 1
	}
	defer os.Remove(cfg.Lifecycle.PIDFilePath)

	escalator := newEscalator(cfg.Escalation)
	if ok, err := checkCrashState(markers, escalator, c.allowRestart, logger); err != nil || !ok {
		if err != nil {
			logger.Error("crash state check failed", slog.String("error", err.Error()))
			return 1
		}
		logger.Error("refusing to start: dirty state marker present and no restart override given")
		waitForTermination(logger)
		return 1
	}

	oracle := permissions.New(cfg.Permissions.FilePath, logger)
	if err := oracle.Load(); err != nil {
		logger.Error("failed to load permissions file", slog.String("error", err.Error()))
		return 1
	}
	if cfg.Permissions.WatchReload {
		if err := oracle.WatchReload(); err != nil {
			logger.Warn("failed to watch permissions file for reload", slog.String("error", err.Error()))
		}
		defer oracle.Stop()
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	sink := hwsink.New()
	engine := arb.NewEngine(sink, sink,
		arb.WithMetrics(collector),
		arb.WithLogger(logger),
		arb.WithQueueCapacity(cfg.Rendezvous.QueueCapacity),
	)

	verbosity := rendezvous.NewVerbosity(logLevel)
	if c.debug || c.trace {
		verbosity.Set(c.debug, c.trace)
	}

	listener := rendezvous.New(
		rendezvous.Config{
			SocketPath:  cfg.Rendezvous.SocketPath,
			SocketMode:  os.FileMode(cfg.Rendezvous.SocketMode),
			MaxSessions: cfg.Rendezvous.MaxSessions,
		},
		engine, oracle, markers, verbosity,
		rendezvous.WithMetrics(collector),
		rendezvous.WithLogger(logger),
		rendezvous.WithResourceManagerRoleName(cfg.ResourceManagerRole),
	)
	defer listener.Close()

	if err := runServers(cfg, engine, listener, oracle, logLevel, reg, logger); err != nil {
		logger.Error("powerapid exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("powerapid stopped")
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLogger builds the process logger: JSON to stdout for service
// deployments, plain text for -n foreground runs at a terminal.
func newLogger(level *slog.LevelVar, foreground bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if foreground {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// setInitialLevel resolves the effective startup log level: -D/-T flags
// take precedence over the configured log_level, matching the original
// daemon's command-line verbosity override.
func setInitialLevel(level *slog.LevelVar, configured string, debug, trace bool) {
	switch {
	case trace:
		level.Set(rendezvous.LevelTrace)
	case debug:
		level.Set(slog.LevelDebug)
	default:
		n, err := config.ParseLogLevel(configured)
		if err != nil {
			n = 0
		}
		level.Set(slog.Level(n))
	}
}

func newEscalator(cfg config.EscalationConfig) lifecycle.Escalator {
	if !cfg.Enabled {
		return lifecycle.NoopEscalator{}
	}
	return lifecycle.NewDBusEscalator(cfg.BusName, cfg.ObjectPath, cfg.Timeout)
}

// checkCrashState implements the startup restart gate: if the dirty
// marker survived from a prior abnormal exit and neither -r nor the
// on-disk allow-restart marker is present, the daemon escalates once and
// then refuses to start rather than risk serving stale hardware state.
func checkCrashState(markers *lifecycle.Markers, esc lifecycle.Escalator, allowRestart bool, logger *slog.Logger) (bool, error) {
	allowed, err := markers.CheckCrashState(allowRestart)
	if err != nil {
		return false, err
	}
	if allowed {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := esc.MarkAdminDown(ctx); err != nil {
		logger.Error("failed to escalate admin-down after dirty restart refusal",
			slog.String("error", err.Error()))
	}
	return false, nil
}

// waitForTermination parks the process until SIGINT or SIGTERM arrives.
// After a refused dirty restart the daemon has already escalated admin-down;
// it must not exit on its own and let an init system immediately respawn it
// into the same refusal.
func waitForTermination(logger *slog.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Error("parked awaiting termination; remove the dirty marker or restart with -r to recover")
	<-ctx.Done()
}

const shutdownTimeout = 10 * time.Second

// runServers starts the arbitration worker, the rendezvous listener, and
// the metrics HTTP server under one errgroup, driven by a signal-aware
// context so SIGINT/SIGTERM trigger the same graceful shutdown path.
func runServers(cfg *config.Config, engine *arb.Engine, listener *rendezvous.Listener, oracle *permissions.Oracle, logLevel *slog.LevelVar, reg *prometheus.Registry, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gCtx)
	})

	g.Go(func() error {
		if err := listener.Run(gCtx); err != nil {
			return fmt.Errorf("rendezvous listener: %w", err)
		}
		return nil
	})

	if cfg.Metrics.Enabled {
		metricsSrv := newMetricsServer(cfg.Metrics, reg)
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
			return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
		})
	}

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	g.Go(func() error {
		return runReload(gCtx, oracle, logLevel, cfg.LogLevel, logger)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(engine, logger)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

func gracefulShutdown(engine *arb.Engine, logger *slog.Logger) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	if err := engine.Close(); err != nil {
		logger.Warn("engine close reported an error", slog.String("error", err.Error()))
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		close(done)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	<-done
	return nil
}

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runReload refreshes the permissions oracle and restores the configured
// log level on SIGHUP, without restarting the worker or disturbing live
// sessions.
func runReload(ctx context.Context, oracle *permissions.Oracle, logLevel *slog.LevelVar, configuredLevel string, logger *slog.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			logger.Info("SIGHUP received, reloading")
			if err := oracle.Load(); err != nil {
				logger.Warn("permissions reload failed, keeping previous allow list",
					slog.String("error", err.Error()))
			}
			if n, err := config.ParseLogLevel(configuredLevel); err == nil {
				logLevel.Set(slog.Level(n))
			}
		}
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured interval, as the systemd documentation recommends.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", err.Error()))
			}
		}
	}
}
