// Command gateway runs the instant-messaging Gateway of §6.1: `gateway
// <address> <port>` binds the HTTP/WebSocket listener at that address,
// wiring every shared backend component before accepting connections.
// Grounded on apps/gateway/cmd/main.go's config-load/validate/wire/run shape
// and its graceful-shutdown defer chain, minus the frame.Service bootstrap
// this gateway does not carry — see DESIGN.md.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/myluster/QtWebServerChat/internal/cache"
	"github.com/myluster/QtWebServerChat/internal/db"
	"github.com/myluster/QtWebServerChat/internal/gatewayconfig"
	"github.com/myluster/QtWebServerChat/internal/health"
	"github.com/myluster/QtWebServerChat/internal/httpapi"
	"github.com/myluster/QtWebServerChat/internal/lb"
	"github.com/myluster/QtWebServerChat/internal/listener"
	"github.com/myluster/QtWebServerChat/internal/presence"
	"github.com/myluster/QtWebServerChat/internal/registry"
	"github.com/myluster/QtWebServerChat/internal/wsession"
	"github.com/myluster/QtWebServerChat/internal/wsmanager"
	"github.com/pitabwire/util"
)

const gracefulShutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage: gateway <address> <port>")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		util.Log(ctx).WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	balancer := lb.New()
	svcRegistry := lb.NewRegistry(balancer)
	dbHost, dbPort := splitDSNAddress(cfg.DatabaseDSN)
	svcRegistry.Register(db.ServiceName, dbHost, dbPort, 1, "role=primary")
	svcRegistry.Register(presence.ServiceName, "127.0.0.1", 50051, 1, "")

	checker := lb.NewHealthChecker(balancer, []string{db.ServiceName, presence.ServiceName}, cfg.HealthCheckInterval, cfg.HealthCheckTimeout)
	go checker.Run(ctx)

	driver := db.New(balancer, cfg.DatabaseDSN, cfg.DatabaseTimeout)
	if err := driver.Connect(ctx); err != nil {
		util.Log(ctx).WithError(err).Error("could not connect to database")
		os.Exit(1)
	}
	defer func() { _ = driver.Disconnect() }()

	cacheSurface := cache.New(cfg.CacheAddress)
	defer func() { _ = cacheSurface.Close() }()

	reg := registry.New()
	manager := wsmanager.New()
	pool := presence.NewPool(cfg.PresencePoolSize, balancer)
	pool.Initialize()

	stopSweep := startRegistrySweep(ctx, reg, cfg)
	defer stopSweep()

	healthHandler := health.NewHandler()
	healthHandler.AddChecker(health.NewSQLDBChecker(driver.SQLDB(), "database", cfg.DatabaseTimeout))
	healthHandler.AddChecker(health.NewPingChecker("cache", cacheSurface.Ping, cfg.DatabaseTimeout))

	server := httpapi.New(cfg, driver, cacheSurface, reg, manager, pool, balancer, healthHandler)
	runner := wsession.NewRunner(cfg, reg, manager, pool, driver, cacheSurface)
	server.SetSessionStarter(runner)

	l := listener.New(server)
	if err := l.Start(ctx, cfg.ListenAddress, cfg.ListenPort); err != nil {
		util.Log(ctx).WithError(err).Error("could not start listener")
		os.Exit(1)
	}

	util.Log(ctx).WithField("address", cfg.ListenAddress).WithField("port", cfg.ListenPort).Info("gateway running")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := l.Stop(shutdownCtx); err != nil {
		util.Log(shutdownCtx).WithError(err).Warn("listener shutdown error")
	}
}

// parseArgs implements §6.1's CLI contract: `gateway <address> <port>`.
// Any other tunable is still overridable through the environment via
// gatewayconfig.FromEnv, with the two positional arguments taking
// precedence over GATEWAY_LISTEN_ADDRESS/GATEWAY_LISTEN_PORT.
func parseArgs(args []string) (gatewayconfig.Config, error) {
	cfg := gatewayconfig.FromEnv()

	if len(args) != 2 {
		return cfg, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}

	port, err := strconv.Atoi(args[1])
	if err != nil {
		return cfg, fmt.Errorf("invalid port %q: %w", args[1], err)
	}

	cfg.ListenAddress = args[0]
	cfg.ListenPort = port
	return cfg, nil
}

// splitDSNAddress pulls the host and port the Load Balancer probes out of a
// postgres:// DSN, falling back to localhost:5432 if the DSN can't be
// parsed as a URL (e.g. a bare libpq keyword string).
func splitDSNAddress(dsn string) (string, int) {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "localhost", 5432
	}
	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	if err != nil || port == 0 {
		port = 5432
	}
	return host, port
}

// startRegistrySweep periodically evicts sessions the Connection Registry
// considers expired, per §4.4. It returns a stop function.
func startRegistrySweep(ctx context.Context, reg *registry.Registry, cfg gatewayconfig.Config) func() {
	ticker := time.NewTicker(cfg.RegistrySweepInterval)
	done := make(chan struct{})

	go func() {
		expiry := time.Duration(cfg.SessionExpirySeconds) * time.Second
		for {
			select {
			case <-done:
				ticker.Stop()
				return
			case <-ticker.C:
				stale := reg.SweepExpired(expiry)
				if len(stale) > 0 {
					util.Log(ctx).WithField("count", len(stale)).Info("swept expired sessions")
				}
			}
		}
	}()

	return func() { close(done) }
}
