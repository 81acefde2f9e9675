package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"tailscale.com/tsnet"

	"github.com/matt-riley/yomu/internal/admin"
	"github.com/matt-riley/yomu/internal/config"
	"github.com/matt-riley/yomu/internal/logging"
	"github.com/matt-riley/yomu/internal/middleware"
)

const adminSessionPruneInterval = time.Hour

// adminPortal serves the admin UI on the tailnet only; it is never bound to
// a public interface.
type adminPortal struct {
	node     *tsnet.Server
	server   *http.Server
	listener net.Listener
	sessions expiredSessionDeleter
	log      *slog.Logger
}

type adminDeps struct {
	store    admin.Store
	sessions interface {
		admin.SessionStore
		expiredSessionDeleter
	}
	catalog admin.Catalog
	limiter *middleware.RateLimiter
	opts    []admin.Option
}

func newAdminPortal(cfg config.Config, deps adminDeps, log *slog.Logger) (*adminPortal, error) {
	if cfg.TSAuthKey == "" {
		return nil, errors.New("ADMIN_HOSTNAME is set but TS_AUTH_KEY is missing")
	}
	if err := os.MkdirAll(cfg.TSStateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create tsnet state dir: %w", err)
	}

	log = logging.Component(log, "admin")
	node := &tsnet.Server{
		Hostname: cfg.AdminHostname,
		AuthKey:  cfg.TSAuthKey,
		Dir:      cfg.TSStateDir,
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...), "component", "tailscale")
		},
	}

	listener, err := node.Listen("tcp", ":80")
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("listen on tailnet: %w", err)
	}

	sessionMgr := admin.NewSessionManager(deps.sessions, cfg.SessionSecret, deps.limiter)
	handler := admin.NewHandler(deps.store, deps.catalog, sessionMgr, log, deps.opts...)

	return &adminPortal{
		node: node,
		server: &http.Server{
			Handler:           middleware.HTTPRequestLogging(log)(handler),
			ReadHeaderTimeout: httpReadHeaderTimeout,
		},
		listener: listener,
		sessions: deps.sessions,
		log:      log,
	}, nil
}

// run serves until ctx ends, pruning expired sessions in the background.
func (p *adminPortal) run(ctx context.Context) error {
	p.log.Info("admin portal listening", "hostname", p.node.Hostname, "transport", "tailscale")
	go pruneAdminSessions(ctx, p.sessions, p.log)

	if err := p.server.Serve(p.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve admin portal: %w", err)
	}
	return nil
}

func (p *adminPortal) shutdown(ctx context.Context) error {
	err := p.server.Shutdown(ctx)
	if closeErr := p.node.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close tsnet node: %w", closeErr))
	}
	return err
}

type expiredSessionDeleter interface {
	DeleteExpiredAdminSessions(ctx context.Context) error
}

func pruneAdminSessions(ctx context.Context, store expiredSessionDeleter, log *slog.Logger) {
	ticker := time.NewTicker(adminSessionPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.DeleteExpiredAdminSessions(ctx); err != nil {
				log.Warn("prune admin sessions failed", "error", err)
			}
		}
	}
}
