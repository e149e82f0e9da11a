// Package app wires the gateway together: credential store, device flow,
// credential manager, upstream client, forwarder, HTTP server.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/auth"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/config"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/copilot"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/forward"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/logging"
	"github.com/iptton-ai/githubcopilotprovider4claudecode/internal/server"
)

const shutdownTimeout = 30 * time.Second

// App is the assembled gateway.
type App struct {
	Config    *config.Config
	Store     *auth.Store
	Manager   *auth.Manager
	Client    *copilot.Client
	Forwarder *forward.Forwarder
	Server    *server.Server
}

// New assembles the gateway from configuration.
func New(cfg *config.Config) *App {
	store := auth.NewStore(cfg.CredentialsFile, cfg.ForeignCredentialsFile)
	device := auth.NewDeviceFlow()
	client := copilot.NewClient()
	manager := auth.NewManager(store, device, client)
	forwarder := forward.New(manager, client)

	return &App{
		Config:    cfg,
		Store:     store,
		Manager:   manager,
		Client:    client,
		Forwarder: forwarder,
		Server:    server.New(cfg, forwarder),
	}
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logging.Info("shutting down", "timeout", shutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	}
}
