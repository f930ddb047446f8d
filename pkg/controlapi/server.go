// Package controlapi exposes a small REST surface over the daemon's
// managed interfaces: list them, read a lease, and trigger the two
// user-initiated actions the FSM understands, renew and release. It also
// serves a live event stream and the OpenAPI document describing itself.
package controlapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytesbymike/wicked/pkg/component"
	"github.com/bytesbymike/wicked/pkg/events"
	"github.com/bytesbymike/wicked/pkg/logger"
)

// Component serves the control API over plain HTTP.
type Component struct {
	*component.Base
	logger   *slog.Logger
	registry Registry
	bus      events.Bus
	addr     string
	server   *http.Server
}

func New(registry Registry, bus events.Bus, addr string) *Component {
	return &Component{
		Base:     component.NewBase(logger.ControlAPI),
		logger:   logger.Get(logger.ControlAPI),
		registry: registry,
		bus:      bus,
		addr:     addr,
	}
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/interfaces", c.handleListInterfaces)
	mux.HandleFunc("GET /v1/interfaces/{name}/lease", c.handleGetLease)
	mux.HandleFunc("POST /v1/interfaces/{name}/renew", c.handleRenew)
	mux.HandleFunc("POST /v1/interfaces/{name}/release", c.handleRelease)
	mux.HandleFunc("GET /v1/events", c.handleEvents)
	mux.HandleFunc("GET /v1/openapi.json", c.handleOpenAPI)

	c.server = &http.Server{Addr: c.addr, Handler: mux}
	c.Go(func() {
		c.logger.Info("control API listening", "addr", c.addr)
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("control API server error", "error", err)
		}
	})

	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	if c.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	c.StopContext()
	return nil
}

func (c *Component) handleListInterfaces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.registry.Interfaces())
}

func (c *Component) handleGetLease(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	lease, ok := c.registry.Lease(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no lease bound on %s", name))
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

func (c *Component) handleRenew(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := c.registry.Renew(name); err != nil {
		c.writeActionError(w, name, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "renew requested"})
}

func (c *Component) handleRelease(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := c.registry.Release(name); err != nil {
		c.writeActionError(w, name, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "release requested"})
}

func (c *Component) writeActionError(w http.ResponseWriter, name string, err error) {
	var unknown *ErrUnknownInterface
	if errors.As(err, &unknown) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	c.logger.Error("control API action failed", "interface", name, "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (c *Component) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(buildOpenAPISpec())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
