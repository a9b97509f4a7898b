package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/infinity-portal/fleet-core/internal/infrastructure/config"
	"github.com/infinity-portal/fleet-core/internal/protocol"
)

// consoleShutdownTimeout bounds how long Close waits for in-flight requests.
const consoleShutdownTimeout = 5 * time.Second

// maxConsoleBody caps RPC request bodies. Params are small JSON objects.
const maxConsoleBody = 64 * 1024

// Console serves the agent's RPC table over a loopback HTTP listener so an
// operator on the device can inspect and drive the agent without the broker.
//
//	GET  /rpc               list methods
//	GET  /rpc/{method}      invoke without params
//	POST /rpc/{method}      invoke with a JSON params object body
type Console struct {
	rpc    *RPC
	cfg    config.ConsoleConfig
	logger Logger
	server *http.Server
}

// NewConsole creates a console for the given RPC table.
func NewConsole(rpc *RPC, cfg config.ConsoleConfig, logger Logger) *Console {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Console{rpc: rpc, cfg: cfg, logger: logger}
}

// Start launches the HTTP listener in a background goroutine. A disabled
// console is a no-op.
func (c *Console) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.logger.Debug("debug console disabled")
		return nil
	}

	c.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port),
		Handler:           c.buildRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		c.logger.Info("debug console listening", "address", c.server.Addr)
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("debug console error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the listener.
func (c *Console) Close() error {
	if c.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), consoleShutdownTimeout)
	defer cancel()

	if err := c.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down debug console: %w", err)
	}
	return nil
}

// Handler returns the console's HTTP handler. Exposed for tests.
func (c *Console) Handler() http.Handler {
	return c.buildRouter()
}

func (c *Console) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)

	r.Get("/rpc", c.handleList)
	r.Get("/rpc/{method}", c.handleCall)
	r.Post("/rpc/{method}", c.handleCall)

	return r
}

func (c *Console) handleList(w http.ResponseWriter, _ *http.Request) {
	methods := c.rpc.Methods()
	sort.Strings(methods)
	c.writeJSON(w, http.StatusOK, map[string]any{"methods": methods})
}

func (c *Console) handleCall(w http.ResponseWriter, r *http.Request) {
	method := chi.URLParam(r, "method")

	params := map[string]any{}
	if r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxConsoleBody))
		if err != nil {
			c.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "reading request body"})
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &params); err != nil {
				c.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "params must be a JSON object"})
				return
			}
		}
	}

	result, err := c.rpc.Call(method, params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownMethod) {
			status = http.StatusNotFound
		} else if errors.Is(err, ErrInvalidTheme) || errors.Is(err, protocol.ErrDecode) {
			status = http.StatusBadRequest
		}
		c.writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}

	c.writeJSON(w, http.StatusOK, result)
}

func (c *Console) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.logger.Debug("writing console response", "error", err)
	}
}
