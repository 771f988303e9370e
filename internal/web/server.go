// Package web serves the lamp page and the admin endpoints over HTTP.
package web

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sweeney/lamp-panel/internal/lamp"
	"github.com/sweeney/lamp-panel/internal/logger"
)

// Lamps is the part of lamp.Manager the router needs.
type Lamps interface {
	Toggle(ctx context.Context, c lamp.Channel) bool
	Snapshot() lamp.Snapshot
}

// Server serves HTTP on one listener.
type Server struct {
	httpServer *http.Server
}

// New creates the lamp page server.
func New(addr string, lamps Lamps) *Server {
	return newServer(addr, &router{lamps: lamps})
}

func newServer(addr string, h http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// router dispatches the lamp page paths through the routes table.
type router struct {
	lamps Lamps
}

func (rt *router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rte, ok := lookup(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	ctx := logger.WithKV(r.Context(), "path", r.URL.Path, "remote", r.RemoteAddr)

	switch rte.action {
	case actionNoFavicon:
		http.Error(w, "No favicon", http.StatusNotFound)
		return
	case actionToggle:
		rt.lamps.Toggle(ctx, rte.channel)
	}

	rt.writePage(ctx, w)
}

func (rt *router) writePage(ctx context.Context, w http.ResponseWriter) {
	body, err := Render(rt.lamps.Snapshot())
	if err != nil {
		logger.ErrorKV(ctx, "Render lamp page failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(body); err != nil {
		logger.DebugKV(ctx, "Write lamp page failed", "error", err)
	}
}
