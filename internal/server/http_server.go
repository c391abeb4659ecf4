package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer starts the HTTP server and begins listening for connections.
// It returns nil once the server has been shut down.
func (h *Hub) StartServer(server *http.Server) error {
	h.logger.Info("server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer stops accepting HTTP requests, then closes every WebSocket
// session. Upgraded connections are hijacked and invisible to
// http.Server.Shutdown, so the hub closes them itself.
func (h *Hub) ShutdownServer(server *http.Server, timeout time.Duration) error {
	h.logger.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	httpErr := server.Shutdown(ctx)
	if httpErr != nil {
		h.logger.Error("HTTP server shutdown error", "error", httpErr)
	}

	remaining := time.Until(deadlineOf(ctx))
	hubErr := h.Shutdown(remaining)
	return errors.Join(httpErr, hubErr)
}

func deadlineOf(ctx context.Context) time.Time {
	d, ok := ctx.Deadline()
	if !ok {
		return time.Now()
	}
	return d
}
