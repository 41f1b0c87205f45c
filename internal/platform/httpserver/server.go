// Package httpserver runs http.Servers with graceful shutdown.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// New returns an http.Server with header and idle timeouts set. The write
// timeout leaves headroom above the request timeout enforced by middleware.
func New(addr string, handler http.Handler, requestTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       requestTimeout + readHeaderTimeout,
		WriteTimeout:      requestTimeout + readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// Run serves every server until ctx is cancelled or one of them fails, then
// shuts all of them down.
func Run(ctx context.Context, log *slog.Logger, servers ...*http.Server) error {
	listeners := make([]net.Listener, 0, len(servers))
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, open := range listeners {
				open.Close() //nolint:errcheck // nothing is being served yet
			}
			return err
		}
		listeners = append(listeners, ln)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		ln := listeners[i]
		log.InfoContext(ctx, "listening", "addr", ln.Addr().String())

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.ErrorContext(shutdownCtx, "graceful shutdown failed", "addr", srv.Addr, "error", err)
				return err
			}
			return nil
		})
	}

	return g.Wait()
}
