// Command tracker runs the bitpeer announce server: tracker [port], default
// 8080.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"bitpeer/internal/discovery"
	"bitpeer/internal/logging"
	"bitpeer/internal/tracker"
)

const defaultPort = 8080

func main() {
	port := defaultPort
	if len(os.Args) > 1 {
		p, err := strconv.Atoi(os.Args[1])
		if err != nil {
			logging.Error("tracker: bad port argument %q: %v", os.Args[1], err)
			os.Exit(1)
		}
		port = p
	}

	state := tracker.NewState(tracker.DefaultTTL)
	srv := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", port),
		Handler: tracker.NewServer(state),
	}
	// Each accepted connection serves one request/response transaction then
	// closes, per spec; net/http's keep-alives are disabled to match.
	srv.SetKeepAlivesEnabled(false)

	closer, err := discovery.PublishTracker(port)
	if err != nil {
		logging.Warn("tracker: mDNS publish failed, continuing without LAN discovery: %v", err)
	} else {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error("tracker: shutdown error: %v", err)
		}
	}()

	logging.Info("tracker listening on http://%s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("tracker: fatal: %v", err)
		os.Exit(1)
	}
}
