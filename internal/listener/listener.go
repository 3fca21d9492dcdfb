// Package listener implements the Listener of §4.1: binds the gateway's TCP
// address, serves HTTP through it, and supports idempotent start/stop.
// Grounded on Gilliam6-go_ws_bench/gorilla/main.go's *http.Server wiring and
// other_examples/momentics-hioload-ws__listener.go's accept-loop error
// handling, adapted so accept errors caused by our own Stop() are treated as
// benign shutdown rather than logged as failures.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/pitabwire/util"
)

// Listener owns one bound TCP address and the HTTP server serving it.
type Listener struct {
	mu      sync.Mutex
	srv     *http.Server
	ln      net.Listener
	running bool
	serveWg sync.WaitGroup
	serveErr error
}

// New builds an unstarted Listener for handler.
func New(handler http.Handler) *Listener {
	return &Listener{srv: &http.Server{Handler: handler}}
}

// Start binds addr:port and begins serving in the background. Calling Start
// on an already-running Listener is a no-op that returns nil, per §4.1's
// idempotent-start requirement.
func (l *Listener) Start(ctx context.Context, addr string, port int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil
	}

	target := fmt.Sprintf("%s:%d", addr, port)
	ln, err := net.Listen("tcp", target)
	if err != nil {
		return fmt.Errorf("listener bind failed on %s: %w", target, err)
	}

	l.ln = ln
	l.running = true
	l.serveWg.Add(1)

	go func() {
		defer l.serveWg.Done()
		err := l.srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Log(ctx).WithError(err).Warn("listener accept loop exited")
			l.mu.Lock()
			l.serveErr = err
			l.mu.Unlock()
			return
		}
		// http.ErrServerClosed means Stop() closed us; not an error.
	}()

	util.Log(ctx).WithField("address", target).Info("listener started")
	return nil
}

// Stop gracefully shuts down the HTTP server and waits for the accept loop
// to exit. Calling Stop on an already-stopped Listener is a no-op, per
// §4.1's idempotent-stop requirement.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	l.mu.Unlock()

	err := l.srv.Shutdown(ctx)
	l.serveWg.Wait()
	return err
}

// Running reports whether the Listener currently believes it is serving.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// ServeError returns the fatal error, if any, that terminated the accept
// loop outside of a Stop()-initiated shutdown.
func (l *Listener) ServeError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.serveErr
}
