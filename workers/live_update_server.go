package workers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const liveUpdateShutdownTimeout = 5 * time.Second

// ServeLiveUpdates runs the websocket live-update listener on addr until ctx
// is cancelled. It returns the listener's error, or nil after a clean
// shutdown.
func ServeLiveUpdates(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/", handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("[LiveFeed] Websocket listener on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logrus.Info("[LiveFeed] Stopping websocket listener...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), liveUpdateShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
