package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// httpService runs an http.Server under the supervisor and shuts it down
// gracefully when the supervisor stops.
type httpService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

func newHTTPService(server *http.Server, shutdownTimeout time.Duration) *httpService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &httpService{server: server, shutdownTimeout: shutdownTimeout}
}

func (s *httpService) String() string { return "http-server" }

func (s *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown did not complete")
		return err
	}
	return ctx.Err()
}
