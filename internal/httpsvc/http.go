// Package httpsvc provides a small HTTP/1.x service compatible with
// internal/workgroup.Group.AddContext, used for the metrics and health
// endpoint. Adapted from the teacher's internal/httpsvc/http.go, with
// the controller-runtime manager.Runnable bits dropped since this core
// has no such manager.
package httpsvc

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Service is an HTTP/1.x endpoint whose Start method matches
// workgroup.Group.AddContext's func(context.Context) shape.
type Service struct {
	Addr string
	Port int

	logrus.FieldLogger
	http.ServeMux
}

// Start runs the HTTP server until ctx is cancelled, then shuts it
// down with a grace period.
func (svc *Service) Start(ctx context.Context) {
	s := http.Server{
		Addr:           net.JoinHostPort(svc.Addr, strconv.Itoa(svc.Port)),
		Handler:        &svc.ServeMux,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   5 * time.Minute,
		MaxHeaderBytes: 1 << 11,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	svc.WithField("address", s.Addr).Info("started HTTP server")
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		svc.WithError(err).Error("HTTP server terminated with error")
	}
}
