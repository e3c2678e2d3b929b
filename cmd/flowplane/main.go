// Command flowplane is the control plane's composition root: it wires
// the Repository, Token Authenticator, Materializer, Resource Cache,
// bootstrap Artifact Store, and ADS gRPC server together, then hands
// their background tasks to one internal/workgroup.Group (spec.md §9:
// "task-based cooperative concurrency" in place of the teacher's
// controller-runtime manager). There is no REST listener here: the
// Management surface is exposed purely as Go methods on
// internal/materializer and internal/authn; framing those as HTTP is a
// caller's concern and out of scope for this core.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	kingpin "github.com/alecthomas/kingpin/v2"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/flowplane/flowplane/internal/authn"
	"github.com/flowplane/flowplane/internal/bootstrap"
	"github.com/flowplane/flowplane/internal/build"
	"github.com/flowplane/flowplane/internal/cache"
	"github.com/flowplane/flowplane/internal/clock"
	"github.com/flowplane/flowplane/internal/httpsvc"
	"github.com/flowplane/flowplane/internal/materializer"
	"github.com/flowplane/flowplane/internal/metrics"
	"github.com/flowplane/flowplane/internal/repository/memstore"
	"github.com/flowplane/flowplane/internal/workgroup"
	"github.com/flowplane/flowplane/internal/xds"
)

const (
	janitorInterval = 30 * time.Second
	gcInterval      = time.Minute
)

func main() {
	log := logrus.StandardLogger()

	app := kingpin.New("flowplane", "Flowplane Envoy xDS control plane.")
	app.HelpFlag.Short('h')
	app.Version(build.PrintBuildInfo())

	adsAddress := app.Flag("ads-address", "Address the ADS gRPC server listens on.").Default("0.0.0.0:18000").String()
	adminAddress := app.Flag("admin-address", "Address the metrics/health HTTP server listens on.").Default("0.0.0.0:8002").String()
	advertiseAddress := app.Flag("advertise-address", "host:port Envoy should dial for this ADS server, baked into rendered bootstraps.").Required().String()
	logLevel := app.Flag("log-level", "Log level (panic|fatal|error|warn|info|debug|trace).").Default("info").String()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid --log-level")
	}
	log.SetLevel(level)

	repo := memstore.New()
	resources := cache.New()
	artifacts := bootstrap.NewArtifactStore()
	clk := clock.New()
	// The Materializer is the Management surface's engine; a caller
	// (out of scope here) drives it, but it must be constructed
	// alongside its dependents so the Repository, Cache and Artifact
	// Store stay consistent from process start.
	materializer.New(repo, resources, artifacts, clk, log.WithField("context", "materializer"), *advertiseAddress)

	authenticator := authn.New(repo, clk, log.WithField("context", "authn"))
	defer authenticator.Close()

	promRegistry := prometheus.NewRegistry()
	metricsRegistry := metrics.NewRegistry(promRegistry)

	grpcMetrics := grpc_prometheus.NewServerMetrics()
	promRegistry.MustRegister(grpcMetrics)

	adsServer := xds.NewServer(resources, repo, metricsRegistry, log.WithField("context", "xds"))

	var group workgroup.Group

	group.AddContext(func(ctx context.Context) {
		runADS(ctx, log.WithField("context", "ads"), *adsAddress, adsServer, grpcMetrics)
	})

	admin := &httpsvc.Service{
		Addr:        hostOf(*adminAddress),
		Port:        portOf(*adminAddress),
		FieldLogger: log.WithField("context", "admin"),
	}
	admin.Handle("/metrics", metrics.Handler(promRegistry))
	admin.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	group.AddContext(admin.Start)

	group.AddContext(func(ctx context.Context) {
		runIdempotencyJanitor(ctx, log.WithField("context", "idempotency-janitor"), repo)
	})

	group.AddContext(func(ctx context.Context) {
		runArtifactGC(ctx, log.WithField("context", "bootstrap-gc"), repo, artifacts)
	})

	// The signal watcher is the one task that returns on its own; its
	// return is what triggers workgroup.Group to cancel every other
	// task's context and unwind the process.
	group.Add(func(stop <-chan struct{}) error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case s := <-sig:
			log.WithField("signal", s.String()).Info("received shutdown signal")
		case <-stop:
		}
		return nil
	})

	if err := group.Run(); err != nil {
		log.WithError(err).Fatal("flowplane terminated with error")
	}
}

// runADS starts the ADS gRPC server and blocks until ctx is cancelled.
// Envoy holds long-lived hanging xDS streams, so like the teacher's
// setupXDSServer, shutdown is a forced Stop rather than GracefulStop.
func runADS(ctx context.Context, log logrus.FieldLogger, addr string, srv *xds.Server, grpcMetrics *grpc_prometheus.ServerMetrics) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		log.WithError(err).Error("failed to listen for ADS")
		return
	}

	g := grpc.NewServer(
		grpc.StreamInterceptor(grpcMetrics.StreamServerInterceptor()),
		grpc.UnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
	)
	xds.RegisterServer(srv, g, grpcMetrics)

	log.WithField("address", addr).Info("started ADS server")
	defer log.Info("stopped ADS server")

	go func() {
		<-ctx.Done()
		g.Stop()
	}()

	if err := g.Serve(l); err != nil {
		log.WithError(err).Error("ADS server exited with error")
	}
}

// runIdempotencyJanitor periodically reports the occupancy of the
// Repository's OperationID dedup table. The table is a fixed-size LRU
// that already evicts itself; there is nothing to sweep, so this task
// exists for observability rather than reclamation.
func runIdempotencyJanitor(ctx context.Context, log logrus.FieldLogger, repo *memstore.Store) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			log.WithField("entries", repo.IdempotencyTableLen()).Debug("idempotency table occupancy")
		case <-ctx.Done():
			return
		}
	}
}

// runArtifactGC periodically removes staged bootstrap artifacts whose
// URI is no longer referenced by any active definition (spec.md
// §4.5.2: a commit that never lands must not leak its staged artifact).
func runArtifactGC(ctx context.Context, log logrus.FieldLogger, repo *memstore.Store, artifacts *bootstrap.ArtifactStore) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap, err := repo.ListActive(ctx)
			if err != nil {
				log.WithError(err).Warn("failed to list active definitions for bootstrap GC")
				continue
			}
			active := make(map[string]bool, len(snap.Definitions))
			for _, d := range snap.Definitions {
				if d.BootstrapURI != "" {
					active[d.BootstrapURI] = true
				}
			}
			if removed := artifacts.GCOrphaned(active); removed > 0 {
				log.WithField("removed", removed).Info("garbage collected orphaned bootstrap artifacts")
			}
		case <-ctx.Done():
			return
		}
	}
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func portOf(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}
