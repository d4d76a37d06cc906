package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voxelsync.dev/internal/persistence/snapshot"
	"voxelsync.dev/internal/server"
	"voxelsync.dev/internal/sim/terrain"
	"voxelsync.dev/internal/sim/tuning"
	"voxelsync.dev/internal/transport"
	"voxelsync.dev/internal/transport/udp"
	"voxelsync.dev/internal/transport/ws"
)

func main() {
	var (
		udpAddr    = flag.String("udp", ":7777", "udp listen address (empty to disable)")
		httpAddr   = flag.String("addr", ":8080", "http listen address for /v1/ws and /metrics (empty to disable)")
		worldName  = flag.String("world", "world_1", "world directory name under <data>/worlds")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")
		sentryDSN  = flag.String("sentry_dsn", os.Getenv("SENTRY_DSN"), "sentry dsn for crash reports (empty to disable)")
		debug      = flag.Bool("debug", false, "log every dropped datagram")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	if dsn := strings.TrimSpace(*sentryDSN); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: os.Getenv("DEPLOY_ENV"),
		}); err != nil {
			logger.Printf("sentry init: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldName)
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		p, ok, err := snapshot.Latest(snapshotDir(worldDir))
		if err != nil {
			logger.Fatalf("scan snapshots: %v", err)
		}
		if ok {
			snapshotToLoad = p
		}
	}

	var (
		grid    *terrain.Grid
		worldID string
		resume  *snapshot.Header
	)
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		grid, err = snap.Grid(true)
		if err != nil {
			logger.Fatalf("restore snapshot %s: %v", snapshotToLoad, err)
		}
		// The world keeps running with the constants it was created with.
		tune = snap.Tuning
		worldID = snap.Header.WorldID
		resume = &snap.Header
		logger.Printf("resumed world=%s from snapshot=%s tick=%d", worldID, filepath.Base(snapshotToLoad), snap.Header.Tick)
	} else {
		grid, err = server.NewWorld(tune)
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
		worldID = uuid.NewString()
		logger.Printf("generated world=%s dims=%v seed=%d", worldID, grid.Dims(), tune.Gen.Seed)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := server.NewMetrics(reg)

	conn := transport.NewMux()
	if *udpAddr != "" {
		uc, err := udp.Listen(*udpAddr, udp.Options{
			Queue:      tune.Net.IngressQueue,
			RatePerSec: tune.Net.IngressRatePerSec,
			Burst:      tune.Net.IngressBurst,
			Logger:     logger,
		})
		if err != nil {
			logger.Fatalf("udp listen: %v", err)
		}
		conn.Add("udp", uc)
		logger.Printf("udp listening on %s", uc.LocalAddr())
	}
	var wsl *ws.Listener
	if *httpAddr != "" {
		wsl = ws.NewListener(ws.Options{
			Queue:      tune.Net.IngressQueue,
			RatePerSec: tune.Net.IngressRatePerSec,
			Burst:      tune.Net.IngressBurst,
			Logger:     logger,
		})
		conn.Add("ws", wsl)
	}
	if *udpAddr == "" && wsl == nil {
		logger.Fatalf("no transport enabled: set -udp or -addr")
	}
	defer conn.Close()

	srv, err := server.New(conn, grid, server.Config{
		Tuning:  tune,
		WorldID: worldID,
		Logger:  logger,
		Metrics: metrics,
		Debug:   *debug,
	})
	if err != nil {
		logger.Fatalf("server: %v", err)
	}
	if resume != nil {
		srv.Resume(resume.Tick, resume.Cycle)
	}

	p, err := openPersister(worldDir, worldID, *dataDir, *disableDB, logger)
	if err != nil {
		logger.Fatalf("persistence: %v", err)
	}
	defer p.Close()
	if p.idx != nil {
		if err := p.idx.UpsertTuning(worldID, tune); err != nil {
			logger.Printf("index: upsert tuning: %v", err)
		}
	}
	srv.SetTickLogger(p.tickLoggers())
	srv.SetAuditLogger(p.auditLoggers())
	registerRuntimeGauges(reg, conn, p)

	ctx, cancel := signalContext()
	defer cancel()

	snapCh := make(chan snapshot.SnapshotV1, 2)
	srv.SetSnapshotSink(snapCh)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for snap := range snapCh {
			if err := p.writeSnapshot(snap); err != nil {
				logger.Printf("snapshot write: %v", err)
			}
		}
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		defer reportPanic()
		if err := srv.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("server stopped: %v", err)
		}
	}()

	var httpSrv *http.Server
	if *httpAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(200)
			_, _ = rw.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		mux.HandleFunc("/v1/ws", wsl.Handler())
		httpSrv = &http.Server{
			Addr:              *httpAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("http listening on %s", *httpAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("ListenAndServe: %v", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	logger.Printf("shutting down at tick=%d", srv.CurrentTick())
	if httpSrv != nil {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpSrv.Shutdown(ctx2)
		cancel2()
	}
	<-loopDone

	// The loop is stopped; nothing else sends on snapCh.
	close(snapCh)
	<-writerDone
	if err := p.writeSnapshot(srv.ExportSnapshot()); err != nil {
		logger.Printf("final snapshot: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// reportPanic forwards a crash of the simulation goroutine to sentry, then
// lets it continue unwinding.
func reportPanic() {
	if r := recover(); r != nil {
		sentry.CurrentHub().Recover(r)
		sentry.Flush(2 * time.Second)
		panic(r)
	}
}
