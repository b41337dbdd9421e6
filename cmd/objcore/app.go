package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/l1jgo/objcore/internal/config"
	"github.com/l1jgo/objcore/internal/core/alloc"
	"github.com/l1jgo/objcore/internal/core/gc"
	"github.com/l1jgo/objcore/internal/core/meta"
	"github.com/l1jgo/objcore/internal/core/object"
	"github.com/l1jgo/objcore/internal/scene"
	"github.com/l1jgo/objcore/internal/world"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// app holds the state every subcommand shares.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	reg     *meta.Registry
	c       *gc.Collector
	blocks  *alloc.BlockAllocator // nil for the heap allocator
	prom    *prometheus.Registry
	metrics *http.Server
}

func bootstrap() (*app, error) {
	cfg, err := config.Load(config.Resolve(configPath))
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	rt := &app{cfg: cfg, log: log, prom: prometheus.NewRegistry()}
	rt.prom.MustRegister(collectors.NewGoCollector())

	rt.reg = meta.NewRegistry(object.ManagedType)
	world.Register(rt.reg)

	opts := []gc.Option{
		gc.WithMetrics(gc.NewMetrics(rt.prom)),
		gc.WithPurge(cfg.GC.PurgeStaleReferences),
		gc.WithCapacity(cfg.GC.InitialCapacity),
	}
	if cfg.Allocator.Kind == "block" {
		rt.blocks = alloc.NewBlockAllocator(cfg.Allocator.MaxBytes)
		opts = append(opts, gc.WithAllocator(rt.blocks))
		rt.prom.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "objcore_alloc_bytes_in_use",
			Help: "Bytes handed out by the block allocator.",
		}, func() float64 { return float64(rt.blocks.InUse()) }))
	}
	rt.c = gc.New(rt.reg, log.Named("gc"), opts...)
	return rt, nil
}

// serveMetrics exposes the registry on cfg.Metrics.BindAddress when enabled.
func (rt *app) serveMetrics() {
	if !rt.cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.prom, promhttp.HandlerOpts{Registry: rt.prom}))
	rt.metrics = &http.Server{
		Addr:              rt.cfg.Metrics.BindAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := rt.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	printReady(fmt.Sprintf("metrics on http://%s/metrics", rt.cfg.Metrics.BindAddress))
}

func (rt *app) close() {
	if rt.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rt.metrics.Shutdown(ctx)
	}
	_ = rt.log.Sync()
}

// roots returns the currently pinned objects.
func (rt *app) roots() []object.Managed {
	var out []object.Managed
	rt.c.ForEach(func(m object.Managed) bool {
		if rt.c.IsRoot(m) {
			out = append(out, m)
		}
		return true
	})
	return out
}

func (rt *app) dump(path, name string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := scene.Dump(f, name, rt.roots()...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// printHeap prints per-type counts of valid objects and the allocator state.
func (rt *app) printHeap() {
	counts := map[string]int{}
	rt.c.ForEach(func(m object.Managed) bool {
		if object.IsValid(m) {
			counts[m.Base().Type().Name()]++
		}
		return true
	})
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)

	printSection("Heap")
	printStat("Tracked objects", rt.c.ObjectCount())
	printStat("Roots", rt.c.RootCount())
	printStat("Cycles", int(rt.c.Cycle()))
	for _, n := range names {
		printStat("  "+n, counts[n])
	}
	if rt.blocks != nil {
		printStat("Allocator bytes in use", int(rt.blocks.InUse()))
		for _, s := range rt.blocks.Stats() {
			printStat(fmt.Sprintf("  %s/%d free", s.Type, s.Class), s.Free)
		}
	}
	fmt.Println()
}
