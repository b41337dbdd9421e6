package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/l1jgo/objcore/internal/core/event"
	coresys "github.com/l1jgo/objcore/internal/core/system"
	"github.com/l1jgo/objcore/internal/persist"
	"github.com/l1jgo/objcore/internal/scene"
	"github.com/l1jgo/objcore/internal/scripting"
	"github.com/l1jgo/objcore/internal/system"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runLoop(cmd *cobra.Command, _ []string) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, log := rt.cfg, rt.log

	printBanner(cfg.Server.Name)
	printSection("Types")
	printStat("Registered types", rt.reg.Count())
	fmt.Println()

	// 1. Scene
	if cfg.Scene.Path != "" {
		s, err := scene.LoadFile(rt.c, cfg.Scene.Path)
		if err != nil {
			return err
		}
		printOK(fmt.Sprintf("scene %q: %d objects, %d roots", s.Name, len(s.Objects), len(s.Roots)))
	}

	// 2. Scripts
	engine, err := scripting.NewEngine(rt.c, cfg.Scripting.Dir, log.Named("lua"))
	if err != nil {
		return err
	}
	defer engine.Close()
	printOK(fmt.Sprintf("scripts loaded from %s (on_tick: %t)", cfg.Scripting.Dir, engine.HasTick()))

	// 3. Database
	bus := event.NewBus()
	runner := coresys.NewRunner()
	var persistSys *system.PersistenceSystem
	if cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		db, err := persist.Open(ctx, cfg.Database, log.Named("db"))
		cancel()
		if err != nil {
			return err
		}
		defer db.Close()
		repo := persist.NewCycleRepo(db)
		persistSys = system.NewPersistenceSystem(rt.c, repo, log, cfg.Database.FlushEvery)
		runner.Register(persistSys)
		printOK(fmt.Sprintf("database ready (run %s)", repo.RunID()))
	}

	// 4. Systems
	gcSys := system.NewGCSystem(rt.c, bus, log, cfg.GC.CollectEvery, cfg.GC.EmitObjectEvents)
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(system.NewScriptSystem(engine, log))
	runner.Register(gcSys)

	event.Subscribe(bus, func(e event.CycleCompleted) {
		log.Info("gc cycle",
			zap.Uint64("cycle", e.Cycle),
			zap.Int("soft_killed", e.SoftKilled),
			zap.Int("reclaimed", e.Reclaimed),
			zap.Int("tracked", e.Tracked),
			zap.Duration("took", e.Duration),
		)
	})
	event.Subscribe(bus, func(e event.ObjectSoftKilled) {
		log.Debug("object soft-killed", zap.String("type", e.Type), zap.String("name", e.Name), zap.Stringer("handle", e.Handle))
	})

	// 5. Tick loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdownCh)

	ticker := time.NewTicker(cfg.Server.TickRate)
	defer ticker.Stop()

	fmt.Println()
	printSection("Ready")
	rt.serveMetrics()
	printReady(fmt.Sprintf("tick loop started (tick: %s, collect every %d)", cfg.Server.TickRate, cfg.GC.CollectEvery))
	fmt.Println()

	stop := func(reason string) error {
		log.Info("stopping", zap.String("reason", reason), zap.Uint64("ticks", runner.Ticks()))
		if persistSys != nil {
			persistSys.Flush()
		}
		if cfg.Scene.DumpPath != "" {
			if err := rt.dump(cfg.Scene.DumpPath, cfg.Server.Name); err != nil {
				log.Error("scene dump failed", zap.Error(err))
			}
		}
		gcSys.Quiesce()
		if persistSys != nil {
			persistSys.Flush()
		}
		rt.printHeap()
		return nil
	}

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Server.TickRate)
			if cfg.Server.MaxTicks > 0 && runner.Ticks() >= cfg.Server.MaxTicks {
				return stop("max ticks reached")
			}
		case sig := <-shutdownCh:
			return stop(sig.String())
		case <-cmd.Context().Done():
			return stop("context cancelled")
		}
	}
}
