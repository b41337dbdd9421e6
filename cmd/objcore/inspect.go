package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/l1jgo/objcore/internal/core/object"
	"github.com/l1jgo/objcore/internal/persist"
	"github.com/l1jgo/objcore/internal/scene"
	"github.com/l1jgo/objcore/internal/scripting"
	"github.com/spf13/cobra"
)

func runScripts(_ *cobra.Command, args []string) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()

	engine, err := scripting.NewEngine(rt.c, "", rt.log.Named("lua"))
	if err != nil {
		return err
	}
	defer engine.Close()

	for _, path := range args {
		if err := engine.RunFile(path); err != nil {
			return err
		}
		printOK(path)
	}
	for i := 0; i < collectRuns; i++ {
		rt.c.Collect()
	}
	rt.printHeap()

	if dumpPath != "" {
		if err := rt.dump(dumpPath, "script"); err != nil {
			return err
		}
		printOK("dumped roots to " + dumpPath)
	}
	return nil
}

func runScene(_ *cobra.Command, args []string) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()

	s, err := scene.LoadFile(rt.c, args[0])
	if err != nil {
		return err
	}
	printOK(fmt.Sprintf("scene %q: %d objects, %d roots", s.Name, len(s.Objects), len(s.Roots)))
	for i := 0; i < collectRuns; i++ {
		rep := rt.c.Collect()
		printOK(fmt.Sprintf("cycle %d: soft-killed %d, reclaimed %d, purged %d",
			rep.Cycle, rep.SoftKilled, rep.Reclaimed, rep.Purged))
	}
	rt.printHeap()

	if topN > 0 {
		printRetained(s, rt.c.RetainedSizes(), topN)
	}
	if dumpPath != "" {
		if err := rt.dump(dumpPath, s.Name); err != nil {
			return err
		}
		printOK("dumped scene to " + dumpPath)
	}
	return nil
}

func printRetained(s *scene.Scene, sizes map[object.Handle]int, n int) {
	ids := make(map[object.Handle]string, len(s.Objects))
	for id, m := range s.Objects {
		if object.IsValid(m) {
			ids[m.Base().Handle()] = id
		}
	}
	type entry struct {
		label string
		size  int
	}
	var list []entry
	for h, size := range sizes {
		label, ok := ids[h]
		if !ok {
			label = h.String()
		}
		list = append(list, entry{label, size})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].size != list[j].size {
			return list[i].size > list[j].size
		}
		return list[i].label < list[j].label
	})
	if len(list) > n {
		list = list[:n]
	}
	printSection("Retained")
	for _, e := range list {
		printStat(e.label, e.size)
	}
	fmt.Println()
}

func runCycles(cmd *cobra.Command, _ []string) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()
	if !rt.cfg.Database.Enabled {
		return fmt.Errorf("database is disabled in the config")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	db, err := persist.Open(ctx, rt.cfg.Database, rt.log.Named("db"))
	if err != nil {
		return err
	}
	defer db.Close()

	repo := persist.NewCycleRepo(db)
	if objectGUID != "" {
		id, err := uuid.Parse(objectGUID)
		if err != nil {
			return fmt.Errorf("--guid: %w", err)
		}
		trail, err := repo.History(ctx, id)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		printSection(id.String())
		for _, line := range trail {
			fmt.Println("  " + line)
		}
		return nil
	}

	rows, err := repo.Recent(ctx, cycleLimit)
	if err != nil {
		return fmt.Errorf("load cycles: %w", err)
	}
	printSection("Cycles")
	for _, r := range rows {
		fmt.Printf("  %s  %s #%-5d marked %-6d killed %-5d reclaimed %-5d tracked %-6d %s\n",
			r.StartedAt.Format(time.DateTime), r.RunID.String()[:8], r.Cycle,
			r.Marked, r.SoftKilled, r.Reclaimed, r.Tracked, r.Duration)
	}
	return nil
}
