package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath  string
	logLevel    string
	collectRuns int
	dumpPath    string
	topN        int
	cycleLimit  int
	objectGUID  string

	rootCmd = &cobra.Command{
		Use:           "objcore",
		Short:         "Managed object runtime with a reflection-driven mark/sweep collector",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the tick loop: scripts, events, persistence and periodic collection",
		Args:  cobra.NoArgs,
		RunE:  runLoop, // Defined in run.go
	}

	scriptCmd = &cobra.Command{
		Use:   "script [file.lua...]",
		Short: "Execute Lua scripts against a fresh collector and report what survives",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runScripts, // Defined in inspect.go
	}

	sceneCmd = &cobra.Command{
		Use:   "scene [file.yaml]",
		Short: "Load a YAML scene, collect it and print reachability statistics",
		Args:  cobra.ExactArgs(1),
		RunE:  runScene, // Defined in inspect.go
	}

	cyclesCmd = &cobra.Command{
		Use:   "cycles",
		Short: "List recently stored collection cycles, or one object's casualty trail",
		Args:  cobra.NoArgs,
		RunE:  runCycles, // Defined in inspect.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $OBJCORE_CONFIG or config/objcore.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	scriptCmd.Flags().IntVar(&collectRuns, "collect", 2, "collection cycles to run after the scripts")
	scriptCmd.Flags().StringVar(&dumpPath, "dump", "", "write the surviving roots as a YAML scene")

	sceneCmd.Flags().IntVar(&collectRuns, "collect", 2, "collection cycles to run after loading")
	sceneCmd.Flags().StringVar(&dumpPath, "dump", "", "write the collected scene back as YAML")
	sceneCmd.Flags().IntVar(&topN, "top", 10, "objects to list by retained size")

	cyclesCmd.Flags().IntVar(&cycleLimit, "limit", 20, "rows to show")
	cyclesCmd.Flags().StringVar(&objectGUID, "guid", "", "show when the object with this GUID was soft-killed and reclaimed")

	rootCmd.AddCommand(runCmd, scriptCmd, sceneCmd, cyclesCmd)
}
