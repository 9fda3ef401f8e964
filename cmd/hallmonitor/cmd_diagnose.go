package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/hallmonitor/internal/inputlock"
	"github.com/user/hallmonitor/internal/sysinfo"
)

func init() {
	rootCmd.AddCommand(diagnoseCmd)
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Inspect input devices and host telemetry locally",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		manager := inputlock.NewManager(inputlock.NewDirectory())
		diagnosis, err := manager.Diagnose()
		if err != nil {
			return fmt.Errorf("diagnose input devices: %w", err)
		}

		out := map[string]any{"input": diagnosis}
		if stats, err := sysinfo.Collect(); err == nil {
			out["system"] = stats
		} else {
			fmt.Fprintf(os.Stderr, "Warning: telemetry unavailable: %v\n", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}
