// Database lifecycle and maintenance commands.
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/devstore/internal/manager"
	"github.com/mesh-intelligence/devstore/internal/registry"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the device databases",
	Long:  `Create the data directory and initialize the device database schema.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer shutdownQuietly(reg)

		if _, err := reg.Open(cmd.Context(), registry.KindDevices); err != nil {
			return err
		}
		cmd.Printf("Initialized device database at %s\n", reg.Path(registry.KindDevices))
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database health",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer shutdownQuietly(reg)

		d, err := reg.Open(cmd.Context(), registry.KindDevices)
		if err != nil {
			return err
		}
		if err := d.Manager().HealthCheck(cmd.Context()); err != nil {
			return fmt.Errorf("unhealthy: %w", err)
		}
		cmd.Println("ok")
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer shutdownQuietly(reg)

		d, err := reg.Open(cmd.Context(), registry.KindDevices)
		if err != nil {
			return err
		}
		stats, err := d.Statistics(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(stats, func() {
			cmd.Printf("Cameras:        %d (%d online)\n", stats.TotalCameras, stats.OnlineCameras)
			cmd.Printf("Database size:  %d bytes\n", stats.DatabaseBytes)
			cmd.Printf("Queries:        %d total, %d failed, avg %s\n",
				stats.Queries.TotalQueries, stats.Queries.FailedQueries, stats.Queries.AvgQueryTime)
			for mfr, n := range stats.ByManufacturer {
				cmd.Printf("  %-20s %d\n", mfr, n)
			}
		})
	},
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run database maintenance (checkpoint, vacuum, analyze)",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer shutdownQuietly(reg)

		d, err := reg.Open(cmd.Context(), registry.KindDevices)
		if err != nil {
			return err
		}
		if err := d.Manager().Optimize(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("Database optimized")
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup [dest]",
	Short: "Write an online backup of the device database",
	Long: `Write a transactionally consistent snapshot of the device database.
With no destination a timestamped file is created next to the live database.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer shutdownQuietly(reg)

		d, err := reg.Open(cmd.Context(), registry.KindDevices)
		if err != nil {
			return err
		}

		dest := manager.BackupName(reg.Path(registry.KindDevices), time.Now())
		if len(args) == 1 {
			dest = args[0]
		}
		if err := d.Manager().Backup(cmd.Context(), dest); err != nil {
			return err
		}
		cmd.Printf("Backed up to %s\n", dest)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-file>",
	Short: "Replace the device database with a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer shutdownQuietly(reg)

		d, err := reg.Open(cmd.Context(), registry.KindDevices)
		if err != nil {
			return err
		}
		if err := d.Manager().Restore(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("Restored from %s\n", args[0])
		return nil
	},
}

// shutdownQuietly closes the registry, ignoring close errors after the
// command's own result is already decided.
func shutdownQuietly(reg *registry.Registry) {
	_ = reg.Shutdown()
}
