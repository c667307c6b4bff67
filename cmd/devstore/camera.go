// Camera record commands.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/devstore/internal/devicedb"
	"github.com/mesh-intelligence/devstore/internal/registry"
	"github.com/mesh-intelligence/devstore/pkg/types"
)

var cameraCmd = &cobra.Command{
	Use:   "camera",
	Short: "Manage camera records",
}

func init() {
	cameraCmd.AddCommand(cameraAddCmd)
	cameraCmd.AddCommand(cameraGetCmd)
	cameraCmd.AddCommand(cameraListCmd)
	cameraCmd.AddCommand(cameraRemoveCmd)
	cameraCmd.AddCommand(cameraSearchCmd)
	cameraCmd.AddCommand(cameraImportCmd)

	cameraAddCmd.Flags().StringVar(&flagCamName, "name", "", "camera name (required)")
	cameraAddCmd.Flags().StringVar(&flagCamSerial, "serial", "", "serial number (required)")
	cameraAddCmd.Flags().StringVar(&flagCamManufacturer, "manufacturer", "", "manufacturer")
	cameraAddCmd.Flags().StringVar(&flagCamVersion, "fw-version", "", "firmware version")
	cameraAddCmd.Flags().StringVar(&flagCamConnection, "connection", "", "connection type (usb, gige, ...)")

	cameraListCmd.Flags().IntVar(&flagPage, "page", 1, "page number")
	cameraListCmd.Flags().IntVar(&flagPageSize, "page-size", 50, "records per page")
	cameraListCmd.Flags().BoolVar(&flagAll, "all", false, "list every camera, ignoring paging")
}

var (
	flagCamName         string
	flagCamSerial       string
	flagCamManufacturer string
	flagCamVersion      string
	flagCamConnection   string
	flagPage            int
	flagPageSize        int
	flagAll             bool
)

// withDevices opens the devices database and runs fn against it.
func withDevices(cmd *cobra.Command, fn func(d *devicedb.DeviceDB) error) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer shutdownQuietly(reg)

	d, err := reg.Open(cmd.Context(), registry.KindDevices)
	if err != nil {
		return err
	}
	return fn(d)
}

var cameraAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a camera record",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevices(cmd, func(d *devicedb.DeviceDB) error {
			cam := types.CameraInfo{
				Name:           flagCamName,
				SerialNumber:   flagCamSerial,
				Manufacturer:   flagCamManufacturer,
				Version:        flagCamVersion,
				ConnectionType: flagCamConnection,
			}
			if err := d.AddCamera(cmd.Context(), &cam, nil); err != nil {
				return err
			}
			cmd.Printf("Added camera %d (%s)\n", cam.ID, cam.SerialNumber)
			return nil
		})
	},
}

var cameraGetCmd = &cobra.Command{
	Use:   "get <id-or-serial>",
	Short: "Show one camera with its config and status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevices(cmd, func(d *devicedb.DeviceDB) error {
			var rec devicedb.CameraRecord
			var err error
			if id, convErr := strconv.ParseInt(args[0], 10, 64); convErr == nil {
				rec, err = d.GetCamera(cmd.Context(), id)
			} else {
				rec, err = d.GetCameraBySerial(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return printResult(rec, func() {
				printCamera(cmd, rec.Info)
				if rec.Config != nil {
					cmd.Printf("  config: %s @ %.1f fps\n", rec.Config.Resolution, rec.Config.FrameRate)
				}
				if rec.Status != nil {
					cmd.Printf("  online: %t (heartbeat %s)\n", rec.Status.Online, rec.Status.LastHeartbeat)
				}
			})
		})
	},
}

var cameraListCmd = &cobra.Command{
	Use:   "list",
	Short: "List camera records",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevices(cmd, func(d *devicedb.DeviceDB) error {
			if flagAll {
				cams, err := d.AllCameras(cmd.Context())
				if err != nil {
					return err
				}
				return printResult(cams, func() {
					for _, cam := range cams {
						printCamera(cmd, cam)
					}
					cmd.Printf("%d cameras\n", len(cams))
				})
			}
			page, err := d.ListCameras(cmd.Context(), types.PageParams{
				PageIndex: flagPage,
				PageSize:  flagPageSize,
				OrderBy:   "name",
				Ascending: true,
			})
			if err != nil {
				return err
			}
			return printResult(page, func() {
				for _, cam := range page.Items {
					printCamera(cmd, cam)
				}
				cmd.Printf("%d cameras (page %d of %d)\n", page.TotalCount, page.Page, page.TotalPages)
			})
		})
	},
}

var cameraRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a camera and its config and status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid camera id %q", args[0])
		}
		return withDevices(cmd, func(d *devicedb.DeviceDB) error {
			if err := d.RemoveCamera(cmd.Context(), id); err != nil {
				return err
			}
			cmd.Printf("Removed camera %d\n", id)
			return nil
		})
	},
}

var cameraSearchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search cameras by name, serial, or manufacturer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevices(cmd, func(d *devicedb.DeviceDB) error {
			cams, err := d.SearchCameras(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(cams, func() {
				for _, cam := range cams {
					printCamera(cmd, cam)
				}
				cmd.Printf("%d matches\n", len(cams))
			})
		})
	},
}

var cameraImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Import cameras from a JSON array, atomically",
	Long: `Import camera records from a JSON file holding an array of cameras.
The batch is one transaction: a single bad record rolls back the whole
import.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read import file: %w", err)
		}
		var cams []types.CameraInfo
		if err := json.Unmarshal(data, &cams); err != nil {
			return fmt.Errorf("parse import file: %w", err)
		}
		return withDevices(cmd, func(d *devicedb.DeviceDB) error {
			if err := d.ImportCameras(cmd.Context(), cams); err != nil {
				return err
			}
			cmd.Printf("Imported %d cameras\n", len(cams))
			return nil
		})
	},
}

func printCamera(cmd *cobra.Command, cam types.CameraInfo) {
	cmd.Printf("%-6d %-24s %-16s %s\n", cam.ID, cam.Name, cam.SerialNumber, cam.Manufacturer)
}
