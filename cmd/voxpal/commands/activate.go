package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voxpal/voxpal/pkg/ota"
)

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Register and activate the device, then exit",
	Long: `Register the device with the management backend and, if the backend
demands it, complete the challenge/response activation. Useful for
provisioning a device before first run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := &ota.Client{
			URL: cfg.OTA.URL,
			Identity: ota.NewIdentity(
				cfg.OTA.DeviceID,
				cfg.OTA.ClientID,
				cfg.OTA.SerialNumber,
				[]byte(cfg.OTA.HMACKey),
			),
			Board: cfg.OTA.Board,
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srvCfg, err := client.Bootstrap(ctx)
		if err != nil {
			return err
		}

		fmt.Println("device activated")
		if srvCfg.MQTT != nil {
			fmt.Printf("broker: %s\n", srvCfg.MQTT.Endpoint)
		}
		if srvCfg.Firmware != nil {
			fmt.Printf("firmware available: %s\n", srvCfg.Firmware.Version)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(activateCmd)
}
