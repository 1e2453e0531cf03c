package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSkyCam/internal/capture"
	"github.com/KevinKickass/OpenSkyCam/internal/config"
	"github.com/KevinKickass/OpenSkyCam/internal/protocol"
)

var (
	cameraRole   string
	cameraDevice string
)

// addCameraFlags gives a maintenance command --role and --device.
func addCameraFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&cameraRole, "role", "r", config.RoleNight, "Camera role from the configuration (day or night)")
	cmd.Flags().StringVarP(&cameraDevice, "device", "d", "", "Device, overrides --role")
}

// camera is the per-command context for maintenance commands.
type camera struct {
	cfg        *config.Config
	logger     *zap.Logger
	controller *capture.Controller
	device     string
}

func openCamera() (*camera, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, err
	}

	device := cameraDevice
	if device == "" {
		dev, ok := cfg.Cameras.Role(cameraRole)
		if !ok {
			return nil, fmt.Errorf("unknown role %q", cameraRole)
		}
		device = dev.Device
	}

	return &camera{
		cfg:        cfg,
		logger:     logger,
		controller: capture.NewController(capture.OptionsFromConfig(cfg.Camera), logger),
		device:     device,
	}, nil
}

func (c *camera) close() {
	c.controller.Close()
	c.logger.Sync()
}

func (c *camera) do(ctx context.Context, fn func(*protocol.Driver) error) error {
	return c.controller.Do(ctx, c.device, fn)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var checkCommunicationsCmd = &cobra.Command{
	Use:   "check-communications",
	Short: "Autobaud and run the communications test",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCamera()
		if err != nil {
			return err
		}
		defer c.close()

		ctx := cmd.Context()
		return c.do(ctx, func(d *protocol.Driver) error {
			ok, err := d.CheckCommunications(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("communications test failed at %d baud", d.BaudRate())
			}
			fmt.Printf("OK at %d baud\n", d.BaudRate())
			return nil
		})
	},
}

var getVersionCmd = &cobra.Command{
	Use:   "get-version",
	Short: "Print serial number and firmware version",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCamera()
		if err != nil {
			return err
		}
		defer c.close()

		info, err := c.controller.Identify(cmd.Context(), c.device)
		if err != nil {
			return err
		}
		return printJSON(info)
	},
}

var setBaudRateCmd = &cobra.Command{
	Use:   "set-baudrate RATE",
	Short: "Switch the camera to a new line rate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rate, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid rate %q: %w", args[0], err)
		}

		c, err := openCamera()
		if err != nil {
			return err
		}
		defer c.close()

		ctx := cmd.Context()
		return c.do(ctx, func(d *protocol.Driver) error {
			if err := d.SetBaudRate(ctx, rate); err != nil {
				return err
			}
			fmt.Printf("Camera now at %d baud\n", d.BaudRate())
			return nil
		})
	},
}

var shutterCmd = &cobra.Command{
	Use:       "shutter open|close",
	Short:     "Open or close the shutter",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"open", "close"},
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCamera()
		if err != nil {
			return err
		}
		defer c.close()

		ctx := cmd.Context()
		return c.do(ctx, func(d *protocol.Driver) error {
			if args[0] == "open" {
				return d.OpenShutter(ctx)
			}
			return d.CloseShutter(ctx)
		})
	},
}

var heaterCmd = &cobra.Command{
	Use:       "heater on|off",
	Short:     "Switch the dew heater",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCamera()
		if err != nil {
			return err
		}
		defer c.close()

		return c.controller.SetHeater(cmd.Context(), c.device, args[0] == "on")
	},
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Take a single frame and store it with a sidecar",
	RunE:  runCapture,
}

func init() {
	for _, cmd := range []*cobra.Command{checkCommunicationsCmd, getVersionCmd, setBaudRateCmd, shutterCmd, heaterCmd, captureCmd} {
		addCameraFlags(cmd)
	}

	captureCmd.Flags().Float64P("exposure", "e", 1.0, "Exposure time in seconds")
	captureCmd.Flags().Bool("dark", false, "Take a dark frame with the shutter closed")
	captureCmd.Flags().StringP("output", "o", "", "Output file (default <role>-<timestamp>.raw)")
}

func runCapture(cmd *cobra.Command, args []string) error {
	seconds, _ := cmd.Flags().GetFloat64("exposure")
	dark, _ := cmd.Flags().GetBool("dark")
	out, _ := cmd.Flags().GetString("output")

	c, err := openCamera()
	if err != nil {
		return err
	}
	defer c.close()

	img, err := c.controller.Capture(cmd.Context(), c.device, seconds, dark)
	if err != nil {
		return err
	}

	if out == "" {
		out = fmt.Sprintf("%s-%s.raw", cameraRole, img.Timestamp.UTC().Format("20060102T150405Z"))
	}
	if err := capture.SaveImage(out, img); err != nil {
		return fmt.Errorf("failed to save %s: %w", out, err)
	}

	c.logger.Info("Frame saved",
		zap.String("path", out),
		zap.String("device", c.device),
		zap.Float64("exposure", img.Exposure),
		zap.Bool("dark", img.Dark),
		zap.Duration("age", time.Since(img.Timestamp)))

	return printJSON(map[string]any{
		"id":        img.ID,
		"path":      out,
		"timestamp": img.Timestamp,
		"exposure":  img.Exposure,
		"dark":      img.Dark,
	})
}
