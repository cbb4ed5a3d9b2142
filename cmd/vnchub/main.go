package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ercoshn4-droid/vnc-server/internal/client"
	"github.com/ercoshn4-droid/vnc-server/internal/config"
	"github.com/ercoshn4-droid/vnc-server/internal/hub"
	"github.com/ercoshn4-droid/vnc-server/internal/protocol"
)

var hubFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:   "vnchub",
		Short: "Relay hub between remote devices and their controllers",
	}
	rootCmd.PersistentFlags().StringVar(&hubFlag, "hub", "", "Hub base URL (default from config or http://127.0.0.1:8080)")

	rootCmd.AddCommand(
		serveCmd(),
		statusCmd(),
		devicesCmd(),
		sendCmd(),
		listenCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// serveCmd
// ---------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(dataDir())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if listen != "" {
				cfg.Listen = listen
			}

			level, err := cfg.SlogLevel()
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			go func() {
				<-sigCh
				fmt.Fprintln(os.Stderr, "[vnchub] shutting down...")
				cancel()
			}()

			return hub.Run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config)")

	return cmd
}

// ---------------------------------------------------------------------------
// statusCmd
// ---------------------------------------------------------------------------

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show hub status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveClient()
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("status: %s\n", st.Status)
			fmt.Printf("server time: %s\n", time.UnixMilli(st.ServerTime).Format(time.RFC3339))
			fmt.Printf("devices: %d\n", st.Devices)
			fmt.Printf("active sessions: %d\n", st.ActiveSessions)
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// devicesCmd
// ---------------------------------------------------------------------------

func devicesCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List registered devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveClient()
			if err != nil {
				return err
			}
			devices, err := c.Devices(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(devices)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DEVICE ID\tNAME\tANDROID\tIP\tONLINE\tLAST SEEN")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n",
					d.DeviceID, d.DeviceName, d.AndroidVersion, d.IPAddress,
					d.Online, time.UnixMilli(d.LastSeen).Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------------------------------------------------------------------------
// sendCmd
// ---------------------------------------------------------------------------

func sendCmd() *cobra.Command {
	var payload string

	cmd := &cobra.Command{
		Use:   "send <device-id> <command>",
		Short: "Send a command to a device (fire-and-forget)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveClient()
			if err != nil {
				return err
			}
			if err := c.SendCommand(cmd.Context(), args[0], args[1], payload); err != nil {
				return err
			}
			fmt.Printf("sent %q to %s\n", args[1], args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "", "Command payload")

	return cmd
}

// ---------------------------------------------------------------------------
// listenCmd — connect as a controller and print hub events
// ---------------------------------------------------------------------------

func listenCmd() *cobra.Command {
	var frames bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect as a controller and print hub events",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveClient()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			go func() {
				<-sigCh
				cancel()
			}()

			return c.Listen(ctx, func(msg protocol.Message) {
				switch msg.Type {
				case protocol.TypeDeviceList:
					fmt.Printf("devices: %d registered\n", len(msg.Devices))
					for _, d := range msg.Devices {
						fmt.Printf("  %s (%s) online=%v\n", d.DeviceID, d.DeviceName, d.Online)
					}
				case protocol.TypeScreenData:
					// Frames are bulky; print them only on request.
					if frames {
						fmt.Printf("screen_data %s: %d bytes ts=%d\n", msg.DeviceID, len(msg.Image), msg.Timestamp)
					}
				default:
					out, _ := json.Marshal(msg)
					fmt.Println(string(out))
				}
			})
		},
	}

	cmd.Flags().BoolVar(&frames, "frames", false, "Also print screen frame events")

	return cmd
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func dataDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		fmt.Fprintln(os.Stderr, "[vnchub] WARNING: $HOME is not set, using /tmp/.vnchub")
		return "/tmp/.vnchub"
	}
	return filepath.Join(home, ".vnchub")
}

// resolveClient picks the hub URL from --hub, then config/env.
func resolveClient() (*client.Client, error) {
	if hubFlag != "" {
		return client.New(hubFlag), nil
	}
	cfg, err := config.Load(dataDir())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if !strings.HasPrefix(cfg.HubURL, "http") {
		return nil, fmt.Errorf("hub URL must be http(s), got %q", cfg.HubURL)
	}
	return client.New(cfg.HubURL), nil
}
