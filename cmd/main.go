package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"airwave/internal/airwave"
	_ "airwave/pkg/codec/opus"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	station    int
	codec      string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "airwave",
		Short: "Live audio stations over a pub/sub media transport",
		Long: `airwave publishes audio stations as paced track/group/frame streams with a
companion clock track, and relays them to browser listeners over websockets.
Late joiners are fast-forwarded to the live edge using the clock track.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default configs/default.yaml)")
	cmd.PersistentFlags().IntVarP(&flags.station, "station", "s", 0, "station index (overrides config)")
	cmd.PersistentFlags().StringVar(&flags.codec, "codec", "", "codec: opus or raw (overrides config)")

	cmd.AddCommand(
		publishCmd(flags),
		subscribeCmd(flags),
		listenCmd(flags),
		runCmd(flags),
	)
	return cmd
}

func publishCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish the station playlist in real time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRole(flags, airwave.RolePublish, nil)
		},
	}
}

func subscribeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe",
		Short: "Follow the station and relay it to websocket listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRole(flags, airwave.RoleSubscribe, nil)
		},
	}
}

func listenCmd(flags *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Follow the station and write raw PCM (s16le, 48 kHz, stereo) to a file",
		Long: `Follow the station and write decoded audio as raw interleaved 16-bit
little-endian stereo PCM at 48 kHz.

Examples:
  airwave listen -o station1.pcm
  airwave listen -o - | ffplay -f s16le -ar 48000 -ac 2 -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "-" {
				return runRole(flags, airwave.RoleListen, os.Stdout)
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create output: %w", err)
			}
			defer func() {
				if err := f.Close(); err != nil {
					slog.Error("Error closing output", "err", err)
				}
			}()
			return runRole(flags, airwave.RoleListen, f)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout")
	return cmd
}

func runCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Publish and relay the station in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRole(flags, airwave.RoleRun, nil)
		},
	}
}

func runRole(flags *globalFlags, role airwave.Role, out io.Writer) error {
	config, err := airwave.LoadConfig(flags.configPath)
	if err != nil {
		return err
	}
	if flags.station > 0 {
		config.Station.Index = flags.station
	}
	if flags.codec != "" {
		config.Station.Codec = flags.codec
	}

	// Logs go to stderr so stdout stays free for PCM.
	airwave.InitLogger(config, os.Stderr)

	server, err := airwave.NewServer(config)
	if err != nil {
		slog.Error("Failed to create server", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, role, out); err != nil {
		slog.Error("Server stopped with error", "role", role, "err", err)
		return err
	}
	slog.Info("Server shutdown complete")
	return nil
}
