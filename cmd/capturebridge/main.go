package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucentview/capturebridge/internal/capture"
	"github.com/lucentview/capturebridge/internal/config"
	"github.com/lucentview/capturebridge/internal/logging"
	"github.com/lucentview/capturebridge/internal/server"
	"github.com/lucentview/capturebridge/internal/winenum"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "capturebridge",
	Short: "CaptureBridge window capture service",
	Long:  `CaptureBridge - streams compositor window captures to local consumers over WebSocket and named pipe`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the capture bridge service",
	Run: func(cmd *cobra.Command, args []string) {
		serve()
	},
}

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List capturable top-level windows",
	Run: func(cmd *cobra.Command, args []string) {
		listWindows()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default config file",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		written, err := config.WriteDefault(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", written)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("CaptureBridge v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the platform config dir)")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(windowsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Validate()
	logging.Init(cfg.LogFormat, cfg.LogLevel, nil)
	log := logging.L("main")

	srv := server.New(server.Config{
		ListenAddr: cfg.ListenAddr,
		StreamFPS:  cfg.StreamFPS,
	}, func(windowHandle uint64) (server.FrameSource, error) {
		opts := capture.DefaultOptions()
		opts.MaxResolution = capture.ResolutionCap{MaxWidth: cfg.MaxWidth, MaxHeight: cfg.MaxHeight}
		opts.VrrEnabled = cfg.VrrEnabled
		opts.BorderRequired = cfg.BorderRequired
		return capture.NewSession(uintptr(windowHandle), opts)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PipeName != "" {
		pipe := server.NewPipeServer(srv, cfg.PipeName)
		go func() {
			if err := pipe.Run(ctx); err != nil && err != capture.ErrNotSupported {
				log.Warn("pipe server stopped", "error", err)
			}
		}()
	}

	log.Info("starting", "version", version, "addr", cfg.ListenAddr)
	if err := srv.Run(ctx); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func listWindows() {
	windows, err := winenum.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to enumerate windows: %v\n", err)
		os.Exit(1)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HANDLE\tPID\tPROCESS\tTITLE")
	for _, w := range windows {
		fmt.Fprintf(tw, "0x%X\t%d\t%s\t%s\n", w.Handle, w.PID, w.Process, w.Title)
	}
	tw.Flush()
}
