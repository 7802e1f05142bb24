// Command network_listener runs one node of the passive available-bandwidth
// estimator: it captures traffic on the configured interfaces, tracks TCP
// flows, estimates per-link available bandwidth, and streams telemetry to a
// collector.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kjetilom/network-listener/cmd/internal/cmderr"
	"github.com/kjetilom/network-listener/internal/config"
	"github.com/kjetilom/network-listener/internal/node"
	"github.com/kjetilom/network-listener/internal/printer"
)

var (
	configPath string
	interfaces []string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "network_listener",
	Short:         "Passive available-bandwidth estimator node.",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the TOML configuration file")
	rootCmd.Flags().StringArrayVarP(&interfaces, "iface", "i", nil, "capture interface (repeatable); overrides the config file's interfaces list")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
}

func main() {
	if cmd, err := rootCmd.ExecuteC(); err != nil {
		code := 1
		if exitErr, ok := err.(cmderr.ExitError); ok {
			code = exitErr.Code
		} else {
			cmd.Println(cmd.UsageString())
		}
		printer.Errorf("%s\n", err)
		os.Exit(code)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if verbose {
		viper.Set("debug", true)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return cmderr.Config(err)
	}
	if len(interfaces) > 0 {
		cfg.Interfaces = interfaces
	}

	ctx, err := node.NewContext(cfg, os.Getpid())
	if err != nil {
		return cmderr.Capture(err)
	}

	n, err := node.New(ctx)
	if err != nil {
		return cmderr.Capture(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		received := <-sig
		printer.Infof("received %v, shutting down...\n", received)
		cancel()
	}()

	if err := n.Run(runCtx); err != nil {
		return cmderr.RPCInit(err)
	}
	return nil
}
