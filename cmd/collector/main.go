// Command collector hosts the Scheduler/Collector ingest service: it
// accepts ClientDataService streams from any node and routes payloads
// into an in-memory Sink. External persistence is out of scope; this
// binary exists so the ingest surface itself is runnable and testable
// end to end.
package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/kjetilom/network-listener/internal/collector"
	"github.com/kjetilom/network-listener/internal/printer"
	"github.com/kjetilom/network-listener/internal/rpcpb"
)

var listenAddr string

var rootCmd = &cobra.Command{
	Use:           "collector",
	Short:         "Ingest endpoint for network_listener telemetry streams.",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          run,
}

func init() {
	flags := pflag.NewFlagSet("collector", pflag.ContinueOnError)
	flags.StringVar(&listenAddr, "listen", ":7800", "address to accept ClientDataService streams on")
	rootCmd.Flags().AddFlagSet(flags)
}

func main() {
	if _, err := rootCmd.ExecuteC(); err != nil {
		printer.Errorf("%s\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}

	sink := collector.NewMemorySink()
	ingest := collector.NewIngest(sink)

	srv := grpc.NewServer()
	srv.RegisterService(&rpcpb.ClientDataService_ServiceDesc, ingest)

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		received := <-sig
		printer.Infof("collector: received %v, stopping...\n", received)
		srv.GracefulStop()
	}()

	printer.Infof("collector: listening on %s\n", listenAddr)
	return srv.Serve(lis)
}
