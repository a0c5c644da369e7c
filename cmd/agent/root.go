package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/textlogger"

	"github.com/scoutflo/remote-exec-agent/internal/identity"
	"github.com/scoutflo/remote-exec-agent/internal/subexec"
	"github.com/scoutflo/remote-exec-agent/internal/supervisor"
	"github.com/scoutflo/remote-exec-agent/internal/transport"
)

// Version is the agent build version, set at link time by the release
// build (-ldflags "-X ...Version=...") in real deployments.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "agent [options]",
	Short: "Remote-execution agent for the observability fleet",
	Long: `
Remote-execution agent for the observability fleet

  # show this help
  agent -h

  # connect to a control plane and start serving RemoteExecute
  agent --server control-plane.example.com:9443

  # override the reconnect backoff and log level
  agent --server control-plane.example.com:9443 --retry-interval 5s --log-level 4`,
	Run: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("version") {
			fmt.Println(Version)
			return
		}
		initLogging()
		run()
	},
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and quit")
	rootCmd.Flags().IntP("log-level", "", 2, "Set the log level (from 0 to 9)")
	rootCmd.Flags().StringP("server", "", "", "Control-plane address (host:port)")
	rootCmd.Flags().StringP("agent-id", "", "", "Durable agent identity token (generated if unset)")
	rootCmd.Flags().DurationP("retry-interval", "", 3*time.Second, "Base delay between reconnect attempts (RPC_RETRY_INTERVAL)")
	_ = viper.BindPFlags(rootCmd.Flags())
	viper.SetEnvPrefix("AGENT")
	viper.AutomaticEnv()
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}

func initLogging() {
	logLevel := viper.GetInt("log-level")
	if logLevel < 0 {
		logLevel = 2
	}

	config := textlogger.NewConfig(
		textlogger.Output(os.Stderr),
		textlogger.Verbosity(logLevel),
	)
	logger := textlogger.NewLogger(config)
	klog.SetLoggerWithOptions(logger)

	flagSet := flag.NewFlagSet("agent", flag.ContinueOnError)
	klog.InitFlags(flagSet)
	if err := flagSet.Parse([]string{"--v", strconv.Itoa(logLevel)}); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing log level: %v\n", err)
	}

	klog.V(0).Infof("Logging initialized with level %d", logLevel)
}

func run() {
	server := viper.GetString("server")
	if server == "" {
		klog.Errorf("no --server configured, cannot reach the control plane")
		os.Exit(1)
	}

	id := identity.New()
	if token := viper.GetString("agent-id"); token != "" {
		id.Set(token)
	}

	tm := transport.New(func() (string, error) {
		return server, nil
	})

	retryInterval := viper.GetDuration("retry-interval")
	sup := supervisor.New(tm, id, subexec.OwnPID(), retryInterval, 8)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		klog.V(0).Infof("received signal %v, shutting down", sig)
		sup.Stop()
		cancel()
	}()

	go func() {
		for fault := range sup.Faults() {
			klog.Warningf("transport fault at %s: %v", fault.When.Format(time.RFC3339), fault.Err)
		}
	}()

	if err := sup.Run(ctx); err != nil {
		klog.Errorf("supervisor exited: %v", err)
		os.Exit(1)
	}
}
