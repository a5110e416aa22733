package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"splinter/configs"
	"splinter/transport"
)

var (
	configPath string
	debug      bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "splinterd",
		Short: "splinterd runs a splinter node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the node .properties file")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.AddCommand(versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the splinterd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("splinterd 0.1.0")
		},
	}
}

func runDaemon() error {
	cfg, err := configs.Load(configPath)
	if err != nil {
		return err
	}
	logger := configs.NewLogger(debug)
	defer logger.Sync()

	tp, err := buildTransport(cfg)
	if err != nil {
		return err
	}

	node, err := NewNode(cfg, logger, tp)
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	node.Shutdown()
	return nil
}

func buildTransport(cfg *configs.Config) (transport.Transport, error) {
	inner := []transport.Transport{
		transport.NewTCPTransport(),
		transport.NewInprocTransport(),
	}
	if cfg.TLSCertFile != "" {
		tls, err := transport.NewTLSTransport(transport.TLSConfig{
			CertFile:           cfg.TLSCertFile,
			KeyFile:            cfg.TLSKeyFile,
			CAFile:             cfg.TLSCAFile,
			RequireClientAuth:  cfg.TLSCAFile != "",
			InsecureSkipVerify: cfg.TLSInsecure,
		})
		if err != nil {
			return nil, err
		}
		inner = append(inner, tls)
	}
	return transport.NewMultiTransport(inner...), nil
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
