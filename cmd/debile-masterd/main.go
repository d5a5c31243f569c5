// Command debile-masterd is the RPC server program of spec.md §6's "serve":
// it binds the mutually authenticated TLS listener, runs internal/scheduler
// over it, and runs internal/reaper's periodic reclaim passes alongside.
// Grounded on original_source/debile/master/cli.py's server() entry point
// (init_master(args.config) then debile.master.server.main), re-expressed
// as a cobra command via internal/cli the way every mantle/cmd/* program
// bootstraps.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coreos/debile/internal/cli"
	"github.com/coreos/debile/internal/config"
	"github.com/coreos/debile/internal/journallog"
	"github.com/coreos/debile/internal/reaper"
	"github.com/coreos/debile/internal/scheduler"
	"github.com/coreos/debile/internal/store"
)

var (
	configPath      string
	dispatchTimeout string
)

func main() {
	root := &cobra.Command{
		Use:   "debile-masterd",
		Short: "Run the debile RPC server.",
		RunE:  runServe,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to the debile YAML config file.")
	root.Flags().StringVar(&dispatchTimeout, "dispatch-timeout", "", "Reclaim timeout for stuck dispatches (e.g. \"2h\"); empty disables that reaper pass.")

	cli.Execute(root)
}

func runServe(cmd *cobra.Command, args []string) error {
	journallog.RegisterIfAvailable()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	s, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer s.Close()

	coord := scheduler.NewCoordinator(s)
	coord.KeyringPath = cfg.Keyring.SigningPath
	coord.TransportPath = cfg.Keyring.TransportPath
	if cfg.RetryGrace != "" {
		grace, err := time.ParseDuration(cfg.RetryGrace)
		if err != nil {
			return fmt.Errorf("debile-masterd: retry_grace: %w", err)
		}
		coord.RetryGrace = grace
	}

	ln, err := listenTLS(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reapCfg := reaper.Config{}
	if dispatchTimeout != "" {
		d, err := time.ParseDuration(dispatchTimeout)
		if err != nil {
			return fmt.Errorf("debile-masterd: --dispatch-timeout: %w", err)
		}
		reapCfg.DispatchTimeout = d
	}
	reap := reaper.New(s, reapCfg)
	go reap.Run(ctx)

	go func() {
		<-ctx.Done()
		coord.RequestDrain()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-coord.Done():
				return
			case <-ticker.C:
				coord.PollDrain()
			}
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- coord.Serve(ln) }()

	select {
	case <-ctx.Done():
		<-coord.Done()
		return <-serveErr
	case err := <-serveErr:
		return err
	}
}

// listenTLS builds the mutually authenticated listener spec.md §4.4
// requires: the server's own key pair, and a client CA pool built from the
// operator's transport trust anchor.
func listenTLS(cfg *config.Config) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("debile-masterd: load server certificate: %w", err)
	}

	caData, err := os.ReadFile(cfg.TLS.TrustAnchorPath)
	if err != nil {
		return nil, fmt.Errorf("debile-masterd: read trust anchor: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("debile-masterd: no certificates found in %s", cfg.TLS.TrustAnchorPath)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
	}

	return tls.Listen("tcp", cfg.ListenAddress, tlsConfig)
}
