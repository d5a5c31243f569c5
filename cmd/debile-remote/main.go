// Command debile-remote is the user-only RPC wrapper program of spec.md
// §6's "remote": one subcommand per admin RPC, each reading a key/cert pair
// from disk and dialing debile-masterd over mutual TLS. Grounded on
// original_source/debile/utils/cli.py's COMMANDS table (create-slave,
// update-slave-keys, disable-slave, create-user, update-user-keys,
// disable-user, rerun-job, rerun-check, retry-failed), reimplemented
// against net/rpc+crypto/tls in place of the original's XML-RPC proxy.
package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/rpc"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/coreos/debile/internal/cli"
	"github.com/coreos/debile/internal/config"
	"github.com/coreos/debile/internal/scheduler"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "debile-remote",
		Short: "Administer a debile master over its RPC interface.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to the debile YAML config file.")

	root.AddCommand(
		createSlaveCmd(),
		updateSlaveKeysCmd(),
		disableSlaveCmd(),
		createUserCmd(),
		updateUserKeysCmd(),
		disableUserCmd(),
		rerunJobCmd(),
		rerunCheckCmd(),
		retryFailedCmd(),
	)

	cli.Execute(root)
}

// dial loads the config, reads the caller's own client certificate/key and
// the master's trust anchor, and opens a net/rpc client over a mutually
// authenticated TLS connection.
func dial() (*rpc.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("debile-remote: load client certificate: %w", err)
	}

	caData, err := os.ReadFile(cfg.TLS.TrustAnchorPath)
	if err != nil {
		return nil, fmt.Errorf("debile-remote: read trust anchor: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("debile-remote: no certificates found in %s", cfg.TLS.TrustAnchorPath)
	}

	conn, err := tls.Dial("tcp", cfg.ListenAddress, &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
	})
	if err != nil {
		return nil, fmt.Errorf("debile-remote: dial %s: %w", cfg.ListenAddress, err)
	}

	return rpc.NewClient(conn), nil
}

func readFile(label, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("debile-remote: read %s %s: %w", label, path, err)
	}
	return data, nil
}

func createSlaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-slave <name> <pgp-key> <ssl-cert>",
		Short: "Create a builder and import its signing key and transport certificate.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pgp, err := readFile("OpenPGP public key", args[1])
			if err != nil {
				return err
			}
			ssl, err := readFile("SSL client certificate", args[2])
			if err != nil {
				return err
			}

			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			var created scheduler.CreateBuilderReply
			if err := client.Call("Debile.CreateBuilder", scheduler.CreateBuilderArgs{Name: args[0]}, &created); err != nil {
				return err
			}

			var keys scheduler.UpdateBuilderKeysReply
			keysArgs := scheduler.UpdateBuilderKeysArgs{
				BuilderID:     created.Builder.ID,
				SigningKey:    pgp,
				TransportCert: ssl,
				TransportCN:   args[0],
			}
			if err := client.Call("Debile.UpdateBuilderKeys", keysArgs, &keys); err != nil {
				return err
			}
			fmt.Printf("builder %s: signing=%s transport=%s\n", args[0], keys.SigningFingerprint, keys.TransportFingerprint)
			return nil
		},
	}
}

func updateSlaveKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-slave-keys <builder-id> <pgp-key> <ssl-cert>",
		Short: "Replace a builder's signing key and transport certificate.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("debile-remote: builder id: %w", err)
			}
			pgp, err := readFile("OpenPGP public key", args[1])
			if err != nil {
				return err
			}
			ssl, err := readFile("SSL client certificate", args[2])
			if err != nil {
				return err
			}

			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			var reply scheduler.UpdateBuilderKeysReply
			keysArgs := scheduler.UpdateBuilderKeysArgs{BuilderID: id, SigningKey: pgp, TransportCert: ssl}
			if err := client.Call("Debile.UpdateBuilderKeys", keysArgs, &reply); err != nil {
				return err
			}
			fmt.Printf("signing=%s transport=%s\n", reply.SigningFingerprint, reply.TransportFingerprint)
			return nil
		},
	}
}

func disableSlaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable-slave <builder-id>",
		Short: "Prevent a builder from authenticating with the master.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("debile-remote: builder id: %w", err)
			}
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			var reply scheduler.DisableBuilderReply
			return client.Call("Debile.DisableBuilder", scheduler.DisableBuilderArgs{BuilderID: id}, &reply)
		},
	}
}

func createUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-user <username> <email> <pgp-key> <ssl-cert>",
		Short: "Create a user and import their signing key and transport certificate.",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			pgp, err := readFile("OpenPGP public key", args[2])
			if err != nil {
				return err
			}
			ssl, err := readFile("SSL client certificate", args[3])
			if err != nil {
				return err
			}

			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			var created scheduler.CreateUserReply
			createArgs := scheduler.CreateUserArgs{Username: args[0], Email: args[1]}
			if err := client.Call("Debile.CreateUser", createArgs, &created); err != nil {
				return err
			}

			var keys scheduler.UpdateUserKeysReply
			keysArgs := scheduler.UpdateUserKeysArgs{
				PersonID:       created.Person.ID,
				SigningKey:     pgp,
				TransportCert:  ssl,
				TransportEmail: args[1],
			}
			if err := client.Call("Debile.UpdateUserKeys", keysArgs, &keys); err != nil {
				return err
			}
			fmt.Printf("user %s: signing=%s transport=%s\n", args[0], keys.SigningFingerprint, keys.TransportFingerprint)
			return nil
		},
	}
}

func updateUserKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-user-keys <person-id> <pgp-key> <ssl-cert>",
		Short: "Replace a user's signing key and transport certificate.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("debile-remote: person id: %w", err)
			}
			pgp, err := readFile("OpenPGP public key", args[1])
			if err != nil {
				return err
			}
			ssl, err := readFile("SSL client certificate", args[2])
			if err != nil {
				return err
			}

			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			var reply scheduler.UpdateUserKeysReply
			keysArgs := scheduler.UpdateUserKeysArgs{PersonID: id, SigningKey: pgp, TransportCert: ssl}
			if err := client.Call("Debile.UpdateUserKeys", keysArgs, &reply); err != nil {
				return err
			}
			fmt.Printf("signing=%s transport=%s\n", reply.SigningFingerprint, reply.TransportFingerprint)
			return nil
		},
	}
}

func disableUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable-user <person-id>",
		Short: "Prevent a user from authenticating with the master.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("debile-remote: person id: %w", err)
			}
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			var reply scheduler.DisableUserReply
			return client.Call("Debile.DisableUser", scheduler.DisableUserArgs{PersonID: id}, &reply)
		},
	}
}

func rerunJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rerun-job <job-id>",
		Short: "Re-run a specific job.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("debile-remote: job id: %w", err)
			}
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			var reply scheduler.RerunJobReply
			return client.Call("Debile.RerunJob", scheduler.RerunJobArgs{JobID: id}, &reply)
		},
	}
}

func rerunCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rerun-check <check-name>",
		Short: "Re-run every eligible job of a check.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			var reply scheduler.RerunCheckReply
			if err := client.Call("Debile.RerunCheck", scheduler.RerunCheckArgs{CheckName: args[0]}, &reply); err != nil {
				return err
			}
			fmt.Printf("rescheduled %d job(s)\n", reply.Count)
			return nil
		},
	}
}

func retryFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Re-try every build job past the retry grace period.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			var reply scheduler.RetryFailedReply
			if err := client.Call("Debile.RetryFailed", scheduler.RetryFailedArgs{}, &reply); err != nil {
				return err
			}
			fmt.Printf("retried %d job(s)\n", reply.Count)
			return nil
		},
	}
}
