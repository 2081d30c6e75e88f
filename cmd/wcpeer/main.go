// Command wcpeer plays either end of a WalletConnect session from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/spf13/cobra"

	"github.com/pedrouid/walletconnect-v1-prototype/connector"
	"github.com/pedrouid/walletconnect-v1-prototype/internal/logctx"
	"github.com/pedrouid/walletconnect-v1-prototype/storage"
	"github.com/pedrouid/walletconnect-v1-prototype/storage/file"
	"github.com/pedrouid/walletconnect-v1-prototype/transport/wstransport"
)

// config is read from the environment; flags override it.
type config struct {
	// RelayURL of the bridge. ENV: WC_RELAY_URL
	RelayURL string `env:"WC_RELAY_URL,default=http://localhost:5000"`
	// RelayToken for relays that require admission. ENV: WC_RELAY_TOKEN
	RelayToken string `env:"WC_RELAY_TOKEN"`
	// StoreDir holds session records. ENV: WC_STORE_DIR
	StoreDir string `env:"WC_STORE_DIR"`
	// Passphrase seals session records at rest. ENV: WC_STORE_PASSPHRASE
	Passphrase string `env:"WC_STORE_PASSPHRASE"`
	// CallTimeout bounds each call. ENV: WC_CALL_TIMEOUT
	CallTimeout time.Duration `env:"WC_CALL_TIMEOUT,default=2m"`
	// LogLevel is one of debug, info, warn, error. ENV: WC_LOG_LEVEL
	LogLevel string `env:"WC_LOG_LEVEL,default=warn"`
}

var (
	cfg       config
	relayFlag string
	log       *slog.Logger
	store     storage.Storage
)

func main() {
	root := &cobra.Command{
		Use:           "wcpeer",
		Short:         "WalletConnect dapp and wallet peer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
				return err
			}
			if relayFlag != "" {
				cfg.RelayURL = relayFlag
			}
			if cfg.StoreDir == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				cfg.StoreDir = filepath.Join(home, ".wcpeer")
			}

			var lvl slog.Level
			if err := lvl.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
				return fmt.Errorf("bad log level %q: %w", cfg.LogLevel, err)
			}
			log = logctx.New(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

			var opts []file.Option
			if cfg.Passphrase != "" {
				opts = append(opts, file.WithPassphrase(cfg.Passphrase))
			}
			st, err := file.New(cfg.StoreDir, opts...)
			if err != nil {
				return err
			}
			store = st
			return nil
		},
	}
	root.PersistentFlags().StringVar(&relayFlag, "relay", "", "relay url (overrides WC_RELAY_URL)")
	root.AddCommand(dappCmd(), walletCmd(), forgetCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wcpeer:", err)
		os.Exit(1)
	}
}

// attach dials the session's bridge and starts the receive loop. The returned
// channel yields Run's error.
func attach(ctx context.Context, c *connector.Connector) (<-chan error, error) {
	tr, err := wstransport.Dial(ctx, c.Session().Bridge, wstransport.WithToken(cfg.RelayToken), wstransport.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx, tr); err != nil {
		_ = tr.Close()
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
		_ = tr.Close()
	}()
	return done, nil
}

func forgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget [dapp|wallet]",
		Short: "Drop a stored session without notifying the peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case dappStorageKey, walletStorageKey:
			default:
				return fmt.Errorf("unknown role %q", args[0])
			}
			return store.Remove(cmd.Context(), args[0])
		},
	}
}
