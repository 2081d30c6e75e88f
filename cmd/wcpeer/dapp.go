package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pedrouid/walletconnect-v1-prototype/connector"
)

const dappStorageKey = "dapp"

func dappCmd() *cobra.Command {
	var (
		sign string
		kill bool
	)
	cmd := &cobra.Command{
		Use:   "dapp",
		Short: "Start or resume a session and print its URI",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := connector.New(
				connector.WithBridge(cfg.RelayURL),
				connector.WithStorage(store),
				connector.WithStorageKey(dappStorageKey),
				connector.WithCallTimeout(cfg.CallTimeout),
				connector.WithLogger(log),
				connector.WithClientMeta(connector.ClientMeta{
					Name:        "wcpeer",
					Description: "WalletConnect terminal dapp",
					Icons:       []string{},
				}),
			)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			connected := make(chan struct{}, 1)
			disconnected := make(chan string, 1)
			c.On(connector.EventConnect, func(ctx context.Context, ev connector.Event) {
				fmt.Fprintf(out, "connected: chain %d accounts %v\n", ev.Session.ChainID, ev.Session.Accounts)
				connected <- struct{}{}
			})
			c.On(connector.EventSessionUpdate, func(ctx context.Context, ev connector.Event) {
				fmt.Fprintf(out, "session updated: chain %d accounts %v\n", ev.Session.ChainID, ev.Session.Accounts)
			})
			c.On(connector.EventDisconnect, func(ctx context.Context, ev connector.Event) {
				disconnected <- ev.Session.Message
			})

			if err := c.Init(ctx); err != nil {
				return err
			}
			if !c.Connected() {
				fmt.Fprintln(out, c.URI())
			}
			done, err := attach(ctx, c)
			if err != nil {
				return err
			}

			if !c.Connected() {
				select {
				case <-connected:
				case msg := <-disconnected:
					return fmt.Errorf("session rejected: %s", msg)
				case err := <-done:
					return err
				}
			}

			if sign != "" {
				accounts := c.Accounts()
				if len(accounts) == 0 {
					return fmt.Errorf("peer shared no accounts")
				}
				res, err := c.SignPersonalMessage(ctx, sign, accounts[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "signature: %s\n", res)
			}
			if kill {
				return c.KillSession(ctx, "")
			}

			select {
			case msg := <-disconnected:
				fmt.Fprintf(out, "disconnected: %s\n", msg)
				return nil
			case err := <-done:
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		},
	}
	cmd.Flags().StringVar(&sign, "sign", "", "ask the wallet to personal_sign this message once connected")
	cmd.Flags().BoolVar(&kill, "kill", false, "end the session after any requested call")
	return cmd
}
