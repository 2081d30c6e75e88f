package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pedrouid/walletconnect-v1-prototype/connector"
	"github.com/pedrouid/walletconnect-v1-prototype/jsonrpc"
)

const walletStorageKey = "wallet"

func walletCmd() *cobra.Command {
	var (
		uri      string
		chainID  int64
		accounts []string
		reject   bool
	)
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Join a session from a wc: URI, or resume the stored one",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := []connector.Option{
				connector.WithBridge(cfg.RelayURL),
				connector.WithStorage(store),
				connector.WithStorageKey(walletStorageKey),
				connector.WithLogger(log),
				connector.WithClientMeta(connector.ClientMeta{
					Name:        "wcpeer",
					Description: "WalletConnect terminal wallet",
					Icons:       []string{},
				}),
			}
			if uri != "" {
				opts = append(opts, connector.WithURI(uri))
			}
			c, err := connector.New(opts...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			disconnected := make(chan string, 1)
			c.On(connector.EventSessionRequest, func(ctx context.Context, ev connector.Event) {
				name := "unknown peer"
				if ev.Peer.PeerMeta != nil {
					name = ev.Peer.PeerMeta.Name + " (" + ev.Peer.PeerMeta.URL + ")"
				}
				if reject {
					fmt.Fprintf(out, "rejecting session from %s\n", name)
					if err := c.RejectSession(ctx, ""); err != nil {
						log.ErrorContext(ctx, "wallet.reject_failed", "err", err)
					}
					return
				}
				fmt.Fprintf(out, "approving session from %s\n", name)
				if err := c.ApproveSession(ctx, chainID, accounts); err != nil {
					log.ErrorContext(ctx, "wallet.approve_failed", "err", err)
				}
			})
			c.On(connector.EventCallRequest, func(ctx context.Context, ev connector.Event) {
				fmt.Fprintf(out, "call %s %s: rejected\n", ev.Request.Method, ev.Request.Params)
				if err := c.RejectRequest(ctx, ev.Request.ID, jsonrpc.NewError(jsonrpc.ErrorCodeServerError, "User rejected request")); err != nil {
				log.ErrorContext(ctx, "wallet.reject_request_failed", "err", err)
			}
			})
			c.On(connector.EventDisconnect, func(ctx context.Context, ev connector.Event) {
				disconnected <- ev.Session.Message
			})

			if err := c.Init(ctx); err != nil {
				return err
			}
			if uri == "" && c.State() == connector.StateDisconnected {
				return errors.New("no stored session; pass --uri")
			}
			if c.Connected() {
				fmt.Fprintf(out, "resumed session with %s\n", c.PeerID())
			}
			// A request received in an earlier run is answered here.
			resumedPending := c.State() == connector.StatePendingHandshake && c.PeerID() != ""
			done, err := attach(ctx, c)
			if err != nil {
				return err
			}
			if resumedPending {
				if reject {
					err = c.RejectSession(ctx, "")
				} else {
					err = c.ApproveSession(ctx, chainID, accounts)
				}
				if err != nil {
					return err
				}
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
	cmd.Flags().StringVar(&uri, "uri", "", "wc: URI printed by the dapp")
	cmd.Flags().Int64Var(&chainID, "chain-id", 1, "chain id to approve with")
	cmd.Flags().StringSliceVar(&accounts, "account", nil, "account to share (repeatable)")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the session request")
	return cmd
}
