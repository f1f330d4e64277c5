package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsora/pulsora-go"
	"github.com/pulsora/pulsora-go/internal/tokenfile"
)

func newListenCmd() *cobra.Command {
	var (
		deviceToken string
		platform    string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect to the push gateway and print incoming messages",
		Long: "Maintains a websocket connection to the push gateway, printing each\n" +
			"incoming message, until interrupted. If another process rewrites the\n" +
			"saved token file (for example `pulsora login`), the new tokens are\n" +
			"picked up without reconnecting.",
		RunE: func(_ *cobra.Command, _ []string) error {
			logger := buildLogger()

			if !resolvedCfg.Push.Enabled {
				return fmt.Errorf("push is disabled: set push.enabled in the config file")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := buildClient(logger)
			if err != nil {
				return err
			}
			defer client.Close()

			msgs, err := client.Listen(ctx)
			if err != nil {
				return err
			}

			// Pick up token rewrites from concurrent logins.
			tokenChanges, err := tokenfile.Watch(ctx, tokenPath(), logger)
			if err != nil {
				logger.Warn("token file watch unavailable", "error", err)
			}

			if deviceToken != "" {
				go registerWhenConnected(ctx, client, pulsora.DeviceToken{
					Value:    deviceToken,
					Platform: platform,
				}, logger.With("component", "register"))
			}

			statusf("Listening for messages. Ctrl-C to stop.\n")

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-tokenChanges:
					tok, _, err := tokenfile.Load(tokenPath())
					if err != nil || tok == nil {
						logger.Warn("reloading token file failed", "error", err)
						continue
					}
					client.SetTokens(tok.AccessToken, tok.RefreshToken)
					logger.Info("adopted rewritten token file")
				case msg := <-msgs:
					if flagJSON {
						if err := printJSON(msg); err != nil {
							logger.Warn("printing message failed", "error", err)
						}
						continue
					}
					statusf("[%s] %s: %s\n", msg.ID, msg.Title, msg.Body)
				}
			}
		},
	}

	cmd.Flags().StringVar(&deviceToken, "device-token", "", "push token to register once connected")
	cmd.Flags().StringVar(&platform, "platform", "", "device platform for --device-token (e.g. ios, android)")

	return cmd
}

// registerWhenConnected retries token registration until the gateway
// connection is up. The first write after a dial races the connect, so
// a short retry loop is simpler than exposing connection state.
func registerWhenConnected(ctx context.Context, client *pulsora.Client, token pulsora.DeviceToken, logger *slog.Logger) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := client.RegisterPushToken(ctx, token)
			if err == nil {
				logger.Info("device token registered")
				return
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warn("device token registration pending", "error", err)
		}
	}
}
