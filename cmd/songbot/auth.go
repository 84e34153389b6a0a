package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"songBot/internal/app/runtime"
	"songBot/internal/domain"
)

var authChannel string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize the bot account with the Twitch device flow",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := runtime.New(ctx, runtime.Options{Config: cfg})
		if err != nil {
			return errors.Wrap(err, "can not build runtime")
		}
		defer rt.Close()

		authorizer, err := rt.NewAuthorizer()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		creds, err := authorizer.Authorize(ctx,
			func(state domain.DeviceCodeState) {
				fmt.Fprintf(out, "Open %s and enter the code %s\n", state.VerificationURI, state.UserCode)
			},
			func(status string) {
				fmt.Fprintln(cmd.ErrOrStderr(), status)
			},
		)
		if err != nil {
			return errors.Wrap(err, "authorization failed")
		}
		fmt.Fprintf(out, "Authorized as %s\n", creds.BotUsername)

		if authChannel != "" {
			if err := rt.Secrets().SaveTwitchChannelID(ctx, authChannel); err != nil {
				return err
			}
			fmt.Fprintf(out, "Channel %s saved, `songbot run` will join it\n", authChannel)
		}
		return nil
	},
}

func init() {
	authCmd.Flags().StringVar(&authChannel, "channel", "", "channel to join on start")
	rootCmd.AddCommand(authCmd)
}
