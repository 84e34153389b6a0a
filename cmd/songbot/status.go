package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"songBot/internal/app/runtime"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored identity, token validity and settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		rt, err := runtime.New(ctx, runtime.Options{Config: cfg})
		if err != nil {
			return errors.Wrap(err, "can not build runtime")
		}
		defer rt.Close()

		creds, err := rt.Secrets().LoadTwitchCredentials(ctx)
		if err != nil {
			return err
		}
		reauth, err := rt.Settings().GetReauthNeeded(ctx)
		if err != nil {
			return err
		}
		commandsOn, err := rt.Settings().GetCommandsEnabled(ctx)
		if err != nil {
			return err
		}
		control, err := rt.EnsureControlToken(ctx)
		if err != nil {
			return err
		}

		validity := "no token"
		if creds.HasToken() {
			_, valid, err := rt.ValidateStoredToken(ctx)
			switch {
			case err != nil:
				validity = "unknown (" + err.Error() + ")"
			case valid:
				validity = "valid"
			default:
				validity = "rejected"
			}
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "client id configured\t%t\n", cfg.HasClientID())
		fmt.Fprintf(w, "bot account\t%s\n", orDash(creds.BotUsername))
		fmt.Fprintf(w, "bot user id\t%s\n", orDash(creds.BotUserID))
		fmt.Fprintf(w, "channel\t%s\n", orDash(creds.ChannelID))
		fmt.Fprintf(w, "token\t%s\n", validity)
		fmt.Fprintf(w, "reauth needed\t%t\n", reauth)
		fmt.Fprintf(w, "commands enabled\t%t\n", commandsOn)
		fmt.Fprintf(w, "control api\thttp://%s (token %s)\n", cfg.HTTPAddr, control)
		return w.Flush()
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
