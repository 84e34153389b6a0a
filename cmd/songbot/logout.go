package main

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"songBot/internal/app/runtime"
)

var forgetChannel bool

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored Twitch credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		rt, err := runtime.New(ctx, runtime.Options{Config: cfg})
		if err != nil {
			return errors.Wrap(err, "can not build runtime")
		}
		defer rt.Close()

		if err := rt.Secrets().ClearTwitch(ctx); err != nil {
			return err
		}
		if forgetChannel {
			if err := rt.Secrets().DeleteTwitchChannelID(ctx); err != nil {
				return err
			}
		}
		if err := rt.Settings().SetReauthNeeded(ctx, false); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Twitch credentials removed")
		return nil
	},
}

func init() {
	logoutCmd.Flags().BoolVar(&forgetChannel, "forget-channel", false, "also forget the saved channel")
	rootCmd.AddCommand(logoutCmd)
}
