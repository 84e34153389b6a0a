package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"songBot/internal/app/runtime"
	"songBot/internal/infrastructure/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot and the local control surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ll := logging.GetLogger(logging.AppModule)
		rt, err := runtime.New(ctx, runtime.Options{Config: cfg})
		if err != nil {
			return errors.Wrap(err, "can not build runtime")
		}
		defer rt.Close()

		ll.Info("iniciando bot")
		if err := rt.Run(ctx); err != nil {
			return err
		}
		ll.Info("bot apagado")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
