package main

import (
	"os"

	"github.com/spf13/cobra"

	"songBot/internal/infrastructure/config"
	"songBot/internal/infrastructure/logging"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "songbot",
	Short:         "Twitch now-playing chat bot",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		logging.Setup(cfg.LogLevel)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.GetLogger(logging.AppModule).WithError(err).Error("songbot failed")
		os.Exit(1)
	}
}
