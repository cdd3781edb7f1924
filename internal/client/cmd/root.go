package cmd

import (
	"log"
	"os"

	"github.com/rudransh-shrivastava/peerlink/internal/config"
	"github.com/rudransh-shrivastava/peerlink/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfg        config.Config
	configPath string
	lg         *logrus.Logger
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:          `peerlink`,
	Long:         `peerlink sends files between two peers over a WebRTC data channel, using a small websocket relay for signaling`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			c.Log.Level = logLevel
		}
		l, err := logger.NewWithLevel(c.Log.Level)
		if err != nil {
			return err
		}
		cfg, lg = c, l
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(historyCmd)
}
