package cmd

import (
	"github.com/ragworks/ragline/pkg/util"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ragline",
	Short: "A CLI tool for turning bulk content into vector embeddings",
	Long: `ragline turns content sources (channel videos, URLs, documents) into
chunked, embedded vectors stored in a configured vector database, and
exports the results in multiple formats.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger := util.NewLogger(zerolog.ErrorLevel)
		logger.Fatal().Err(err)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	logger := util.NewLogger(zerolog.ErrorLevel)
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("No .env file found, using process environment")
	}
}
