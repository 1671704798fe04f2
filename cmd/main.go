package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"document-qa/internal/config"
)

const configFilePath = "./configs/config.yaml"

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "docqa",
		Short:         "Ask questions about an uploaded CSV document",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", configFilePath, "Path to the YAML config file")

	cmd.AddCommand(newServeCmd(), newAskCmd(), newIndexCmd())
	return cmd
}

// loadConfig reads the config file and applies its log level
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("level", cfg.Log.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Debug().Interface("config", redacted(cfg)).Msg("Loaded config")
	return cfg, nil
}

func redacted(cfg *config.Config) config.Config {
	c := *cfg
	for _, llm := range []*config.LLMConfig{&c.EmbedLLM, &c.ChatLLM} {
		if llm.Key != "" {
			llm.Key = "***"
		}
	}
	if c.RAG.EncryptionKey != "" {
		c.RAG.EncryptionKey = "***"
	}
	if c.Database.DSN != "" {
		c.Database.DSN = "***"
	}
	return c
}
