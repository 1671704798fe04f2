package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"document-qa/internal/helper"
	"document-qa/internal/models"
)

func newAskCmd() *cobra.Command {
	var filePath, query string
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Index a document and answer one question about it",
		Example: `  docqa ask --file ./data/rockets.csv --query "How do rockets reach orbit?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), filePath, query)
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "Path to the CSV or XLSX document")
	cmd.Flags().StringVar(&query, "query", "", "Question to be answered")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

type askOutput struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer"`
	Sources []models.Chunk `json:"sources"`
}

func runAsk(ctx context.Context, filePath, query string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	b, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer f.Close()

	res, err := b.svc.Process(ctx, models.DefaultSessionID, filepath.Base(filePath), f)
	if err != nil {
		return err
	}
	log.Info().Str("file", res.Filename).Int("chunks", res.Chunks).Msg("Indexed document")

	resp, err := b.svc.Ask(ctx, models.DefaultSessionID, query)
	if err != nil {
		return err
	}
	helper.PrettyPrint(os.Stdout, askOutput{Query: resp.Query, Answer: resp.Content, Sources: resp.Sources})
	return nil
}
