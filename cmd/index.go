package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"document-qa/internal/chromemdb"
	"document-qa/internal/embedding"
	"document-qa/internal/helper"
	"document-qa/internal/models"
	"document-qa/internal/parser"
)

func newIndexCmd() *cobra.Command {
	var filePath, out string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build an encrypted index snapshot for 'serve --snapshot'",
		Example: `  docqa index --file ./data/rockets.csv --out ./snapshots/rockets.gob.gz.enc`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), filePath, out)
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "Path to the CSV or XLSX document")
	cmd.Flags().StringVar(&out, "out", "", "Snapshot file to write")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func runIndex(ctx context.Context, filePath, out string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.RAG.EncryptionKey) != 32 {
		return errors.New("rag.encryption_key must be 32 bytes to export a snapshot")
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer f.Close()

	filename := filepath.Base(filePath)
	text, err := parser.LoadText(filename, f, cfg.RAG.TextColumn)
	if err != nil {
		return err
	}
	chunks, err := parser.ChunkText(text, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return err
	}
	chunkEmbeddings, err := embedding.GenerateEmbedding(ctx, embedder, filename, chunks)
	if err != nil {
		return err
	}

	m, err := chromemdb.NewIndexer(embedder, cfg.RAG.EncryptionKey).Build(ctx, models.DefaultSessionID, chunkEmbeddings)
	if err != nil {
		return err
	}
	if err := helper.CreateParentFolder(out); err != nil {
		return err
	}
	if err := m.Export(out); err != nil {
		return err
	}
	log.Info().Str("out", out).Int("documents", m.Count()).Msg("Exported index snapshot")
	return nil
}
