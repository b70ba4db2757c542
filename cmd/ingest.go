package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/app"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/ingest"
)

var ingestFlags struct {
	inputDir     string
	maxChars     int
	overlapChars int
	reset        bool
	embedRate    float64
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index a document tree into the knowledge store",
	Long: `Ingest scans the input directory for text, markdown, HTML and PDF
files, infers department and clearance metadata from their paths, chunks and
embeds them, and replaces or extends the indexed dataset in one atomic batch.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runIngest(cmd)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFlags.inputDir, "input-dir", "data/raw", "directory tree to ingest")
	ingestCmd.Flags().IntVar(&ingestFlags.maxChars, "max-chars", 1200, "chunk character budget")
	ingestCmd.Flags().IntVar(&ingestFlags.overlapChars, "overlap-chars", 200, "characters of overlap between consecutive chunks")
	ingestCmd.Flags().BoolVar(&ingestFlags.reset, "reset", false, "delete the existing dataset before ingesting")
	ingestCmd.Flags().Float64Var(&ingestFlags.embedRate, "embed-rate", 0, "max embedder calls per second (0 = unlimited)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := cmd.Context()
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing application", "error", err)
		}
	}()

	stats, err := a.Pipeline.Run(ctx, ingest.Options{
		InputDir:     ingestFlags.inputDir,
		MaxChars:     ingestFlags.maxChars,
		OverlapChars: ingestFlags.overlapChars,
		Reset:        ingestFlags.reset,
		EmbedRate:    ingestFlags.embedRate,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Ingestion complete\n")
	fmt.Fprintf(cmd.OutOrStdout(), "- Documents: %d\n", stats.Documents)
	fmt.Fprintf(cmd.OutOrStdout(), "- Chunks:    %d\n", stats.Chunks)
	fmt.Fprintf(cmd.OutOrStdout(), "- Backend:   %s\n", cfg.StoreBackend)
	return nil
}
