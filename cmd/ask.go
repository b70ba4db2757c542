package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/answer"
	"github.com/quarrylabs/quarry/internal/app"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/knowledge"
)

var askFlags struct {
	topK        int
	mode        string
	accessLevel int
	department  string
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Run a one-shot query against the knowledge store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd, args[0])
	},
}

func init() {
	askCmd.Flags().IntVar(&askFlags.topK, "top-k", answer.DefaultTopK, "number of passages to retrieve")
	askCmd.Flags().StringVar(&askFlags.mode, "mode", knowledge.ModeCitationsOnly, `answer mode: "citations_only" or "rag"`)
	askCmd.Flags().IntVar(&askFlags.accessLevel, "access-level", int(knowledge.AccessPublic), "caller clearance tier: 0 public, 1 internal, 2 restricted")
	askCmd.Flags().StringVar(&askFlags.department, "department", "", "restrict results to one department")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, question string) error {
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

	var filters map[string]string
	if askFlags.department != "" {
		filters = map[string]string{"department": askFlags.department}
	}

	resp, err := a.Engine.Ask(ctx, answer.Request{
		Query:          question,
		TopK:           askFlags.topK,
		Filters:        filters,
		Mode:           askFlags.mode,
		MaxAccessLevel: knowledge.AccessLevel(askFlags.accessLevel),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Answer (%s):\n%s\n", resp.Mode, resp.Answer)
	if len(resp.Results) > 0 {
		fmt.Fprintf(out, "\nSources:\n")
		for _, r := range resp.Results {
			fmt.Fprintf(out, "- [chunk:%d] %s (%s, %s) score=%.4f\n",
				r.ChunkID, r.Citation.Title, r.Citation.Department, r.Citation.AccessLevel, r.Score)
		}
	}
	return nil
}
