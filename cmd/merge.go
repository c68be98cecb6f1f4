package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gumgenie-scout/internal/app"
	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

type mergeFlags struct {
	runID           string
	categories      []string
	reviewsDisabled bool
}

func newMergeCmd() *cobra.Command {
	var flags mergeFlags
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Re-merges an existing run's chunks and rewrites insights.json",
		Long: `Lists the chunk files already written for a run, merges them per
category and stage, and rebuilds the insights report. No remote calls are made.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMergeCommand(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.runID, "run-id", "", "run to merge")
	cmd.Flags().StringSliceVar(&flags.categories, "categories", nil, "categories to merge (default from the run summary, else all)")
	cmd.Flags().BoolVar(&flags.reviewsDisabled, "reviews-disabled", false, "mark reviews as disabled in the report")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}

type mergeOutput struct {
	RunID        string            `json:"run_id"`
	InsightsPath string            `json:"insights_path"`
	Digests      map[string]string `json:"merged_digests"`
}

func runMergeCommand(cmd *cobra.Command, flags mergeFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	summary, found, err := readSummary(ctx, appInstance, flags.runID)
	if err != nil {
		return err
	}

	var cats []market.Category
	switch {
	case len(flags.categories) > 0:
		if cats, err = market.ParseCategories(flags.categories); err != nil {
			return err
		}
	case found:
		for _, c := range market.AllCategories() {
			if _, ok := summary.Discovered[c]; ok {
				cats = append(cats, c)
			}
		}
	default:
		cats = market.AllCategories()
	}

	reviewsOff := flags.reviewsDisabled || !appInstance.Config.Pipeline.ReviewsEnabled ||
		(found && summary.ReviewStatus == market.ReviewsDisabled)

	res, err := appInstance.Pipeline.Report(ctx, flags.runID, cats, summary.Results, nil, reviewsOff)
	if err != nil {
		return fmt.Errorf("merge run %s: %w", flags.runID, err)
	}
	appInstance.Logger.Info("merge finished",
		zap.String("run_id", flags.runID),
		zap.Int("categories", len(cats)),
		zap.String("insights", res.Path),
	)
	return printJSON(cmd.OutOrStdout(), mergeOutput{
		RunID:        flags.runID,
		InsightsPath: res.Path,
		Digests:      res.Digests,
	})
}

// readSummary loads the run's summary.json when one was written.
func readSummary(ctx context.Context, a *app.App, runID string) (market.RunSummary, bool, error) {
	data, err := a.Store.GetObject(ctx, a.Layout.Summary(runID))
	if errors.Is(err, market.ErrNotFound) {
		return market.RunSummary{}, false, nil
	}
	if err != nil {
		return market.RunSummary{}, false, fmt.Errorf("read summary: %w", err)
	}
	var summary market.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return market.RunSummary{}, false, fmt.Errorf("decode summary: %w", err)
	}
	return summary, true, nil
}
