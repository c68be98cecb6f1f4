package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

type discoverFlags struct {
	categories []string
	maxResults int
	runID      string
}

func newDiscoverCmd() *cobra.Command {
	var flags discoverFlags
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Finds competitor listings and writes each category's urls.json",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDiscoverCommand(cmd, flags)
		},
	}
	cmd.Flags().StringSliceVar(&flags.categories, "categories", nil, "categories to search (default from config, else all)")
	cmd.Flags().IntVar(&flags.maxResults, "max-results", 0, "cap per category (default from config)")
	cmd.Flags().StringVar(&flags.runID, "run-id", "", "run id (generated when empty)")
	return cmd
}

type discoverOutput struct {
	RunID string                       `json:"run_id"`
	URLs  map[market.Category][]string `json:"urls"`
}

func runDiscoverCommand(cmd *cobra.Command, flags discoverFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := appInstance.Config.RequireDiscoveryCredentials(); err != nil {
		return err
	}

	labels := flags.categories
	if len(labels) == 0 {
		labels = appInstance.Config.Pipeline.Categories
	}
	cats, err := market.ParseCategories(labels)
	if err != nil {
		return err
	}
	maxResults := flags.maxResults
	if maxResults <= 0 {
		maxResults = appInstance.Config.Pipeline.MaxResults
	}
	runID := flags.runID
	if runID == "" {
		if runID, err = appInstance.IDs.NewID(); err != nil {
			return fmt.Errorf("generate run id: %w", err)
		}
	}

	urls, err := appInstance.Pipeline.Discover(cmd.Context(), runID, cats, maxResults)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), discoverOutput{RunID: runID, URLs: urls})
}
