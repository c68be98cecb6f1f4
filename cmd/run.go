package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
	"github.com/JakeFAU/gumgenie-scout/internal/pipeline"
)

type runFlags struct {
	categories []string
	maxResults int
	urlsFile   string
	runID      string
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs discovery, scraping and the insights report",
		Long: `Discovers listings for each category, scrapes details and reviews in
bounded batches, then merges the chunks and writes insights.json.
With --urls-file, discovery is skipped and the listed URLs are scraped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRunCommand(cmd, flags)
		},
	}
	cmd.Flags().StringSliceVar(&flags.categories, "categories", nil, "categories to scout (default from config, else all)")
	cmd.Flags().IntVar(&flags.maxResults, "max-results", 0, "discovery cap per category (default from config)")
	cmd.Flags().StringVar(&flags.urlsFile, "urls-file", "", "JSON object of category label to URL list; skips discovery")
	cmd.Flags().StringVar(&flags.runID, "run-id", "", "run id (generated when empty)")
	return cmd
}

func runRunCommand(cmd *cobra.Command, flags runFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	opts := pipeline.RunOptions{RunID: flags.runID, MaxResults: flags.maxResults}
	if flags.urlsFile != "" {
		opts.URLs, err = readURLsFile(flags.urlsFile)
		if err != nil {
			return err
		}
	}
	labels := flags.categories
	if len(labels) == 0 && opts.URLs == nil {
		labels = appInstance.Config.Pipeline.Categories
	}
	if len(labels) > 0 {
		if opts.Categories, err = market.ParseCategories(labels); err != nil {
			return err
		}
	}

	summary, err := appInstance.Pipeline.Run(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), summary)
}

// readURLsFile parses {"AI_PROMPTS": ["https://…", …], …}.
func readURLsFile(path string) (map[market.Category][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read urls file: %w", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode urls file: %w", err)
	}
	urls := make(map[market.Category][]string, len(raw))
	for label, list := range raw {
		c, err := market.ParseCategory(label)
		if err != nil {
			return nil, fmt.Errorf("urls file: %w", err)
		}
		urls[c] = append(urls[c], list...)
	}
	return urls, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
