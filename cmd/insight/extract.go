package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	headline string
	summary  string
)

var engagementCmd = &cobra.Command{
	Use:   "engagement",
	Short: "Score an ad headline and summary for engagement (0-100)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAppFromEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.insight().EngagementScore(cmd.Context(), headline, summary)
		if err != nil {
			return fmt.Errorf("no engagement score: %w", err)
		}
		return printJSON(result)
	},
}

var stateCmd = &cobra.Command{
	Use:   "state TEXT",
	Short: "Extract the US state name that TEXT refers to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAppFromEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.insight().State(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("no state: %w", err)
		}
		return printJSON(result)
	},
}

func init() {
	engagementCmd.Flags().StringVar(&headline, "headline", "", "ad headline")
	engagementCmd.Flags().StringVar(&summary, "summary", "", "ad summary")
	_ = engagementCmd.MarkFlagRequired("headline")
	_ = engagementCmd.MarkFlagRequired("summary")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
