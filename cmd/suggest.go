package main

import (
	"github.com/spf13/cobra"

	"github.com/formworks/profile-cli/internal/suggest"
)

var (
	suggestFieldLabel string
	suggestTypeHint   string
	suggestInput      string
	suggestLimit      int
)

var suggestCmd = &cobra.Command{
	Use:   "suggest <entity>",
	Short: "Rank profile values for a form field",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		results := a.engine.Suggest(ctx, suggest.Query{
			EntityID:   args[0],
			FieldLabel: suggestFieldLabel,
			TypeHint:   suggestTypeHint,
			Input:      suggestInput,
			Limit:      suggestLimit,
		})
		if len(results) == 0 {
			cmd.Println("no suggestions")
			return nil
		}
		for _, s := range results {
			cmd.Printf("%.3f  %-20s %-30s (%d source(s), %s)\n",
				s.Score, s.FieldName, s.Value, s.SourceCount, s.DocumentName)
		}
		return nil
	},
}

func init() {
	suggestCmd.Flags().StringVar(&suggestFieldLabel, "field", "", "form field label (required)")
	suggestCmd.Flags().StringVar(&suggestTypeHint, "type", "", "field type hint (email, phone, date, ...)")
	suggestCmd.Flags().StringVar(&suggestInput, "input", "", "partial input typed so far")
	suggestCmd.Flags().IntVar(&suggestLimit, "limit", 0, "max results (default from config)")
	_ = suggestCmd.MarkFlagRequired("field")
	rootCmd.AddCommand(suggestCmd)
}
