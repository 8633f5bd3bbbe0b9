package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/formworks/profile-cli/internal/model"
	"github.com/formworks/profile-cli/internal/review"
)

var (
	reviewField string
	reviewIndex int
	reviewValue string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work through open conflicts and low-confidence fields",
}

var reviewListCmd = &cobra.Command{
	Use:   "list <entity>",
	Short: "List items awaiting review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), args[0], func(ctx context.Context, s *review.Session) error {
			open := s.OpenItems()
			if len(open) == 0 {
				cmd.Println("nothing to review")
				return nil
			}
			for _, item := range open {
				printReviewItem(cmd, item)
			}
			return nil
		})
	},
}

var reviewSelectCmd = &cobra.Command{
	Use:   "select <entity>",
	Short: "Resolve a conflict by picking a candidate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), args[0], func(ctx context.Context, s *review.Session) error {
			if err := s.SelectCandidate(ctx, reviewField, reviewIndex); err != nil {
				return err
			}
			cmd.Printf("%s = %s\n", reviewField, s.Profile().Fields[reviewField])
			return nil
		})
	},
}

var reviewCustomCmd = &cobra.Command{
	Use:   "custom <entity>",
	Short: "Resolve a conflict with a typed-in value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), args[0], func(ctx context.Context, s *review.Session) error {
			return s.SetCustomValue(ctx, reviewField, reviewValue)
		})
	},
}

var reviewConfirmCmd = &cobra.Command{
	Use:   "confirm <entity>",
	Short: "Accept a low-confidence value as-is",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), args[0], func(ctx context.Context, s *review.Session) error {
			return s.ConfirmField(ctx, reviewField)
		})
	},
}

var reviewEditCmd = &cobra.Command{
	Use:   "edit <entity>",
	Short: "Replace an open item's value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), args[0], func(ctx context.Context, s *review.Session) error {
			return s.EditField(ctx, reviewField, reviewValue)
		})
	},
}

var reviewAcceptDefaultsCmd = &cobra.Command{
	Use:   "accept-defaults <entity>",
	Short: "Resolve every open item with its working default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), args[0], func(ctx context.Context, s *review.Session) error {
			if err := s.AcceptDefaults(ctx); err != nil {
				return err
			}
			cmd.Println("defaults accepted")
			return nil
		})
	},
}

var reviewConfirmAllCmd = &cobra.Command{
	Use:   "confirm-all <entity>",
	Short: "Finish the review, refusing while items remain open",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), args[0], func(ctx context.Context, s *review.Session) error {
			if err := s.ConfirmAll(ctx); err != nil {
				return err
			}
			cmd.Println("review complete")
			return nil
		})
	},
}

func withSession(ctx context.Context, entityID string, fn func(context.Context, *review.Session) error) error {
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	s := review.NewSession(a.aggregator, entityID)
	if err := s.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, s)
}

func printReviewItem(cmd *cobra.Command, item model.ReviewItem) {
	switch item.Kind {
	case model.ReviewKindConflict:
		cmd.Printf("conflict  %s\n", item.FieldName)
		for i, v := range item.Conflict.Values {
			cmd.Printf("  [%d] %-30s conf=%.2f  %s\n", i, v.Value, v.Confidence, v.DocumentName)
		}
	case model.ReviewKindLowConfidence:
		low := item.LowConfidence
		cmd.Printf("low-conf  %s = %s (conf=%.2f, %s)\n",
			item.FieldName, low.Value, low.Confidence, low.Source.DocumentName)
	}
}

func init() {
	for _, c := range []*cobra.Command{reviewSelectCmd, reviewCustomCmd, reviewConfirmCmd, reviewEditCmd} {
		c.Flags().StringVar(&reviewField, "field", "", "field name (required)")
		_ = c.MarkFlagRequired("field")
	}
	reviewSelectCmd.Flags().IntVar(&reviewIndex, "index", 0, "candidate index from review list")
	reviewCustomCmd.Flags().StringVar(&reviewValue, "value", "", "replacement value (required)")
	reviewEditCmd.Flags().StringVar(&reviewValue, "value", "", "replacement value (required)")
	_ = reviewCustomCmd.MarkFlagRequired("value")
	_ = reviewEditCmd.MarkFlagRequired("value")

	reviewCmd.AddCommand(reviewListCmd, reviewSelectCmd, reviewCustomCmd,
		reviewConfirmCmd, reviewEditCmd, reviewAcceptDefaultsCmd, reviewConfirmAllCmd)
	rootCmd.AddCommand(reviewCmd)
}
