package main

import (
	"encoding/json"
	"sort"

	"github.com/spf13/cobra"

	"github.com/formworks/profile-cli/internal/aggregate"
	"github.com/formworks/profile-cli/internal/model"
)

var (
	profileResolvedOnly bool
	profileJSON         bool
)

var profileCmd = &cobra.Command{
	Use:   "profile <entity>",
	Short: "Show an entity's consolidated profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		state, err := a.aggregator.State(ctx, args[0])
		if err != nil {
			return err
		}

		profile := state.Profile
		if profileResolvedOnly {
			profile = resolvedView(state)
		}

		if profileJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(profile)
		}

		fields := make([]string, 0, len(profile.Fields))
		for f := range profile.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			src := profile.Sources[f]
			origin := src.DocumentName
			if src.UserOverride() {
				origin = "user"
			}
			cmd.Printf("%-20s %-30s conf=%.2f  %s\n", f, profile.Fields[f], src.Confidence, origin)
		}
		if n := state.OpenCount(); n > 0 && !profileResolvedOnly {
			cmd.Printf("\n%d item(s) awaiting review\n", n)
		}
		return nil
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <entity>",
	Short: "Delete an entity's profile, records and resolutions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.aggregator.DeleteEntity(ctx, args[0])
	},
}

// resolvedView strips fields that still have an open review item, leaving
// only values safe to auto-fill into a form.
func resolvedView(state *aggregate.Result) *model.Profile {
	open := make(map[string]struct{})
	for _, item := range state.Items {
		if !item.Resolved {
			open[item.FieldName] = struct{}{}
		}
	}

	p := model.NewProfile(state.Profile.EntityID)
	p.UpdatedAt = state.Profile.UpdatedAt
	for field, value := range state.Profile.Fields {
		if _, pending := open[field]; pending {
			continue
		}
		p.Set(field, value, state.Profile.Sources[field])
	}
	return p
}

func init() {
	profileCmd.Flags().BoolVar(&profileResolvedOnly, "resolved-only", false, "omit fields with open review items")
	profileCmd.Flags().BoolVar(&profileJSON, "json", false, "emit JSON")
	profileCmd.AddCommand(profileDeleteCmd)
	rootCmd.AddCommand(profileCmd)
}
