package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Print the best matching open grants for a user or profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		userRaw, _ := cmd.Flags().GetString("user")
		profileRaw, _ := cmd.Flags().GetString("profile")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		if (userRaw == "") == (profileRaw == "") {
			return errors.New("give exactly one of --user or --profile")
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		a, err := newApplication(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if !cmd.Flags().Changed("limit") {
			limit = a.recommendation.DefaultLimit()
		}

		var recs []models.Recommendation
		if userRaw != "" {
			userID, err := uuid.Parse(userRaw)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			recs, err = a.recommendation.RecommendForUser(ctx, userID, limit)
			if err != nil {
				return err
			}
		} else {
			profileID, err := uuid.Parse(profileRaw)
			if err != nil {
				return fmt.Errorf("invalid profile id: %w", err)
			}
			recs, err = a.recommendation.Recommend(ctx, profileID, limit)
			if err != nil {
				return err
			}
		}

		if asJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(recs)
		}
		return printRecommendations(recs)
	},
}

func init() {
	rootCmd.AddCommand(recommendCmd)
	recommendCmd.Flags().StringP("user", "u", "", "User id owning the profile")
	recommendCmd.Flags().StringP("profile", "p", "", "Profile id")
	recommendCmd.Flags().IntP("limit", "l", 0, "Maximum recommendations (default from configuration, max 50)")
	recommendCmd.Flags().Bool("json", false, "Print JSON instead of a table")
}

func printRecommendations(recs []models.Recommendation) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tDEADLINE\tREGION\tTITLE")
	for _, rec := range recs {
		deadline := "-"
		if rec.Grant.Deadline != nil {
			deadline = rec.Grant.Deadline.Format("2006-01-02")
		}
		region := rec.Grant.Region
		if region == "" {
			region = "-"
		}
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n", rec.Score, deadline, region, rec.Grant.Title)
	}
	return w.Flush()
}
