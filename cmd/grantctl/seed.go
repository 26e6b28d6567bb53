package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/david/grant-enhancer/internal/models"
	"github.com/david/grant-enhancer/internal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Enhance and upsert a grant catalogue",
	Long:  "Loads the built-in catalogue, or a YAML/JSON file given with --file, runs confidence, complexity and duplicate detection over it, and upserts every grant.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		file, _ := cmd.Flags().GetString("file")

		grants, err := loadCatalogue(file)
		if err != nil {
			return err
		}

		runner, closeFn, err := initRunner(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := runner.Seed(ctx, grants)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "inserted %d, updated %d, failed %d\n", res.Inserted, res.Updated, res.Failed)
		renderPairs(out, res.Dedupe)
		return nil
	},
}

func loadCatalogue(file string) ([]*models.Grant, error) {
	if file == "" {
		return seed.Default()
	}
	return seed.LoadFile(file)
}

func init() {
	seedCmd.Flags().String("file", "", "catalogue file (.yaml or .json); defaults to the built-in catalogue")
	rootCmd.AddCommand(seedCmd)
}
