package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reshuffle/internal/catalog"
	"reshuffle/internal/config"
	"reshuffle/internal/host"
	"reshuffle/internal/shuffle"
)

type previewOptions struct {
	config  string
	recipes string
	mode    string
	seed    int64
}

func newPreviewCommand() *cobra.Command {
	opts := &previewOptions{}
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the assignment a seed produces without applying it",
		Long: `Preview computes the shuffle for a recipe file and prints one line per
recipe. The same file, mode and seed always print the same lines.

With --config the recipe file, items file, mode and exclusions are read from
the config, so the output matches what run applies for that seed. --recipes
and --mode still override the config when given.

Example:
  reshuffle preview --seed 42 --mode recipe_result
  reshuffle preview --config ./config.yaml --seed 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			if opts.config != "" {
				var err error
				if cfg, err = config.NewConfigManager(opts.config).Parse(); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("recipes") || opts.config == "" {
				cfg.Host.RecipesFile = opts.recipes
			}
			if cmd.Flags().Changed("mode") || opts.config == "" {
				cfg.Shuffle.Mode = opts.mode
			}

			mode, err := shuffle.ParseMode(cfg.Shuffle.Mode)
			if err != nil {
				return err
			}
			h, err := host.Load(host.Options{RecipesFile: cfg.Host.RecipesFile, ItemsFile: cfg.Host.ItemsFile})
			if err != nil {
				return err
			}
			original := catalog.ExcludeRecipes(h.Recipes(), cfg.Shuffle.ExcludedRecipes)
			ids, err := h.Items.Items(cmd.Context())
			if err != nil {
				return err
			}
			pool := catalog.OutputPool(ids, cfg.Shuffle.ExcludedOutputs)

			asg, err := shuffle.ComputeAssignment(original, mode, opts.seed, pool)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "mode=%s seed=%d recipes=%d\n", mode, opts.seed, len(asg))
			for _, e := range asg {
				fmt.Fprintf(w, "%s -> %s\n", e.Key, e.Output)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.config, "config", "", "config file to take recipes, items and exclusions from")
	cmd.Flags().StringVar(&opts.recipes, "recipes", "", "recipe YAML file (default: built-in sample)")
	cmd.Flags().StringVar(&opts.mode, "mode", shuffle.ModeRandomItem.String(), "random_item or recipe_result")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "shuffle seed")
	return cmd
}
