package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/immutactl/config"
	"github.com/yairfalse/immutactl/reconciler"
	"github.com/yairfalse/immutactl/tagging"
)

var (
	tagDryRun       bool
	tagSearchText   string
	tagSearchSchema string
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Reconcile tag hierarchies, data source tags, and column tags",
	RunE:  runTag,
}

func init() {
	tagCmd.Flags().BoolVar(&tagDryRun, "dry-run", false, "Report what would change without mutating anything")
	tagCmd.Flags().StringVar(&tagSearchText, "search-text", "", "Limit to data sources whose names contain this string")
	tagCmd.Flags().StringVar(&tagSearchSchema, "search-schema", "", "Limit to data sources in this schema")

	rootCmd.AddCommand(tagCmd)
}

func runTag(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	tags, err := tagging.Load(cfg.ConfigRoot)
	if err != nil {
		return fmt.Errorf("failed to load tag configuration: %w", err)
	}

	api, err := buildClient(cfg)
	if err != nil {
		return err
	}

	rec := reconciler.NewTagReconciler(api, tags, tagDryRun, log.Logger)
	result, err := rec.Reconcile(context.Background(), reconciler.ListDataSourcesOptions{
		SearchText:   tagSearchText,
		SearchSchema: tagSearchSchema,
	})
	if err != nil {
		return fmt.Errorf("tag reconciliation failed: %w", err)
	}

	log.Info().
		Int("tags_ensured", result.TagsEnsured).
		Int("data_source_tags_added", result.DataSourceTagsAdded).
		Int("data_source_tags_removed", result.DataSourceTagsRemoved).
		Int("dictionaries_updated", result.DictionariesUpdated).
		Int("failures", len(result.Failures)).
		Bool("dry_run", tagDryRun).
		Msg("Tag reconciliation complete")

	for _, f := range result.Failures {
		log.Warn().Str("item", f.Item).Err(f.Err).Msg("Item skipped")
	}
	return nil
}
