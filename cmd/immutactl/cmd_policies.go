package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/immutactl/config"
	"github.com/yairfalse/immutactl/policy"
	"github.com/yairfalse/immutactl/reconciler"
	"github.com/yairfalse/immutactl/tagging"
)

var (
	policiesDryRun     bool
	policiesSearchText string
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Manage global policies",
}

var policiesApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Compile configured policies and reconcile them against the platform",
	RunE:  runPoliciesApply,
}

var policiesDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete global policies whose names match a search string",
	RunE:  runPoliciesDelete,
}

func init() {
	policiesApplyCmd.Flags().BoolVar(&policiesDryRun, "dry-run", false, "Report what would change without mutating anything")
	policiesDeleteCmd.Flags().BoolVar(&policiesDryRun, "dry-run", false, "Report what would be deleted without mutating anything")
	policiesDeleteCmd.Flags().StringVar(&policiesSearchText, "search-text", "", "Delete policies whose names contain this string (required)")
	_ = policiesDeleteCmd.MarkFlagRequired("search-text")

	policiesCmd.AddCommand(policiesApplyCmd)
	policiesCmd.AddCommand(policiesDeleteCmd)
	rootCmd.AddCommand(policiesCmd)
}

func runPoliciesApply(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	tags, err := tagging.Load(cfg.ConfigRoot)
	if err != nil {
		return fmt.Errorf("failed to load tag configuration: %w", err)
	}

	policies, err := policy.LoadConfig(cfg.ConfigRoot)
	if err != nil {
		return fmt.Errorf("failed to load policy configuration: %w", err)
	}

	api, err := buildClient(cfg)
	if err != nil {
		return err
	}

	rec := reconciler.NewPolicyReconciler(api, tags, policies, policiesDryRun, log.Logger)
	result, err := rec.Reconcile(context.Background())
	if err != nil {
		return fmt.Errorf("policy reconciliation failed: %w", err)
	}

	log.Info().
		Int("created", result.Created()).
		Int("updated", result.Updated()).
		Int("unchanged", result.Unchanged()).
		Int("failures", len(result.Failures)).
		Bool("dry_run", policiesDryRun).
		Msg("Policy reconciliation complete")

	for _, f := range result.Failures {
		log.Warn().Str("policy", f.Item).Err(f.Err).Msg("Policy skipped")
	}
	return nil
}

func runPoliciesDelete(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	api, err := buildClient(cfg)
	if err != nil {
		return err
	}

	rec := reconciler.NewPolicyReconciler(api, nil, nil, policiesDryRun, log.Logger)
	result, err := rec.DeleteMatching(context.Background(), policiesSearchText)
	if err != nil {
		return fmt.Errorf("policy deletion failed: %w", err)
	}

	log.Info().
		Int("deleted", len(result.Decisions)-len(result.Failures)).
		Int("failures", len(result.Failures)).
		Msg("Policy deletion complete")

	for _, f := range result.Failures {
		log.Warn().Str("policy", f.Item).Err(f.Err).Msg("Policy not deleted")
	}
	return nil
}
