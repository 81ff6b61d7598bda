package reconciler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/yairfalse/immutactl/policy"
)

// PolicyReconciler drives global policies toward the declarative
// configuration: compile desired, fetch remote once, decide per name.
type PolicyReconciler struct {
	api    PolicyAPI
	tags   policy.TagHierarchy
	config *policy.ConfigStore
	dryRun bool
	logger zerolog.Logger
}

// NewPolicyReconciler creates a policy reconciler. In dry-run mode decisions
// are computed and reported without any mutating API call.
func NewPolicyReconciler(api PolicyAPI, tags policy.TagHierarchy, config *policy.ConfigStore, dryRun bool, logger zerolog.Logger) *PolicyReconciler {
	return &PolicyReconciler{
		api:    api,
		tags:   tags,
		config: config,
		dryRun: dryRun,
		logger: logger,
	}
}

// Reconcile runs the data policy pass and then the subscription policy pass.
// A failure for one policy name never blocks the remaining names; failures
// are collected on the result. Only the initial remote listing is fatal.
func (r *PolicyReconciler) Reconcile(ctx context.Context) (*PolicyResult, error) {
	existing, err := r.fetchExisting(ctx)
	if err != nil {
		return nil, err
	}

	result := &PolicyResult{}
	r.reconcilePass(ctx, policyPass{
		policyType: policy.TypeData,
		names:      r.config.DataPolicyNames(),
		compile:    r.compileData,
	}, existing, result)
	r.reconcilePass(ctx, policyPass{
		policyType: policy.TypeSubscription,
		names:      r.config.SubscriptionPolicyNames(),
		compile:    r.compileSubscription,
	}, existing, result)

	return result, nil
}

// policyPass binds one policy namespace to its compiler.
type policyPass struct {
	policyType string
	names      []string
	compile    func(name string) (policy.GlobalPolicy, error)
}

func (r *PolicyReconciler) compileData(name string) (policy.GlobalPolicy, error) {
	doc, ok := r.config.DataPolicy(name)
	if !ok {
		return policy.GlobalPolicy{}, fmt.Errorf("unknown data policy %s", name)
	}
	return policy.CompileDataPolicy(name, doc, r.tags)
}

func (r *PolicyReconciler) compileSubscription(name string) (policy.GlobalPolicy, error) {
	doc, ok := r.config.SubscriptionPolicy(name)
	if !ok {
		return policy.GlobalPolicy{}, fmt.Errorf("unknown subscription policy %s", name)
	}
	return policy.CompileSubscriptionPolicy(name, doc, r.tags)
}

func (r *PolicyReconciler) fetchExisting(ctx context.Context) (map[string]policy.GlobalPolicy, error) {
	policies, err := r.api.ListGlobalPolicies(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list existing policies: %w", err)
	}
	existing := make(map[string]policy.GlobalPolicy, len(policies))
	for _, p := range policies {
		existing[p.Name] = p
	}
	return existing, nil
}

func (r *PolicyReconciler) reconcilePass(ctx context.Context, pass policyPass, existing map[string]policy.GlobalPolicy, result *PolicyResult) {
	for _, name := range pass.names {
		desired, err := pass.compile(name)
		if err != nil {
			r.logger.Error().Err(err).Str("policy", name).Msg("policy compilation failed, skipping")
			result.Failures = append(result.Failures, Failure{Item: name, Err: err})
			continue
		}

		decision := r.decide(desired, existing)
		result.Decisions = append(result.Decisions, decision)
		if err := r.apply(ctx, decision, desired); err != nil {
			r.logger.Error().Err(err).Str("policy", name).Msg("policy apply failed, skipping")
			result.Failures = append(result.Failures, Failure{Item: name, Err: err})
		}
	}
}

// decide picks CREATE for an absent name, NO-OP for a structurally identical
// remote policy, and UPDATE otherwise, preserving the remote id.
func (r *PolicyReconciler) decide(desired policy.GlobalPolicy, existing map[string]policy.GlobalPolicy) Decision {
	remote, present := existing[desired.Name]
	if !present {
		return Decision{Action: ActionCreate, Name: desired.Name, Type: desired.Type, Reason: "no remote policy with this name"}
	}
	if remote.Equal(desired) {
		return Decision{Action: ActionNoop, Name: desired.Name, Type: desired.Type, ID: remote.ID, Reason: "remote policy identical"}
	}
	return Decision{Action: ActionUpdate, Name: desired.Name, Type: desired.Type, ID: remote.ID, Reason: "remote policy differs"}
}

func (r *PolicyReconciler) apply(ctx context.Context, decision Decision, desired policy.GlobalPolicy) error {
	event := r.logger.Info().
		Str("policy", decision.Name).
		Str("type", decision.Type).
		Str("action", string(decision.Action)).
		Bool("dry_run", r.dryRun)

	switch decision.Action {
	case ActionNoop:
		event.Msg("no change for policy")
		return nil
	case ActionCreate:
		event.Msg("creating policy")
		if r.dryRun {
			return nil
		}
		if _, err := r.api.CreateGlobalPolicy(ctx, desired); err != nil {
			return fmt.Errorf("failed to create policy %s: %w", decision.Name, err)
		}
		return nil
	case ActionUpdate:
		event.Int("id", decision.ID).Msg("updating policy")
		if r.dryRun {
			return nil
		}
		desired.ID = decision.ID
		if err := r.api.UpdateGlobalPolicy(ctx, decision.ID, desired); err != nil {
			return fmt.Errorf("failed to update policy %s: %w", decision.Name, err)
		}
		return nil
	default:
		return fmt.Errorf("unexpected decision %s for policy %s", decision.Action, decision.Name)
	}
}

// DeleteMatching deletes every remote policy whose name contains searchText.
// Dry-run enumerates the matches without issuing deletes.
func (r *PolicyReconciler) DeleteMatching(ctx context.Context, searchText string) (*PolicyResult, error) {
	if searchText == "" {
		return nil, fmt.Errorf("delete requires an explicit search text")
	}

	policies, err := r.api.ListGlobalPolicies(ctx, searchText)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies matching %q: %w", searchText, err)
	}

	result := &PolicyResult{}
	for _, p := range policies {
		decision := Decision{Action: ActionDelete, Name: p.Name, Type: p.Type, ID: p.ID}
		result.Decisions = append(result.Decisions, decision)

		r.logger.Info().
			Str("policy", p.Name).
			Int("id", p.ID).
			Bool("dry_run", r.dryRun).
			Msg("deleting policy")
		if r.dryRun {
			continue
		}
		if err := r.api.DeleteGlobalPolicy(ctx, p.ID); err != nil {
			r.logger.Error().Err(err).Str("policy", p.Name).Msg("policy delete failed, skipping")
			result.Failures = append(result.Failures, Failure{Item: p.Name, Err: err})
		}
	}
	return result, nil
}
