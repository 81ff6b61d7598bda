package policy

import "errors"

var (
	// ErrUnsupportedActionType indicates an action with an unknown type discriminator.
	ErrUnsupportedActionType = errors.New("unsupported policy action type")

	// ErrUnsupportedCircumstanceType indicates a circumstance with an unknown type discriminator.
	ErrUnsupportedCircumstanceType = errors.New("unsupported policy circumstance type")

	// ErrUnsupportedConditionType indicates an exception condition with an unknown type discriminator.
	ErrUnsupportedConditionType = errors.New("unsupported policy condition type")

	// ErrUnsupportedPolicyType indicates a policy that is neither data nor subscription.
	ErrUnsupportedPolicyType = errors.New("unsupported global policy type")

	// ErrMissingPolicySection indicates a policy document without actions or circumstances.
	ErrMissingPolicySection = errors.New("policy document missing required section")
)
