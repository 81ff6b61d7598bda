// Package policy compiles declarative policy documents into the platform's
// global policy object graph and parses remote policies back for diffing.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Policy type discriminators used by the platform.
const (
	TypeData         = "data"
	TypeSubscription = "subscription"
)

// PolicyGroup is an IAM group reference inside a condition.
type PolicyGroup struct {
	Name string `json:"name"`
	IAM  string `json:"iam"`
}

// ColumnTag references a tag by name. HasLeafNodes is true when the tag is
// the root of a configured hierarchy.
type ColumnTag struct {
	Name         string `json:"name"`
	HasLeafNodes bool   `json:"hasLeafNodes"`
}

// PolicyAuthorization is an IAM authorization reference inside a condition.
type PolicyAuthorization struct {
	Auth  string `json:"auth"`
	Value string `json:"value"`
	IAM   string `json:"iam"`
}

// Condition is one predicate in an exception tree, discriminated by type.
type Condition interface {
	conditionType() string
}

// GroupCondition exempts members of an IAM group. Field must be entirely
// absent from the payload when empty; the API rejects an explicit empty
// field, so the empty-string sentinel maps to key omission.
type GroupCondition struct {
	Type  string      `json:"type"`
	Group PolicyGroup `json:"group"`
	Field string      `json:"field,omitempty"`
}

func (GroupCondition) conditionType() string { return "groups" }

// NewGroupCondition builds a groups condition with no field.
func NewGroupCondition(group PolicyGroup) GroupCondition {
	return GroupCondition{Type: "groups", Group: group}
}

// AuthorizationCondition exempts subjects carrying an IAM authorization.
type AuthorizationCondition struct {
	Type          string              `json:"type"`
	Authorization PolicyAuthorization `json:"authorization"`
	Field         string              `json:"field"`
}

func (AuthorizationCondition) conditionType() string { return "authorizations" }

// PolicyExceptions is the opt-out set attached to an action or rule: the
// action does not apply to entities satisfying the conditions under the
// operator, which must be "and" or "or".
type PolicyExceptions struct {
	Operator   string      `json:"operator"`
	Conditions []Condition `json:"conditions"`
}

// UnmarshalJSON dispatches each condition on its type discriminator.
func (e *PolicyExceptions) UnmarshalJSON(data []byte) error {
	var raw struct {
		Operator   string            `json:"operator"`
		Conditions []json.RawMessage `json:"conditions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Operator = raw.Operator
	e.Conditions = nil
	for _, rc := range raw.Conditions {
		cond, err := parseCondition(rc)
		if err != nil {
			return err
		}
		e.Conditions = append(e.Conditions, cond)
	}
	return nil
}

func parseCondition(data []byte) (Condition, error) {
	var discriminator struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &discriminator); err != nil {
		return nil, err
	}
	switch discriminator.Type {
	case "groups":
		var c GroupCondition
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case "authorizations":
		var c AuthorizationCondition
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("policy condition type %q: %w", discriminator.Type, ErrUnsupportedConditionType)
	}
}

// Circumstance determines where a policy applies, discriminated by type. A
// policy's circumstances are an OR-set: any match activates the policy.
type Circumstance interface {
	circumstanceType() string
}

// TagCircumstance applies a policy to data sources carrying a tag.
type TagCircumstance struct {
	Type     string    `json:"type"`
	Operator string    `json:"operator"`
	Tag      ColumnTag `json:"tag"`
}

func (TagCircumstance) circumstanceType() string { return "tags" }

// ColumnTagCircumstance applies a policy to columns carrying a tag.
type ColumnTagCircumstance struct {
	Type      string    `json:"type"`
	Operator  string    `json:"operator"`
	ColumnTag ColumnTag `json:"columnTag"`
}

func (ColumnTagCircumstance) circumstanceType() string { return "columnTags" }

func parseCircumstance(data []byte) (Circumstance, error) {
	var discriminator struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &discriminator); err != nil {
		return nil, err
	}
	switch discriminator.Type {
	case "tags":
		var c TagCircumstance
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case "columnTags":
		var c ColumnTagCircumstance
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("policy circumstance type %q: %w", discriminator.Type, ErrUnsupportedCircumstanceType)
	}
}

// MaskingConfig tells the platform how masked values are produced.
type MaskingConfig struct {
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MaskingRuleConfig scopes a rule to a set of column tags.
type MaskingRuleConfig struct {
	Fields        []ColumnTag   `json:"fields,omitempty"`
	MaskingConfig MaskingConfig `json:"maskingConfig"`
}

// PolicyRule is a single masking instruction, scoped by exceptions and by
// the column tags in its config.
type PolicyRule struct {
	Type       string            `json:"type"`
	Exceptions *PolicyExceptions `json:"exceptions,omitempty"`
	Config     MaskingRuleConfig `json:"config"`
}

// Action is a policy action, discriminated by type.
type Action interface {
	actionType() string
}

// MaskingAction carries the masking rules of a data policy.
type MaskingAction struct {
	Type        string       `json:"type"`
	Rules       []PolicyRule `json:"rules"`
	Description string       `json:"description,omitempty"`
}

func (MaskingAction) actionType() string { return "masking" }

// SubscriptionAction governs who may subscribe to a data source.
type SubscriptionAction struct {
	Type                  string            `json:"type"`
	SubscriptionType      string            `json:"subscriptionType"`
	Exceptions            *PolicyExceptions `json:"exceptions,omitempty"`
	AllowDiscovery        bool              `json:"allowDiscovery"`
	AutomaticSubscription bool              `json:"automaticSubscription"`
}

func (SubscriptionAction) actionType() string { return "subscription" }

func parseAction(data []byte) (Action, error) {
	var discriminator struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &discriminator); err != nil {
		return nil, err
	}
	switch discriminator.Type {
	case "masking":
		var a MaskingAction
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case "subscription":
		var a SubscriptionAction
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("policy action type %q: %w", discriminator.Type, ErrUnsupportedActionType)
	}
}

// GlobalPolicy is a platform-wide policy. Identity for reconciliation is
// Name; ID is platform-assigned, only known once created, and omitted from
// the payload while unset.
type GlobalPolicy struct {
	ID            int            `json:"id,omitempty"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	Template      bool           `json:"template"`
	Staged        *bool          `json:"staged,omitempty"`
	Circumstances []Circumstance `json:"circumstances"`
	Actions       []Action       `json:"actions"`
}

// UnmarshalJSON dispatches circumstances and actions on their discriminators,
// failing loudly on unknown types.
func (p *GlobalPolicy) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID            int               `json:"id"`
		Name          string            `json:"name"`
		Type          string            `json:"type"`
		Template      bool              `json:"template"`
		Staged        *bool             `json:"staged"`
		Circumstances []json.RawMessage `json:"circumstances"`
		Actions       []json.RawMessage `json:"actions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type != TypeData && raw.Type != TypeSubscription {
		return fmt.Errorf("global policy type %q: %w", raw.Type, ErrUnsupportedPolicyType)
	}

	p.ID = raw.ID
	p.Name = raw.Name
	p.Type = raw.Type
	p.Template = raw.Template
	p.Staged = raw.Staged
	p.Circumstances = nil
	p.Actions = nil

	for _, rc := range raw.Circumstances {
		circumstance, err := parseCircumstance(rc)
		if err != nil {
			return fmt.Errorf("policy %s: %w", raw.Name, err)
		}
		p.Circumstances = append(p.Circumstances, circumstance)
	}
	for _, ra := range raw.Actions {
		action, err := parseAction(ra)
		if err != nil {
			return fmt.Errorf("policy %s: %w", raw.Name, err)
		}
		p.Actions = append(p.Actions, action)
	}
	return nil
}

// Parse builds a GlobalPolicy from the platform's JSON representation.
// Fields outside the modeled graph are dropped, which keeps remote policies
// comparable to compiled ones.
func Parse(data []byte) (GlobalPolicy, error) {
	var p GlobalPolicy
	if err := json.Unmarshal(data, &p); err != nil {
		return GlobalPolicy{}, err
	}
	return p, nil
}

// Equal reports structural equality of two policies ignoring ID. Both sides
// are normalized through serialization so that absent and empty optional
// fields compare the same.
func (p GlobalPolicy) Equal(other GlobalPolicy) bool {
	a, b := p, other
	a.ID, b.ID = 0, 0
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
