package policy

import "fmt"

// defaultIAM is the identity manager group conditions are built against.
const defaultIAM = "okta"

// consistentValueMasking is the masking strategy every compiled rule uses.
const consistentValueMasking = "Consistent Value"

// TagHierarchy answers root-tag classification for compiled column tags.
// *tagging.Store satisfies it.
type TagHierarchy interface {
	IsRootTag(tag string) bool
}

// CompileExceptions flattens the iam_groups lists of every condition in the
// spec into one combined list and builds a group condition per group. The
// operator is taken verbatim from the spec. A nil spec compiles to nil.
func CompileExceptions(spec *ExceptionsSpec) *PolicyExceptions {
	if spec == nil {
		return nil
	}

	var conditions []Condition
	for _, condition := range spec.Conditions {
		for _, group := range condition.IAMGroups {
			conditions = append(conditions, NewGroupCondition(PolicyGroup{Name: group, IAM: defaultIAM}))
		}
	}
	return &PolicyExceptions{Operator: spec.Operator, Conditions: conditions}
}

// CompileCircumstance builds the circumstance selecting entities tagged with
// tag, dispatching on the declared circumstance type.
func CompileCircumstance(tag, circumstanceType, operator string, tags TagHierarchy) (Circumstance, error) {
	columnTag := ColumnTag{Name: tag, HasLeafNodes: tags.IsRootTag(tag)}
	switch circumstanceType {
	case "tags":
		return TagCircumstance{Type: "tags", Operator: operator, Tag: columnTag}, nil
	case "columnTags":
		return ColumnTagCircumstance{Type: "columnTags", Operator: operator, ColumnTag: columnTag}, nil
	default:
		return nil, fmt.Errorf("circumstance type %q: %w", circumstanceType, ErrUnsupportedCircumstanceType)
	}
}

// CompileDataPolicy turns a data policy document into the global policy the
// platform expects, with one masking rule per declared rule spec.
func CompileDataPolicy(name string, doc Document, tags TagHierarchy) (GlobalPolicy, error) {
	if err := requireSections(name, doc); err != nil {
		return GlobalPolicy{}, err
	}

	var actions []Action
	for _, spec := range doc.Actions {
		action, err := compileDataAction(spec, tags)
		if err != nil {
			return GlobalPolicy{}, fmt.Errorf("policy %s: %w", name, err)
		}
		actions = append(actions, action)
	}

	circumstances, err := compileCircumstances(name, doc.Circumstances, tags)
	if err != nil {
		return GlobalPolicy{}, err
	}

	return GlobalPolicy{
		Name:          name,
		Type:          TypeData,
		Staged:        doc.Staged,
		Circumstances: circumstances,
		Actions:       actions,
	}, nil
}

// CompileSubscriptionPolicy turns a subscription policy document into a
// global policy. Absent allowDiscovery defaults to false, absent
// automaticSubscription to true, and absent top-level staged to true.
func CompileSubscriptionPolicy(name string, doc Document, tags TagHierarchy) (GlobalPolicy, error) {
	if err := requireSections(name, doc); err != nil {
		return GlobalPolicy{}, err
	}

	var actions []Action
	for _, spec := range doc.Actions {
		action, err := compileSubscriptionAction(spec)
		if err != nil {
			return GlobalPolicy{}, fmt.Errorf("policy %s: %w", name, err)
		}
		actions = append(actions, action)
	}

	circumstances, err := compileCircumstances(name, doc.Circumstances, tags)
	if err != nil {
		return GlobalPolicy{}, err
	}

	staged := true
	if doc.Staged != nil {
		staged = *doc.Staged
	}

	return GlobalPolicy{
		Name:          name,
		Type:          TypeSubscription,
		Staged:        &staged,
		Circumstances: circumstances,
		Actions:       actions,
	}, nil
}

func requireSections(name string, doc Document) error {
	if len(doc.Actions) == 0 {
		return fmt.Errorf("policy %s: actions: %w", name, ErrMissingPolicySection)
	}
	if len(doc.Circumstances) == 0 {
		return fmt.Errorf("policy %s: circumstances: %w", name, ErrMissingPolicySection)
	}
	return nil
}

func compileDataAction(spec ActionSpec, tags TagHierarchy) (Action, error) {
	switch spec.Type {
	case "masking":
		rules := make([]PolicyRule, 0, len(spec.Rules))
		for _, rule := range spec.Rules {
			rules = append(rules, compileRule(rule, tags))
		}
		return MaskingAction{Type: "masking", Rules: rules}, nil
	default:
		return nil, fmt.Errorf("action type %q: %w", spec.Type, ErrUnsupportedActionType)
	}
}

func compileRule(spec RuleSpec, tags TagHierarchy) PolicyRule {
	fields := make([]ColumnTag, 0, len(spec.Config.Fields.Tags))
	for _, tag := range spec.Config.Fields.Tags {
		fields = append(fields, ColumnTag{Name: tag, HasLeafNodes: tags.IsRootTag(tag)})
	}
	return PolicyRule{
		Type:       spec.Type,
		Exceptions: CompileExceptions(spec.Exceptions),
		Config: MaskingRuleConfig{
			Fields:        fields,
			MaskingConfig: MaskingConfig{Type: consistentValueMasking},
		},
	}
}

func compileSubscriptionAction(spec ActionSpec) (Action, error) {
	switch spec.Type {
	case "subscription":
		automatic := true
		if spec.AutomaticSubscription != nil {
			automatic = *spec.AutomaticSubscription
		}
		var discovery bool
		if spec.AllowDiscovery != nil {
			discovery = *spec.AllowDiscovery
		}
		return SubscriptionAction{
			Type:                  "subscription",
			SubscriptionType:      spec.SubscriptionType,
			Exceptions:            CompileExceptions(spec.Exceptions),
			AllowDiscovery:        discovery,
			AutomaticSubscription: automatic,
		}, nil
	default:
		return nil, fmt.Errorf("action type %q: %w", spec.Type, ErrUnsupportedActionType)
	}
}

func compileCircumstances(name string, specs []CircumstanceSpec, tags TagHierarchy) ([]Circumstance, error) {
	var circumstances []Circumstance
	for _, spec := range specs {
		for _, tag := range spec.Tags {
			circumstance, err := CompileCircumstance(tag, spec.Type, spec.Operator, tags)
			if err != nil {
				return nil, fmt.Errorf("policy %s: %w", name, err)
			}
			circumstances = append(circumstances, circumstance)
		}
	}
	return circumstances, nil
}
