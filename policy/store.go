package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Document is one named policy spec as written in a configuration file.
// Data and subscription documents share the shape; the irrelevant fields
// stay zero. Deeper validation happens at compile time.
type Document struct {
	Actions       []ActionSpec       `yaml:"actions"`
	Circumstances []CircumstanceSpec `yaml:"circumstances"`
	Staged        *bool              `yaml:"staged"`
}

// ActionSpec is one action grouping inside a policy document.
type ActionSpec struct {
	Type                  string          `yaml:"type"`
	Rules                 []RuleSpec      `yaml:"rules"`
	SubscriptionType      string          `yaml:"subscriptionType"`
	Exceptions            *ExceptionsSpec `yaml:"exceptions"`
	AllowDiscovery        *bool           `yaml:"allowDiscovery"`
	AutomaticSubscription *bool           `yaml:"automaticSubscription"`
}

// RuleSpec is one masking rule inside an action grouping.
type RuleSpec struct {
	Type       string          `yaml:"type"`
	Exceptions *ExceptionsSpec `yaml:"exceptions"`
	Config     RuleConfigSpec  `yaml:"config"`
}

// RuleConfigSpec carries the column tags a rule applies to.
type RuleConfigSpec struct {
	Fields FieldsSpec `yaml:"fields"`
}

// FieldsSpec lists column tags by name.
type FieldsSpec struct {
	Tags []string `yaml:"tags"`
}

// ExceptionsSpec is the declarative form of an exception tree.
type ExceptionsSpec struct {
	Operator   string          `yaml:"operator"`
	Conditions []ConditionSpec `yaml:"conditions"`
}

// ConditionSpec is one declarative exception condition. Only IAM-group
// conditions are expressible today; other condition kinds are an extension
// point.
type ConditionSpec struct {
	IAMGroups []string `yaml:"iam_groups"`
}

// CircumstanceSpec is one circumstance grouping inside a policy document.
type CircumstanceSpec struct {
	Type     string   `yaml:"type"`
	Operator string   `yaml:"operator"`
	Tags     []string `yaml:"tags"`
}

// ConfigStore holds the data and subscription policy documents loaded from a
// configuration root, keyed by policy name in document order.
type ConfigStore struct {
	data         *documentSet
	subscription *documentSet
}

// LoadConfig reads every policy document under root/policies/data and
// root/policies/subscription. Same-named policies across files merge by
// shallow top-level key union, later files winning per name.
func LoadConfig(root string) (*ConfigStore, error) {
	data, err := loadDocumentSet(filepath.Join(root, "policies", "data"))
	if err != nil {
		return nil, err
	}
	subscription, err := loadDocumentSet(filepath.Join(root, "policies", "subscription"))
	if err != nil {
		return nil, err
	}
	return &ConfigStore{data: data, subscription: subscription}, nil
}

// DataPolicyNames returns the data policy names in document order.
func (s *ConfigStore) DataPolicyNames() []string {
	return append([]string(nil), s.data.names...)
}

// SubscriptionPolicyNames returns the subscription policy names in document order.
func (s *ConfigStore) SubscriptionPolicyNames() []string {
	return append([]string(nil), s.subscription.names...)
}

// DataPolicy returns the named data policy document.
func (s *ConfigStore) DataPolicy(name string) (Document, bool) {
	doc, ok := s.data.docs[name]
	return doc, ok
}

// SubscriptionPolicy returns the named subscription policy document.
func (s *ConfigStore) SubscriptionPolicy(name string) (Document, bool) {
	doc, ok := s.subscription.docs[name]
	return doc, ok
}

// documentSet is an insertion-ordered set of named policy documents.
type documentSet struct {
	names []string
	docs  map[string]Document
}

func loadDocumentSet(dir string) (*documentSet, error) {
	set := &documentSet{docs: make(map[string]Document)}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read policy dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yml", ".yaml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, path := range files {
		if err := set.loadFile(path); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// loadFile merges one file's policies into the set. The top-level mapping is
// walked as yaml nodes to keep document order; a re-declared name replaces
// the earlier document but keeps its position.
func (s *documentSet) loadFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the config root
	if err != nil {
		return fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	if len(root.Content) == 0 {
		return nil
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return fmt.Errorf("policy file %s: expected a mapping of policy names", path)
	}

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		nameNode, docNode := mapping.Content[i], mapping.Content[i+1]
		var doc Document
		if err := docNode.Decode(&doc); err != nil {
			return fmt.Errorf("policy file %s: policy %q: %w", path, nameNode.Value, err)
		}
		if _, exists := s.docs[nameNode.Value]; !exists {
			s.names = append(s.names, nameNode.Value)
		}
		s.docs[nameNode.Value] = doc
	}
	return nil
}
