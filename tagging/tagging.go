// Package tagging loads the declarative tag-mapping configuration and
// answers tag hierarchy queries for the policy compiler and reconcilers.
package tagging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// Tag is a curated tag as the platform expects it on data sources and columns.
type Tag struct {
	Name   string `json:"name" yaml:"name"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// CuratedTag returns a tag with the curated source set. The API silently
// rejects tag lists whose entries carry no source.
func CuratedTag(name string) Tag {
	return Tag{Name: name, Source: "curated"}
}

// DataSourceKey identifies the tag patterns registered for one remote database.
type DataSourceKey struct {
	HandlerType string
	Database    string
}

// patternTags is one name-glob pattern with the tags it assigns. A pattern
// with invalid glob syntax keeps a nil matcher and never matches.
type patternTags struct {
	pattern string
	matcher glob.Glob
	tags    []string
}

// Store indexes column-to-tag and data-source-to-tag mappings loaded from a
// configuration root. It is built once per run and never mutated afterwards.
type Store struct {
	columns     *orderedMap
	groups      *orderedMap
	dataSources map[DataSourceKey][]patternTags
	// data source keys in first-seen order, for deterministic iteration
	dataSourceOrder []DataSourceKey
}

// tagDocument is the schema of a single tags/*.yaml document.
type tagDocument struct {
	TagMap    yaml.Node `yaml:"TAG_MAP"`
	TagGroups yaml.Node `yaml:"TAG_GROUPS"`
}

// datasetDocument is the schema of a single enrolled_datasets/*.yaml document.
type datasetDocument struct {
	HandlerType string    `yaml:"handler_type"`
	Database    string    `yaml:"database"`
	Tags        yaml.Node `yaml:"tags"`
}

// Load reads every tag document under root/tags and every enrolled dataset
// document under root/enrolled_datasets. Same-named keys across documents
// merge shallowly, later files winning per key.
func Load(root string) (*Store, error) {
	s := &Store{
		columns:     newOrderedMap(),
		groups:      newOrderedMap(),
		dataSources: make(map[DataSourceKey][]patternTags),
	}

	tagFiles, err := configFiles(filepath.Join(root, "tags"))
	if err != nil {
		return nil, err
	}
	for _, path := range tagFiles {
		if err := s.loadTagFile(path); err != nil {
			return nil, err
		}
	}

	datasetFiles, err := configFiles(filepath.Join(root, "enrolled_datasets"))
	if err != nil {
		return nil, err
	}
	for _, path := range datasetFiles {
		if err := s.loadDatasetFile(path); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// configFiles lists the YAML documents in dir, sorted by name. A missing
// directory is an empty configuration, not an error.
func configFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config dir %s: %w", dir, err)
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
	return files, nil
}

func (s *Store) loadTagFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the config root
	if err != nil {
		return fmt.Errorf("failed to read tag file %s: %w", path, err)
	}

	var doc tagDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse tag file %s: %w", path, err)
	}

	if err := mergeStringListMapping(s.columns, &doc.TagMap); err != nil {
		return fmt.Errorf("invalid TAG_MAP in %s: %w", path, err)
	}
	if err := mergeStringListMapping(s.groups, &doc.TagGroups); err != nil {
		return fmt.Errorf("invalid TAG_GROUPS in %s: %w", path, err)
	}
	return nil
}

func (s *Store) loadDatasetFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the config root
	if err != nil {
		return fmt.Errorf("failed to read enrolled dataset file %s: %w", path, err)
	}

	var doc datasetDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse enrolled dataset file %s: %w", path, err)
	}
	if doc.Tags.Kind == 0 {
		return nil
	}

	patterns := newOrderedMap()
	if err := mergeStringListMapping(patterns, &doc.Tags); err != nil {
		return fmt.Errorf("invalid tags in %s: %w", path, err)
	}

	key := DataSourceKey{HandlerType: doc.HandlerType, Database: doc.Database}
	if _, seen := s.dataSources[key]; !seen {
		s.dataSourceOrder = append(s.dataSourceOrder, key)
	}
	for _, pattern := range patterns.keys {
		s.setPattern(key, pattern, patterns.values[pattern])
	}
	return nil
}

// setPattern registers pattern under key, overwriting the tags of an
// already-registered pattern in place.
func (s *Store) setPattern(key DataSourceKey, pattern string, tags []string) {
	for i, existing := range s.dataSources[key] {
		if existing.pattern == pattern {
			s.dataSources[key][i].tags = tags
			return
		}
	}
	s.dataSources[key] = append(s.dataSources[key], patternTags{
		pattern: pattern,
		matcher: compilePattern(pattern),
		tags:    tags,
	})
}

// compilePattern compiles a shell-style glob. Invalid syntax yields a nil
// matcher so the pattern behaves as a literal that matches nothing.
func compilePattern(pattern string) glob.Glob {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil
	}
	return g
}

// TagsForColumn returns the configured tags for a column name, or nil when
// the column is unknown.
func (s *Store) TagsForColumn(column string) []string {
	return s.columns.values[column]
}

// Columns returns every configured column name in document order.
func (s *Store) Columns() []string {
	return append([]string(nil), s.columns.keys...)
}

// GroupsForTag returns the IAM groups allowed to view entities with the tag.
func (s *Store) GroupsForTag(tag string) []string {
	return s.groups.values[tag]
}

// TagsForDataSource matches name against every pattern registered for the
// (handlerType, database) pair and returns the union of matched patterns'
// tags in pattern order. Duplicates survive; callers diff with set semantics.
func (s *Store) TagsForDataSource(name, handlerType, database string) []Tag {
	var tags []Tag
	key := DataSourceKey{HandlerType: handlerType, Database: database}
	for _, entry := range s.dataSources[key] {
		if entry.matcher == nil || !entry.matcher.Match(name) {
			continue
		}
		for _, t := range entry.tags {
			tags = append(tags, CuratedTag(t))
		}
	}
	return tags
}

// IsRootTag reports whether some other configured tag has candidate as the
// segment before its first dot. A bare tag equal to candidate does not count.
func (s *Store) IsRootTag(candidate string) bool {
	for _, tag := range s.allTags() {
		if rest, found := strings.CutPrefix(tag, candidate+"."); found && rest != "" {
			return true
		}
	}
	return false
}

// allTags flattens every configured tag across both mappings: column tag
// entries in document order first, then data source patterns.
func (s *Store) allTags() []string {
	var tags []string
	for _, column := range s.columns.keys {
		tags = append(tags, s.columns.values[column]...)
	}
	for _, key := range s.dataSourceOrder {
		for _, entry := range s.dataSources[key] {
			tags = append(tags, entry.tags...)
		}
	}
	return tags
}

// TagHierarchy is one root tag with the full tag strings grouped under it.
// Children is empty when the root was configured bare, with no hierarchy.
type TagHierarchy struct {
	Root     string
	Children []string
}

// TagsToMake partitions every configured tag by its first dotted segment.
// Each root appears once; its children are the distinct full tag strings seen
// under it, in first-seen order. A root whose only tag is itself has no
// children.
func (s *Store) TagsToMake() []TagHierarchy {
	var roots []string
	grouped := make(map[string][]string)
	for _, tag := range s.allTags() {
		root, _, _ := strings.Cut(tag, ".")
		if _, seen := grouped[root]; !seen {
			roots = append(roots, root)
		}
		if !contains(grouped[root], tag) {
			grouped[root] = append(grouped[root], tag)
		}
	}

	hierarchies := make([]TagHierarchy, 0, len(roots))
	for _, root := range roots {
		children := grouped[root]
		if len(children) == 1 && children[0] == root {
			children = nil
		}
		hierarchies = append(hierarchies, TagHierarchy{Root: root, Children: children})
	}
	return hierarchies
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// orderedMap is a string-to-string-list mapping that remembers first-insertion
// order. Re-setting a key overwrites its value but keeps its position, which
// matches the shallow later-wins merge across config documents.
type orderedMap struct {
	keys   []string
	values map[string][]string
}

func newOrderedMap() *orderedMap {
	return &orderedMap{values: make(map[string][]string)}
}

func (m *orderedMap) set(key string, value []string) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// mergeStringListMapping decodes a YAML mapping of string to string-list and
// merges it into dst in document order. An absent node is a no-op.
func mergeStringListMapping(dst *orderedMap, node *yaml.Node) error {
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a mapping, got %s", node.Tag)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		var values []string
		if err := valueNode.Decode(&values); err != nil {
			return fmt.Errorf("key %q: %w", keyNode.Value, err)
		}
		dst.set(keyNode.Value, values)
	}
	return nil
}
