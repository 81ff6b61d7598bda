package tagging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig lays out a config root with the given files, keyed by
// path relative to root.
func writeConfig(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestLoadColumnTags(t *testing.T) {
	root := writeConfig(t, map[string]string{
		"tags/base.yaml": `
TAG_MAP:
  ssn: ["pii.ssn"]
  email: ["pii.contact", "marketing"]
TAG_GROUPS:
  pii.ssn: ["compliance"]
`,
	})

	store, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, []string{"pii.ssn"}, store.TagsForColumn("ssn"))
	assert.Equal(t, []string{"pii.contact", "marketing"}, store.TagsForColumn("email"))
	assert.Nil(t, store.TagsForColumn("unknown"))
	assert.Equal(t, []string{"ssn", "email"}, store.Columns())
	assert.Equal(t, []string{"compliance"}, store.GroupsForTag("pii.ssn"))
	assert.Nil(t, store.GroupsForTag("marketing"))
}

func TestLoadMergeLaterFileWins(t *testing.T) {
	root := writeConfig(t, map[string]string{
		"tags/01_base.yaml": `
TAG_MAP:
  ssn: ["pii.ssn"]
  email: ["pii.contact"]
`,
		"tags/02_override.yaml": `
TAG_MAP:
  ssn: ["pii.national_id"]
  phone: ["pii.contact"]
`,
	})

	store, err := Load(root)
	require.NoError(t, err)

	// later file overrides the value but the key keeps its position
	assert.Equal(t, []string{"pii.national_id"}, store.TagsForColumn("ssn"))
	assert.Equal(t, []string{"ssn", "email", "phone"}, store.Columns())
}

func TestLoadMissingDirsIsEmptyConfig(t *testing.T) {
	store, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, store.Columns())
	assert.Empty(t, store.TagsToMake())
}

func TestLoadRejectsNonMapping(t *testing.T) {
	root := writeConfig(t, map[string]string{
		"tags/bad.yaml": `
TAG_MAP:
  - not
  - a
  - mapping
`,
	})

	_, err := Load(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TAG_MAP")
}

func TestIsRootTag(t *testing.T) {
	root := writeConfig(t, map[string]string{
		"tags/base.yaml": `
TAG_MAP:
  a: ["foo", "bar.baz"]
  b: ["foobar"]
`,
		"enrolled_datasets/warehouse.yaml": `
handler_type: PostgreSQL
database: warehouse
tags:
  "orders_*": ["eeny", "meeny.miny"]
`,
	})

	store, err := Load(root)
	require.NoError(t, err)

	tests := []struct {
		candidate string
		want      bool
	}{
		{"bar", true},
		{"meeny", true},
		{"foo", false},    // bare tag, nothing underneath
		{"foobar", false}, // prefix of foo must not leak
		{"fo", false},
		{"bar.baz", false},
		{"missing", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, store.IsRootTag(tt.candidate), "candidate %q", tt.candidate)
	}
}

func TestTagsToMake(t *testing.T) {
	root := writeConfig(t, map[string]string{
		"tags/base.yaml": `
TAG_MAP:
  a: ["foo", "bar.baz"]
  b: ["foobar", "foo"]
`,
		"enrolled_datasets/warehouse.yaml": `
handler_type: PostgreSQL
database: warehouse
tags:
  "orders_*": ["eeny", "meeny.miny"]
`,
	})

	store, err := Load(root)
	require.NoError(t, err)

	want := []TagHierarchy{
		{Root: "foo"},
		{Root: "bar", Children: []string{"bar.baz"}},
		{Root: "foobar"},
		{Root: "eeny"},
		{Root: "meeny", Children: []string{"meeny.miny"}},
	}
	assert.Equal(t, want, store.TagsToMake())
}

func TestTagsForDataSource(t *testing.T) {
	root := writeConfig(t, map[string]string{
		"enrolled_datasets/warehouse.yaml": `
handler_type: PostgreSQL
database: warehouse
tags:
  "orders_*": ["sales"]
  "orders_eu": ["regional.eu"]
  "[invalid": ["never"]
`,
	})

	store, err := Load(root)
	require.NoError(t, err)

	// both patterns match, duplicates and order preserved
	tags := store.TagsForDataSource("orders_eu", "PostgreSQL", "warehouse")
	assert.Equal(t, []Tag{CuratedTag("sales"), CuratedTag("regional.eu")}, tags)

	// only the glob matches
	tags = store.TagsForDataSource("orders_us", "PostgreSQL", "warehouse")
	assert.Equal(t, []Tag{CuratedTag("sales")}, tags)

	// wrong handler type or database yields nothing
	assert.Nil(t, store.TagsForDataSource("orders_eu", "Snowflake", "warehouse"))
	assert.Nil(t, store.TagsForDataSource("orders_eu", "PostgreSQL", "staging"))

	// invalid glob syntax never matches, even its own literal text
	assert.Nil(t, store.TagsForDataSource("[invalid", "PostgreSQL", "warehouse"))
}

func TestTagsForDataSourceCarryCuratedSource(t *testing.T) {
	root := writeConfig(t, map[string]string{
		"enrolled_datasets/warehouse.yaml": `
handler_type: PostgreSQL
database: warehouse
tags:
  "*": ["everything"]
`,
	})

	store, err := Load(root)
	require.NoError(t, err)

	tags := store.TagsForDataSource("anything", "PostgreSQL", "warehouse")
	require.Len(t, tags, 1)
	assert.Equal(t, "curated", tags[0].Source)
}

func TestPlatformTagged(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"New", true},
		{"Discovered", true},
		{"Discovered.Entity", true},
		{"Discovered.Entity.Person Name", true},
		{"DiscoveredButNot", false},
		{"pii.ssn", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PlatformTagged(tt.name), "tag %q", tt.name)
	}
}

func TestCreationBodyFor(t *testing.T) {
	tests := []struct {
		name      string
		hierarchy TagHierarchy
		want      CreationBody
	}{
		{
			name:      "bare tag has no root entry",
			hierarchy: TagHierarchy{Root: "foo"},
			want:      CreationBody{Tags: []Tag{{Name: "foo"}}},
		},
		{
			name:      "hierarchy declares the root separately",
			hierarchy: TagHierarchy{Root: "pii", Children: []string{"pii.ssn", "pii.contact"}},
			want: CreationBody{
				RootTag: &RootTag{Name: "pii", DeleteHierarchy: false},
				Tags:    []Tag{{Name: "pii.ssn"}, {Name: "pii.contact"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CreationBodyFor(tt.hierarchy))
		})
	}
}
