package datasource

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yairfalse/immutactl/tagging"
)

func TestBlobHandlerPrefix(t *testing.T) {
	assert.Equal(t, "pg", BlobHandlerPrefix("PostgreSQL"))
	assert.Equal(t, "asdw", BlobHandlerPrefix("Azure SQL Data Warehouse"))
	assert.Equal(t, "s3", BlobHandlerPrefix("Amazon S3"))
	// unknown handler types pass through
	assert.Equal(t, "Snowflake", BlobHandlerPrefix("Snowflake"))
}

func TestDatabaseFromConnectionString(t *testing.T) {
	tests := []struct {
		connection string
		want       string
	}{
		{"warehouse.example.com:5439/analytics", "analytics"},
		{"host/db/schema", "schema"},
		{"just-a-database", "just-a-database"},
		{"trailing/", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DatabaseFromConnectionString(tt.connection), "connection %q", tt.connection)
	}

	ds := DataSource{ConnectionString: "host:5439/analytics"}
	assert.Equal(t, "analytics", ds.Database())
}

func TestEnrichColumns(t *testing.T) {
	configured := map[string][]string{
		"ssn":   {"pii.ssn"},
		"email": {"pii.contact", "marketing"},
	}
	tagsFor := func(column string) []string { return configured[column] }

	columns := []Column{
		{Name: "ssn", Tags: []tagging.Tag{{Name: "stale", Source: "curated"}}},
		{Name: "email"},
		{Name: "amount", Tags: []tagging.Tag{{Name: "stale", Source: "curated"}}},
	}

	enriched := EnrichColumns(columns, tagsFor)

	assert.Equal(t, []tagging.Tag{tagging.CuratedTag("pii.ssn")}, enriched[0].Tags)
	assert.Equal(t, []tagging.Tag{tagging.CuratedTag("pii.contact"), tagging.CuratedTag("marketing")}, enriched[1].Tags)
	// stale tags on unconfigured columns are cleared, not preserved
	assert.Empty(t, enriched[2].Tags)

	// the input slice is untouched
	assert.Equal(t, "stale", columns[0].Tags[0].Name)
}

func TestColumnTagNames(t *testing.T) {
	columns := []Column{
		{Name: "ssn", Tags: []tagging.Tag{tagging.CuratedTag("pii.ssn")}},
		{Name: "email", Tags: []tagging.Tag{tagging.CuratedTag("pii.contact"), tagging.CuratedTag("marketing")}},
		{Name: "amount"},
	}

	got := ColumnTagNames(columns)
	want := map[string]map[string]struct{}{
		"ssn":   {"pii.ssn": {}},
		"email": {"pii.contact": {}, "marketing": {}},
	}
	assert.Equal(t, want, got)
}
