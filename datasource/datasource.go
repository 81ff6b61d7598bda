// Package datasource models the platform's data source, data dictionary and
// column objects as the tagging reconciler needs them.
package datasource

import (
	"strings"

	"github.com/yairfalse/immutactl/tagging"
)

// handlerTypes maps a data source's declared handler type to the request
// prefix the platform routes its endpoints under.
var handlerTypes = map[string]string{
	"PostgreSQL":               "pg",
	"Microsoft SQL Server":     "mssql",
	"Apache Hive":              "hive",
	"Apache Impala":            "impala",
	"Apache HDFS":              "hdfs",
	"Azure Blob Storage":       "azureblob",
	"Azure SQL Data Warehouse": "asdw",
	"Netezza":                  "netezza",
	"MariaDB":                  "mariadb",
	"DB2":                      "db2",
	"Oracle":                   "oracle",
	"MySQL":                    "mysql",
	"Elastic":                  "elastic",
	"Teradata":                 "teradata",
	"Greenplum":                "greenplum",
	"Redshift":                 "redshift",
	"Amazon S3":                "s3",
	"FTP":                      "ftp",
	"Persisted":                "persisted",
	"Custom":                   "custom",
	"MEMSQL":                   "memsql",
	"Presto":                   "presto",
	"Amazon Athena":            "athena",
	"Vertica":                  "vertica",
}

// BlobHandlerPrefix returns the request prefix for a handler type, falling
// back to the handler type itself when unknown.
func BlobHandlerPrefix(handlerType string) string {
	if prefix, ok := handlerTypes[handlerType]; ok {
		return prefix
	}
	return handlerType
}

// DataSource is the summary the list endpoint reports for one data source.
type DataSource struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	BlobHandlerType  string `json:"blobHandlerType"`
	ConnectionString string `json:"connectionString"`
}

// Database returns the remote database this data source is backed by,
// which is how enrolled-dataset tag documents are keyed.
func (d DataSource) Database() string {
	return DatabaseFromConnectionString(d.ConnectionString)
}

// DatabaseFromConnectionString extracts the trailing path segment of a
// connection string, e.g. "host:5439/warehouse" yields "warehouse".
func DatabaseFromConnectionString(connectionString string) string {
	if i := strings.LastIndex(connectionString, "/"); i >= 0 {
		return connectionString[i+1:]
	}
	return connectionString
}

// Column is one column of a data source's data dictionary.
type Column struct {
	Name       string        `json:"name"`
	DataType   string        `json:"dataType,omitempty"`
	RemoteType string        `json:"remoteType,omitempty"`
	Nullable   bool          `json:"nullable"`
	Tags       []tagging.Tag `json:"tags"`
}

// Dictionary is a data source's data dictionary: its column metadata,
// including per-column tags.
type Dictionary struct {
	ID         int      `json:"id"`
	DataSource int      `json:"dataSource"`
	Metadata   []Column `json:"metadata"`
	Types      []string `json:"types,omitempty"`
}

// TagAssignment is one platform-reported tag application, to either a whole
// data source or a single column.
type TagAssignment struct {
	DataSourceName string `json:"dataSourceName"`
	TagName        string `json:"tagName"`
	ColumnName     string `json:"columnName,omitempty"`
	Type           string `json:"type"`
}

// Assignment type discriminators in the platform's tag report.
const (
	AssignmentDataSource = "Data Source"
	AssignmentColumn     = "Column"
)

// EnrichColumns returns a copy of columns with each column's tag list
// replaced entirely by the configured tags for its name. Columns without
// configured tags end up with an empty list, which is how stale tags are
// removed on dictionary update.
func EnrichColumns(columns []Column, tagsFor func(column string) []string) []Column {
	enriched := make([]Column, 0, len(columns))
	for _, column := range columns {
		tags := make([]tagging.Tag, 0, 4)
		for _, tag := range tagsFor(column.Name) {
			tags = append(tags, tagging.CuratedTag(tag))
		}
		column.Tags = tags
		enriched = append(enriched, column)
	}
	return enriched
}

// ColumnTagNames collapses a dictionary's columns into a column-to-tag-name
// set map, the shape tag reconciliation diffs against. Columns with no tags
// are left out so an untagged dictionary compares equal to an empty want.
func ColumnTagNames(columns []Column) map[string]map[string]struct{} {
	byColumn := make(map[string]map[string]struct{})
	for _, column := range columns {
		if len(column.Tags) == 0 {
			continue
		}
		set := make(map[string]struct{}, len(column.Tags))
		for _, tag := range column.Tags {
			set[tag.Name] = struct{}{}
		}
		byColumn[column.Name] = set
	}
	return byColumn
}
