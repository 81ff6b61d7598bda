package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/yairfalse/immutactl/datasource"
	"github.com/yairfalse/immutactl/reconciler"
	"github.com/yairfalse/immutactl/tagging"
)

// defaultPageSize is the page size used for paginated listings. The
// platform tolerates large pages, and fewer round trips beat smaller
// payloads for bulk reconciliation.
const defaultPageSize = 25000

// CreateTag creates a tag hierarchy. A 400 reporting overlap with an
// existing hierarchy means the tags already exist and is not an error.
func (c *Client) CreateTag(ctx context.Context, body tagging.CreationBody) error {
	_, err := c.do(ctx, http.MethodPost, "tag", nil, body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest &&
			strings.Contains(apiErr.Body, "overlap with existing hierarchies") {
			return nil
		}
		return err
	}
	return nil
}

// ListDataSources returns every data source matching the options.
func (c *Client) ListDataSources(ctx context.Context, opts reconciler.ListDataSourcesOptions) ([]datasource.DataSource, error) {
	return c.fetchDataSources(ctx, dataSourceQuery(opts))
}

// SearchDataSourcesByColumn returns every data source exposing the column.
func (c *Client) SearchDataSourcesByColumn(ctx context.Context, column string, opts reconciler.ListDataSourcesOptions) ([]datasource.DataSource, error) {
	query := dataSourceQuery(opts)
	query.Set("columns", column)
	return c.fetchDataSources(ctx, query)
}

func dataSourceQuery(opts reconciler.ListDataSourcesOptions) url.Values {
	query := url.Values{}
	if opts.SearchText != "" {
		query.Set("searchText", opts.SearchText)
	}
	if opts.SearchSchema != "" {
		query.Set("searchSchema", opts.SearchSchema)
	}
	return query
}

func (c *Client) fetchDataSources(ctx context.Context, query url.Values) ([]datasource.DataSource, error) {
	hits, err := c.fetchAllHits(ctx, "dataSource", query, defaultPageSize)
	if err != nil {
		return nil, err
	}

	sources := make([]datasource.DataSource, 0, len(hits))
	for _, hit := range hits {
		var source datasource.DataSource
		if err := json.Unmarshal(hit, &source); err != nil {
			return nil, fmt.Errorf("failed to decode data source: %w", err)
		}
		sources = append(sources, source)
	}
	return sources, nil
}

// tagReportHit is one row of the platform's tag assignment report. The
// report uses display-style keys.
type tagReportHit struct {
	DataSource string `json:"Data Source"`
	TagName    string `json:"Tag Name"`
	ColumnName string `json:"Column Name"`
	Type       string `json:"Type"`
}

// ListTagAssignments returns every tag applied to a data source or column,
// platform-wide, in one bulk report.
func (c *Client) ListTagAssignments(ctx context.Context) ([]datasource.TagAssignment, error) {
	var report struct {
		Hits []tagReportHit `json:"hits"`
	}
	if err := c.getJSON(ctx, "tag/report", nil, &report); err != nil {
		return nil, err
	}

	assignments := make([]datasource.TagAssignment, 0, len(report.Hits))
	for _, hit := range report.Hits {
		assignments = append(assignments, datasource.TagAssignment{
			DataSourceName: hit.DataSource,
			TagName:        hit.TagName,
			ColumnName:     hit.ColumnName,
			Type:           hit.Type,
		})
	}
	return assignments, nil
}

// BulkAddDataSourceTags applies the tags to every listed data source.
func (c *Client) BulkAddDataSourceTags(ctx context.Context, ids []int, tags []tagging.Tag) error {
	body := struct {
		IDs  []int         `json:"ids"`
		Tags []tagging.Tag `json:"tags"`
	}{IDs: ids, Tags: tags}
	_, err := c.do(ctx, http.MethodPost, "tag/datasource/bulk", nil, body)
	return err
}

// RemoveDataSourceTag removes one tag from one data source.
func (c *Client) RemoveDataSourceTag(ctx context.Context, id int, tagName string) error {
	path := "tag/datasource/" + strconv.Itoa(id) + "/" + url.PathEscape(tagName)
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// GetDataDictionary fetches a data source's data dictionary.
func (c *Client) GetDataDictionary(ctx context.Context, id int) (datasource.Dictionary, error) {
	var dict datasource.Dictionary
	if err := c.getJSON(ctx, "dictionary/"+strconv.Itoa(id), nil, &dict); err != nil {
		return datasource.Dictionary{}, err
	}
	return dict, nil
}

// UpdateDataDictionary replaces a data source's data dictionary.
func (c *Client) UpdateDataDictionary(ctx context.Context, id int, dict datasource.Dictionary) error {
	_, err := c.do(ctx, http.MethodPut, "dictionary/"+strconv.Itoa(id), nil, dict)
	return err
}
