package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
)

// fetchAllHits walks a hits-shaped list endpoint page by page, returning the
// concatenated hits. Pagination stops on the first short page.
func (c *Client) fetchAllHits(ctx context.Context, path string, query url.Values, size int) ([]json.RawMessage, error) {
	var all []json.RawMessage
	for offset := 0; ; offset += size {
		page := url.Values{}
		for key, values := range query {
			page[key] = values
		}
		page.Set("size", strconv.Itoa(size))
		page.Set("offset", strconv.Itoa(offset))

		var result struct {
			Hits []json.RawMessage `json:"hits"`
		}
		if err := c.getJSON(ctx, path, page, &result); err != nil {
			return nil, err
		}
		all = append(all, result.Hits...)
		if len(result.Hits) < size {
			return all, nil
		}
	}
}
