package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/yairfalse/immutactl/policy"
)

const globalPolicyPath = "policy/global"

// ListGlobalPolicies returns every global policy, optionally narrowed to
// names containing searchText. The endpoint is not paginated.
func (c *Client) ListGlobalPolicies(ctx context.Context, searchText string) ([]policy.GlobalPolicy, error) {
	query := url.Values{}
	if searchText != "" {
		query.Set("searchText", searchText)
	}

	var raw []json.RawMessage
	if err := c.getJSON(ctx, globalPolicyPath, query, &raw); err != nil {
		return nil, err
	}

	policies := make([]policy.GlobalPolicy, 0, len(raw))
	for _, data := range raw {
		p, err := policy.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse remote policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// CreateGlobalPolicy creates a policy and returns its platform-assigned id.
// A name collision surfaces as ErrDuplicateName.
func (c *Client) CreateGlobalPolicy(ctx context.Context, p policy.GlobalPolicy) (int, error) {
	resp, err := c.do(ctx, http.MethodPost, globalPolicyPath, nil, p)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity && isUniqueViolation(apiErr.Body) {
			return 0, fmt.Errorf("policy %s: %w", p.Name, ErrDuplicateName)
		}
		return 0, err
	}

	var created struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(resp.body, &created); err != nil {
		return 0, fmt.Errorf("failed to decode created policy id: %w", err)
	}
	return created.ID, nil
}

// UpdateGlobalPolicy replaces the policy with the given id.
func (c *Client) UpdateGlobalPolicy(ctx context.Context, id int, p policy.GlobalPolicy) error {
	_, err := c.do(ctx, http.MethodPut, globalPolicyPath+"/"+strconv.Itoa(id), nil, p)
	return err
}

// DeleteGlobalPolicy removes the policy with the given id.
func (c *Client) DeleteGlobalPolicy(ctx context.Context, id int) error {
	_, err := c.do(ctx, http.MethodDelete, globalPolicyPath+"/"+strconv.Itoa(id), nil, nil)
	return err
}

// isUniqueViolation inspects a 422 validation body for a unique-name code.
func isUniqueViolation(body string) bool {
	var validation struct {
		Validation []struct {
			Code string `json:"code"`
		} `json:"validation"`
	}
	if err := json.Unmarshal([]byte(body), &validation); err != nil {
		return false
	}
	for _, v := range validation.Validation {
		if v.Code == "unique" {
			return true
		}
	}
	return false
}
