package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/immutactl/policy"
	"github.com/yairfalse/immutactl/reconciler"
	"github.com/yairfalse/immutactl/tagging"
)

// testServer wires an API-key auth endpoint around the given handler and
// returns a client authenticated against it.
func testServer(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()

	var authCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/bim/apikey/authenticate", func(w http.ResponseWriter, r *http.Request) {
		authCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "test-token"})
	})
	mux.HandleFunc("/", handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, APIKeyAuth{APIKey: "key"}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c, &authCalls
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	c, authCalls := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := c.ListGlobalPolicies(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, int32(1), authCalls.Load())
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := c.ListGlobalPolicies(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientReauthenticatesOn401(t *testing.T) {
	var calls atomic.Int32
	c, authCalls := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := c.ListGlobalPolicies(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	// the initial token plus the refresh after the 401
	assert.Equal(t, int32(2), authCalls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`not found`))
	})

	_, err := c.ListGlobalPolicies(context.Background(), "")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestListGlobalPolicies(t *testing.T) {
	c, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/policy/global", r.URL.Path)
		assert.Equal(t, "staging", r.URL.Query().Get("searchText"))
		_, _ = w.Write([]byte(`[
			{"id": 3, "name": "staging mask", "type": "data", "staged": false}
		]`))
	})

	policies, err := c.ListGlobalPolicies(context.Background(), "staging")
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, 3, policies[0].ID)
	assert.Equal(t, "staging mask", policies[0].Name)
}

func TestCreateGlobalPolicy(t *testing.T) {
	c, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "mask pii", body["name"])
		// an unset id must not be sent
		assert.NotContains(t, body, "id")
		_, _ = w.Write([]byte(`{"id": 17}`))
	})

	id, err := c.CreateGlobalPolicy(context.Background(), policy.GlobalPolicy{Name: "mask pii", Type: policy.TypeData})
	require.NoError(t, err)
	assert.Equal(t, 17, id)
}

func TestCreateGlobalPolicyDuplicateName(t *testing.T) {
	c, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"validation": [{"code": "unique", "message": "name must be unique"}]}`))
	})

	_, err := c.CreateGlobalPolicy(context.Background(), policy.GlobalPolicy{Name: "mask pii", Type: policy.TypeData})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestCreateTagToleratesHierarchyOverlap(t *testing.T) {
	c, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "the following tags overlap with existing hierarchies: pii"}`))
	})

	err := c.CreateTag(context.Background(), tagging.CreationBody{Tags: []tagging.Tag{{Name: "pii"}}})
	assert.NoError(t, err)
}

func TestCreateTagSurfacesOtherErrors(t *testing.T) {
	c, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "invalid tag name"}`))
	})

	err := c.CreateTag(context.Background(), tagging.CreationBody{Tags: []tagging.Tag{{Name: ""}}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestFetchAllHitsPaginates(t *testing.T) {
	pages := [][]string{
		{`{"id": 1}`, `{"id": 2}`},
		{`{"id": 3}`, `{"id": 4}`},
		{`{"id": 5}`},
	}
	c, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("size"))
		offset := r.URL.Query().Get("offset")
		var hits []string
		switch offset {
		case "0":
			hits = pages[0]
		case "2":
			hits = pages[1]
		case "4":
			hits = pages[2]
		default:
			t.Errorf("unexpected offset %q", offset)
		}
		_, _ = w.Write([]byte(`{"hits": [` + joinRaw(hits) + `]}`))
	})

	hits, err := c.fetchAllHits(context.Background(), "dataSource", nil, 2)
	require.NoError(t, err)
	assert.Len(t, hits, 5)
}

func joinRaw(hits []string) string {
	out := ""
	for i, h := range hits {
		if i > 0 {
			out += ","
		}
		out += h
	}
	return out
}

func TestSearchDataSourcesByColumn(t *testing.T) {
	c, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dataSource", r.URL.Path)
		assert.Equal(t, "ssn", r.URL.Query().Get("columns"))
		assert.Equal(t, "public", r.URL.Query().Get("searchSchema"))
		_, _ = w.Write([]byte(`{"hits": [
			{"id": 1, "name": "orders_eu", "blobHandlerType": "PostgreSQL", "connectionString": "host:5432/warehouse"}
		]}`))
	})

	sources, err := c.SearchDataSourcesByColumn(context.Background(), "ssn", reconciler.ListDataSourcesOptions{SearchSchema: "public"})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "orders_eu", sources[0].Name)
	assert.Equal(t, "warehouse", sources[0].Database())
}

func TestListTagAssignments(t *testing.T) {
	c, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tag/report", r.URL.Path)
		_, _ = w.Write([]byte(`{"hits": [
			{"Data Source": "orders_eu", "Tag Name": "sales", "Type": "Data Source"},
			{"Data Source": "orders_eu", "Tag Name": "pii.ssn", "Column Name": "ssn", "Type": "Column"}
		]}`))
	})

	assignments, err := c.ListTagAssignments(context.Background())
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.Equal(t, "sales", assignments[0].TagName)
	assert.Equal(t, "ssn", assignments[1].ColumnName)
	assert.Equal(t, "Column", assignments[1].Type)
}

func TestRemoveDataSourceTagEscapesName(t *testing.T) {
	var gotPath string
	c, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, c.RemoveDataSourceTag(context.Background(), 7, "pii.contact info"))
	assert.Equal(t, "/tag/datasource/7/pii.contact%20info", gotPath)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New("", APIKeyAuth{})
	require.Error(t, err)
}
