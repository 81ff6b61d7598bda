// Package reconciler computes the minimal set of create, update and delete
// operations that brings the platform's tags and global policies in line
// with the declarative configuration.
package reconciler

import (
	"context"

	"github.com/yairfalse/immutactl/datasource"
	"github.com/yairfalse/immutactl/policy"
	"github.com/yairfalse/immutactl/tagging"
)

// PolicyAPI is the slice of the governance API the policy reconciler needs.
type PolicyAPI interface {
	ListGlobalPolicies(ctx context.Context, searchText string) ([]policy.GlobalPolicy, error)
	CreateGlobalPolicy(ctx context.Context, p policy.GlobalPolicy) (int, error)
	UpdateGlobalPolicy(ctx context.Context, id int, p policy.GlobalPolicy) error
	DeleteGlobalPolicy(ctx context.Context, id int) error
}

// ListDataSourcesOptions narrows data source listings and searches.
type ListDataSourcesOptions struct {
	SearchText   string
	SearchSchema string
}

// TagAPI is the slice of the governance API the tag reconciler needs.
type TagAPI interface {
	CreateTag(ctx context.Context, body tagging.CreationBody) error
	ListDataSources(ctx context.Context, opts ListDataSourcesOptions) ([]datasource.DataSource, error)
	SearchDataSourcesByColumn(ctx context.Context, column string, opts ListDataSourcesOptions) ([]datasource.DataSource, error)
	ListTagAssignments(ctx context.Context) ([]datasource.TagAssignment, error)
	BulkAddDataSourceTags(ctx context.Context, ids []int, tags []tagging.Tag) error
	RemoveDataSourceTag(ctx context.Context, id int, tagName string) error
	GetDataDictionary(ctx context.Context, id int) (datasource.Dictionary, error)
	UpdateDataDictionary(ctx context.Context, id int, dict datasource.Dictionary) error
}

// Action is the terminal reconciliation decision for one item.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionNoop   Action = "noop"
	ActionDelete Action = "delete"
)

// Decision records the action chosen for one policy name. ID carries the
// remote id for updates and deletes.
type Decision struct {
	Action Action `json:"action"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	ID     int    `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Failure is a per-item error that did not abort the run.
type Failure struct {
	Item string
	Err  error
}

// PolicyResult is the outcome of one policy reconciliation run.
type PolicyResult struct {
	Decisions []Decision
	Failures  []Failure
}

// Created counts CREATE decisions.
func (r *PolicyResult) Created() int { return r.count(ActionCreate) }

// Updated counts UPDATE decisions.
func (r *PolicyResult) Updated() int { return r.count(ActionUpdate) }

// Unchanged counts NO-OP decisions.
func (r *PolicyResult) Unchanged() int { return r.count(ActionNoop) }

func (r *PolicyResult) count(action Action) int {
	n := 0
	for _, d := range r.Decisions {
		if d.Action == action {
			n++
		}
	}
	return n
}

// TagResult is the outcome of one tag reconciliation run.
type TagResult struct {
	TagsEnsured          int
	DataSourceTagsAdded  int
	DataSourceTagsRemoved int
	DictionariesUpdated  int
	Failures             []Failure
}
