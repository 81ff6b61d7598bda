package reconciler

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/rs/zerolog"

	"github.com/yairfalse/immutactl/datasource"
	"github.com/yairfalse/immutactl/tagging"
)

// TagReconciler drives the platform's tag forest, data source tags and
// column tags toward the configured mappings.
type TagReconciler struct {
	api    TagAPI
	tags   *tagging.Store
	dryRun bool
	logger zerolog.Logger
}

// NewTagReconciler creates a tag reconciler. In dry-run mode the computed
// add/remove/update sets are logged without any mutating API call.
func NewTagReconciler(api TagAPI, tags *tagging.Store, dryRun bool, logger zerolog.Logger) *TagReconciler {
	return &TagReconciler{
		api:    api,
		tags:   tags,
		dryRun: dryRun,
		logger: logger,
	}
}

// Reconcile runs the three tagging phases in order: ensure the tag forest
// exists, diff and apply data source tags, diff and apply column tags. Any
// single item failing is recorded and does not abort the remaining items.
func (r *TagReconciler) Reconcile(ctx context.Context, opts ListDataSourcesOptions) (*TagResult, error) {
	result := &TagResult{}
	r.ensureTags(ctx, result)

	sources, err := r.api.ListDataSources(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	assignments, err := r.api.ListTagAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tag assignments: %w", err)
	}
	current := indexAssignments(assignments)

	r.reconcileDataSourceTags(ctx, sources, current, result)
	r.reconcileColumnTags(ctx, sources, current, opts, result)
	return result, nil
}

// ensureTags issues one create call per configured tag hierarchy. Creation
// is idempotent on the platform side, so no remote diff is needed.
func (r *TagReconciler) ensureTags(ctx context.Context, result *TagResult) {
	for _, hierarchy := range r.tags.TagsToMake() {
		r.logger.Debug().
			Str("root", hierarchy.Root).
			Strs("children", hierarchy.Children).
			Bool("dry_run", r.dryRun).
			Msg("ensuring tag hierarchy")
		if !r.dryRun {
			if err := r.api.CreateTag(ctx, tagging.CreationBodyFor(hierarchy)); err != nil {
				r.logger.Error().Err(err).Str("root", hierarchy.Root).Msg("tag creation failed, skipping")
				result.Failures = append(result.Failures, Failure{Item: "tag " + hierarchy.Root, Err: err})
				continue
			}
		}
		result.TagsEnsured++
	}
}

// currentTags is the platform-reported tag state, keyed by data source name.
// Platform-managed tags are excluded at indexing time so they are never
// added or removed.
type currentTags struct {
	dataSource map[string]map[string]struct{}
	columns    map[string]map[string]map[string]struct{}
}

func indexAssignments(assignments []datasource.TagAssignment) currentTags {
	current := currentTags{
		dataSource: make(map[string]map[string]struct{}),
		columns:    make(map[string]map[string]map[string]struct{}),
	}
	for _, a := range assignments {
		if tagging.PlatformTagged(a.TagName) {
			continue
		}
		switch a.Type {
		case datasource.AssignmentDataSource:
			if current.dataSource[a.DataSourceName] == nil {
				current.dataSource[a.DataSourceName] = make(map[string]struct{})
			}
			current.dataSource[a.DataSourceName][a.TagName] = struct{}{}
		case datasource.AssignmentColumn:
			if current.columns[a.DataSourceName] == nil {
				current.columns[a.DataSourceName] = make(map[string]map[string]struct{})
			}
			if current.columns[a.DataSourceName][a.ColumnName] == nil {
				current.columns[a.DataSourceName][a.ColumnName] = make(map[string]struct{})
			}
			current.columns[a.DataSourceName][a.ColumnName][a.TagName] = struct{}{}
		}
	}
	return current
}

// tagDiff is the computed data source tag delta: per-tag id sets to add and
// (id, tag) pairs to remove.
type tagDiff struct {
	adds     map[string][]int
	removals []tagRemoval
}

type tagRemoval struct {
	dataSourceID int
	tag          string
}

// planDataSourceTags diffs the wanted tag set of every listed data source
// against the platform-reported state. Wanted tags come from glob matching
// keyed by (handler type, database); duplicates from overlapping patterns
// collapse here under set semantics.
func planDataSourceTags(sources []datasource.DataSource, current map[string]map[string]struct{}, tags *tagging.Store) tagDiff {
	diff := tagDiff{adds: make(map[string][]int)}
	for _, source := range sources {
		wanted := make(map[string]struct{})
		for _, tag := range tags.TagsForDataSource(source.Name, source.BlobHandlerType, source.Database()) {
			wanted[tag.Name] = struct{}{}
		}
		applied := current[source.Name]

		for tag := range wanted {
			if _, ok := applied[tag]; !ok {
				diff.adds[tag] = append(diff.adds[tag], source.ID)
			}
		}
		for tag := range applied {
			if _, ok := wanted[tag]; !ok {
				diff.removals = append(diff.removals, tagRemoval{dataSourceID: source.ID, tag: tag})
			}
		}
	}

	for tag := range diff.adds {
		sort.Ints(diff.adds[tag])
	}
	sort.Slice(diff.removals, func(i, j int) bool {
		if diff.removals[i].dataSourceID != diff.removals[j].dataSourceID {
			return diff.removals[i].dataSourceID < diff.removals[j].dataSourceID
		}
		return diff.removals[i].tag < diff.removals[j].tag
	})
	return diff
}

func (r *TagReconciler) reconcileDataSourceTags(ctx context.Context, sources []datasource.DataSource, current currentTags, result *TagResult) {
	diff := planDataSourceTags(sources, current.dataSource, r.tags)

	tags := make([]string, 0, len(diff.adds))
	for tag := range diff.adds {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		ids := diff.adds[tag]
		r.logger.Info().
			Str("tag", tag).
			Int("data_sources", len(ids)).
			Bool("dry_run", r.dryRun).
			Msg("adding data source tag")
		if !r.dryRun {
			if err := r.api.BulkAddDataSourceTags(ctx, ids, []tagging.Tag{tagging.CuratedTag(tag)}); err != nil {
				r.logger.Error().Err(err).Str("tag", tag).Msg("bulk tag add failed, skipping")
				result.Failures = append(result.Failures, Failure{Item: "add tag " + tag, Err: err})
				continue
			}
		}
		result.DataSourceTagsAdded += len(ids)
	}

	for _, removal := range diff.removals {
		r.logger.Info().
			Str("tag", removal.tag).
			Int("data_source_id", removal.dataSourceID).
			Bool("dry_run", r.dryRun).
			Msg("removing data source tag")
		if !r.dryRun {
			if err := r.api.RemoveDataSourceTag(ctx, removal.dataSourceID, removal.tag); err != nil {
				r.logger.Error().Err(err).Str("tag", removal.tag).Msg("tag removal failed, skipping")
				result.Failures = append(result.Failures, Failure{Item: fmt.Sprintf("remove tag %s from %d", removal.tag, removal.dataSourceID), Err: err})
				continue
			}
		}
		result.DataSourceTagsRemoved++
	}
}

// reconcileColumnTags computes the wanted column tag map lazily, by searching
// for the data sources exposing each configured column instead of fetching
// every data source's full column list, then replaces the dictionaries of
// data sources whose column tags differ.
func (r *TagReconciler) reconcileColumnTags(ctx context.Context, sources []datasource.DataSource, current currentTags, opts ListDataSourcesOptions, result *TagResult) {
	wanted := make(map[string]map[string]map[string]struct{})
	for _, column := range r.tags.Columns() {
		tagSet := make(map[string]struct{})
		for _, tag := range r.tags.TagsForColumn(column) {
			tagSet[tag] = struct{}{}
		}

		matches, err := r.api.SearchDataSourcesByColumn(ctx, column, opts)
		if err != nil {
			r.logger.Error().Err(err).Str("column", column).Msg("column search failed, skipping")
			result.Failures = append(result.Failures, Failure{Item: "column " + column, Err: err})
			continue
		}
		for _, source := range matches {
			if wanted[source.Name] == nil {
				wanted[source.Name] = make(map[string]map[string]struct{})
			}
			wanted[source.Name][column] = tagSet
		}
	}

	for _, source := range sources {
		if columnTagsEqual(current.columns[source.Name], wanted[source.Name]) {
			continue
		}
		updated, err := r.updateDictionary(ctx, source)
		if err != nil {
			r.logger.Error().Err(err).Str("data_source", source.Name).Msg("dictionary update failed, skipping")
			result.Failures = append(result.Failures, Failure{Item: "data source " + source.Name, Err: err})
			continue
		}
		if updated {
			result.DictionariesUpdated++
		}
	}
}

// updateDictionary replaces the column tag lists of one data source's data
// dictionary wholesale from the configured column map.
func (r *TagReconciler) updateDictionary(ctx context.Context, source datasource.DataSource) (bool, error) {
	dict, err := r.api.GetDataDictionary(ctx, source.ID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch dictionary: %w", err)
	}

	enriched := datasource.EnrichColumns(dict.Metadata, r.tags.TagsForColumn)
	if reflect.DeepEqual(datasource.ColumnTagNames(enriched), datasource.ColumnTagNames(dict.Metadata)) {
		r.logger.Warn().
			Str("data_source", source.Name).
			Msg("expected a column tag change but found none, skipping")
		return false, nil
	}

	r.logger.Info().
		Str("data_source", source.Name).
		Bool("dry_run", r.dryRun).
		Msg("updating data dictionary column tags")
	if r.dryRun {
		return true, nil
	}

	dict.Metadata = enriched
	if err := r.api.UpdateDataDictionary(ctx, source.ID, dict); err != nil {
		return false, fmt.Errorf("failed to update dictionary: %w", err)
	}
	return true, nil
}

// columnTagsEqual compares two column-to-tag-set maps, treating nil and
// empty as equal.
func columnTagsEqual(a, b map[string]map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for column, tagsA := range a {
		tagsB, ok := b[column]
		if !ok || !reflect.DeepEqual(tagsA, tagsB) {
			return false
		}
	}
	return true
}
