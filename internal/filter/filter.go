// Package filter selects which projects a collection pass visits.
package filter

import (
	"github.com/yairfalse/saasmeter/pkg/schema"
)

// Filter matches projects by id or name against include and exclude lists.
type Filter struct {
	include map[string]bool
	exclude map[string]bool
}

// New creates a new Filter. An empty include list admits every project;
// exclude always wins over include.
func New(include, exclude []string) *Filter {
	return &Filter{
		include: toSet(include),
		exclude: toSet(exclude),
	}
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}

// ShouldInclude returns true if the project passes the filter.
func (f *Filter) ShouldInclude(g schema.Group) bool {
	if f.exclude[g.ID] || f.exclude[g.Name] {
		return false
	}
	if len(f.include) > 0 {
		return f.include[g.ID] || f.include[g.Name]
	}
	return true
}

// Groups returns only the projects that pass the filter, in their original order.
func (f *Filter) Groups(groups []schema.Group) []schema.Group {
	if f.IsEmpty() {
		return groups
	}

	filtered := make([]schema.Group, 0, len(groups))
	for _, g := range groups {
		if f.ShouldInclude(g) {
			filtered = append(filtered, g)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.include) == 0 && len(f.exclude) == 0
}
