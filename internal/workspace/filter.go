package workspace

import (
	"fmt"
	"path"
	"strings"

	"wsundo/internal/undo"
)

// Matcher IDs understood by resource filters.
const (
	// MatchName globs against the resource name.
	MatchName = "name"
	// MatchPath globs against the path relative to the filtering container.
	MatchPath = "path"
)

// matcher checks workspace-relative paths against glob patterns. The
// arguments of a filter hold one pattern per line; blank lines and lines
// starting with '#' are skipped.
type matcher struct {
	patterns  []string
	matchPath bool
}

func newMatcher(f undo.ResourceFilter) (*matcher, error) {
	var m matcher
	switch f.MatcherID {
	case MatchName:
	case MatchPath:
		m.matchPath = true
	default:
		return nil, fmt.Errorf("%w: unknown filter matcher %q", undo.ErrInvalidPath, f.MatcherID)
	}

	for _, raw := range strings.Split(f.Arguments, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if _, err := path.Match(raw, ""); err != nil {
			return nil, fmt.Errorf("filter pattern %q: %w", raw, err)
		}
		m.patterns = append(m.patterns, raw)
	}
	return &m, nil
}

// match reports whether relativePath, which uses forward slashes, matches
// any pattern.
func (m *matcher) match(relativePath string) bool {
	subject := path.Base(relativePath)
	if m.matchPath {
		subject = relativePath
	}
	for _, p := range m.patterns {
		if ok, _ := path.Match(p, subject); ok {
			return true
		}
	}
	return false
}

// boundFilter is a filter together with the container it is attached to.
type boundFilter struct {
	owner   undo.Path
	filter  undo.ResourceFilter
	matcher *matcher
}

func (b boundFilter) appliesTo(kind undo.Kind) bool {
	switch kind {
	case undo.KindFile:
		return b.filter.Type&undo.FilterFiles != 0
	case undo.KindFolder:
		return b.filter.Type&undo.FilterFolders != 0
	}
	return false
}

func (b boundFilter) matches(p undo.Path) bool {
	rel := strings.TrimPrefix(p.String(), b.owner.String())
	return b.matcher.match(strings.TrimPrefix(rel, "/"))
}

// filterSet decides which filesystem entries become resources.
type filterSet []boundFilter

// excludes reports whether an entry of kind at p is filtered out. An entry
// is excluded when it matches any exclude filter, or when include filters
// apply to it and it matches none of them.
func (s filterSet) excludes(p undo.Path, kind undo.Kind) bool {
	var hasInclude, included bool
	for _, b := range s {
		if !b.appliesTo(kind) {
			continue
		}
		matched := b.matches(p)
		if b.filter.Type&undo.FilterExcludeAll != 0 && matched {
			return true
		}
		if b.filter.Type&undo.FilterIncludeOnly != 0 {
			hasInclude = true
			included = included || matched
		}
	}
	return hasInclude && !included
}

// filtersFor collects the filters governing the members of container:
// all of its own filters and the inheritable filters of its ancestors.
func (w *Workspace) filtersFor(container undo.Path) (filterSet, error) {
	var set filterSet
	for p := container; !p.IsRoot(); p = p.Parent() {
		rows, err := w.store.FindFilters(p.String())
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			f := undo.ResourceFilter{Type: undo.FilterType(r.Type), MatcherID: r.MatcherID, Arguments: r.Arguments}
			if p != container && f.Type&undo.FilterInheritable == 0 {
				continue
			}
			m, err := newMatcher(f)
			if err != nil {
				w.logger.Warn("skipping invalid filter", "path", p, "error", err)
				continue
			}
			set = append(set, boundFilter{owner: p, filter: f, matcher: m})
		}
	}
	return set, nil
}
