package video_fetcher

import (
	"fmt"
	"strconv"
	"strings"
)

// FetchItem is one unit of work: a single video-equivalent resource to be fetched. It is immutable once enqueued.
type FetchItem struct {
	// ID is stable and unique within a batch.
	ID    string
	Title string
	// SourceRef is the opaque locator passed to the fetch engine.
	SourceRef       string
	DurationSeconds int
}

func (i FetchItem) String() string {
	return fmt.Sprintf("%s [%s]", i.Title, i.ID)
}

// ItemInfo is the preview metadata for an item, as returned by a Resolver.
type ItemInfo struct {
	FetchItem
	ThumbnailURL string
	Uploader     string
	ViewCount    int
}

type ReferenceKind string

const (
	ReferenceSingle     ReferenceKind = "single"
	ReferenceCollection ReferenceKind = "collection"
)

// A Reference is the resolved form of whatever the user submitted: a single item, or a collection (playlist).
type Reference struct {
	Kind  ReferenceKind
	Title string
	Items []ItemInfo
}

// FetchItems returns the items of the reference in order, without the preview-only metadata.
func (r *Reference) FetchItems() []FetchItem {
	items := make([]FetchItem, 0, len(r.Items))
	for _, info := range r.Items {
		items = append(items, info.FetchItem)
	}
	return items
}

// ParseSelection parses a 1-based selection such as "1,3,5-7" into 0-based indices, in the order given. An empty
// selection selects everything.
func ParseSelection(s string, count int) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		indices := make([]int, count)
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	}
	var indices []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		first, last := part, part
		if lo, hi, found := strings.Cut(part, "-"); found {
			first, last = strings.TrimSpace(lo), strings.TrimSpace(hi)
		}
		start, err := strconv.Atoi(first)
		if err != nil {
			return nil, &ValidationError{Field: "selection", Value: part, Reason: "not a number or range"}
		}
		end, err := strconv.Atoi(last)
		if err != nil {
			return nil, &ValidationError{Field: "selection", Value: part, Reason: "not a number or range"}
		}
		if start < 1 || end > count || start > end {
			return nil, &ValidationError{Field: "selection", Value: part, Reason: fmt.Sprintf("must be within 1-%d", count)}
		}
		for i := start; i <= end; i++ {
			if !seen[i-1] {
				seen[i-1] = true
				indices = append(indices, i-1)
			}
		}
	}
	return indices, nil
}

// SelectItems returns the items at the given 0-based indices, preserving the order of indices.
func SelectItems(items []FetchItem, indices []int) ([]FetchItem, error) {
	selected := make([]FetchItem, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(items) {
			return nil, fmt.Errorf("selection index %d out of range", i+1)
		}
		selected = append(selected, items[i])
	}
	return selected, nil
}
