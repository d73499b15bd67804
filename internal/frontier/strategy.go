package frontier

import (
	"fmt"

	"github.com/crawlforge/crawld/internal/crawl"
)

// Strategy orders eligible frontier entries. A strategy is chosen once per
// session at start time and never swapped mid-crawl.
type Strategy interface {
	Kind() crawl.StrategyKind
	// Less reports whether a should be dispatched before b.
	Less(a, b *crawl.FrontierEntry) bool
}

// ForKind returns the strategy implementation for a known kind.
func ForKind(kind crawl.StrategyKind) (Strategy, error) {
	switch kind {
	case crawl.StrategyBreadthFirst:
		return breadthFirst{}, nil
	case crawl.StrategyDepthFirst:
		return depthFirst{}, nil
	case crawl.StrategyPriority:
		return priorityOnly{}, nil
	case crawl.StrategyHybrid:
		return NewHybrid(0, 0), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", kind)
	}
}

type breadthFirst struct{}

func (breadthFirst) Kind() crawl.StrategyKind { return crawl.StrategyBreadthFirst }

func (breadthFirst) Less(a, b *crawl.FrontierEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}

type depthFirst struct{}

func (depthFirst) Kind() crawl.StrategyKind { return crawl.StrategyDepthFirst }

func (depthFirst) Less(a, b *crawl.FrontierEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.Depth != b.Depth {
		return a.Depth > b.Depth
	}
	// LIFO within a depth level keeps the walk depth-first.
	return a.EnqueuedAt.After(b.EnqueuedAt)
}

type priorityOnly struct{}

func (priorityOnly) Kind() crawl.StrategyKind { return crawl.StrategyPriority }

func (priorityOnly) Less(a, b *crawl.FrontierEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}

// Hybrid scores entries by a weighted combination of priority, depth, and
// path size. Shallow URLs with short paths tend to carry more information,
// so they score lower (more urgent).
type Hybrid struct {
	DepthWeight float64
	PathWeight  float64
}

// NewHybrid builds a Hybrid strategy, applying defaults for zero weights.
func NewHybrid(depthWeight, pathWeight float64) Hybrid {
	if depthWeight <= 0 {
		depthWeight = 0.5
	}
	if pathWeight <= 0 {
		pathWeight = 0.25
	}
	return Hybrid{DepthWeight: depthWeight, PathWeight: pathWeight}
}

// Kind implements Strategy.
func (Hybrid) Kind() crawl.StrategyKind { return crawl.StrategyHybrid }

// Less implements Strategy.
func (h Hybrid) Less(a, b *crawl.FrontierEntry) bool {
	sa, sb := h.score(a), h.score(b)
	if sa != sb {
		return sa < sb
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}

func (h Hybrid) score(e *crawl.FrontierEntry) float64 {
	return float64(e.Priority) + h.DepthWeight*float64(e.Depth) + h.PathWeight*float64(pathSegments(e.URL))
}
