package frontier

import (
	"testing"
	"time"

	"github.com/crawlforge/crawld/internal/crawl"
)

func TestForKindRejectsUnknown(t *testing.T) {
	t.Parallel()

	for _, kind := range []crawl.StrategyKind{
		crawl.StrategyBreadthFirst, crawl.StrategyDepthFirst,
		crawl.StrategyPriority, crawl.StrategyHybrid,
	} {
		s, err := ForKind(kind)
		if err != nil {
			t.Fatalf("ForKind(%s): %v", kind, err)
		}
		if s.Kind() != kind {
			t.Fatalf("ForKind(%s) returned strategy of kind %s", kind, s.Kind())
		}
	}
	if _, err := ForKind("random_walk"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestPriorityOrdersBeforeRecency(t *testing.T) {
	t.Parallel()

	base := time.Unix(1700000000, 0).UTC()
	s, _ := ForKind(crawl.StrategyPriority)

	urgent := &crawl.FrontierEntry{URL: "https://a.example.com/", Priority: 0, EnqueuedAt: base.Add(time.Hour)}
	demoted := &crawl.FrontierEntry{URL: "https://b.example.com/", Priority: 2, EnqueuedAt: base}
	if !s.Less(urgent, demoted) {
		t.Fatal("lower priority value should dispatch first regardless of enqueue time")
	}

	older := &crawl.FrontierEntry{URL: "https://c.example.com/", Priority: 0, EnqueuedAt: base}
	if !s.Less(older, urgent) {
		t.Fatal("equal priority should break ties by enqueue time")
	}
}

func TestHybridPrefersShallowShortPaths(t *testing.T) {
	t.Parallel()

	base := time.Unix(1700000000, 0).UTC()
	h := NewHybrid(0, 0)

	shallow := &crawl.FrontierEntry{URL: "https://example.com/news", Depth: 1, EnqueuedAt: base}
	deep := &crawl.FrontierEntry{URL: "https://example.com/a/b/c/d", Depth: 3, EnqueuedAt: base}
	if !h.Less(shallow, deep) {
		t.Fatal("shallow short-path entry should score ahead of a deep long-path one")
	}

	// Priority dominates the depth and path terms at default weights.
	important := &crawl.FrontierEntry{URL: "https://example.com/a/b/c/d", Depth: 3, Priority: 0, EnqueuedAt: base}
	demoted := &crawl.FrontierEntry{URL: "https://example.com/", Depth: 0, Priority: 5, EnqueuedAt: base}
	if !h.Less(important, demoted) {
		t.Fatal("a heavily demoted entry should not outrank an urgent deep one")
	}
}
