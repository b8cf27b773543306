package folders

import (
	"testing"
	"time"
)

// sampleTree is root with two cohorts of three participants each.
func sampleTree() []TreeNode {
	return []TreeNode{
		{ID: "a", Name: "Cohort A", Children: []TreeNode{
			{ID: "a1", Name: "Alice Tan"},
			{ID: "a2", Name: "Budi Santoso"},
			{ID: "a3", Name: "Citra Lestari"},
		}},
		{ID: "b", Name: "Cohort B", Children: []TreeNode{
			{ID: "b1", Name: "Dian Putri"},
			{ID: "b2", Name: "Eko Prasetyo"},
			{ID: "b3", Name: "Fajar Nugroho"},
		}},
	}
}

func testConfig() StaticConfig {
	return StaticConfig{
		RootFolderID:   "root",
		MaxDepth:       3,
		Strategy:       BFS,
		MappingEnabled: true,
		FuzzyMatch:     true,
	}
}

// fakeClock pins nowFunc to a movable instant for the duration of the test.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func withClock(t *testing.T) *fakeClock {
	t.Helper()
	c := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	nowFunc = func() time.Time { return c.now }
	t.Cleanup(func() { nowFunc = time.Now })
	return c
}

func newTestResolver(cfg ConfigSource, lister Lister) (*Resolver, *Cache) {
	cache := NewCache(DefaultCacheOptions())
	return NewResolver(cfg, cache, NewFetcher(lister, cache, true)), cache
}
