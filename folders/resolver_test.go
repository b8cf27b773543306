package folders

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certdesk/certdesk/logging"
)

func TestResolve_DirectHintSkipsEverything(t *testing.T) {
	m := NewMemoryLister("root", sampleTree())
	r, cache := newTestResolver(StaticConfig{}, m)

	res := r.Resolve(context.Background(), "Any Name", " X ", nil)

	assert.True(t, res.Found)
	assert.Equal(t, MethodDirect, res.Method)
	assert.Equal(t, "X", res.FolderID)
	assert.NoError(t, res.Err)
	assert.Equal(t, 0, m.CallCount())
	assert.Equal(t, "empty", cache.Stats().Status)
}

func TestResolve_EmptyName(t *testing.T) {
	m := NewMemoryLister("root", sampleTree())
	r, _ := newTestResolver(testConfig(), m)

	res := r.Resolve(context.Background(), "   ", "", nil)
	assert.False(t, res.Found)
	assert.ErrorIs(t, res.Err, ErrEmptyName)
	assert.Equal(t, 0, m.CallCount())
}

func TestResolve_ConfigErrorsBeforeRemote(t *testing.T) {
	tests := []struct {
		name  string
		cfg   func(*Config)
		field string
	}{
		{"missing root", func(c *Config) { c.RootFolderID = " " }, "root_folder_id"},
		{"zero depth", func(c *Config) { c.MaxDepth = 0 }, "max_depth"},
		{"unknown strategy", func(c *Config) { c.Strategy = "zigzag" }, "search_strategy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemoryLister("root", sampleTree())
			cfg := Config(testConfig())
			tt.cfg(&cfg)
			r, _ := newTestResolver(StaticConfig(cfg), m)

			res := r.Resolve(context.Background(), "Alice Tan", "", nil)

			var ce *ConfigError
			require.ErrorAs(t, res.Err, &ce)
			assert.Equal(t, tt.field, ce.Field)
			assert.NotEmpty(t, res.Error)
			assert.False(t, res.Found)
			assert.Equal(t, 0, m.CallCount())
		})
	}
}

type failingConfig struct{}

func (failingConfig) FolderConfig() (Config, error) {
	return Config{}, errors.New("config store offline")
}

func TestResolve_ConfigSourceFailure(t *testing.T) {
	r, _ := newTestResolver(failingConfig{}, NewMemoryLister("root", nil))

	res := r.Resolve(context.Background(), "Alice Tan", "", nil)
	assert.False(t, res.Found)
	assert.ErrorContains(t, res.Err, "config store offline")
}

func TestResolve_InvalidOptions(t *testing.T) {
	m := NewMemoryLister("root", sampleTree())
	r, _ := newTestResolver(testConfig(), m)

	res := r.Resolve(context.Background(), "Alice Tan", "", &SearchOptions{Strategy: "sideways"})
	var ce *ConfigError
	require.ErrorAs(t, res.Err, &ce)
	assert.Equal(t, "strategy", ce.Field)

	res = r.Resolve(context.Background(), "Alice Tan", "", &SearchOptions{MaxDepth: -1})
	require.ErrorAs(t, res.Err, &ce)
	assert.Equal(t, "maxDepth", ce.Field)
	assert.Equal(t, 0, m.CallCount())
}

func TestResolve_SearchThenCacheHit(t *testing.T) {
	withClock(t)
	m := NewMemoryLister("root", sampleTree())
	r, _ := newTestResolver(testConfig(), m)

	first := r.Resolve(context.Background(), "Eko Prasetyo", "", nil)
	require.True(t, first.Found)
	assert.Equal(t, MethodAPISearch, first.Method)
	assert.Equal(t, "b2", first.FolderID)
	require.NotNil(t, first.Folder)
	assert.Equal(t, []string{"Cohort B", "Eko Prasetyo"}, first.Folder.PathNames)
	assert.Empty(t, first.Alternatives)
	calls := m.CallCount()

	second := r.Resolve(context.Background(), "eko prasetyo", "", nil)
	require.True(t, second.Found)
	assert.Equal(t, MethodCache, second.Method)
	assert.Equal(t, "b2", second.FolderID)
	assert.Equal(t, 1, second.Stats.CacheHits)
	assert.Equal(t, calls, m.CallCount())
}

func TestResolve_CacheBypassOption(t *testing.T) {
	withClock(t)
	m := NewMemoryLister("root", sampleTree())
	r, cache := newTestResolver(testConfig(), m)
	cache.SetResolved("Eko Prasetyo", FolderRecord{ID: "stale", Name: "Eko Prasetyo"})

	res := r.Resolve(context.Background(), "Eko Prasetyo", "", &SearchOptions{CacheEnabled: lo.ToPtr(false)})
	assert.Equal(t, MethodAPISearch, res.Method)
	assert.Equal(t, "b2", res.FolderID)
}

func TestResolve_NotFoundIsNotAnError(t *testing.T) {
	withClock(t)
	m := NewMemoryLister("root", sampleTree())
	r, _ := newTestResolver(testConfig(), m)

	res := r.Resolve(context.Background(), "Zainal Arifin", "", nil)
	assert.False(t, res.Found)
	assert.Equal(t, MethodAPISearch, res.Method)
	assert.NoError(t, res.Err)
	assert.Empty(t, res.Error)
	assert.Equal(t, 8, res.Stats.FoldersScanned)
}

func TestResolve_MuhammadAli(t *testing.T) {
	withClock(t)
	m := NewMemoryLister("root", []TreeNode{
		{ID: "c", Name: "Cohort C", Children: []TreeNode{
			{ID: "ali", Name: "Ali"},
		}},
		{ID: "mao", Name: "Muhammad Ali Othman"},
	})
	r, cache := newTestResolver(testConfig(), m)

	res := r.Resolve(context.Background(), "Muhammad Ali", "", nil)

	require.True(t, res.Found)
	assert.Equal(t, MethodAPISearch, res.Method)
	assert.Equal(t, "mao", res.FolderID)
	require.Len(t, res.Alternatives, 1)
	assert.Equal(t, "ali", res.Alternatives[0].ID)
	assert.Equal(t, 2, res.Alternatives[0].Depth)
	assert.Less(t, res.Folder.Similarity, 1.0)
	assert.Equal(t, 0, cache.Stats().ResolvedCount, "no exact match, nothing cached by name")
}

func TestResolve_AtMostFiveAlternatives(t *testing.T) {
	withClock(t)
	var nodes []TreeNode
	for i := range 8 {
		nodes = append(nodes, TreeNode{ID: fmt.Sprintf("t%d", i), Name: fmt.Sprintf("Budi Tan %d", i)})
	}
	r, _ := newTestResolver(testConfig(), NewMemoryLister("root", nodes))

	res := r.Resolve(context.Background(), "Budi Tan", "", nil)
	require.True(t, res.Found)
	assert.Equal(t, "t0", res.FolderID)
	assert.Len(t, res.Alternatives, 5)
	assert.Equal(t, "t1", res.Alternatives[0].ID)
	assert.Equal(t, 8, res.Stats.TotalMatches)
}

func TestResolve_RootFailureSurfaces(t *testing.T) {
	withClock(t)
	m := NewMemoryLister("root", sampleTree())
	m.Fail("root", errors.New("403 forbidden"))
	r, _ := newTestResolver(testConfig(), m)

	res := r.Resolve(context.Background(), "Alice Tan", "", nil)
	assert.False(t, res.Found)
	assert.True(t, IsRemote(res.Err))
	assert.Contains(t, res.Error, "403 forbidden")
}

func TestResolve_FailuresReachRecentErrors(t *testing.T) {
	withClock(t)
	logging.Init("")
	m := NewMemoryLister("root", sampleTree())
	m.Fail("root", errors.New("backend unavailable"))
	r, _ := newTestResolver(testConfig(), m)

	r.Resolve(context.Background(), "Alice Tan", "", nil)
	recent := logging.RecentErrors()
	require.NotEmpty(t, recent)
	assert.Equal(t, "resolution failed", recent[0].Message)
	assert.Equal(t, "resolver", recent[0].Comp)
	assert.Contains(t, recent[0].Error, "backend unavailable")

	r.Resolve(context.Background(), "  ", "", nil)
	assert.Equal(t, recent, logging.RecentErrors(), "a blank name is the caller's mistake")
}

// slowLister never answers before its context ends.
type slowLister struct{}

func (slowLister) ListChildren(ctx context.Context, _, _ string) (Page, error) {
	<-ctx.Done()
	return Page{}, ctx.Err()
}

func TestResolve_Timeout(t *testing.T) {
	withClock(t)
	r, _ := newTestResolver(testConfig(), slowLister{})
	r.SetTimeout(20 * time.Millisecond)

	done := make(chan Result, 1)
	go func() { done <- r.Resolve(context.Background(), "Alice Tan", "", nil) }()

	select {
	case res := <-done:
		assert.False(t, res.Found)
		assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("resolve did not honour its timeout")
	}
}

type panickingLister struct{}

func (panickingLister) ListChildren(context.Context, string, string) (Page, error) {
	panic("lister bug")
}

func TestResolve_RecoversPanics(t *testing.T) {
	withClock(t)
	r, _ := newTestResolver(testConfig(), panickingLister{})

	var res Result
	require.NotPanics(t, func() {
		res = r.Resolve(context.Background(), "Alice Tan", "", nil)
	})
	assert.False(t, res.Found)
	assert.ErrorContains(t, res.Err, "lister bug")
}
