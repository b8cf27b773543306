package folders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marusama/semaphore/v2"

	"github.com/certdesk/certdesk/logging"
	"github.com/certdesk/certdesk/metrics"
)

// DefaultPreloadConcurrency is how many parents of one level are listed at
// the same time during a preload.
const DefaultPreloadConcurrency = 4

// PreloadResult summarizes a preload.
type PreloadResult struct {
	FoldersLoaded int           `json:"foldersLoaded"`
	ParentsListed int           `json:"parentsListed"`
	Failures      int           `json:"failures"`
	Skipped       bool          `json:"skipped,omitempty"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
	Err           error         `json:"-"`
}

// Preloader warms the children cache by walking the whole hierarchy.
type Preloader struct {
	config      ConfigSource
	cache       *Cache
	fetcher     *Fetcher
	events      *EventBus
	concurrency int
}

// NewPreloader creates a preloader. events may be nil.
func NewPreloader(config ConfigSource, cache *Cache, fetcher *Fetcher, events *EventBus, concurrency int) *Preloader {
	if concurrency < 1 {
		concurrency = DefaultPreloadConcurrency
	}
	return &Preloader{
		config:      config,
		cache:       cache,
		fetcher:     fetcher,
		events:      events,
		concurrency: concurrency,
	}
}

type listing struct {
	parentID string
	children []FolderRecord
	err      error
}

// Preload clears the cache, then lists every folder from the root down to
// the configured depth, level by level, caching each complete child list.
// With folder mapping disabled it only clears the cache. A failure on the
// root fails the preload; failures below it are counted and skipped.
func (p *Preloader) Preload(ctx context.Context) (res PreloadResult) {
	l := logging.Sub("preload")
	start := nowFunc()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("preload: panic: %v", r)
		}
		res.Duration = nowFunc().Sub(start)
		if res.Err != nil {
			res.Error = res.Err.Error()
			l.Error("preload failed", "listed", res.ParentsListed, "err", res.Err)
		} else {
			l.Info("preload finished", "folders", res.FoldersLoaded, "listed", res.ParentsListed,
				"failures", res.Failures, "skipped", res.Skipped, "duration", res.Duration)
		}
		metrics.SetPreloadFolders(res.FoldersLoaded)
		p.events.Publish(Event{
			Type:          EventPreloadDone,
			ParentsListed: res.ParentsListed,
			FoldersLoaded: res.FoldersLoaded,
			Failures:      res.Failures,
			Error:         res.Error,
		})
	}()

	cfg, err := p.config.FolderConfig()
	if err != nil {
		res.Err = fmt.Errorf("read configuration: %w", err)
		return res
	}
	if err := cfg.Validate(); err != nil {
		res.Err = err
		return res
	}

	p.cache.Clear()
	if !cfg.MappingEnabled {
		res.Skipped = true
		return res
	}

	l.Info("preload starting", "root", cfg.RootFolderID, "maxDepth", cfg.MaxDepth, "concurrency", p.concurrency)

	level := []string{cfg.RootFolderID}
	visited := map[string]struct{}{cfg.RootFolderID: {}}
	for depth := 0; depth < cfg.MaxDepth && len(level) > 0; depth++ {
		var next []string
		for _, ls := range p.listLevel(ctx, level) {
			if ls.err != nil {
				if depth == 0 {
					res.Err = ls.err
					return res
				}
				res.Failures++
				continue
			}
			res.ParentsListed++
			res.FoldersLoaded += len(ls.children)
			for _, c := range ls.children {
				if _, ok := visited[c.ID]; ok {
					continue
				}
				visited[c.ID] = struct{}{}
				next = append(next, c.ID)
			}
		}

		l.Debug("level loaded", "depth", depth, "parents", len(level), "next", len(next))
		p.events.Publish(Event{
			Type:          EventPreloadLevel,
			Level:         depth,
			ParentsListed: res.ParentsListed,
			FoldersLoaded: res.FoldersLoaded,
			Failures:      res.Failures,
		})
		level = next

		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
	}

	if capacity := p.cache.Stats().ChildrenCapacity; capacity > 0 && res.ParentsListed > capacity {
		l.Warn("hierarchy exceeds children cache capacity, older listings were evicted",
			"listed", res.ParentsListed, "capacity", capacity)
	}
	return res
}

// listLevel lists every parent of one level, at most p.concurrency at a
// time. Results keep the order of parents.
func (p *Preloader) listLevel(ctx context.Context, parents []string) []listing {
	out := make([]listing, len(parents))
	sem := semaphore.New(p.concurrency)
	var wg sync.WaitGroup
	for i, id := range parents {
		if err := sem.Acquire(ctx, 1); err != nil {
			out[i] = listing{parentID: id, err: &RemoteError{ParentID: id, Err: err}}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			children, _, err := p.fetcher.Children(ctx, id, true)
			out[i] = listing{parentID: id, children: children, err: err}
		}()
	}
	wg.Wait()
	return out
}
