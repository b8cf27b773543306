package folders

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/certdesk/certdesk/logging"
)

// Traverser searches the folder hierarchy below a root for names similar to
// a target, breadth-first or depth-first, to a bounded depth.
type Traverser struct {
	fetcher *Fetcher
	cache   *Cache
}

// NewTraverser creates a traverser reading children through fetcher and
// writing exact matches to cache.
func NewTraverser(fetcher *Fetcher, cache *Cache) *Traverser {
	return &Traverser{fetcher: fetcher, cache: cache}
}

// traversal is the state of one search.
type traversal struct {
	ctx         context.Context
	t           *Traverser
	target      string
	p           searchParams
	visited     map[string]struct{}
	matched     map[string]struct{}
	matches     []Match
	stats       SearchStats
	cachedExact bool
	err         error
}

// Search returns every folder scoring at or above the threshold, best first;
// equal scores keep discovery order. A listing failure makes that folder
// count as empty. The returned error is set only when the root itself could
// not be listed or ctx ended the search.
func (t *Traverser) Search(ctx context.Context, rootID, target string, p searchParams) ([]Match, SearchStats, error) {
	s := &traversal{
		ctx:     ctx,
		t:       t,
		target:  target,
		p:       p,
		visited: make(map[string]struct{}),
		matched: make(map[string]struct{}),
	}

	root := frame{folderID: rootID}
	switch p.strategy {
	case DFS:
		s.dfs(root)
	default:
		s.bfs(root)
	}
	if s.err == nil {
		s.err = ctx.Err()
	}

	slices.SortStableFunc(s.matches, func(a, b Match) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})
	s.stats.TotalMatches = len(s.matches)
	return s.matches, s.stats, s.err
}

func (s *traversal) bfs(root frame) {
	q := newFrontier(root)
	for q.Len() > 0 {
		if s.ctx.Err() != nil {
			return
		}
		f, _ := q.Pop()
		children, ok := s.expand(f)
		if !ok {
			continue
		}
		for _, c := range children {
			s.consider(c)
			if f.depth+1 < s.p.maxDepth {
				q.Push(frame{folderID: c.ID, depth: f.depth + 1, path: c.PathNames})
			}
		}
	}
}

// dfs visits in pre-order: a child's subtree is searched before its next
// sibling. Recursion depth is bounded by maxDepth.
func (s *traversal) dfs(f frame) {
	if s.ctx.Err() != nil {
		return
	}
	children, ok := s.expand(f)
	if !ok {
		return
	}
	for _, c := range children {
		s.consider(c)
		if f.depth+1 < s.p.maxDepth {
			s.dfs(frame{folderID: c.ID, depth: f.depth + 1, path: c.PathNames})
		}
	}
}

// expand lists the children of f, placed one level below it. It reports
// false when f is too deep, already visited or could not be listed.
func (s *traversal) expand(f frame) ([]FolderRecord, bool) {
	if f.depth >= s.p.maxDepth {
		return nil, false
	}
	if _, ok := s.visited[f.folderID]; ok {
		return nil, false
	}
	s.visited[f.folderID] = struct{}{}

	children, fs, err := s.t.fetcher.Children(s.ctx, f.folderID, s.p.cacheEnabled)
	if fs.cacheHit {
		s.stats.CacheHits++
	}
	s.stats.RemoteCalls += fs.remoteCalls
	if err != nil {
		if f.depth == 0 {
			s.err = err
		}
		logging.Sub("traversal").Warn("treating folder as empty", "folder", f.folderID, "depth", f.depth, "err", err)
		return nil, false
	}

	if logging.Enabled(slog.LevelDebug) {
		logging.Sub("traversal").Debug("expand", "folder", f.folderID, "depth", f.depth, "children", len(children), "cached", fs.cacheHit)
	}

	placed := make([]FolderRecord, len(children))
	for i, c := range children {
		placed[i] = c.at(f.depth+1, f.path)
	}
	return placed, true
}

// consider scores one discovered folder. A folder reachable through several
// parents is reported once.
func (s *traversal) consider(rec FolderRecord) {
	s.stats.FoldersScanned++
	score := s.p.normalizer.Similarity(rec.Name, s.target)
	if score < s.p.threshold {
		return
	}
	if _, dup := s.matched[rec.ID]; dup {
		return
	}
	s.matched[rec.ID] = struct{}{}
	s.matches = append(s.matches, Match{FolderRecord: rec, Similarity: score})

	// Keyed by the searched name so the same query hits the cache next time.
	if score == exactThreshold && s.p.cacheEnabled && !s.cachedExact {
		s.t.cache.SetResolved(s.target, rec)
		s.cachedExact = true
	}
}
