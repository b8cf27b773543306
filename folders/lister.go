package folders

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/certdesk/certdesk/logging"
	"github.com/certdesk/certdesk/metrics"
)

// Page is one page of child folders.
type Page struct {
	Folders       []FolderRecord
	NextPageToken string
}

// Lister lists the non-trashed folder children of a parent, one page at a
// time. An empty pageToken requests the first page. Errors must be
// distinguishable from an empty listing: a failed call returns a non-nil
// error, never an empty page.
type Lister interface {
	ListChildren(ctx context.Context, parentID, pageToken string) (Page, error)
}

// ListAll follows page tokens until exhausted and returns the complete child
// set of parentID. On failure no partial data is returned and the error is
// a *RemoteError. Records without parents get parentID as their parent.
func ListAll(ctx context.Context, lister Lister, parentID string) ([]FolderRecord, int, error) {
	var (
		all   []FolderRecord
		token string
		calls int
		seen  = make(map[string]struct{})
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, calls, &RemoteError{ParentID: parentID, Err: err}
		}

		page, err := lister.ListChildren(ctx, parentID, token)
		calls++
		if err != nil {
			return nil, calls, &RemoteError{ParentID: parentID, Err: err}
		}

		for _, f := range page.Folders {
			if len(f.ParentIDs) == 0 {
				f.ParentIDs = []string{parentID}
			}
			f.Depth = 0
			f.PathNames = nil
			all = append(all, f)
		}

		token = page.NextPageToken
		if token == "" {
			return all, calls, nil
		}
		if _, dup := seen[token]; dup {
			return nil, calls, &RemoteError{ParentID: parentID, Err: fmt.Errorf("%w: %q", ErrRepeatedPageToken, token)}
		}
		seen[token] = struct{}{}
	}
}

// Fetcher resolves the complete child list of a parent, consulting the
// children cache first when asked to. Concurrent fetches of the same parent
// share one remote listing when coalescing is on.
type Fetcher struct {
	lister   Lister
	cache    *Cache
	coalesce bool
	group    singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context of one shared listing. It is cancelled once every
// caller waiting on it has returned.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewFetcher creates a fetcher over lister, writing complete listings back
// to cache.
func NewFetcher(lister Lister, cache *Cache, coalesce bool) *Fetcher {
	return &Fetcher{
		lister:   lister,
		cache:    cache,
		coalesce: coalesce,
		flights:  make(map[string]*flight),
	}
}

// fetchStats counts the work of one children lookup.
type fetchStats struct {
	cacheHit    bool
	remoteCalls int
}

// Children returns the children of parentID. With useCache, a cached
// listing is returned without remote access, and a successful remote
// listing is cached. Failed listings are never cached.
func (f *Fetcher) Children(ctx context.Context, parentID string, useCache bool) ([]FolderRecord, fetchStats, error) {
	if useCache {
		if children, ok := f.cache.GetChildren(parentID); ok {
			return children, fetchStats{cacheHit: true}, nil
		}
	}

	children, calls, err := f.fetch(ctx, parentID)
	stats := fetchStats{remoteCalls: calls}
	if err != nil {
		return nil, stats, err
	}
	if useCache {
		f.cache.SetChildren(parentID, children)
	}
	return children, stats, nil
}

type fetchResult struct {
	children []FolderRecord
	calls    int
}

// fetch lists parentID, joining a listing of the same parent already in
// progress. The shared listing does not stop when one caller's ctx ends,
// only when no caller waits on it anymore. Remote calls are reported only to
// the caller that ran the listing.
func (f *Fetcher) fetch(ctx context.Context, parentID string) ([]FolderRecord, int, error) {
	if !f.coalesce {
		return f.listAll(ctx, parentID)
	}

	ran := false
	f.mu.Lock()
	fl, ok := f.flights[parentID]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{ctx: fctx, cancel: cancel}
		f.flights[parentID] = fl
	}
	fl.waiters++
	ch := f.group.DoChan(parentID, func() (any, error) {
		children, calls, err := f.listAll(fl.ctx, parentID)
		ran = true
		return fetchResult{children: children, calls: calls}, err
	})
	f.mu.Unlock()
	defer f.leave(parentID, fl)

	select {
	case <-ctx.Done():
		return nil, 0, &RemoteError{ParentID: parentID, Err: ctx.Err()}
	case r := <-ch:
		res, _ := r.Val.(fetchResult)
		if !ran {
			logging.Sub("fetcher").Debug("listing shared with concurrent caller", "parent", parentID)
			res.calls = 0
		}
		if r.Err != nil {
			return nil, res.calls, r.Err
		}
		return res.children, res.calls, nil
	}
}

// leave drops one waiter of fl. The last one cancels the listing and makes
// the next fetch of parentID start afresh.
func (f *Fetcher) leave(parentID string, fl *flight) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	fl.cancel()
	if f.flights[parentID] == fl {
		delete(f.flights, parentID)
	}
	f.group.Forget(parentID)
}

// listAll runs one listing. A panicking lister fails the listing instead of
// the process, since shared listings run on their own goroutine.
func (f *Fetcher) listAll(ctx context.Context, parentID string) (children []FolderRecord, calls int, err error) {
	defer func() {
		if p := recover(); p != nil {
			children, err = nil, &RemoteError{ParentID: parentID, Err: fmt.Errorf("panic: %v", p)}
			metrics.RecordRemoteList(err)
			logging.Sub("fetcher").Error("lister panicked", "parent", parentID, "err", err)
		}
	}()

	children, calls, err = ListAll(ctx, f.lister, parentID)
	metrics.RecordRemoteList(err)
	if err != nil {
		logging.Sub("fetcher").Warn("listing failed", "parent", parentID, "pages", calls, "err", err)
		return nil, calls, err
	}
	logging.Sub("fetcher").Debug("listing fetched", "parent", parentID, "pages", calls, "children", len(children))
	return children, calls, nil
}
