package folders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/certdesk/certdesk/logging"
	"github.com/certdesk/certdesk/metrics"
)

// Resolver maps participant names to folder ids. It is the public entry
// point of the package and never returns or panics with an error: every
// failure is reported inside the Result.
type Resolver struct {
	config    ConfigSource
	cache     *Cache
	traverser *Traverser
	timeout   time.Duration
}

// NewResolver creates a resolver searching through fetcher and sharing cache.
func NewResolver(config ConfigSource, cache *Cache, fetcher *Fetcher) *Resolver {
	return &Resolver{
		config:    config,
		cache:     cache,
		traverser: NewTraverser(fetcher, cache),
	}
}

// SetTimeout bounds the wall-clock time of one search. Zero means no bound;
// the depth limit alone then bounds the number of remote calls.
func (r *Resolver) SetTimeout(d time.Duration) {
	r.timeout = d
}

// Resolve finds the folder of a participant.
//
// A non-blank hint is authoritative and returned as is, without touching
// configuration, cache or remote. Otherwise the resolved-name cache is
// consulted, then the hierarchy is searched and the best match returned with
// up to five alternatives. A search that finds nothing is not an error.
func (r *Resolver) Resolve(ctx context.Context, name, hint string, opts *SearchOptions) (res Result) {
	l := logging.Sub("resolver")
	start := nowFunc()
	defer func() {
		if p := recover(); p != nil {
			res = failed(MethodAPISearch, fmt.Errorf("resolve %q: panic: %v", name, p))
		}
		res.Stats.Duration = nowFunc().Sub(start)
		metrics.RecordResolution(string(res.Method), res.Found, res.Stats.Duration)
		if res.Err != nil {
			level := slog.LevelError
			if callerError(res.Err) {
				level = slog.LevelWarn
			}
			l.Log(ctx, level, "resolution failed", "name", name, "method", res.Method, "err", res.Err)
			return
		}
		l.Info("resolution finished", "name", name, "method", res.Method, "found", res.Found,
			"folder", res.FolderID, "duration", res.Stats.Duration)
	}()

	if h := strings.TrimSpace(hint); h != "" {
		return Result{Found: true, Method: MethodDirect, FolderID: h}
	}
	if strings.TrimSpace(name) == "" {
		return failed(MethodAPISearch, ErrEmptyName)
	}

	cfg, err := r.config.FolderConfig()
	if err != nil {
		return failed(MethodAPISearch, fmt.Errorf("read configuration: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return failed(MethodAPISearch, err)
	}
	if err := validateOptions(opts); err != nil {
		return failed(MethodAPISearch, err)
	}
	p := mergeOptions(cfg, opts)

	if p.cacheEnabled {
		if rec, ok := r.cache.GetResolved(name); ok {
			best := Match{FolderRecord: rec, Similarity: exactThreshold}
			return Result{
				Found:    true,
				Method:   MethodCache,
				FolderID: rec.ID,
				Folder:   &best,
				Stats:    SearchStats{CacheHits: 1, TotalMatches: 1},
			}
		}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	matches, stats, err := r.traverser.Search(ctx, cfg.RootFolderID, name, p)
	res = Result{Method: MethodAPISearch, Stats: stats}
	if len(matches) == 0 {
		if err != nil {
			res.Err = err
			res.Error = err.Error()
		}
		return res
	}
	if err != nil {
		l.Warn("search ended early, returning partial matches", "name", name, "matches", len(matches), "err", err)
	}

	best := matches[0]
	res.Found = true
	res.FolderID = best.ID
	res.Folder = &best
	res.Alternatives = slices.Clone(matches[1:min(len(matches), 1+maxAlternatives)])
	return res
}

func validateOptions(opts *SearchOptions) error {
	if opts == nil {
		return nil
	}
	if opts.MaxDepth < 0 {
		return &ConfigError{Field: "maxDepth", Reason: "must not be negative"}
	}
	if opts.Strategy != "" {
		if _, ok := ParseStrategy(string(opts.Strategy)); !ok {
			return &ConfigError{Field: "strategy", Reason: "must be BFS or DFS, got " + string(opts.Strategy)}
		}
	}
	return nil
}

// callerError reports whether err was caused by the request rather than by
// configuration or the remote.
func callerError(err error) bool {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Field == "strategy" || ce.Field == "maxDepth"
	}
	return errors.Is(err, ErrEmptyName)
}

func failed(method Method, err error) Result {
	return Result{Method: method, Err: err, Error: err.Error()}
}
