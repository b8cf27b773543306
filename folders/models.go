// Package folders resolves participant names to drive folder identifiers by
// searching a bounded-depth folder hierarchy, backed by a two-tier cache.
package folders

import (
	"strings"
	"time"
)

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// FolderRecord is one remote folder as observed during a listing.
// Depth and PathNames are assigned by the traversal that discovered it.
type FolderRecord struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ParentIDs []string `json:"parents"`
	Depth     int      `json:"level"`
	PathNames []string `json:"path"`
}

// valid reports whether the record can be handed to callers.
func (r FolderRecord) valid() bool {
	return r.ID != ""
}

// at returns a copy placed at the given depth below parentPath.
func (r FolderRecord) at(depth int, parentPath []string) FolderRecord {
	out := r
	out.Depth = depth
	out.PathNames = make([]string, 0, len(parentPath)+1)
	out.PathNames = append(out.PathNames, parentPath...)
	out.PathNames = append(out.PathNames, r.Name)
	return out
}

// Match is a folder whose name scored at or above the search threshold.
type Match struct {
	FolderRecord
	Similarity float64 `json:"similarity"`
}

// Strategy selects the traversal order.
type Strategy string

const (
	BFS Strategy = "BFS"
	DFS Strategy = "DFS"
)

// ParseStrategy accepts "bfs"/"dfs" in any case. Empty means BFS.
func ParseStrategy(s string) (Strategy, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "BFS":
		return BFS, true
	case "DFS":
		return DFS, true
	default:
		return "", false
	}
}

const (
	DefaultMaxDepth = 3
	exactThreshold  = 1.0
	fuzzyThreshold  = 0.6
	maxAlternatives = 5
)

// Config is the folder hierarchy configuration, read once per resolve or
// preload call.
type Config struct {
	RootFolderID    string   `json:"rootFolderId"`
	MaxDepth        int      `json:"maxDepthLevel"`
	Strategy        Strategy `json:"searchStrategy"`
	MappingEnabled  bool     `json:"folderMappingEnabled"`
	FuzzyMatch      bool     `json:"fuzzyMatch"`
	StripGivenNames bool     `json:"stripGivenNames"`
}

// Validate fails fast on configuration that would make any search pointless.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RootFolderID) == "" {
		return &ConfigError{Field: "root_folder_id", Reason: "is required"}
	}
	if c.MaxDepth < 1 {
		return &ConfigError{Field: "max_depth", Reason: "must be at least 1"}
	}
	if _, ok := ParseStrategy(string(c.Strategy)); !ok {
		return &ConfigError{Field: "search_strategy", Reason: "must be BFS or DFS, got " + string(c.Strategy)}
	}
	return nil
}

// ConfigSource provides the current hierarchy configuration.
type ConfigSource interface {
	FolderConfig() (Config, error)
}

// StaticConfig is a ConfigSource that always returns the same value.
type StaticConfig Config

// FolderConfig implements ConfigSource.
func (c StaticConfig) FolderConfig() (Config, error) {
	return Config(c), nil
}

// SearchOptions overrides configuration for a single resolution.
// Zero MaxDepth, empty Strategy and nil flags fall back to Config.
type SearchOptions struct {
	MaxDepth     int      `json:"maxDepth,omitempty"`
	Strategy     Strategy `json:"strategy,omitempty"`
	CacheEnabled *bool    `json:"cacheEnabled,omitempty"`
	FuzzyMatch   *bool    `json:"fuzzyMatch,omitempty"`
}

// searchParams are the effective options of one traversal.
type searchParams struct {
	maxDepth     int
	strategy     Strategy
	cacheEnabled bool
	threshold    float64
	normalizer   *Normalizer
}

func mergeOptions(cfg Config, opts *SearchOptions) searchParams {
	p := searchParams{
		maxDepth:     cfg.MaxDepth,
		strategy:     cfg.Strategy,
		cacheEnabled: cfg.MappingEnabled,
		normalizer:   NewNormalizer(cfg.StripGivenNames),
	}
	fuzzy := cfg.FuzzyMatch
	if opts != nil {
		if opts.MaxDepth > 0 {
			p.maxDepth = opts.MaxDepth
		}
		if opts.Strategy != "" {
			p.strategy = opts.Strategy
		}
		if opts.CacheEnabled != nil {
			p.cacheEnabled = *opts.CacheEnabled
		}
		if opts.FuzzyMatch != nil {
			fuzzy = *opts.FuzzyMatch
		}
	}
	if p.maxDepth < 1 {
		p.maxDepth = DefaultMaxDepth
	}
	if s, ok := ParseStrategy(string(p.strategy)); ok {
		p.strategy = s
	} else {
		p.strategy = BFS
	}
	p.threshold = exactThreshold
	if fuzzy {
		p.threshold = fuzzyThreshold
	}
	return p
}

// Method tells how a resolution was answered.
type Method string

const (
	MethodDirect    Method = "direct"
	MethodCache     Method = "cache"
	MethodAPISearch Method = "api_search"
)

// SearchStats describes the work done by one resolution.
type SearchStats struct {
	Duration       time.Duration `json:"searchTime"`
	CacheHits      int           `json:"cacheHits"`
	RemoteCalls    int           `json:"remoteCalls"`
	FoldersScanned int           `json:"foldersScanned"`
	TotalMatches   int           `json:"totalFolders"`
}

// Result is the outcome of Resolve. Failures are reported through Err and
// Error instead of a separate error return.
type Result struct {
	Found        bool        `json:"found"`
	Method       Method      `json:"method"`
	FolderID     string      `json:"folderId,omitempty"`
	Folder       *Match      `json:"folder,omitempty"`
	Alternatives []Match     `json:"alternatives,omitempty"`
	Stats        SearchStats `json:"stats"`
	Error        string      `json:"error,omitempty"`
	Err          error       `json:"-"`
}
