package folders

import (
	"context"
	"time"

	"github.com/certdesk/certdesk/logging"
)

// Options configures a Daemon.
type Options struct {
	Cache              CacheOptions
	Coalesce           bool
	PreloadConcurrency int
	PreloadOnStart     bool
	SearchTimeout      time.Duration
}

// Daemon owns the process-wide cache and the components sharing it: the
// resolver, the preloader and the admin event bus.
type Daemon struct {
	config    ConfigSource
	cache     *Cache
	events    *EventBus
	resolver  *Resolver
	preloader *Preloader
	onStart   bool
}

// NewDaemon wires a daemon listing folders through lister.
func NewDaemon(config ConfigSource, lister Lister, opts Options) *Daemon {
	cache := NewCache(opts.Cache)
	events := NewEventBus()
	fetcher := NewFetcher(lister, cache, opts.Coalesce)

	resolver := NewResolver(config, cache, fetcher)
	resolver.SetTimeout(opts.SearchTimeout)

	return &Daemon{
		config:    config,
		cache:     cache,
		events:    events,
		resolver:  resolver,
		preloader: NewPreloader(config, cache, fetcher, events, opts.PreloadConcurrency),
		onStart:   opts.PreloadOnStart,
	}
}

// Cache returns the shared cache.
func (d *Daemon) Cache() *Cache { return d.cache }

// Events returns the bus used by HTTP handlers to stream admin updates.
func (d *Daemon) Events() *EventBus { return d.events }

// Resolver returns the shared resolver.
func (d *Daemon) Resolver() *Resolver { return d.resolver }

// Resolve is shorthand for d.Resolver().Resolve.
func (d *Daemon) Resolve(ctx context.Context, name, hint string, opts *SearchOptions) Result {
	return d.resolver.Resolve(ctx, name, hint, opts)
}

// Preload warms the cache, see Preloader.Preload.
func (d *Daemon) Preload(ctx context.Context) PreloadResult {
	return d.preloader.Preload(ctx)
}

// Invalidate drops every cached entry.
func (d *Daemon) Invalidate() {
	d.cache.Clear()
	logging.Sub("daemon").Info("cache cleared")
	d.events.Publish(Event{Type: EventCacheCleared})
}

// Run sweeps expired cache entries until ctx is cancelled. When configured,
// it preloads the hierarchy first in the background.
func (d *Daemon) Run(ctx context.Context) {
	l := logging.Sub("daemon")
	cfg, err := d.config.FolderConfig()
	if err != nil {
		l.Warn("folder configuration unavailable", "err", err)
	} else {
		l.Info("folder daemon starting", "root", cfg.RootFolderID, "maxDepth", cfg.MaxDepth,
			"strategy", cfg.Strategy, "mapping", cfg.MappingEnabled)
	}

	if d.onStart {
		go func() {
			if res := d.Preload(ctx); res.Err != nil && ctx.Err() == nil {
				l.Warn("startup preload failed", "err", res.Err)
			}
		}()
	}

	d.cache.Run(ctx)
	l.Info("folder daemon stopped")
}
