// Package api exposes folder resolution and cache administration over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/certdesk/certdesk/folders"
	"github.com/certdesk/certdesk/logging"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CacheStatsResponse is the body of GET /api/folder-cache.
type CacheStatsResponse struct {
	Cache        folders.CacheStats      `json:"cache"`
	Entries      []folders.ResolvedEntry `json:"entries"`
	RecentErrors []logging.Entry         `json:"recentErrors"`
}

// Handlers holds the HTTP handlers of the folder service.
type Handlers struct {
	daemon    *folders.Daemon
	heartbeat time.Duration
}

// NewHandlers creates the folder HTTP handlers.
func NewHandlers(daemon *folders.Daemon) *Handlers {
	return &Handlers{daemon: daemon, heartbeat: 30 * time.Second}
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := envelope{Message: message}
	if err != nil {
		body.Error = err.Error()
	}
	writeJSON(w, status, body)
}

// statusFor maps a resolution or preload failure to an HTTP status.
func statusFor(err error) int {
	var ce *folders.ConfigError
	switch {
	case errors.Is(err, folders.ErrEmptyName):
		return http.StatusBadRequest
	case errors.As(err, &ce):
		if ce.Field == "strategy" || ce.Field == "maxDepth" {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case folders.IsRemote(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HandleCacheStats handles GET /api/folder-cache
func (h *Handlers) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	logging.Sub("handlers").Debug("HTTP cache stats")

	cache := h.daemon.Cache()
	entries := cache.Resolved()
	if entries == nil {
		entries = []folders.ResolvedEntry{}
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data: CacheStatsResponse{
			Cache:        cache.Stats(),
			Entries:      entries,
			RecentErrors: logging.RecentErrors(),
		},
	})
}

// HandleInvalidate handles DELETE /api/folder-cache
func (h *Handlers) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	l := logging.Sub("handlers")
	h.daemon.Invalidate()
	l.Info("HTTP cache invalidated")
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "folder cache cleared"})
}

// HandlePreload handles POST /api/folder-cache/preload
func (h *Handlers) HandlePreload(w http.ResponseWriter, r *http.Request) {
	l := logging.Sub("handlers")
	l.Info("HTTP preload requested")

	res := h.daemon.Preload(r.Context())
	if res.Err != nil {
		l.Warn("preload failed", "err", res.Err)
		writeJSON(w, statusFor(res.Err), envelope{Data: res, Message: "preload failed", Error: res.Error})
		return
	}

	msg := fmt.Sprintf("preloaded %d folders from %d parents", res.FoldersLoaded, res.ParentsListed)
	if res.Skipped {
		msg = "folder mapping disabled, cache cleared only"
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: res, Message: msg})
}

// HandleResolve handles GET /api/folders/resolve?name=<name>&folderId=<hint>
// with optional strategy, maxDepth, fuzzy and cache overrides.
func (h *Handlers) HandleResolve(w http.ResponseWriter, r *http.Request) {
	l := logging.Sub("handlers")
	q := r.URL.Query()
	name, hint := q.Get("name"), q.Get("folderId")
	l.Debug("HTTP resolve", "name", name, "hint", hint)

	opts, err := parseSearchOptions(q.Get("strategy"), q.Get("maxDepth"), q.Get("fuzzy"), q.Get("cache"))
	if err != nil {
		l.Warn("resolve: bad parameters", "err", err)
		writeError(w, http.StatusBadRequest, "invalid search parameters", err)
		return
	}

	res := h.daemon.Resolve(r.Context(), name, hint, opts)
	switch {
	case res.Err != nil:
		writeJSON(w, statusFor(res.Err), envelope{Data: res, Message: "resolution failed", Error: res.Error})
	case !res.Found:
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: res, Message: "no matching folder"})
	default:
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: res})
	}
}

func parseSearchOptions(strategy, maxDepth, fuzzy, cache string) (*folders.SearchOptions, error) {
	opts := &folders.SearchOptions{}
	if strategy != "" {
		s, ok := folders.ParseStrategy(strategy)
		if !ok {
			return nil, fmt.Errorf("strategy must be BFS or DFS, got %q", strategy)
		}
		opts.Strategy = s
	}
	if maxDepth != "" {
		n, err := strconv.Atoi(maxDepth)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("maxDepth must be a positive integer, got %q", maxDepth)
		}
		opts.MaxDepth = n
	}
	if fuzzy != "" {
		b, err := strconv.ParseBool(fuzzy)
		if err != nil {
			return nil, fmt.Errorf("fuzzy: %w", err)
		}
		opts.FuzzyMatch = lo.ToPtr(b)
	}
	if cache != "" {
		b, err := strconv.ParseBool(cache)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		opts.CacheEnabled = lo.ToPtr(b)
	}
	return opts, nil
}

// HandleSSE handles GET /api/folder-cache/events (Server-Sent Events stream).
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the headers go out so a client that saw the response
	// cannot miss the next event.
	ch := h.daemon.Events().Subscribe()
	defer h.daemon.Events().Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			data, _ := json.Marshal(event)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data) //nolint:errcheck
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n") //nolint:errcheck
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /healthz
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]string{
		"status": h.daemon.Cache().Stats().Status,
	}})
}
