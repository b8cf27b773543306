package drive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/certdesk/certdesk/folders"
)

func newTestLister(t *testing.T, h http.HandlerFunc, opts Options) *Lister {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	opts.ClientOptions = append(opts.ClientOptions,
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	l, err := New(context.Background(), opts)
	require.NoError(t, err)
	return l
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func driveError(code int, reason string) map[string]any {
	return map[string]any{"error": map[string]any{
		"code":    code,
		"message": reason,
		"errors":  []map[string]any{{"reason": reason, "message": reason}},
	}}
}

func TestListChildren_QueryAndPaging(t *testing.T) {
	var queries []string
	l := newTestLister(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/files"), r.URL.Path)
		q := r.URL.Query()
		queries = append(queries, q.Get("q"))
		assert.Equal(t, "50", q.Get("pageSize"))
		assert.Equal(t, "true", q.Get("supportsAllDrives"))
		assert.Equal(t, "true", q.Get("includeItemsFromAllDrives"))

		if q.Get("pageToken") == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"nextPageToken": "next",
				"files": []map[string]any{
					{"id": "f1", "name": "Alice Tan", "parents": []string{"root", "root"}},
				},
			})
			return
		}
		assert.Equal(t, "next", q.Get("pageToken"))
		writeJSON(w, http.StatusOK, map[string]any{
			"files": []map[string]any{{"id": "f2", "name": "Budi Santoso", "parents": []string{"root"}}},
		})
	}, Options{PageSize: 50})

	all, calls, err := folders.ListAll(context.Background(), l, "root")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, all, 2)
	assert.Equal(t, "Alice Tan", all[0].Name)
	assert.Equal(t, []string{"root"}, all[0].ParentIDs)
	assert.Equal(t, "f2", all[1].ID)

	require.Len(t, queries, 2)
	assert.Equal(t, "'root' in parents and mimeType='application/vnd.google-apps.folder' and trashed=false", queries[0])
}

func TestListChildren_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	l := newTestLister(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, driveError(503, "backendError"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": []map[string]any{{"id": "f1", "name": "Alice"}}})
	}, Options{MaxRetries: 3, InitialBackoff: time.Millisecond})

	page, err := l.ListChildren(context.Background(), "root", "")
	require.NoError(t, err)
	assert.Len(t, page.Folders, 1)
	assert.Equal(t, int32(3), hits.Load())
}

func TestListChildren_RetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	l := newTestLister(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			writeJSON(w, http.StatusForbidden, driveError(403, "userRateLimitExceeded"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": []map[string]any{}})
	}, Options{MaxRetries: 2, InitialBackoff: time.Millisecond})

	page, err := l.ListChildren(context.Background(), "root", "")
	require.NoError(t, err)
	assert.Empty(t, page.Folders)
	assert.Equal(t, int32(2), hits.Load())
}

func TestListChildren_GivesUpAfterMaxRetries(t *testing.T) {
	var hits atomic.Int32
	l := newTestLister(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusInternalServerError, driveError(500, "internalError"))
	}, Options{MaxRetries: 2, InitialBackoff: time.Millisecond})

	_, err := l.ListChildren(context.Background(), "root", "")
	require.Error(t, err)
	assert.Equal(t, int32(3), hits.Load())

	var gerr *googleapi.Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, 500, gerr.Code)
}

func TestListChildren_PermissionErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	l := newTestLister(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusNotFound, driveError(404, "notFound"))
	}, Options{MaxRetries: 3, InitialBackoff: time.Millisecond})

	_, err := l.ListChildren(context.Background(), "missing", "")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestListChildren_PerCallTimeout(t *testing.T) {
	l := newTestLister(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, Options{Timeout: 20 * time.Millisecond, MaxRetries: 1, InitialBackoff: time.Millisecond})

	start := time.Now()
	_, err := l.ListChildren(context.Background(), "root", "")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestChildFoldersQuery_Escapes(t *testing.T) {
	assert.Equal(t,
		`'it\'s' in parents and mimeType='application/vnd.google-apps.folder' and trashed=false`,
		childFoldersQuery("it's"))
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&googleapi.Error{Code: 429}))
	assert.True(t, retryable(&googleapi.Error{Code: 502}))
	assert.True(t, retryable(&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}))
	assert.False(t, retryable(&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "insufficientFilePermissions"}}}))
	assert.False(t, retryable(&googleapi.Error{Code: 400}))
	assert.True(t, retryable(context.DeadlineExceeded))
	assert.False(t, retryable(errors.New("boom")))
}
