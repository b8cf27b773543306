package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordResolution(t *testing.T) {
	before := testutil.ToFloat64(resolutionsTotal.WithLabelValues("cache", "true"))

	RecordResolution("cache", true, 5*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(resolutionsTotal.WithLabelValues("cache", "true")))
}

func TestRecordRemoteList_Status(t *testing.T) {
	okBefore := testutil.ToFloat64(remoteListCalls.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(remoteListCalls.WithLabelValues("error"))

	RecordRemoteList(nil)
	RecordRemoteList(errors.New("quota"))
	RecordRemoteList(errors.New("quota"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(remoteListCalls.WithLabelValues("ok")))
	assert.Equal(t, errBefore+2, testutil.ToFloat64(remoteListCalls.WithLabelValues("error")))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	RecordCacheLookup("children", true)
	SetPreloadFolders(7)

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "certdesk_cache_lookups_total")
	assert.Contains(t, w.Body.String(), "certdesk_preload_folders 7")
}
