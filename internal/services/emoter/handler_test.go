package emoter

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/internal/services/collection"
	"github.com/zentra/nbot/internal/services/emotecache"
)

func serve(h *harness, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	NewHandler(h.module).Routes().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestGetStatus(t *testing.T) {
	h := newHarness()
	h.cache.status = emotecache.Status{Loaded: true, Limit: 50}
	h.dir.emotes["pog"] = models.EmoteRecord{Name: "pog", Source: models.SourceFFZ}

	rec := serve(h, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Data.Cache.Loaded)
	assert.EqualValues(t, 1, body.Data.Directory.Total)
	assert.EqualValues(t, 1, body.Data.Directory.BySource[models.SourceFFZ])
	assert.Nil(t, body.Data.CacheSync)
}

func TestGetTopUsage(t *testing.T) {
	h := newHarness()

	rec := serve(h, http.MethodGet, "/usage/top?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []models.UsageCount `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []models.UsageCount{{Name: "pog", Uses: 10}}, body.Data)

	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/usage/top?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/usage/top?limit=1000").Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/usage/top?limit=ten").Code)
}

func TestRefreshEndpoints(t *testing.T) {
	h := newHarness()
	h.collection.report = &collection.Report{Job: "collection", Success: true}

	rec := serve(h, http.MethodPost, "/directory/refresh")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.collection.updates)

	h.cacheSync.err = emotecache.ErrAlreadyRunning
	rec = serve(h, http.MethodPost, "/cache/refresh")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "SYNC_RUNNING")

	h.collection.err = collection.ErrAlreadyRunning
	rec = serve(h, http.MethodPost, "/directory/refresh")
	assert.Equal(t, http.StatusConflict, rec.Code)

	h.collection.err = errors.New("ffz page 3: upstream down")
	rec = serve(h, http.MethodPost, "/directory/refresh")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body struct {
		Data struct {
			Report collection.Report `json:"report"`
			Error  string            `json:"error"`
			Code   string            `json:"code"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "SYNC_FAILED", body.Data.Code)
	assert.Equal(t, "collection", body.Data.Report.Job)
	assert.Contains(t, body.Data.Error, "upstream down")
}

func TestPurgeEndpoint(t *testing.T) {
	h := newHarness()

	rec := serve(h, http.MethodPost, "/cache/purge")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"removed":7,"complete":true}}`, rec.Body.String())
	assert.Equal(t, 1, h.cache.purged)
}
