package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/metrics"
	"github.com/jgivc/modsync/internal/progress"
	"github.com/jgivc/modsync/internal/service/synchronizer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLocator map[string]string

func (l fakeLocator) Location(repoID string) (string, bool) {
	loc, ok := l[repoID]

	return loc, ok
}

type fakeHistory struct {
	repoID string
	limit  int
}

func (h *fakeHistory) List(_ context.Context, repoID string, limit int) ([]*entity.TaskRecord, error) {
	h.repoID, h.limit = repoID, limit

	return []*entity.TaskRecord{{ID: "1", RepoID: repoID, Kind: entity.TaskKindSync, State: entity.TaskStateSuccess}}, nil
}

func (h *fakeHistory) Get(_ context.Context, id string) (*entity.TaskRecord, error) {
	switch id {
	case "1":
		return &entity.TaskRecord{ID: "1", RepoID: "forge", Kind: entity.TaskKindPublish, State: entity.TaskStateSuccess}, nil
	case "broken":
		return nil, errors.New("boom")
	}

	return nil, common.ErrTaskNotFound
}

type fakeUnits map[string][]*entity.Unit

func (u fakeUnits) RepoIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(u))
	for id := range u {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, nil
}

func (u fakeUnits) Units(_ context.Context, repoID string) ([]*entity.Unit, error) {
	return u[repoID], nil
}

func (u fakeUnits) Unit(_ context.Context, repoID string, key entity.ModuleKey) (*entity.Unit, error) {
	for _, unit := range u[repoID] {
		if unit.Key() == key {
			return unit, nil
		}
	}

	return nil, common.ErrUnitNotFound
}

type fakeSync struct {
	err error
}

func (s *fakeSync) Sync(_ context.Context, repoID string) (*synchronizer.Result, error) {
	if s.err != nil {
		return nil, s.err
	}

	return &synchronizer.Result{RunID: "run", Synced: 2}, nil
}

type fakeCounter struct {
	mu       sync.Mutex
	counters map[string]int
}

func (c *fakeCounter) Count(_ context.Context, repoID, filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters[repoID+"/"+filename]++
}

func (c *fakeCounter) GetDownloadCounters(_ context.Context, repoID string) (map[string]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int)
	for key, n := range c.counters {
		if name, ok := strings.CutPrefix(key, repoID+"/"); ok {
			out[name] = n
		}
	}

	return out, nil
}

func (c *fakeCounter) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.counters)
}

type fakeProgress struct{}

func (fakeProgress) Progress(repoID string) (progress.Snapshot, bool) {
	if repoID != "forge" {
		return progress.Snapshot{}, false
	}

	return progress.Snapshot{ModuleTotalCount: 3, ModuleFinishedCount: 1}, true
}

func newTestServer(t *testing.T, syncErr error) (*httptest.Server, *fakeHistory, *fakeCounter) {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/srv/forge/puppetlabs-stdlib-4.1.0.tar.gz", []byte("artifact"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/srv/forge/index.html", []byte("<html></html>"), 0o644))

	reg := prometheus.NewRegistry()
	metrics.New(reg).ModuleRetrieved("forge")

	history := &fakeHistory{}
	counter := &fakeCounter{counters: make(map[string]int)}
	units := fakeUnits{
		"forge":  {{Author: "puppetlabs", Name: "stdlib", Version: "4.1.0", StoragePath: "/content/forge/puppetlabs-stdlib-4.1.0.tar.gz"}},
		"mirror": nil,
	}
	router := NewRouter(&Services{
		Fs:       fs,
		Locator:  fakeLocator{"forge": "/srv/forge"},
		History:  history,
		Sync:     &fakeSync{err: syncErr},
		Progress: fakeProgress{},
		Counter:  counter,
		Units:    units,
		Gatherer: reg,
	}, testLogger())

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return srv, history, counter
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestFileHandler(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	testCases := []struct {
		name   string
		path   string
		status int
		body   string
	}{
		{name: "Artifact", path: "/pulp/puppet/forge/puppetlabs-stdlib-4.1.0.tar.gz", status: http.StatusOK, body: "artifact"},
		{name: "Index", path: "/pulp/puppet/forge/", status: http.StatusOK, body: "<html></html>"},
		{name: "Missing file", path: "/pulp/puppet/forge/missing.tar.gz", status: http.StatusNotFound},
		{name: "Unknown repository", path: "/pulp/puppet/other/x.tar.gz", status: http.StatusNotFound},
		{name: "Bad name", path: "/pulp/puppet/forge/a%20b", status: http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := get(t, srv.URL+tc.path)
			require.Equal(t, tc.status, status)

			if tc.body != "" {
				require.Equal(t, tc.body, body)
			}
		})
	}
}

func TestCounterHandler(t *testing.T) {
	srv, _, counter := newTestServer(t, nil)

	for i := 0; i < 2; i++ {
		status, _ := get(t, srv.URL+"/pulp/puppet/forge/puppetlabs-stdlib-4.1.0.tar.gz")
		require.Equal(t, http.StatusOK, status)
	}

	// The index page is not an artifact.
	status, _ := get(t, srv.URL+"/pulp/puppet/forge/")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, counter.len())

	status, body := get(t, srv.URL+"/api/repositories/forge/downloads/")
	require.Equal(t, http.StatusOK, status)

	var counters map[string]int
	require.NoError(t, json.Unmarshal([]byte(body), &counters))
	require.Equal(t, map[string]int{"puppetlabs-stdlib-4.1.0.tar.gz": 2}, counters)
}

func TestHistoryHandler(t *testing.T) {
	srv, history, _ := newTestServer(t, nil)

	status, body := get(t, srv.URL+"/api/repositories/forge/history/?limit=5")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "forge", history.repoID)
	require.Equal(t, 5, history.limit)

	var records []*entity.TaskRecord
	require.NoError(t, json.Unmarshal([]byte(body), &records))
	require.Len(t, records, 1)

	status, _ = get(t, srv.URL+"/api/repositories/forge/history/?limit=x")
	require.Equal(t, http.StatusBadRequest, status)
}

func TestTaskHandler(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	testCases := []struct {
		name   string
		id     string
		status int
	}{
		{name: "Known task", id: "1", status: http.StatusOK},
		{name: "Unknown task", id: "2", status: http.StatusNotFound},
		{name: "Store failure", id: "broken", status: http.StatusInternalServerError},
		{name: "Bad id", id: "a%20b", status: http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := get(t, srv.URL+"/api/tasks/"+tc.id+"/")
			require.Equal(t, tc.status, status)

			if tc.status == http.StatusOK {
				var rec entity.TaskRecord
				require.NoError(t, json.Unmarshal([]byte(body), &rec))
				require.Equal(t, entity.TaskKindPublish, rec.Kind)
			}
		})
	}
}

func TestUnitHandlers(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	status, body := get(t, srv.URL+"/api/repositories/")
	require.Equal(t, http.StatusOK, status)

	var ids []string
	require.NoError(t, json.Unmarshal([]byte(body), &ids))
	require.Equal(t, []string{"forge", "mirror"}, ids)

	status, body = get(t, srv.URL+"/api/repositories/forge/units/")
	require.Equal(t, http.StatusOK, status)

	var units []*entity.Unit
	require.NoError(t, json.Unmarshal([]byte(body), &units))
	require.Len(t, units, 1)
	require.Equal(t, "stdlib", units[0].Name)

	testCases := []struct {
		name   string
		path   string
		status int
	}{
		{name: "Known unit", path: "/api/repositories/forge/units/puppetlabs/stdlib/4.1.0/", status: http.StatusOK},
		{name: "Unknown version", path: "/api/repositories/forge/units/puppetlabs/stdlib/9.9.9/", status: http.StatusNotFound},
		{name: "Other repository", path: "/api/repositories/mirror/units/puppetlabs/stdlib/4.1.0/", status: http.StatusNotFound},
		{name: "Bad author", path: "/api/repositories/forge/units/a%20b/stdlib/4.1.0/", status: http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := get(t, srv.URL+tc.path)
			require.Equal(t, tc.status, status)
		})
	}
}

func TestProgressHandler(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	status, body := get(t, srv.URL+"/api/repositories/forge/progress/")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `"module_total_count":3`)

	status, _ = get(t, srv.URL+"/api/repositories/other/progress/")
	require.Equal(t, http.StatusNotFound, status)
}

func TestSyncHandler(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "Success", status: http.StatusOK},
		{name: "Already started", err: common.ErrSyncAlreadyStarted, status: http.StatusConflict},
		{name: "Unknown repository", err: common.ErrRepositoryNotFound, status: http.StatusNotFound},
		{name: "Failure", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _, _ := newTestServer(t, tc.err)

			resp, err := http.Post(srv.URL+"/api/repositories/forge/sync/", "application/json", nil)
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestMetricsHandler(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	status, body := get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `modsync_modules_retrieved_total{repo="forge"} 1`)
}
