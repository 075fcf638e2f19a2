package copier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jgivc/modsync/internal/adapter/hostapi"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePoller struct {
	calls int
	refs  []hostapi.TaskRef
	err   error
}

func (p *fakePoller) Poll(_ context.Context, refs []hostapi.TaskRef) error {
	p.calls++
	p.refs = refs

	return p.err
}

type memHistory struct {
	records []*entity.TaskRecord
}

func (h *memHistory) Record(_ context.Context, rec *entity.TaskRecord) error {
	h.records = append(h.records, rec)

	return nil
}

type captured struct {
	method string
	path   string
	body   map[string]any
}

func newHost(t *testing.T, status int, response string) (*hostapi.Client, *captured) {
	t.Helper()

	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.method = r.Method
		c.path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&c.body))

		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	return hostapi.NewClientWithDoer(srv.Client(), hostapi.Config{URL: srv.URL}, testLogger()), c
}

func TestRun(t *testing.T) {
	client, req := newHost(t, http.StatusAccepted, `{"spawned_tasks": [{"task_id": "t1"}]}`)
	poller := &fakePoller{}
	history := &memHistory{}
	s := NewService(client, poller, history, nil, testLogger())

	require.NoError(t, s.Run(context.Background(), Request{FromRepoID: "from", ToRepoID: "to"}))

	require.Equal(t, http.MethodPost, req.method)
	require.Equal(t, "/pulp/api/v2/repositories/to/actions/associate/", req.path)
	require.Equal(t, "from", req.body["source_repo_id"])

	criteria := req.body["criteria"].(map[string]any)
	require.Equal(t, []any{entity.TypeModule}, criteria["type_ids"])
	require.NotContains(t, criteria, "filters")

	require.Equal(t, 1, poller.calls)
	require.Equal(t, []hostapi.TaskRef{{TaskID: "t1"}}, poller.refs)

	require.Len(t, history.records, 1)
	require.Equal(t, entity.TaskKindCopy, history.records[0].Kind)
	require.Equal(t, entity.TaskStateSuccess, history.records[0].State)
	require.Equal(t, "to", history.records[0].RepoID)
}

func TestRunWithFilters(t *testing.T) {
	client, req := newHost(t, http.StatusAccepted, `{"spawned_tasks": []}`)
	s := NewService(client, &fakePoller{}, nil, nil, testLogger())

	err := s.Run(context.Background(), Request{
		FromRepoID: "from",
		ToRepoID:   "to",
		Filters: []Filter{
			{Field: "name", Value: "^std", Regex: true},
			{Field: "author", Value: "puppetlabs"},
		},
	})
	require.NoError(t, err)

	criteria := req.body["criteria"].(map[string]any)
	require.Equal(t, map[string]any{
		"unit": map[string]any{
			"$and": []any{
				map[string]any{"name": map[string]any{"$regex": "^std"}},
				map[string]any{"author": "puppetlabs"},
			},
		},
	}, criteria["filters"])
}

func TestRunInvalidSourceRepo(t *testing.T) {
	client, _ := newHost(t, http.StatusBadRequest, `{
		"exception": null,
		"traceback": null,
		"property_names": ["source_repo_id"],
		"_href": "/pulp/api/v2/repositories/test-repo/actions/associate/",
		"error_message": "Invalid properties: ['source_repo_id']",
		"http_request_method": "POST",
		"http_status": 400
	}`)
	poller := &fakePoller{}
	history := &memHistory{}
	s := NewService(client, poller, history, nil, testLogger())

	err := s.Run(context.Background(), Request{FromRepoID: "from", ToRepoID: "to"})

	var verr *common.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"from-repo-id"}, verr.PropertyNames)
	require.NotContains(t, verr.PropertyNames, "source_repo_id")
	require.Equal(t, []any{"from-repo-id"}, verr.Extra["property_names"])
	require.Equal(t, 0, poller.calls)

	require.Len(t, history.records, 1)
	require.Equal(t, entity.TaskStateFailed, history.records[0].State)
}

func TestTranslatePropertyNames(t *testing.T) {
	testCases := []struct {
		name     string
		names    []string
		expected []string
	}{
		{name: "Source", names: []string{"source_repo_id"}, expected: []string{"from-repo-id"}},
		{name: "Destination", names: []string{"repo_id"}, expected: []string{"to-repo-id"}},
		{name: "Both", names: []string{"repo_id", "source_repo_id"}, expected: []string{"to-repo-id", "from-repo-id"}},
		{name: "Unknown", names: []string{"criteria"}, expected: []string{"criteria"}},
		{name: "Empty", names: nil, expected: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			verr := &common.ValidationError{PropertyNames: tc.names}
			TranslatePropertyNames(verr)
			require.Equal(t, tc.expected, verr.PropertyNames)
		})
	}
}

func TestRunPollFailure(t *testing.T) {
	client, _ := newHost(t, http.StatusAccepted, `{"spawned_tasks": [{"task_id": "t1"}]}`)
	pollErr := errors.New("poll failed")
	s := NewService(client, &fakePoller{err: pollErr}, nil, nil, testLogger())

	err := s.Run(context.Background(), Request{FromRepoID: "from", ToRepoID: "to"})
	require.ErrorIs(t, err, pollErr)
}

func TestRunOtherErrorsUnchanged(t *testing.T) {
	client, _ := newHost(t, http.StatusInternalServerError, `boom`)
	s := NewService(client, &fakePoller{}, nil, nil, testLogger())

	err := s.Run(context.Background(), Request{FromRepoID: "from", ToRepoID: "to"})

	var serr *hostapi.StatusError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, http.StatusInternalServerError, serr.StatusCode)
}
