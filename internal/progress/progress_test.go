package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetadataQuery(t *testing.T) {
	var snapshots []Snapshot
	r := New(func(s Snapshot) { snapshots = append(snapshots, s) })

	r.StartMetadataQuery(1, "/feed/modules.json")
	r.FinishMetadataQuery()

	require.Len(t, snapshots, 2)
	require.Equal(t, 1, snapshots[0].MetadataQueryTotalCount)
	require.Equal(t, 0, snapshots[0].MetadataQueryFinishedCount)
	require.Equal(t, "/feed/modules.json", snapshots[0].MetadataCurrentQuery)
	require.Equal(t, 1, snapshots[1].MetadataQueryFinishedCount)
	require.Equal(t, 2, r.Updates())
}

func TestTotalsNeverDecrease(t *testing.T) {
	r := New(nil)
	r.StartMetadataQuery(3, "a")
	r.StartMetadataQuery(1, "b")
	r.SetModuleTotal(5)
	r.SetModuleTotal(2)

	s := r.Snapshot()
	require.Equal(t, 3, s.MetadataQueryTotalCount)
	require.Equal(t, "b", s.MetadataCurrentQuery)
	require.Equal(t, 5, s.ModuleTotalCount)
}

func TestConcurrentModules(t *testing.T) {
	const workers = 16
	const perWorker = 50

	var (
		mu   sync.Mutex
		last Snapshot
	)
	r := New(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		// Observers never see counters go backwards.
		if s.ModuleFinishedCount < last.ModuleFinishedCount || s.ModuleErrorCount < last.ModuleErrorCount {
			t.Errorf("counter decreased: %+v after %+v", s, last)
		}
		last = s
	})
	r.SetModuleTotal(workers * perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				name := fmt.Sprintf("m-%d-%d", w, i)
				r.BeginModule(name)
				if i%10 == 0 {
					r.FailModule(name, errors.New("boom"))
					continue
				}
				r.FinishModule()
			}
		}(w)
	}
	wg.Wait()

	s := r.Snapshot()
	require.Equal(t, workers*perWorker, s.ModuleFinishedCount+s.ModuleErrorCount)
	require.Equal(t, workers*5, s.ModuleErrorCount)
	require.Len(t, s.ModuleErrors, workers*5)
}

func TestImportFailures(t *testing.T) {
	testCases := []struct {
		name      string
		record    func(r *Report)
		finished  int
		errors    int
		imports   int
		remaining int
	}{
		{
			name:      "Retrieval failure",
			record:    func(r *Report) { r.BeginModule("a"); r.FailModule("a", errors.New("404")) },
			errors:    1,
			remaining: 1,
		},
		{
			name:      "Import failure after retrieval",
			record:    func(r *Report) { r.BeginModule("a"); r.FinishModule(); r.FailImport("a", errors.New("checksum mismatch")) },
			finished:  1,
			errors:    1,
			imports:   1,
			remaining: 1,
		},
		{
			name:      "Nothing recorded",
			remaining: 2,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := New(nil)
			r.SetModuleTotal(2)
			if tc.record != nil {
				tc.record(r)
			}

			s := r.Snapshot()
			require.Equal(t, tc.finished, s.ModuleFinishedCount)
			require.Equal(t, tc.errors, s.ModuleErrorCount)
			require.Equal(t, tc.imports, s.ModuleImportErrorCount)
			require.Equal(t, tc.remaining, s.Remaining())
		})
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New(nil)
	r.FailModule("a", errors.New("boom"))

	s := r.Snapshot()
	s.ModuleErrors["b"] = "changed"

	require.Len(t, r.Snapshot().ModuleErrors, 1)
}

func TestMarshalJSON(t *testing.T) {
	r := New(nil)
	r.StartMetadataQuery(1, "q")
	r.FinishMetadataQuery()
	r.MetadataDone()

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, "success", out["metadata_state"])
	require.EqualValues(t, 1, out["metadata_query_finished_count"])
	require.Equal(t, "q", out["metadata_current_query"])
}
