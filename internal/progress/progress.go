// Package progress holds the mutable status record of one sync operation.
//
// A Report is created when a sync starts and is shared by every retrieval of
// that sync. All mutations go through methods that hold the report mutex, and
// every discrete step (a metadata query, a module) signals the Updater with a
// snapshot. Counters only grow.
package progress

import (
	"encoding/json"
	"maps"
	"sync"
)

type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

// Updater receives a snapshot after every mutation. It is called with the
// report lock held, so snapshots arrive in mutation order. It must not call
// back into the report.
type Updater func(s Snapshot)

type Snapshot struct {
	MetadataState              State  `json:"metadata_state"`
	MetadataQueryTotalCount    int    `json:"metadata_query_total_count"`
	MetadataQueryFinishedCount int    `json:"metadata_query_finished_count"`
	MetadataCurrentQuery       string `json:"metadata_current_query"`
	MetadataError              string `json:"metadata_error,omitempty"`

	ModulesState           State             `json:"modules_state"`
	ModuleTotalCount       int               `json:"module_total_count"`
	ModuleFinishedCount    int               `json:"module_finished_count"`
	ModuleErrorCount       int               `json:"module_error_count"`
	// ModuleImportErrorCount is the part of ModuleErrorCount whose modules were
	// retrieved, and so are also in ModuleFinishedCount, but failed to import.
	ModuleImportErrorCount int               `json:"module_import_error_count"`
	CurrentModule          string            `json:"current_module"`
	ModuleErrors           map[string]string `json:"module_errors,omitempty"`
}

// Remaining returns the number of modules not attempted yet.
func (s Snapshot) Remaining() int {
	return s.ModuleTotalCount - s.ModuleFinishedCount - (s.ModuleErrorCount - s.ModuleImportErrorCount)
}

type Report struct {
	mu      sync.Mutex
	s       Snapshot
	updater Updater
	updates int
}

func New(updater Updater) *Report {
	return &Report{
		s: Snapshot{
			MetadataState: StateNotStarted,
			ModulesState:  StateNotStarted,
		},
		updater: updater,
	}
}

func (r *Report) update(fn func(s *Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn(&r.s)
	r.updates++

	if r.updater != nil {
		r.updater(r.snapshot())
	}
}

func (r *Report) snapshot() Snapshot {
	s := r.s
	if r.s.ModuleErrors != nil {
		s.ModuleErrors = maps.Clone(r.s.ModuleErrors)
	}

	return s
}

// StartMetadataQuery records that query is being fetched. total is the number
// of queries of this retrieval; the counter is never lowered.
func (r *Report) StartMetadataQuery(total int, query string) {
	r.update(func(s *Snapshot) {
		s.MetadataState = StateRunning
		if total > s.MetadataQueryTotalCount {
			s.MetadataQueryTotalCount = total
		}
		s.MetadataCurrentQuery = query
	})
}

func (r *Report) FinishMetadataQuery() {
	r.update(func(s *Snapshot) {
		s.MetadataQueryFinishedCount++
	})
}

func (r *Report) MetadataDone() {
	r.update(func(s *Snapshot) {
		s.MetadataState = StateSuccess
	})
}

func (r *Report) MetadataFailed(err error) {
	r.update(func(s *Snapshot) {
		s.MetadataState = StateFailed
		if err != nil {
			s.MetadataError = err.Error()
		}
	})
}

func (r *Report) SetModuleTotal(total int) {
	r.update(func(s *Snapshot) {
		s.ModulesState = StateRunning
		if total > s.ModuleTotalCount {
			s.ModuleTotalCount = total
		}
	})
}

func (r *Report) BeginModule(name string) {
	r.update(func(s *Snapshot) {
		s.ModulesState = StateRunning
		s.CurrentModule = name
	})
}

func (r *Report) FinishModule() {
	r.update(func(s *Snapshot) {
		s.ModuleFinishedCount++
	})
}

// FailModule records a module whose retrieval failed.
func (r *Report) FailModule(name string, err error) {
	r.update(func(s *Snapshot) {
		s.ModuleErrorCount++
		setModuleError(s, name, err)
	})
}

// FailImport records a module that was retrieved, and counted as finished,
// but could not be imported.
func (r *Report) FailImport(name string, err error) {
	r.update(func(s *Snapshot) {
		s.ModuleErrorCount++
		s.ModuleImportErrorCount++
		setModuleError(s, name, err)
	})
}

func setModuleError(s *Snapshot, name string, err error) {
	if s.ModuleErrors == nil {
		s.ModuleErrors = make(map[string]string)
	}

	if err != nil {
		s.ModuleErrors[name] = err.Error()
	} else {
		s.ModuleErrors[name] = "unknown error"
	}
}

func (r *Report) ModulesDone() {
	r.update(func(s *Snapshot) {
		s.ModulesState = StateSuccess
		s.CurrentModule = ""
	})
}

func (r *Report) ModulesFailed() {
	r.update(func(s *Snapshot) {
		s.ModulesState = StateFailed
	})
}

func (r *Report) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshot()
}

// Updates returns the number of update signals emitted so far.
func (r *Report) Updates() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.updates
}

func (r *Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Snapshot())
}
