package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/progress"
	"github.com/jgivc/modsync/internal/service/synchronizer"
	"github.com/spf13/afero"
)

const (
	VarRepo    = "repo"
	VarFile    = "file"
	VarTask    = "task"
	VarAuthor  = "author"
	VarName    = "name"
	VarVersion = "version"
)

var filenameRegexp = regexp.MustCompile(`^[A-Za-z0-9_.+-]+$`)

type Locator interface {
	// Location returns the hosting location of repoID.
	Location(repoID string) (string, bool)
}

type HistoryService interface {
	List(ctx context.Context, repoID string, limit int) ([]*entity.TaskRecord, error)
	Get(ctx context.Context, id string) (*entity.TaskRecord, error)
}

type UnitService interface {
	// RepoIDs returns every repository that holds units.
	RepoIDs(ctx context.Context) ([]string, error)
	Units(ctx context.Context, repoID string) ([]*entity.Unit, error)
	Unit(ctx context.Context, repoID string, key entity.ModuleKey) (*entity.Unit, error)
}

type SyncService interface {
	Sync(ctx context.Context, repoID string) (*synchronizer.Result, error)
}

type CounterService interface {
	Count(ctx context.Context, repoID, filename string)
	GetDownloadCounters(ctx context.Context, repoID string) (map[string]int, error)
}

type ProgressService interface {
	Progress(repoID string) (progress.Snapshot, bool)
}

func validRepoID(id string) bool {
	return entity.ValidRepositoryID(id)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// NewFileHandler serves published artifacts, the manifest and the index page.
// Artifact downloads are counted when counter is set.
func NewFileHandler(fs afero.Fs, locator Locator, counter CounterService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "FileHandler"))
	httpFs := afero.NewHttpFs(fs)

	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		repoID, name := vars[VarRepo], vars[VarFile]
		if name == "" {
			name = "index.html"
		}

		if !validRepoID(repoID) || !filenameRegexp.MatchString(name) || name == "." || name == ".." {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		location, ok := locator.Location(repoID)
		if !ok {
			http.Error(w, "Repository not found", http.StatusNotFound)

			return
		}

		f, err := httpFs.Open(path.Join(location, name))
		if err != nil {
			http.Error(w, "File not found", http.StatusNotFound)

			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.Error(w, "File not found", http.StatusNotFound)

			return
		}

		log.Debug("Serve file", slog.String("repo_id", repoID), slog.String("file", name))

		if counter != nil && r.Method == http.MethodGet && strings.HasSuffix(name, entity.ArtifactExtension) {
			counter.Count(r.Context(), repoID, name)
		}

		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}

func NewCounterHandler(srv CounterService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "CounterHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		repoID := mux.Vars(r)[VarRepo]
		if !validRepoID(repoID) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		counters, err := srv.GetDownloadCounters(r.Context(), repoID)
		if err != nil {
			log.Error("Cannot get download counters", slog.String("repo_id", repoID), slog.Any("error", err))
			http.Error(w, "Cannot get download counters", http.StatusInternalServerError)

			return
		}

		writeJSON(w, counters)
	}
}

func NewHistoryHandler(srv HistoryService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "HistoryHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		repoID := mux.Vars(r)[VarRepo]
		if !validRepoID(repoID) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				http.Error(w, "Bad request", http.StatusBadRequest)

				return
			}

			limit = n
		}

		records, err := srv.List(r.Context(), repoID, limit)
		if err != nil {
			log.Error("Cannot list history", slog.String("repo_id", repoID), slog.Any("error", err))
			http.Error(w, "Cannot get history", http.StatusInternalServerError)

			return
		}

		writeJSON(w, records)
	}
}

func NewTaskHandler(srv HistoryService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "TaskHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)[VarTask]
		if !filenameRegexp.MatchString(id) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		rec, err := srv.Get(r.Context(), id)
		if errors.Is(err, common.ErrTaskNotFound) {
			http.Error(w, "Task not found", http.StatusNotFound)

			return
		}

		if err != nil {
			log.Error("Cannot get task", slog.String("task_id", id), slog.Any("error", err))
			http.Error(w, "Cannot get task", http.StatusInternalServerError)

			return
		}

		writeJSON(w, rec)
	}
}

func NewRepositoriesHandler(srv UnitService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "RepositoriesHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := srv.RepoIDs(r.Context())
		if err != nil {
			log.Error("Cannot list repositories", slog.Any("error", err))
			http.Error(w, "Cannot list repositories", http.StatusInternalServerError)

			return
		}

		writeJSON(w, ids)
	}
}

func NewUnitsHandler(srv UnitService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "UnitsHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		repoID := mux.Vars(r)[VarRepo]
		if !validRepoID(repoID) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		units, err := srv.Units(r.Context(), repoID)
		if err != nil {
			log.Error("Cannot list units", slog.String("repo_id", repoID), slog.Any("error", err))
			http.Error(w, "Cannot list units", http.StatusInternalServerError)

			return
		}

		writeJSON(w, units)
	}
}

func NewUnitHandler(srv UnitService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "UnitHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		repoID := vars[VarRepo]
		key := entity.ModuleKey{Author: vars[VarAuthor], Name: vars[VarName], Version: vars[VarVersion]}

		if !validRepoID(repoID) || !filenameRegexp.MatchString(key.Author) ||
			!filenameRegexp.MatchString(key.Name) || !filenameRegexp.MatchString(key.Version) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		u, err := srv.Unit(r.Context(), repoID, key)
		if errors.Is(err, common.ErrUnitNotFound) {
			http.Error(w, "Unit not found", http.StatusNotFound)

			return
		}

		if err != nil {
			log.Error("Cannot get unit", slog.String("repo_id", repoID), slog.String("unit", key.String()), slog.Any("error", err))
			http.Error(w, "Cannot get unit", http.StatusInternalServerError)

			return
		}

		writeJSON(w, u)
	}
}

func NewSyncHandler(srv SyncService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "SyncHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		repoID := mux.Vars(r)[VarRepo]
		if !validRepoID(repoID) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		// The sync outlives the request.
		res, err := srv.Sync(context.WithoutCancel(r.Context()), repoID)
		if err != nil {
			log.Error("Cannot sync repository", slog.String("repo_id", repoID), slog.Any("error", err))

			switch {
			case errors.Is(err, common.ErrSyncAlreadyStarted):
				http.Error(w, "Sync process has already started", http.StatusConflict)
			case errors.Is(err, common.ErrRepositoryNotFound):
				http.Error(w, "Repository not found", http.StatusNotFound)
			default:
				http.Error(w, "Cannot sync repository", http.StatusInternalServerError)
			}

			return
		}

		writeJSON(w, res)
	}
}

func NewProgressHandler(srv ProgressService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repoID := mux.Vars(r)[VarRepo]
		if !validRepoID(repoID) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		snapshot, ok := srv.Progress(repoID)
		if !ok {
			http.Error(w, "No sync has run", http.StatusNotFound)

			return
		}

		writeJSON(w, snapshot)
	}
}
