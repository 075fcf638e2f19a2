package httphandler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
)

type Services struct {
	Fs       afero.Fs
	Locator  Locator
	History  HistoryService
	Sync     SyncService
	Progress ProgressService
	Counter  CounterService
	Units    UnitService
	Gatherer prometheus.Gatherer
}

func NewRouter(srv *Services, log *slog.Logger) *mux.Router {
	r := mux.NewRouter()

	files := NewFileHandler(srv.Fs, srv.Locator, srv.Counter, log)
	r.HandleFunc("/pulp/puppet/{repo}/", files).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/pulp/puppet/{repo}/{file}", files).Methods(http.MethodGet, http.MethodHead)

	r.HandleFunc("/api/tasks/{task}/", NewTaskHandler(srv.History, log)).Methods(http.MethodGet)
	if srv.Units != nil {
		r.HandleFunc("/api/repositories/", NewRepositoriesHandler(srv.Units, log)).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/repositories/{repo}").Subrouter()
	api.HandleFunc("/history/", NewHistoryHandler(srv.History, log)).Methods(http.MethodGet)
	api.HandleFunc("/progress/", NewProgressHandler(srv.Progress, log)).Methods(http.MethodGet)
	api.HandleFunc("/sync/", NewSyncHandler(srv.Sync, log)).Methods(http.MethodPost)
	if srv.Counter != nil {
		api.HandleFunc("/downloads/", NewCounterHandler(srv.Counter, log)).Methods(http.MethodGet)
	}
	if srv.Units != nil {
		api.HandleFunc("/units/", NewUnitsHandler(srv.Units, log)).Methods(http.MethodGet)
		api.HandleFunc("/units/{author}/{name}/{version}/", NewUnitHandler(srv.Units, log)).Methods(http.MethodGet)
	}

	if srv.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(srv.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
