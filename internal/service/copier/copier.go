package copier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jgivc/modsync/internal/adapter/hostapi"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/jgivc/modsync/internal/service/copier")

// propertyNames maps server side request fields to the command flags that set them.
var propertyNames = map[string]string{
	"source_repo_id": "from-repo-id",
	"repo_id":        "to-repo-id",
}

type Associator interface {
	Associate(ctx context.Context, toRepoID string, req *hostapi.AssociateRequest) ([]hostapi.TaskRef, error)
}

type TaskPoller interface {
	Poll(ctx context.Context, refs []hostapi.TaskRef) error
}

type HistoryRecorder interface {
	Record(ctx context.Context, rec *entity.TaskRecord) error
}

// Filter restricts copied units by a unit field. Regex selects a regular
// expression match instead of equality.
type Filter struct {
	Field string
	Value string
	Regex bool
}

type Request struct {
	FromRepoID string
	ToRepoID   string
	Filters    []Filter
}

type Service struct {
	api     Associator
	poller  TaskPoller
	history HistoryRecorder
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewService(api Associator, poller TaskPoller, history HistoryRecorder, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		api:     api,
		poller:  poller,
		history: history,
		metrics: m,
		log:     log.With(slog.String("item", "CopyService")),
	}
}

/*
Run submits the copy of the module units of req.FromRepoID into req.ToRepoID
and waits for the spawned tasks.

A rejected request comes back as *common.ValidationError whose property names
are the command flags, not the server fields.
*/
func (s *Service) Run(ctx context.Context, req Request) error {
	start := time.Now()
	log := s.log.With(slog.String("from_repo_id", req.FromRepoID), slog.String("to_repo_id", req.ToRepoID))

	ctx, span := tracer.Start(ctx, "copy")
	span.SetAttributes(attribute.String("repo.from", req.FromRepoID), attribute.String("repo.to", req.ToRepoID))
	defer span.End()

	tasks, err := s.run(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("Copy failed", slog.Any("error", err))
	} else {
		log.Info("Copy finished", slog.Int("tasks", tasks))
	}

	s.metrics.RunFinished(req.ToRepoID, entity.TaskKindCopy, start, err)
	s.record(req, tasks, start, err)

	return err
}

func (s *Service) run(ctx context.Context, req Request) (int, error) {
	body := &hostapi.AssociateRequest{
		SourceRepoID: req.FromRepoID,
		Criteria: hostapi.Criteria{
			TypeIDs: []string{entity.TypeModule},
			Filters: unitFilters(req.Filters),
		},
	}

	refs, err := s.api.Associate(ctx, req.ToRepoID, body)
	if err != nil {
		var verr *common.ValidationError
		if errors.As(err, &verr) {
			TranslatePropertyNames(verr)
		}

		return 0, err
	}

	if err := s.poller.Poll(ctx, refs); err != nil {
		return len(refs), fmt.Errorf("cannot wait for copy tasks: %w", err)
	}

	return len(refs), nil
}

// TranslatePropertyNames rewrites the property names of verr to command flag names.
// Names without a translation are kept.
func TranslatePropertyNames(verr *common.ValidationError) {
	for i, name := range verr.PropertyNames {
		if flag, exists := propertyNames[name]; exists {
			verr.PropertyNames[i] = flag
		}
	}

	if verr.Extra != nil {
		names := make([]any, len(verr.PropertyNames))
		for i, name := range verr.PropertyNames {
			names[i] = name
		}

		verr.Extra["property_names"] = names
	}
}

func unitFilters(filters []Filter) map[string]any {
	if len(filters) == 0 {
		return nil
	}

	clauses := make([]any, 0, len(filters))
	for _, f := range filters {
		if f.Regex {
			clauses = append(clauses, map[string]any{f.Field: map[string]any{"$regex": f.Value}})
		} else {
			clauses = append(clauses, map[string]any{f.Field: f.Value})
		}
	}

	if len(clauses) == 1 {
		return map[string]any{"unit": clauses[0]}
	}

	return map[string]any{"unit": map[string]any{"$and": clauses}}
}

func (s *Service) record(req Request, tasks int, start time.Time, err error) {
	if s.history == nil {
		return
	}

	rec := &entity.TaskRecord{
		ID:         uuid.NewString(),
		RepoID:     req.ToRepoID,
		Kind:       entity.TaskKindCopy,
		State:      entity.TaskStateSuccess,
		Finished:   tasks,
		Message:    "from " + req.FromRepoID,
		StartedAt:  start,
		FinishedAt: time.Now(),
	}

	if err != nil {
		rec.State = entity.TaskStateFailed
		rec.Errors = 1
		rec.Message = err.Error()
	}

	if err := s.history.Record(context.Background(), rec); err != nil {
		s.log.Error("Cannot record history", slog.Any("error", err))
	}
}
