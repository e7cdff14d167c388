package ingestion

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/serene416/friend/internal/api"
	"github.com/serene416/friend/internal/types"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	CreateJobHandler(w http.ResponseWriter, r *http.Request)
	GetJobHandler(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	logger  *slog.Logger
	service Service
}

func NewHandler(service Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		logger:  logger,
		service: service,
	}
}

func (h *HandlerImpl) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("IngestionHandler").Start(r.Context(), "CreateJob")
	defer span.End()
	l := h.logger.With(slog.String("handler", "CreateJobHandler"))

	var req types.CreateIngestionJobRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode request body", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Bad request")
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Source == "" {
		req.Source = "internal"
	}
	if err := api.ValidateStruct(ctx, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid request")
		api.ErrorResponseFromErr(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int("hotplaces.count", len(req.Hotplaces)))

	resp, err := h.service.CreateJob(ctx, req.Hotplaces, req.Source, req.RequestContext)
	if err != nil {
		l.ErrorContext(ctx, "Service failed to create ingestion job", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create ingestion job")
		api.ErrorResponseFromErr(w, r, err)
		return
	}

	span.SetStatus(codes.Ok, "Ingestion job created")
	api.WriteJSONResponse(w, r, http.StatusCreated, resp)
}

func (h *HandlerImpl) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("IngestionHandler").Start(r.Context(), "GetJob")
	defer span.End()
	l := h.logger.With(slog.String("handler", "GetJobHandler"))

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		l.WarnContext(ctx, "Invalid job id", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid job id")
		api.ErrorResponse(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.service.GetJob(ctx, jobID)
	if err != nil {
		if types.CodeOf(err) != types.ErrCodeNotFound {
			l.ErrorContext(ctx, "Service failed to load ingestion job", slog.Any("error", err))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load ingestion job")
		api.ErrorResponseFromErr(w, r, err)
		return
	}

	span.SetStatus(codes.Ok, "Ingestion job served")
	api.WriteJSONResponse(w, r, http.StatusOK, job)
}
