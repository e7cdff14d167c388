package recommendation

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/serene416/friend/internal/api"
	"github.com/serene416/friend/internal/types"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	GetMidpointHotplacesHandler(w http.ResponseWriter, r *http.Request)
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

func (h *HandlerImpl) GetMidpointHotplacesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("RecommendationHandler").Start(r.Context(), "GetMidpointHotplaces")
	defer span.End()
	l := h.logger.With(slog.String("handler", "GetMidpointHotplacesHandler"))

	var req types.MidpointHotplaceRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode request body", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Bad request")
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	span.SetAttributes(attribute.Int("participants.count", len(req.Participants)))

	resp, err := h.service.GetMidpointHotplaces(ctx, req)
	if err != nil {
		l.ErrorContext(ctx, "Service failed to build midpoint hotplaces", slog.Any("error", err),
			slog.String("code", string(types.CodeOf(err))))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to get midpoint hotplaces")
		api.ErrorResponseFromErr(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.Int("hotplaces.count", resp.Meta.HotplaceCount),
		attribute.Bool("cache.hit", resp.Meta.CacheHit),
	)
	span.SetStatus(codes.Ok, "Midpoint hotplaces served")
	api.WriteJSONResponse(w, r, http.StatusOK, resp)
}
