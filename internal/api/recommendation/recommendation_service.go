package recommendation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/serene416/friend/app/observability/metrics"
	"github.com/serene416/friend/config"
	"github.com/serene416/friend/internal/api"
	"github.com/serene416/friend/internal/api/cache"
	"github.com/serene416/friend/internal/api/directory"
	"github.com/serene416/friend/internal/api/features"
	"github.com/serene416/friend/internal/api/ranking"
	"github.com/serene416/friend/internal/types"
)

const (
	effectiveStationLimit = 1
	effectivePages        = 1
	maxKeywordPageSize    = 15
	ingestionSource       = "midpoint_hotplaces"
)

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	GetMidpointHotplaces(ctx context.Context, req types.MidpointHotplaceRequest) (*types.MidpointHotplaceResponse, error)
}

// IngestionTrigger queues candidates for background enrichment.
type IngestionTrigger interface {
	CreateJob(ctx context.Context, hotplaces []types.IngestionHotplace, source string,
		requestContext map[string]any) (*types.CreateIngestionJobResponse, error)
}

// effectiveOptions are the search parameters actually executed. Station
// limit, pages and keywords are fixed regardless of the request.
type effectiveOptions struct {
	StationRadius int
	StationLimit  int
	PlaceRadius   int
	Size          int
	Pages         int
	Keywords      []string
}

func (o effectiveOptions) expectedCalls() int {
	return 1 + o.StationLimit*len(o.Keywords)*o.Pages
}

// cachedAggregation is the cached part of a response: everything before
// enrichment and ranking.
type cachedAggregation struct {
	Midpoint  types.Midpoint   `json:"midpoint"`
	Stations  []types.Anchor   `json:"stations"`
	Hotplaces []types.Hotplace `json:"hotplaces"`
}

type ServiceImpl struct {
	logger    *slog.Logger
	directory directory.Client
	cache     *cache.ResponseCache
	features  features.Repository
	ranker    *ranking.Engine
	trigger   IngestionTrigger
	cooldown  *gocache.Cache
	cfg       config.RecommendationConfig
}

// NewServiceImpl wires the aggregator. featureRepo and trigger may be nil;
// without them candidates are served unenriched and nothing is enqueued.
func NewServiceImpl(
	directoryClient directory.Client,
	responseCache *cache.ResponseCache,
	featureRepo features.Repository,
	ranker *ranking.Engine,
	trigger IngestionTrigger,
	cfg config.RecommendationConfig,
	logger *slog.Logger,
) *ServiceImpl {
	cooldown := time.Duration(cfg.IngestionCooldownSeconds) * time.Second
	return &ServiceImpl{
		logger:    logger,
		directory: directoryClient,
		cache:     responseCache,
		features:  featureRepo,
		ranker:    ranker,
		trigger:   trigger,
		cooldown:  gocache.New(cooldown, 10*time.Minute),
		cfg:       cfg,
	}
}

// GetMidpointHotplaces runs the full serving flow: validation, budget guard,
// cache lookup, anchor search, keyword fan-out, enrichment and ranking.
func (s *ServiceImpl) GetMidpointHotplaces(ctx context.Context, req types.MidpointHotplaceRequest) (*types.MidpointHotplaceResponse, error) {
	ctx, span := otel.Tracer("RecommendationService").Start(ctx, "GetMidpointHotplaces", trace.WithAttributes(
		attribute.Int("participants.count", len(req.Participants)),
	))
	defer span.End()
	l := s.logger.With(slog.String("method", "GetMidpointHotplaces"))

	start := time.Now()
	defer func() {
		metrics.Get().AggregationDurationSeconds.Record(ctx, time.Since(start).Seconds())
	}()

	if err := api.ValidateStruct(ctx, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid request")
		return nil, err
	}

	opts := s.resolveOptions(req)
	expected := opts.expectedCalls()
	if expected > s.cfg.MaxCallsPerRequest {
		err := types.NewBudgetExceeded(expected, s.cfg.MaxCallsPerRequest)
		l.WarnContext(ctx, "Rejecting request over the directory call budget",
			slog.Int("expected_calls", expected), slog.Int("limit", s.cfg.MaxCallsPerRequest))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Budget exceeded")
		return nil, err
	}

	weatherKey := cacheWeatherKey(req.WeatherKey)
	key, err := s.cache.Key(cacheKeyPayload(req.Participants, opts, weatherKey))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Cache key failed")
		return nil, fmt.Errorf("failed to build cache key: %w", err)
	}

	var agg cachedAggregation
	cacheHit := s.cache.Get(ctx, key, &agg)
	var actualCalls int
	if !cacheHit {
		agg, actualCalls, err = s.aggregate(ctx, req.Participants, opts)
		if err != nil {
			l.ErrorContext(ctx, "Midpoint aggregation failed", slog.Any("error", err),
				slog.Int("directory_calls", actualCalls))
			span.RecordError(err)
			span.SetStatus(codes.Error, "Aggregation failed")
			return nil, err
		}
		if err := s.cache.Set(ctx, key, agg); err != nil {
			l.WarnContext(ctx, "Failed to store aggregation in cache", slog.Any("error", err))
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", cacheHit), attribute.Int("directory.calls", actualCalls))

	hotplaces, stored, hidden := s.enrich(ctx, agg.Hotplaces)
	rawWeather := ""
	if req.WeatherKey != nil {
		rawWeather = *req.WeatherKey
	}
	ranked := s.ranker.Rank(hotplaces, req.Participants, rawWeather)
	if ranked == nil {
		ranked = []types.Hotplace{}
	}
	stations := agg.Stations
	if stations == nil {
		stations = []types.Anchor{}
	}

	executedKeywords := 0
	if len(stations) > 0 {
		executedKeywords = len(opts.Keywords)
	}
	resp := &types.MidpointHotplaceResponse{
		Midpoint:  agg.Midpoint,
		Stations:  stations,
		Hotplaces: ranked,
		Meta: types.MidpointHotplaceMeta{
			StationLimit:               opts.StationLimit,
			Pages:                      opts.Pages,
			ExecutedKeywordCount:       executedKeywords,
			ExpectedKakaoAPICallCount:  expected,
			ActualKakaoAPICallCount:    actualCalls,
			CacheHit:                   cacheHit,
			HotplaceCount:              len(ranked),
			WeatherKey:                 req.WeatherKey,
			HiddenForMappingIssueCount: hidden,
		},
	}

	if jobID := s.enqueueIngestion(ctx, ranked, stored, req); jobID != "" {
		resp.Meta.IngestionEnqueuedJobID = &jobID
	}

	l.InfoContext(ctx, "Midpoint hotplaces served",
		slog.Bool("cache_hit", cacheHit),
		slog.Int("hotplaces", len(ranked)),
		slog.Int("hidden", hidden),
		slog.Int("directory_calls", actualCalls))
	span.SetStatus(codes.Ok, "Midpoint hotplaces served")
	return resp, nil
}

func (s *ServiceImpl) resolveOptions(req types.MidpointHotplaceRequest) effectiveOptions {
	opts := effectiveOptions{
		StationRadius: s.cfg.StationRadius,
		StationLimit:  effectiveStationLimit,
		PlaceRadius:   s.cfg.PlaceRadius,
		Size:          s.cfg.Size,
		Pages:         effectivePages,
		Keywords:      PredefinedPlayKeywords,
	}
	if req.StationRadius > 0 {
		opts.StationRadius = req.StationRadius
	}
	if req.PlaceRadius > 0 {
		opts.PlaceRadius = req.PlaceRadius
	}
	if req.Size > 0 {
		opts.Size = req.Size
	}
	if opts.Size > maxKeywordPageSize {
		opts.Size = maxKeywordPageSize
	}
	return opts
}

type searchTask struct {
	anchor  types.Anchor
	keyword string
	page    int
}

// aggregate performs the directory calls of a cache miss. It returns the
// number of calls actually issued, including on failure.
func (s *ServiceImpl) aggregate(ctx context.Context, participants []types.Participant, opts effectiveOptions) (cachedAggregation, int, error) {
	ctx, span := otel.Tracer("RecommendationService").Start(ctx, "aggregate")
	defer span.End()

	agg := cachedAggregation{
		Midpoint:  computeMidpoint(participants),
		Stations:  []types.Anchor{},
		Hotplaces: []types.Hotplace{},
	}

	docs, err := s.directory.SearchAnchors(ctx, agg.Midpoint.Lat, agg.Midpoint.Lng, opts.StationRadius, opts.StationLimit)
	calls := 1
	if err != nil {
		span.RecordError(err)
		return agg, calls, asDirectoryUnavailable("anchor station search failed", err)
	}
	for _, doc := range docs {
		if anchor, ok := buildAnchor(doc); ok {
			agg.Stations = append(agg.Stations, anchor)
		}
	}
	if len(agg.Stations) == 0 {
		s.logger.InfoContext(ctx, "No anchor station near midpoint",
			slog.Float64("lat", agg.Midpoint.Lat), slog.Float64("lng", agg.Midpoint.Lng))
		return agg, calls, nil
	}

	tasks := make([]searchTask, 0, len(agg.Stations)*len(opts.Keywords)*opts.Pages)
	for _, anchor := range agg.Stations {
		for _, keyword := range opts.Keywords {
			for page := 1; page <= opts.Pages; page++ {
				tasks = append(tasks, searchTask{anchor: anchor, keyword: keyword, page: page})
			}
		}
	}

	results, fanoutCalls, err := s.fanOut(ctx, tasks, opts)
	calls += fanoutCalls
	if err != nil {
		span.RecordError(err)
		return agg, calls, err
	}

	seen := make(map[string]struct{})
	for i, task := range tasks {
		for _, doc := range results[i] {
			h, ok := buildHotplace(doc, task.anchor.StationName, task.keyword)
			if !ok {
				continue
			}
			if _, dup := seen[h.KakaoPlaceID]; dup {
				continue
			}
			seen[h.KakaoPlaceID] = struct{}{}
			agg.Hotplaces = append(agg.Hotplaces, h)
		}
	}
	span.SetAttributes(attribute.Int("hotplaces.count", len(agg.Hotplaces)))
	return agg, calls, nil
}

// fanOut runs one keyword search per task with bounded parallelism. The
// first failure stops scheduling further tasks while calls already in
// flight finish on the parent context.
func (s *ServiceImpl) fanOut(ctx context.Context, tasks []searchTask, opts effectiveOptions) ([][]types.DirectoryDocument, int, error) {
	results := make([][]types.DirectoryDocument, len(tasks))
	var calls atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.cfg.KeywordConcurrency))
	for i, task := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			calls.Add(1)
			query := task.anchor.StationName + " " + SearchPhrase(task.keyword)
			docs, err := s.directory.SearchKeyword(ctx, query, task.anchor.Lng, task.anchor.Lat,
				opts.PlaceRadius, opts.Size, task.page)
			if err != nil {
				return fmt.Errorf("keyword search %q failed: %w", query, err)
			}
			results[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, int(calls.Load()), asDirectoryUnavailable(
			"keyword search failed; the request is rejected under the all-or-nothing policy", err)
	}
	return results, int(calls.Load()), nil
}

func asDirectoryUnavailable(message string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewDirectoryUnavailable(message+": request cancelled", err)
	}
	return types.NewDirectoryUnavailable(message, err)
}

// enrich joins stored features onto the candidates and drops those with a
// mapping issue. A feature store failure degrades to unenriched results.
func (s *ServiceImpl) enrich(ctx context.Context, raw []types.Hotplace) ([]types.Hotplace, map[string]types.PlaceFeatures, int) {
	stored := map[string]types.PlaceFeatures{}
	if s.features != nil && len(raw) > 0 {
		ids := make([]string, len(raw))
		for i, h := range raw {
			ids[i] = h.KakaoPlaceID
		}
		found, err := s.features.GetFeatures(ctx, ids)
		if err != nil {
			s.logger.WarnContext(ctx, "Feature store unavailable, serving unenriched candidates", slog.Any("error", err))
		} else {
			stored = found
		}
	}

	out := make([]types.Hotplace, 0, len(raw))
	hidden := 0
	for _, h := range raw {
		f, ok := stored[h.KakaoPlaceID]
		if !applyFeatures(&h, f, ok) {
			hidden++
			continue
		}
		out = append(out, h)
	}
	return out, stored, hidden
}

// enqueueIngestion asks the worker to enrich served candidates that were not
// ingested within the cooldown window. Failures never affect the response.
func (s *ServiceImpl) enqueueIngestion(ctx context.Context, hotplaces []types.Hotplace,
	stored map[string]types.PlaceFeatures, req types.MidpointHotplaceRequest) string {
	if s.trigger == nil || !s.cfg.EnableIngestionEnqueue || len(hotplaces) == 0 {
		return ""
	}
	window := time.Duration(s.cfg.IngestionCooldownSeconds) * time.Second
	now := time.Now()

	items := make([]types.IngestionHotplace, 0, len(hotplaces))
	claimed := make([]string, 0, len(hotplaces))
	for _, h := range hotplaces {
		if f, ok := stored[h.KakaoPlaceID]; ok && f.LastIngestedAt != nil && now.Sub(*f.LastIngestedAt) < window {
			continue
		}
		if err := s.cooldown.Add(h.KakaoPlaceID, now, gocache.DefaultExpiration); err != nil {
			continue
		}
		claimed = append(claimed, h.KakaoPlaceID)
		items = append(items, toIngestionHotplace(h))
	}
	if len(items) == 0 {
		return ""
	}

	requestContext := map[string]any{
		"participant_count": len(req.Participants),
	}
	if req.WeatherKey != nil {
		requestContext["weather_key"] = strings.TrimSpace(*req.WeatherKey)
	}
	resp, err := s.trigger.CreateJob(ctx, items, ingestionSource, requestContext)
	if err != nil {
		for _, id := range claimed {
			s.cooldown.Delete(id)
		}
		s.logger.WarnContext(ctx, "Failed to enqueue ingestion job", slog.Any("error", err),
			slog.Int("items", len(items)))
		return ""
	}
	metrics.Get().IngestionJobsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "enqueued")))
	return resp.JobID.String()
}

func toIngestionHotplace(h types.Hotplace) types.IngestionHotplace {
	item := types.IngestionHotplace{
		KakaoPlaceID:    h.KakaoPlaceID,
		PlaceName:       h.PlaceName,
		CategoryName:    h.CategoryName,
		AddressName:     h.AddressName,
		RoadAddressName: h.RoadAddressName,
		SourceStation:   h.SourceStation,
		SourceKeyword:   h.SourceKeyword,
	}
	if ranking.ValidCoordinate(h.Y, h.X) {
		x, y := h.X, h.Y
		item.X, item.Y = &x, &y
	}
	return item
}
