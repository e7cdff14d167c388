package directory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/serene416/friend/app/observability/metrics"
	"github.com/serene416/friend/config"
	"github.com/serene416/friend/internal/types"
)

const (
	categorySearchEndpoint = "/v2/local/search/category.json"
	keywordSearchEndpoint  = "/v2/local/search/keyword.json"

	// SubwayCategoryCode is the directory category group for subway stations.
	SubwayCategoryCode = "SW8"
)

var _ Client = (*KakaoClient)(nil)

// Client is the places directory contract.
type Client interface {
	SearchAnchors(ctx context.Context, lat, lng float64, radius, limit int) ([]types.DirectoryDocument, error)
	SearchKeyword(ctx context.Context, query string, x, y float64, radius, size, page int) ([]types.DirectoryDocument, error)
}

// StatusError is returned when the directory answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Context    string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kakao local API error while requesting %s (status=%d)", e.Context, e.StatusCode)
}

type KakaoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewKakaoClient builds a client sharing one connection pool across all
// calls. A QPS of zero disables client-side pacing.
func NewKakaoClient(cfg config.KakaoConfig, logger *slog.Logger) *KakaoClient {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.QPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), burst)
	}
	return &KakaoClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  strings.TrimSpace(cfg.RestAPIKey),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: limiter,
		logger:  logger,
	}
}

func (c *KakaoClient) SearchAnchors(ctx context.Context, lat, lng float64, radius, limit int) ([]types.DirectoryDocument, error) {
	params := url.Values{}
	params.Set("category_group_code", SubwayCategoryCode)
	params.Set("x", formatCoord(lng))
	params.Set("y", formatCoord(lat))
	params.Set("radius", strconv.Itoa(radius))
	params.Set("sort", "distance")
	params.Set("size", strconv.Itoa(limit))
	params.Set("page", "1")
	return c.requestDocuments(ctx, categorySearchEndpoint, params, "station search")
}

func (c *KakaoClient) SearchKeyword(ctx context.Context, query string, x, y float64, radius, size, page int) ([]types.DirectoryDocument, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("x", formatCoord(x))
	params.Set("y", formatCoord(y))
	params.Set("radius", strconv.Itoa(radius))
	params.Set("size", strconv.Itoa(size))
	params.Set("page", strconv.Itoa(page))
	return c.requestDocuments(ctx, keywordSearchEndpoint, params, fmt.Sprintf("keyword search (%s)", query))
}

type documentsPayload struct {
	Documents []types.DirectoryDocument `json:"documents"`
}

func (c *KakaoClient) requestDocuments(ctx context.Context, endpoint string, params url.Values, reqContext string) ([]types.DirectoryDocument, error) {
	ctx, span := otel.Tracer("KakaoClient").Start(ctx, "requestDocuments", trace.WithAttributes(
		attribute.String("kakao.endpoint", endpoint),
	))
	defer span.End()

	if c.apiKey == "" {
		err := types.NewDirectoryUnavailable("KAKAO_REST_API_KEY is not configured", nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing api key")
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, types.NewDirectoryUnavailable("directory rate limiter aborted", err)
	}

	m := metrics.Get()
	endpointAttr := metric.WithAttributes(attribute.String("endpoint", endpoint))
	m.DirectoryCallsTotal.Add(ctx, 1, endpointAttr)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build directory request: %w", err)
	}
	req.Header.Set("Authorization", "KakaoAK "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		m.DirectoryErrorsTotal.Add(ctx, 1, endpointAttr)
		c.logger.ErrorContext(ctx, "Kakao Local API request failed",
			slog.String("context", reqContext), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, types.NewDirectoryUnavailable("failed to connect to Kakao Local API for "+reqContext, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Context: reqContext, Body: string(body)}
		m.DirectoryErrorsTotal.Add(ctx, 1, endpointAttr)
		c.logger.WarnContext(ctx, "Kakao Local API returned non-200",
			slog.Int("status", resp.StatusCode),
			slog.String("context", reqContext),
			slog.String("body", statusErr.Body))
		span.RecordError(statusErr)
		span.SetStatus(codes.Error, "non-200 response")
		return nil, types.NewDirectoryUnavailable(statusErr.Error(), statusErr)
	}

	var payload documentsPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		span.RecordError(err)
		return nil, types.NewDirectoryUnavailable("failed to decode Kakao Local API response for "+reqContext, err)
	}

	span.SetAttributes(attribute.Int("kakao.documents", len(payload.Documents)))
	span.SetStatus(codes.Ok, "documents fetched")
	return payload.Documents, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
