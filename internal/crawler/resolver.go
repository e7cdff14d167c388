package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/serene416/friend/config"
	"github.com/serene416/friend/internal/api/directory"
	"github.com/serene416/friend/internal/types"
)

const (
	contextLookupRadius = 1200
	contextLookupSize   = 5
	maxRouteAnchors     = 120
	maxSnippetRunes     = 180
)

var mappingURLTemplates = []string{
	"https://m.search.naver.com/search.naver?where=m&sm=mtp_hty.top&query=%s",
	"https://map.naver.com/p/search/%s",
	"https://search.naver.com/search.naver?where=nexearch&sm=top_hty&query=%s",
}

var (
	routeCodePattern = regexp.MustCompile(`(?:^|[;|])code\^([^;|]+)`)
	routeLngPattern  = regexp.MustCompile(`(?:^|[;|])longitude\^([0-9.+-]+)`)
	routeLatPattern  = regexp.MustCompile(`(?:^|[;|])latitude\^([0-9.+-]+)`)
)

// Place identifies a directory place to resolve. Coordinates are optional.
type Place struct {
	SourceID string
	Name     string
	Lat      *float64
	Lng      *float64
}

// placeContext is what the directory knows about the place being resolved.
type placeContext struct {
	Name     string
	Lat, Lng *float64
	Address  string
	Resolved bool
}

// Resolver maps a directory place to its counterpart on the place-detail
// site. The directory client is optional and only refines name, position
// and address before searching.
type Resolver struct {
	launcher  Launcher
	directory directory.Client
	drv       *driver
	logger    *slog.Logger
	now       func() time.Time
}

func NewResolver(launcher Launcher, directoryClient directory.Client, cfg config.CrawlerConfig, logger *slog.Logger) *Resolver {
	return &Resolver{
		launcher:  launcher,
		directory: directoryClient,
		drv:       newDriver(cfg, logger),
		logger:    logger,
		now:       time.Now,
	}
}

// Resolve never fails. An unresolved place comes back SKIPPED with a reason
// that callers use for visibility and crawl decisions.
func (r *Resolver) Resolve(ctx context.Context, place Place) types.IdentityMapping {
	ctx, span := otel.Tracer("Crawler").Start(ctx, "Resolve", trace.WithAttributes(
		attribute.String("kakao.place_id", place.SourceID),
	))
	defer span.End()
	l := r.logger.With(slog.String("kakao_place_id", place.SourceID))

	mapping := types.IdentityMapping{
		SourceID:   place.SourceID,
		Status:     types.MappingStatusSkipped,
		ResolvedAt: r.now().UTC(),
	}

	name := squash(place.Name)
	if name == "" {
		mapping.Reason = types.MappingReasonMissingName
		l.InfoContext(ctx, "Mapping skipped", slog.String("reason", mapping.Reason))
		span.SetStatus(codes.Ok, mapping.Reason)
		return mapping
	}

	pc := r.lookupContext(ctx, place, name)
	queries := buildMappingQueries(pc.Name, pc.Address)

	candidates, err := r.searchCandidates(ctx, pc.Name, queries)
	if err != nil {
		mapping.Reason = types.MappingReasonSearchError
		l.WarnContext(ctx, "Mapping search failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Mapping search failed")
		return mapping
	}
	mapping.CandidateCount = len(candidates)

	best, scored := scoreCandidates(pc.Name, candidates, pc.Lat, pc.Lng, pc.Address)
	if len(scored) > maxTopCandidates {
		mapping.TopCandidates = scored[:maxTopCandidates]
	} else {
		mapping.TopCandidates = scored
	}
	if best == nil {
		mapping.Reason = types.MappingReasonNoCandidates
		if len(scored) > 0 {
			mapping.Reason = types.MappingReasonAmbiguous
		}
		l.InfoContext(ctx, "Mapping failed", slog.String("reason", mapping.Reason),
			slog.Int("candidate_count", mapping.CandidateCount), slog.Any("detail", mapping.Err()))
		span.SetStatus(codes.Ok, mapping.Reason)
		return mapping
	}

	mapping.Confidence = best.Confidence
	mapping.DistanceMeters = best.DistanceMeters
	mapping.MatchedName = best.Name

	if minConfidence := r.drv.cfg.MapMinConfidence; best.Confidence < minConfidence {
		mapping.Reason = types.MappingReasonLowConf
		l.InfoContext(ctx, "Mapping failed", slog.String("reason", mapping.Reason),
			slog.Float64("confidence", best.Confidence), slog.Float64("threshold", minConfidence))
		span.SetStatus(codes.Ok, mapping.Reason)
		return mapping
	}

	mapping.Status = types.MappingStatusMapped
	mapping.TargetID = best.PlaceID
	mapping.Crawlable = true
	span.SetAttributes(
		attribute.String("naver.place_id", best.PlaceID),
		attribute.Float64("mapping.confidence", best.Confidence),
	)
	span.SetStatus(codes.Ok, "Mapped")
	l.InfoContext(ctx, "Mapping resolved",
		slog.String("naver_place_id", best.PlaceID),
		slog.Float64("confidence", best.Confidence),
		slog.Int("candidate_count", mapping.CandidateCount))
	return mapping
}

// lookupContext asks the directory for the place near its coordinates to
// learn the canonical name and the address used in search queries.
func (r *Resolver) lookupContext(ctx context.Context, place Place, name string) placeContext {
	pc := placeContext{Name: name, Lat: place.Lat, Lng: place.Lng}
	if r.directory == nil || place.Lat == nil || place.Lng == nil {
		return pc
	}

	docs, err := r.directory.SearchKeyword(ctx, name, *place.Lng, *place.Lat, contextLookupRadius, contextLookupSize, 1)
	if err != nil {
		r.logger.WarnContext(ctx, "Directory context lookup failed",
			slog.String("kakao_place_id", place.SourceID), slog.Any("error", err))
		return pc
	}
	doc, ok := pickContextDocument(place.SourceID, name, docs, place.Lat, place.Lng)
	if !ok {
		return pc
	}

	if n := strings.TrimSpace(doc.PlaceName); n != "" {
		pc.Name = n
	}
	if lat, lng, ok := doc.Coordinates(); ok {
		pc.Lat, pc.Lng = &lat, &lng
	}
	pc.Address = strings.TrimSpace(doc.RoadAddressName)
	if pc.Address == "" {
		pc.Address = strings.TrimSpace(doc.AddressName)
	}
	pc.Resolved = true
	return pc
}

// searchCandidates runs every query against every search surface until the
// discovery limit is reached.
func (r *Resolver) searchCandidates(ctx context.Context, name string, queries []string) ([]rawCandidate, error) {
	session, err := r.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer session.Close()

	d := r.drv
	limit := max(1, d.cfg.CandidateLimit)
	discovery := max(12, limit*6)
	perSelector := max(24, limit*10)

	found := map[string]rawCandidate{}
	var order []string

	for _, query := range queries {
		for _, tmpl := range mappingURLTemplates {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			target := fmt.Sprintf(tmpl, url.QueryEscape(query))
			if !d.navigate(ctx, session.Page, target) {
				continue
			}
			if err := d.pace(ctx, 0.8); err != nil {
				return nil, err
			}
			doc, _, err := d.document(ctx, session.Page, "mapping_search")
			if err != nil {
				return nil, fmt.Errorf("failed to read search page: %w", err)
			}
			base, err := url.Parse(target)
			if err != nil {
				return nil, fmt.Errorf("failed to parse search url: %w", err)
			}
			routes := routeCoordinates(doc, base)

			for _, selector := range searchAnchorSelectors {
				doc.Find(selector).EachWithBreak(func(i int, a *goquery.Selection) bool {
					if i >= perSelector || len(found) >= discovery {
						return false
					}
					cand, ok := parseAnchor(a, base, routes)
					if !ok {
						return true
					}
					cand.Query = query
					cand.SourceURL = target
					existing, seen := found[cand.PlaceID]
					if !seen {
						found[cand.PlaceID] = cand
						order = append(order, cand.PlaceID)
					} else if betterCandidate(name, existing, cand) {
						found[cand.PlaceID] = cand
					}
					return len(found) < discovery
				})
				if len(found) >= discovery {
					break
				}
			}
			r.logger.DebugContext(ctx, "Mapping search page scanned",
				slog.String("query", query), slog.String("url", target), slog.Int("candidates", len(found)))
			if len(found) >= discovery {
				break
			}
		}
		if len(found) >= discovery {
			break
		}
	}

	out := make([]rawCandidate, 0, len(order))
	for _, id := range order {
		out = append(out, found[id])
	}
	return out, nil
}

func betterCandidate(name string, existing, current rawCandidate) bool {
	if NameSimilarity(name, current.Name) > NameSimilarity(name, existing.Name) {
		return true
	}
	if (existing.Lat == nil || existing.Lng == nil) && current.Lat != nil && current.Lng != nil {
		return true
	}
	return existing.Snippet == "" && current.Snippet != ""
}

func parseAnchor(a *goquery.Selection, base *url.URL, routes map[string][2]float64) (rawCandidate, bool) {
	href, ok := a.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return rawCandidate{}, false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return rawCandidate{}, false
	}
	resolved := base.ResolveReference(ref)
	full := resolved.String()
	if strings.Contains(full, "/place/list") || strings.Contains(resolved.Path, "/photo") {
		return rawCandidate{}, false
	}
	id := parsePlaceID(full)
	if id == "" {
		return rawCandidate{}, false
	}

	text, _ := anchorNameMatchers.First(a)
	name := cleanCandidateName(text)
	if isNoisyName(name) {
		return rawCandidate{}, false
	}

	cand := rawCandidate{PlaceID: id, Name: name, Snippet: anchorSnippet(a)}
	q := resolved.Query()
	cand.Lng = queryFloat(q, "x", "lng")
	cand.Lat = queryFloat(q, "y", "lat")
	if route, ok := routes[id]; ok && (cand.Lat == nil || cand.Lng == nil) {
		if cand.Lng == nil {
			cand.Lng = &route[0]
		}
		if cand.Lat == nil {
			cand.Lat = &route[1]
		}
	}
	return cand, true
}

func anchorSnippet(a *goquery.Selection) string {
	container := a.Closest("li, article, section, div")
	if container.Length() == 0 {
		container = a.Parent()
	}
	runes := []rune(squash(container.Text()))
	if len(runes) > maxSnippetRunes {
		runes = runes[:maxSnippetRunes]
	}
	return string(runes)
}

func queryFloat(q url.Values, keys ...string) *float64 {
	for _, k := range keys {
		if raw := strings.TrimSpace(q.Get(k)); raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				return &v
			}
		}
	}
	return nil
}

// routeCoordinates reads place positions out of directions links, whose
// nso_path parameter carries "code^ID;longitude^X;latitude^Y" segments.
func routeCoordinates(doc *goquery.Document, base *url.URL) map[string][2]float64 {
	routes := map[string][2]float64{}
	doc.Find("a[href*='nso_path']").EachWithBreak(func(i int, a *goquery.Selection) bool {
		if i >= maxRouteAnchors {
			return false
		}
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		path := base.ResolveReference(ref).Query().Get("nso_path")
		if unescaped, err := url.PathUnescape(path); err == nil {
			path = unescaped
		}
		code := routeCodePattern.FindStringSubmatch(path)
		lng := routeLngPattern.FindStringSubmatch(path)
		lat := routeLatPattern.FindStringSubmatch(path)
		if code == nil || lng == nil || lat == nil {
			return true
		}
		x, errX := strconv.ParseFloat(lng[1], 64)
		y, errY := strconv.ParseFloat(lat[1], 64)
		if id := strings.TrimSpace(code[1]); id != "" && errX == nil && errY == nil {
			routes[id] = [2]float64{x, y}
		}
		return true
	})
	return routes
}
