package ingestion

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serene416/friend/config"
	"github.com/serene416/friend/internal/crawler"
	"github.com/serene416/friend/internal/types"
)

// memoryRepository keeps jobs in memory and records worker updates.
type memoryRepository struct {
	items     map[uuid.UUID][]types.IngestionJobItem
	listErr   error
	finishErr error
	running   []uuid.UUID
	itemState map[string]types.IngestionJobStatus
	itemNotes map[string]string
	finished  map[uuid.UUID]types.IngestionJob
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		items:     map[uuid.UUID][]types.IngestionJobItem{},
		itemState: map[string]types.IngestionJobStatus{},
		itemNotes: map[string]string{},
		finished:  map[uuid.UUID]types.IngestionJob{},
	}
}

func (r *memoryRepository) addJob(places ...types.IngestionHotplace) uuid.UUID {
	jobID := uuid.New()
	for _, p := range places {
		r.items[jobID] = append(r.items[jobID], types.IngestionJobItem{
			ID: uuid.New(), JobID: jobID, KakaoPlaceID: p.KakaoPlaceID, Payload: p, Status: types.IngestionJobPending,
		})
	}
	return jobID
}

func (r *memoryRepository) itemKey(itemID uuid.UUID) string {
	for _, items := range r.items {
		for _, it := range items {
			if it.ID == itemID {
				return it.KakaoPlaceID
			}
		}
	}
	return ""
}

func (r *memoryRepository) CreateJob(context.Context, types.IngestionJob) error { return nil }

func (r *memoryRepository) GetJob(_ context.Context, jobID uuid.UUID) (*types.IngestionJob, error) {
	if job, ok := r.finished[jobID]; ok {
		return &job, nil
	}
	return nil, types.NewNotFound("ingestion job not found")
}

func (r *memoryRepository) ListItems(_ context.Context, jobID uuid.UUID) ([]types.IngestionJobItem, error) {
	return r.items[jobID], r.listErr
}

func (r *memoryRepository) MarkJobRunning(_ context.Context, jobID uuid.UUID) error {
	if _, ok := r.items[jobID]; !ok {
		return types.NewNotFound("ingestion job not found")
	}
	r.running = append(r.running, jobID)
	return nil
}

func (r *memoryRepository) UpdateItemStatus(_ context.Context, itemID uuid.UUID, status types.IngestionJobStatus, errMsg *string) error {
	key := r.itemKey(itemID)
	r.itemState[key] = status
	if errMsg != nil {
		r.itemNotes[key] = *errMsg
	}
	return nil
}

func (r *memoryRepository) FinishJob(_ context.Context, jobID uuid.UUID, status types.IngestionJobStatus, processed, failed int, errMsg *string) error {
	if r.finishErr != nil {
		return r.finishErr
	}
	r.finished[jobID] = types.IngestionJob{
		ID: jobID, Status: status, ProcessedItems: processed, FailedItems: failed, ErrorMessage: errMsg,
	}
	return nil
}

// fakeResolver maps every place to "n-<kakao id>" unless a skip reason is set.
type fakeResolver struct {
	skip  map[string]string
	calls []crawler.Place
}

func (f *fakeResolver) Resolve(_ context.Context, place crawler.Place) types.IdentityMapping {
	f.calls = append(f.calls, place)
	if reason, ok := f.skip[place.SourceID]; ok {
		return types.IdentityMapping{SourceID: place.SourceID, Status: types.MappingStatusSkipped, Reason: reason}
	}
	return types.IdentityMapping{
		SourceID: place.SourceID, TargetID: "n-" + place.SourceID,
		Status: types.MappingStatusMapped, Crawlable: true, Confidence: 0.9,
	}
}

type fakeCollector struct {
	results map[string]types.CrawlResult
	calls   []string
}

func (f *fakeCollector) CollectMapping(_ context.Context, mapping types.IdentityMapping) types.CrawlResult {
	f.calls = append(f.calls, mapping.TargetID)
	if r, ok := f.results[mapping.TargetID]; ok {
		r.TargetID = mapping.TargetID
		return r
	}
	return types.CrawlResult{TargetID: mapping.TargetID, Status: types.CrawlStatusCompleted}
}

type fakeStore struct {
	mappingErrs []error
	mappings    []types.IdentityMapping
	features    map[string]types.PlaceFeatures
	results     map[string]types.CrawlResult
}

func newFakeStore() *fakeStore {
	return &fakeStore{features: map[string]types.PlaceFeatures{}, results: map[string]types.CrawlResult{}}
}

func (s *fakeStore) GetFeatures(context.Context, []string) (map[string]types.PlaceFeatures, error) {
	return s.features, nil
}

func (s *fakeStore) UpsertMapping(_ context.Context, mapping types.IdentityMapping) error {
	if len(s.mappingErrs) > 0 {
		err := s.mappingErrs[0]
		s.mappingErrs = s.mappingErrs[1:]
		return err
	}
	s.mappings = append(s.mappings, mapping)
	return nil
}

func (s *fakeStore) UpsertCrawlResult(_ context.Context, result types.CrawlResult, f types.PlaceFeatures) error {
	s.results[f.KakaoPlaceID] = result
	s.features[f.KakaoPlaceID] = f
	return nil
}

type workerFixture struct {
	worker    *Worker
	repo      *memoryRepository
	resolver  *fakeResolver
	collector *fakeCollector
	store     *fakeStore
}

func setupWorker(queue Queue) workerFixture {
	f := workerFixture{
		repo:      newMemoryRepository(),
		resolver:  &fakeResolver{skip: map[string]string{}},
		collector: &fakeCollector{results: map[string]types.CrawlResult{}},
		store:     newFakeStore(),
	}
	cfg := config.IngestionConfig{QueueKey: testQueueKey, BlockTimeout: time.Millisecond, MaxRetries: 3}
	f.worker = NewWorker(f.repo, queue, f.resolver, f.collector, f.store, cfg, testLogger())
	f.worker.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	f.worker.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return f
}

func place(id, name string) types.IngestionHotplace {
	x, y := 126.92, 37.55
	return types.IngestionHotplace{
		KakaoPlaceID: id, PlaceName: name, X: &x, Y: &y,
		SourceStation: "홍대입구역", SourceKeyword: "보드게임카페",
	}
}

func TestProcessJob_AllItemsSucceed(t *testing.T) {
	f := setupWorker(nil)
	jobID := f.repo.addJob(place("k1", "보드게임카페 A"), place("k2", "보드게임카페 B"))
	f.collector.results["n-k1"] = types.CrawlResult{
		Status:        types.CrawlStatusCompleted,
		Reviews:       []types.Review{{ReviewID: "r1", Content: "분위기가 아늑하고 좋아요"}},
		Photos:        []types.Photo{{PhotoID: "p1", ImageURL: "https://img/1.jpg"}},
		RatingSummary: types.RatingSummary{AverageRating: ptr(4.42), RatingCount: ptr(120)},
	}

	require.NoError(t, f.worker.ProcessJob(context.Background(), jobID))

	job := f.repo.finished[jobID]
	assert.Equal(t, types.IngestionJobCompleted, job.Status)
	assert.Equal(t, 2, job.ProcessedItems)
	assert.Equal(t, 0, job.FailedItems)
	assert.Nil(t, job.ErrorMessage)
	assert.Equal(t, []uuid.UUID{jobID}, f.repo.running)

	require.Len(t, f.resolver.calls, 2)
	first := f.resolver.calls[0]
	assert.Equal(t, "보드게임카페 A", first.Name)
	require.NotNil(t, first.Lat)
	assert.Equal(t, 37.55, *first.Lat, "y is latitude")
	assert.Len(t, f.store.mappings, 2)

	withPhotos := f.store.features["k1"]
	assert.Equal(t, types.PhotoCollectionReady, withPhotos.PhotoCollectionStatus)
	assert.Equal(t, []string{"https://img/1.jpg"}, withPhotos.PhotoURLs)
	assert.Equal(t, 4.42, *withPhotos.Rating)
	assert.Contains(t, withPhotos.ActivityIntro, "홍대입구역 근처")
	assert.Contains(t, withPhotos.ActivityIntro, "분위기")
	assert.Contains(t, withPhotos.ActivityIntro, "네이버 평점 4.4점(120명)")
	require.NotNil(t, withPhotos.LastIngestedAt)

	withoutPhotos := f.store.features["k2"]
	assert.Equal(t, types.PhotoCollectionEmpty, withoutPhotos.PhotoCollectionStatus)
	assert.Contains(t, withoutPhotos.ActivityIntro, "기본 정보 중심")

	assert.Equal(t, types.IngestionJobCompleted, f.repo.itemState["k1"])
	assert.Equal(t, types.IngestionJobCompleted, f.repo.itemState["k2"])
}

func TestProcessJob_UncrawlablePlaceIsRecordedNotCrawled(t *testing.T) {
	f := setupWorker(nil)
	jobID := f.repo.addJob(place("k1", "어딘가"))
	f.resolver.skip["k1"] = types.MappingReasonLowConf

	require.NoError(t, f.worker.ProcessJob(context.Background(), jobID))

	assert.Empty(t, f.collector.calls)
	require.Len(t, f.store.mappings, 1)
	assert.Equal(t, types.MappingReasonLowConf, f.store.mappings[0].Reason)
	assert.Equal(t, types.IngestionJobCompleted, f.repo.itemState["k1"])
	assert.Equal(t, "skipped:low_confidence", f.repo.itemNotes["k1"])
	assert.Equal(t, types.IngestionJobCompleted, f.repo.finished[jobID].Status)
}

func TestProcessJob_PartialWhenSomeItemsFail(t *testing.T) {
	f := setupWorker(nil)
	jobID := f.repo.addJob(place("k1", "A"), place("k2", "B"))
	f.collector.results["n-k2"] = types.CrawlResult{
		Status:   types.CrawlStatusFailed,
		Warnings: []string{"crawler_error:chrome not found"},
	}

	require.NoError(t, f.worker.ProcessJob(context.Background(), jobID))

	job := f.repo.finished[jobID]
	assert.Equal(t, types.IngestionJobPartial, job.Status)
	assert.Equal(t, 1, job.ProcessedItems)
	assert.Equal(t, 1, job.FailedItems)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "crawler_error:chrome not found")

	assert.Equal(t, types.IngestionJobFailed, f.repo.itemState["k2"])
	failed := f.store.features["k2"]
	assert.Equal(t, types.PhotoCollectionFailed, failed.PhotoCollectionStatus)
	assert.Equal(t, "crawler_error", failed.PhotoCollectionReason)
}

func TestProcessJob_FailedWhenEveryItemFails(t *testing.T) {
	f := setupWorker(nil)
	jobID := f.repo.addJob(place("k1", "A"))
	f.collector.results["n-k1"] = types.CrawlResult{Status: types.CrawlStatusFailed}

	require.NoError(t, f.worker.ProcessJob(context.Background(), jobID))

	assert.Equal(t, types.IngestionJobFailed, f.repo.finished[jobID].Status)
}

func TestProcessJob_DegradedCrawlStillSucceeds(t *testing.T) {
	f := setupWorker(nil)
	jobID := f.repo.addJob(place("k1", "A"))
	f.collector.results["n-k1"] = types.CrawlResult{
		Status:   types.CrawlStatusPartial,
		Reviews:  []types.Review{{ReviewID: "r1", Content: "친절해요 정말로"}},
		Warnings: []string{"photo_error:target closed"},
	}

	require.NoError(t, f.worker.ProcessJob(context.Background(), jobID))

	assert.Equal(t, types.IngestionJobCompleted, f.repo.itemState["k1"])
	assert.Equal(t, "photo_error:target closed", f.repo.itemNotes["k1"])
	stored := f.store.features["k1"]
	assert.Equal(t, types.PhotoCollectionFailed, stored.PhotoCollectionStatus)
	assert.Equal(t, "photo_error", stored.PhotoCollectionReason)
	assert.Len(t, f.store.results["k1"].Reviews, 1)
}

func TestProcessJob_RetriesTransientStoreErrors(t *testing.T) {
	f := setupWorker(nil)
	jobID := f.repo.addJob(place("k1", "A"))
	f.store.mappingErrs = []error{errors.New("conn reset"), errors.New("conn reset")}

	require.NoError(t, f.worker.ProcessJob(context.Background(), jobID))

	assert.Equal(t, types.IngestionJobCompleted, f.repo.finished[jobID].Status)
	assert.Len(t, f.store.mappings, 1)
}

func TestProcessJob_GivesUpAfterMaxRetries(t *testing.T) {
	f := setupWorker(nil)
	jobID := f.repo.addJob(place("k1", "A"))
	for range 4 {
		f.store.mappingErrs = append(f.store.mappingErrs, errors.New("conn reset"))
	}

	require.NoError(t, f.worker.ProcessJob(context.Background(), jobID))

	job := f.repo.finished[jobID]
	assert.Equal(t, types.IngestionJobFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.True(t, strings.HasPrefix(*job.ErrorMessage, "failed to store mapping"))
	assert.Empty(t, f.collector.calls)
}

func TestProcessJob_UnknownJob(t *testing.T) {
	f := setupWorker(nil)

	err := f.worker.ProcessJob(context.Background(), uuid.New())

	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Empty(t, f.repo.finished)
}

func TestProcessJob_ItemListFailureFailsJob(t *testing.T) {
	f := setupWorker(nil)
	jobID := f.repo.addJob(place("k1", "A"))
	f.repo.listErr = errors.New("db down")

	err := f.worker.ProcessJob(context.Background(), jobID)

	require.Error(t, err)
	assert.Equal(t, types.IngestionJobFailed, f.repo.finished[jobID].Status)
	assert.Empty(t, f.resolver.calls)
}

// sliceQueue pops queued ids and cancels the run once drained.
type sliceQueue struct {
	ids    []uuid.UUID
	cancel context.CancelFunc
	pops   int
}

func (q *sliceQueue) Push(_ context.Context, id uuid.UUID) error {
	q.ids = append(q.ids, id)
	return nil
}

func (q *sliceQueue) Pop(context.Context, time.Duration) (uuid.UUID, bool, error) {
	q.pops++
	if len(q.ids) == 0 {
		q.cancel()
		return uuid.Nil, false, nil
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, true, nil
}

func TestRun_DrainsQueueUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue := &sliceQueue{cancel: cancel}
	f := setupWorker(queue)

	first := f.repo.addJob(place("k1", "A"))
	second := f.repo.addJob(place("k2", "B"))
	require.NoError(t, queue.Push(ctx, first))
	require.NoError(t, queue.Push(ctx, second))

	require.NoError(t, f.worker.Run(ctx))

	assert.Equal(t, 3, queue.pops)
	assert.Equal(t, types.IngestionJobCompleted, f.repo.finished[first].Status)
	assert.Equal(t, types.IngestionJobCompleted, f.repo.finished[second].Status)
}

// cancellingResolver cancels the job context while resolving the first place.
type cancellingResolver struct {
	*fakeResolver
	cancel context.CancelFunc
}

func (r *cancellingResolver) Resolve(ctx context.Context, place crawler.Place) types.IdentityMapping {
	r.cancel()
	return r.fakeResolver.Resolve(ctx, place)
}

func TestProcessJob_CancelledMidJobRecordsUnprocessedItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := setupWorker(nil)
	f.worker.resolver = &cancellingResolver{fakeResolver: f.resolver, cancel: cancel}
	jobID := f.repo.addJob(place("k1", "A"), place("k2", "B"), place("k3", "C"))

	require.NoError(t, f.worker.ProcessJob(ctx, jobID))

	job := f.repo.finished[jobID]
	assert.Equal(t, types.IngestionJobPartial, job.Status)
	assert.Equal(t, 1, job.ProcessedItems)
	assert.Equal(t, 2, job.FailedItems)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "2 items not processed")

	assert.Len(t, f.resolver.calls, 1)
	assert.Equal(t, types.IngestionJobCompleted, f.repo.itemState["k1"])
	for _, key := range []string{"k2", "k3"} {
		assert.Equal(t, types.IngestionJobFailed, f.repo.itemState[key])
		assert.Equal(t, cancelledItemNote, f.repo.itemNotes[key])
	}
}

func TestProcessJob_CancelledBeforeFirstItemFailsJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := setupWorker(nil)
	jobID := f.repo.addJob(place("k1", "A"))
	cancel()

	require.NoError(t, f.worker.ProcessJob(ctx, jobID))

	job := f.repo.finished[jobID]
	assert.Equal(t, types.IngestionJobFailed, job.Status)
	assert.Equal(t, 0, job.ProcessedItems)
	assert.Equal(t, 1, job.FailedItems)
	assert.Empty(t, f.resolver.calls)
}

func TestBuildFeatures_NoRatingSummaryLeavesRatingUnset(t *testing.T) {
	f := setupWorker(nil)
	item := types.IngestionJobItem{KakaoPlaceID: "k1", Payload: place("k1", "A")}

	features := f.worker.buildFeatures(item, types.CrawlResult{Status: types.CrawlStatusCompleted})
	assert.Nil(t, features.Rating)
	assert.Nil(t, features.RatingCount)

	count := 12
	features = f.worker.buildFeatures(item, types.CrawlResult{
		Status:        types.CrawlStatusCompleted,
		RatingSummary: types.RatingSummary{RatingCount: &count},
	})
	assert.Nil(t, features.Rating)
	require.NotNil(t, features.RatingCount)
	assert.Equal(t, 12, *features.RatingCount)
}

func TestProcessJob_LogsWhenFailureCannotBeRecorded(t *testing.T) {
	f := setupWorker(nil)
	var logs bytes.Buffer
	f.worker.logger = slog.New(slog.NewTextHandler(&logs, nil))
	jobID := f.repo.addJob(place("k1", "A"))
	f.repo.listErr = errors.New("db down")
	f.repo.finishErr = errors.New("db still down")

	err := f.worker.ProcessJob(context.Background(), jobID)

	require.Error(t, err)
	assert.Empty(t, f.repo.finished)
	assert.Contains(t, logs.String(), "Failed to record job failure")
	assert.Contains(t, logs.String(), "db still down")
}
