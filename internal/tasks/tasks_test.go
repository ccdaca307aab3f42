package tasks_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/intelliaflow/IAIMMOBOT/internal/models"
	"github.com/intelliaflow/IAIMMOBOT/internal/search"
	"github.com/intelliaflow/IAIMMOBOT/internal/services"
	"github.com/intelliaflow/IAIMMOBOT/internal/tasks"
)

// --- Mocks ---

// MockListingService implements services.IListingService.
type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) CreateListing(ctx context.Context, agencyID int, input *models.ListingInput) (*models.Listing, error) {
	args := m.Called(ctx, agencyID, input)
	l, _ := args.Get(0).(*models.Listing)
	return l, args.Error(1)
}

func (m *MockListingService) GetListing(ctx context.Context, id int) (*models.Listing, error) {
	args := m.Called(ctx, id)
	l, _ := args.Get(0).(*models.Listing)
	return l, args.Error(1)
}

func (m *MockListingService) UpdateListing(ctx context.Context, agencyID, id int, update *models.ListingUpdate) (*models.Listing, error) {
	args := m.Called(ctx, agencyID, id, update)
	l, _ := args.Get(0).(*models.Listing)
	return l, args.Error(1)
}

func (m *MockListingService) SearchListings(ctx context.Context, criteria search.Criteria) ([]models.Listing, error) {
	args := m.Called(ctx, criteria)
	l, _ := args.Get(0).([]models.Listing)
	return l, args.Error(1)
}

func (m *MockListingService) SearchByTransaction(ctx context.Context, rawType string, criteria search.Criteria) ([]models.Listing, error) {
	args := m.Called(ctx, rawType, criteria)
	l, _ := args.Get(0).([]models.Listing)
	return l, args.Error(1)
}

func (m *MockListingService) SearchAgencyListings(ctx context.Context, agencyID int, criteria search.Criteria) ([]models.Listing, error) {
	args := m.Called(ctx, agencyID, criteria)
	l, _ := args.Get(0).([]models.Listing)
	return l, args.Error(1)
}

func (m *MockListingService) GeocodeListing(ctx context.Context, id int) (*models.Listing, error) {
	args := m.Called(ctx, id)
	l, _ := args.Get(0).(*models.Listing)
	return l, args.Error(1)
}

func (m *MockListingService) BackfillCoordinates(ctx context.Context) (*models.GeocodeReport, error) {
	args := m.Called(ctx)
	r, _ := args.Get(0).(*models.GeocodeReport)
	return r, args.Error(1)
}

func (m *MockListingService) PriceStats(ctx context.Context, criteria search.Criteria) ([]models.LocationPriceStats, error) {
	args := m.Called(ctx, criteria)
	s, _ := args.Get(0).([]models.LocationPriceStats)
	return s, args.Error(1)
}

func (m *MockListingService) UploadImages(images []string) ([]string, error) {
	args := m.Called(images)
	s, _ := args.Get(0).([]string)
	return s, args.Error(1)
}

// MockAsynqClient implements tasks.IAsynqClient
type MockAsynqClient struct {
	mock.Mock
	taskIDs []string
}

func taskIDOption(opts []asynq.Option) string {
	for _, opt := range opts {
		if opt.Type() == asynq.TaskIDOpt {
			return opt.Value().(string)
		}
	}
	return ""
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	m.taskIDs = append(m.taskIDs, taskIDOption(opts))
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

func geocodeTask(t *testing.T, listingID int) *asynq.Task {
	t.Helper()
	task, err := tasks.NewGeocodeListingTask(listingID)
	require.NoError(t, err)
	return task
}

// --- Tests ---

func TestHandleGeocodeListingTask_Success(t *testing.T) {
	svc := new(MockListingService)
	p := tasks.NewTaskProcessor(svc)
	svc.On("GeocodeListing", mock.Anything, 12).Return(&models.Listing{
		ID:          12,
		Location:    "Lyon",
		Coordinates: &models.Coordinates{Latitude: "45.76", Longitude: "4.83"},
	}, nil)

	err := p.HandleGeocodeListingTask(context.Background(), geocodeTask(t, 12))

	assert.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestHandleGeocodeListingTask_NoMatchIsNotRetried(t *testing.T) {
	svc := new(MockListingService)
	p := tasks.NewTaskProcessor(svc)
	svc.On("GeocodeListing", mock.Anything, 3).Return(&models.Listing{ID: 3, Location: "Atlantis"}, nil)

	assert.NoError(t, p.HandleGeocodeListingTask(context.Background(), geocodeTask(t, 3)))
}

func TestHandleGeocodeListingTask_TransientErrorIsRetried(t *testing.T) {
	svc := new(MockListingService)
	p := tasks.NewTaskProcessor(svc)
	svc.On("GeocodeListing", mock.Anything, 5).Return(nil, errors.New("rate limited"))

	err := p.HandleGeocodeListingTask(context.Background(), geocodeTask(t, 5))

	assert.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleGeocodeListingTask_SkipRetry(t *testing.T) {
	svc := new(MockListingService)
	p := tasks.NewTaskProcessor(svc)
	svc.On("GeocodeListing", mock.Anything, 9).Return(nil, services.ErrListingNotFound)

	err := p.HandleGeocodeListingTask(context.Background(), geocodeTask(t, 9))
	assert.True(t, errors.Is(err, asynq.SkipRetry), "missing listing should not be retried")

	err = p.HandleGeocodeListingTask(context.Background(), asynq.NewTask(tasks.TypeGeocodeListing, []byte("{bad")))
	assert.True(t, errors.Is(err, asynq.SkipRetry), "bad payload should not be retried")

	payload, _ := json.Marshal(tasks.GeocodeListingPayload{ListingID: 0})
	err = p.HandleGeocodeListingTask(context.Background(), asynq.NewTask(tasks.TypeGeocodeListing, payload))
	assert.True(t, errors.Is(err, asynq.SkipRetry), "zero id should not be retried")

	svc.AssertNumberOfCalls(t, "GeocodeListing", 1)
}

func TestHandleGeocodeBackfillTask(t *testing.T) {
	svc := new(MockListingService)
	p := tasks.NewTaskProcessor(svc)
	svc.On("BackfillCoordinates", mock.Anything).Return(&models.GeocodeReport{Total: 4, Success: 3, Errors: 1}, nil).Once()
	svc.On("BackfillCoordinates", mock.Anything).Return(nil, errors.New("db down")).Once()

	assert.NoError(t, p.HandleGeocodeBackfillTask(context.Background(), tasks.NewGeocodeBackfillTask()))
	assert.Error(t, p.HandleGeocodeBackfillTask(context.Background(), tasks.NewGeocodeBackfillTask()))
}

func TestGeocodeEnqueuer_ScheduleGeocode(t *testing.T) {
	client := new(MockAsynqClient)
	enqueuer := tasks.NewGeocodeEnqueuer(client, time.Second)
	client.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		var payload tasks.GeocodeListingPayload
		_ = json.Unmarshal(task.Payload(), &payload)
		return task.Type() == tasks.TypeGeocodeListing && payload.ListingID == 42
	})).Return(&asynq.TaskInfo{}, nil)

	assert.NoError(t, enqueuer.ScheduleGeocode(context.Background(), 42, "Lyon"))
	client.AssertExpectations(t)
	assert.Equal(t, []string{tasks.GeocodeTaskID(42, "Lyon")}, client.taskIDs)
}

func TestGeocodeTaskID_ChangesWithLocation(t *testing.T) {
	assert.Equal(t, tasks.GeocodeTaskID(7, "Lyon"), tasks.GeocodeTaskID(7, "Lyon"))
	assert.NotEqual(t, tasks.GeocodeTaskID(7, "Lyon"), tasks.GeocodeTaskID(7, "Marseille"))
	assert.NotEqual(t, tasks.GeocodeTaskID(7, "Lyon"), tasks.GeocodeTaskID(8, "Lyon"))
}

func TestGeocodeEnqueuer_NewLocationIsNotBlockedByOldTask(t *testing.T) {
	client := new(MockAsynqClient)
	enqueuer := tasks.NewGeocodeEnqueuer(client, 0)
	client.On("EnqueueContext", mock.Anything, mock.Anything).Return(&asynq.TaskInfo{}, nil)

	require.NoError(t, enqueuer.ScheduleGeocode(context.Background(), 3, "Lyon"))
	require.NoError(t, enqueuer.ScheduleGeocode(context.Background(), 3, "Marseille"))

	require.Len(t, client.taskIDs, 2)
	assert.NotEqual(t, client.taskIDs[0], client.taskIDs[1])
}

func TestGeocodeEnqueuer_DuplicateIsNotAnError(t *testing.T) {
	client := new(MockAsynqClient)
	enqueuer := tasks.NewGeocodeEnqueuer(client, 0)
	client.On("EnqueueContext", mock.Anything, mock.Anything).Return(nil, asynq.ErrTaskIDConflict).Once()
	client.On("EnqueueContext", mock.Anything, mock.Anything).Return(nil, errors.New("redis down")).Once()

	assert.NoError(t, enqueuer.ScheduleGeocode(context.Background(), 1, "Lyon"))
	assert.Error(t, enqueuer.ScheduleGeocode(context.Background(), 1, "Lyon"))
}

func TestGeocodeEnqueuer_ScheduleBackfill(t *testing.T) {
	client := new(MockAsynqClient)
	enqueuer := tasks.NewGeocodeEnqueuer(client, 0)
	client.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		return task.Type() == tasks.TypeGeocodeBackfill
	})).Return(&asynq.TaskInfo{}, nil)

	assert.NoError(t, enqueuer.ScheduleBackfill(context.Background()))
	client.AssertExpectations(t)
}

var _ services.GeocodeScheduler = (*tasks.GeocodeEnqueuer)(nil)
