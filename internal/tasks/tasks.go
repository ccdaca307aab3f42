package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/intelliaflow/IAIMMOBOT/internal/config"
	"github.com/intelliaflow/IAIMMOBOT/internal/services"
)

// TaskType defines the type of a background task.
const (
	TypeGeocodeListing  = "listing:geocode"
	TypeGeocodeBackfill = "listing:geocode:backfill"
)

// Queue names.
const (
	QueueDefault = "default"
	QueueLow     = "low"
)

const (
	geocodeMaxRetry     = 5
	geocodeTaskTimeout  = 2 * time.Minute
	backfillTaskTimeout = 2 * time.Hour
)

// GeocodeListingPayload identifies the listing to geocode.
type GeocodeListingPayload struct {
	ListingID int `json:"listing_id"`
}

// NewGeocodeListingTask builds a geocode task for one listing.
func NewGeocodeListingTask(listingID int) (*asynq.Task, error) {
	payload, err := json.Marshal(GeocodeListingPayload{ListingID: listingID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeGeocodeListing, payload), nil
}

// NewGeocodeBackfillTask builds a task sweeping every listing without coordinates.
func NewGeocodeBackfillTask() *asynq.Task {
	return asynq.NewTask(TypeGeocodeBackfill, nil)
}

// --- Task Client (Enqueuing tasks) ---

func redisClientOpt(rdb *redis.Client) asynq.RedisClientOpt {
	opts := rdb.Options()
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
}

func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(redisClientOpt(rdb))
}

// IAsynqClient is the subset of *asynq.Client used for enqueuing.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// GeocodeEnqueuer queues geocode tasks; it satisfies services.GeocodeScheduler.
type GeocodeEnqueuer struct {
	client IAsynqClient
	delay  time.Duration
}

// NewGeocodeEnqueuer creates an enqueuer. Tasks become runnable after delay.
func NewGeocodeEnqueuer(client IAsynqClient, delay time.Duration) *GeocodeEnqueuer {
	return &GeocodeEnqueuer{client: client, delay: delay}
}

// GeocodeTaskID identifies the geocode task for a listing at a given location. A new location
// gets a new id, so a task still pending, running or archived for the old one never blocks it.
func GeocodeTaskID(listingID int, location string) string {
	return fmt.Sprintf("geocode:%d:%s", listingID, uuid.NewSHA1(uuid.NameSpaceURL, []byte(location)))
}

// ScheduleGeocode enqueues one geocode task per listing and location. A task already queued
// for the same pair is not duplicated.
func (e *GeocodeEnqueuer) ScheduleGeocode(ctx context.Context, listingID int, location string) error {
	task, err := NewGeocodeListingTask(listingID)
	if err != nil {
		return fmt.Errorf("failed to build geocode task: %w", err)
	}
	taskID := GeocodeTaskID(listingID, location)
	_, err = e.client.EnqueueContext(ctx, task,
		asynq.TaskID(taskID),
		asynq.MaxRetry(geocodeMaxRetry),
		asynq.Timeout(geocodeTaskTimeout),
		asynq.ProcessIn(e.delay),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		log.Printf("WARN: geocode task %s already exists for listing %d; not enqueued again", taskID, listingID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue geocode task for listing %d: %w", listingID, err)
	}
	return nil
}

// ScheduleBackfill enqueues a backfill sweep on the low priority queue.
func (e *GeocodeEnqueuer) ScheduleBackfill(ctx context.Context) error {
	_, err := e.client.EnqueueContext(ctx, NewGeocodeBackfillTask(),
		asynq.Queue(QueueLow),
		asynq.MaxRetry(0),
		asynq.Timeout(backfillTaskTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue geocode backfill: %w", err)
	}
	return nil
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
type TaskProcessor struct {
	listingService services.IListingService
}

func NewTaskProcessor(listingService services.IListingService) *TaskProcessor {
	return &TaskProcessor{listingService: listingService}
}

// SetupServer configures an Asynq server and its handler mux. Concurrency is 1 so that
// geocoding lookups never overlap.
func SetupServer(rdb *redis.Client, processor *TaskProcessor) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(
		redisClientOpt(rdb),
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				QueueDefault: 3,
				QueueLow:     1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("ERROR [asynq] task %s (payload %s): %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGeocodeListing, processor.HandleGeocodeListingTask)
	mux.HandleFunc(TypeGeocodeBackfill, processor.HandleGeocodeBackfillTask)
	log.Println("Registered geocoding task handlers.")

	return srv, mux
}

// NewScheduler registers the periodic backfill sweep. An empty cronspec disables it and
// returns a nil scheduler.
func NewScheduler(rdb *redis.Client, cfg *config.Config) (*asynq.Scheduler, error) {
	if cfg.GeocodeBackfillCron == "" {
		return nil, nil
	}
	scheduler := asynq.NewScheduler(redisClientOpt(rdb), &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	entryID, err := scheduler.Register(cfg.GeocodeBackfillCron, NewGeocodeBackfillTask(),
		asynq.Queue(QueueLow),
		asynq.MaxRetry(0),
		asynq.Timeout(backfillTaskTimeout),
		asynq.Unique(time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register backfill schedule %q: %w", cfg.GeocodeBackfillCron, err)
	}
	log.Printf("Scheduled geocode backfill (%s), entry %s", cfg.GeocodeBackfillCron, entryID)
	return scheduler, nil
}

// --- Task Handlers ---

func (p *TaskProcessor) HandleGeocodeListingTask(ctx context.Context, t *asynq.Task) error {
	var payload GeocodeListingPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal geocode task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ListingID <= 0 {
		return fmt.Errorf("invalid listing id %d: %w", payload.ListingID, asynq.SkipRetry)
	}

	listing, err := p.listingService.GeocodeListing(ctx, payload.ListingID)
	if err != nil {
		if errors.Is(err, services.ErrListingNotFound) {
			return fmt.Errorf("listing %d no longer exists: %w", payload.ListingID, asynq.SkipRetry)
		}
		return err
	}
	if listing.Coordinates == nil {
		log.Printf("WARN: no coordinates found for listing %d (%q); leaving it to the backfill sweep", listing.ID, listing.Location)
		return nil
	}
	log.Printf("Geocoded listing %d: %s,%s", listing.ID, listing.Coordinates.Latitude, listing.Coordinates.Longitude)
	return nil
}

func (p *TaskProcessor) HandleGeocodeBackfillTask(ctx context.Context, t *asynq.Task) error {
	report, err := p.listingService.BackfillCoordinates(ctx)
	if err != nil {
		return err
	}
	log.Printf("Backfill sweep: total=%d success=%d errors=%d", report.Total, report.Success, report.Errors)
	return nil
}
