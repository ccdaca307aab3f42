package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/intelliaflow/IAIMMOBOT/internal/config"
	"github.com/intelliaflow/IAIMMOBOT/internal/events"
	"github.com/intelliaflow/IAIMMOBOT/internal/geocoding"
	"github.com/intelliaflow/IAIMMOBOT/internal/models"
	"github.com/intelliaflow/IAIMMOBOT/internal/repository"
	"github.com/intelliaflow/IAIMMOBOT/internal/search"
)

var (
	// ErrListingNotFound is returned for missing listings and for listings the caller does not own.
	ErrListingNotFound = errors.New("listing not found")
	// ErrInvalidInput wraps every validation failure.
	ErrInvalidInput = errors.New("invalid input")
)

// GeocodeScheduler queues an asynchronous geocoding attempt for one listing at location.
type GeocodeScheduler interface {
	ScheduleGeocode(ctx context.Context, listingID int, location string) error
}

// IListingService defines the interface for listing-related operations.
type IListingService interface {
	CreateListing(ctx context.Context, agencyID int, input *models.ListingInput) (*models.Listing, error)
	GetListing(ctx context.Context, id int) (*models.Listing, error)
	UpdateListing(ctx context.Context, agencyID, id int, update *models.ListingUpdate) (*models.Listing, error)
	SearchListings(ctx context.Context, criteria search.Criteria) ([]models.Listing, error)
	SearchByTransaction(ctx context.Context, rawType string, criteria search.Criteria) ([]models.Listing, error)
	SearchAgencyListings(ctx context.Context, agencyID int, criteria search.Criteria) ([]models.Listing, error)
	GeocodeListing(ctx context.Context, id int) (*models.Listing, error)
	BackfillCoordinates(ctx context.Context) (*models.GeocodeReport, error)
	PriceStats(ctx context.Context, criteria search.Criteria) ([]models.LocationPriceStats, error)
	UploadImages(images []string) ([]string, error)
}

// listingService implements IListingService.
type listingService struct {
	cfg       *config.Config
	store     repository.ListingStore
	geocoder  geocoding.IGeocoder
	scheduler GeocodeScheduler
	publisher events.Publisher

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewListingService creates a new ListingService. scheduler and publisher may be nil.
func NewListingService(cfg *config.Config, store repository.ListingStore, geocoder geocoding.IGeocoder, scheduler GeocodeScheduler, publisher events.Publisher) IListingService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &listingService{
		cfg:       cfg,
		store:     store,
		geocoder:  geocoder,
		scheduler: scheduler,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     geocoding.SleepContext,
	}
}

// CreateListing validates input, makes a bounded number of synchronous geocoding attempts and
// persists the listing. Geocoding failure never fails the creation: the listing is stored without
// coordinates and a follow-up geocode task is queued.
func (s *listingService) CreateListing(ctx context.Context, agencyID int, input *models.ListingInput) (*models.Listing, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: missing listing payload", ErrInvalidInput)
	}
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	listing := &models.Listing{
		Title:           input.Title,
		Description:     input.Description,
		Price:           input.Price,
		Location:        input.Location,
		Bedrooms:        input.Bedrooms,
		Bathrooms:       input.Bathrooms,
		Area:            input.Area,
		Type:            input.Type,
		TransactionType: input.TransactionType,
		Features:        input.Features,
		Images:          input.Images,
		CreatedAt:       s.now(),
	}
	if agencyID > 0 {
		listing.AgencyID = &agencyID
	}
	listing.Coordinates = s.geocodeWithAttempts(ctx, listing.Location)

	if err := s.store.Insert(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	if listing.Coordinates == nil {
		log.Printf("WARN: listing %d created without coordinates for %q", listing.ID, listing.Location)
		s.scheduleGeocode(ctx, listing.ID, listing.Location)
	}
	s.publish(ctx, events.ActionCreate, listing.ID)
	return listing, nil
}

func (s *listingService) geocodeWithAttempts(ctx context.Context, address string) *models.Coordinates {
	attempts := s.cfg.GeocodeCreateAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		coords, err := s.geocoder.Geocode(ctx, address)
		if err != nil {
			log.Printf("WARN: geocoding attempt %d/%d for %q failed: %v", attempt, attempts, address, err)
		}
		if coords != nil {
			return coords
		}
		if attempt < attempts {
			if err := s.sleep(ctx, s.cfg.GeocodeCreateDelay); err != nil {
				return nil
			}
		}
	}
	return nil
}

// GetListing finds a listing by id.
func (s *listingService) GetListing(ctx context.Context, id int) (*models.Listing, error) {
	listing, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to fetch listing %d: %w", id, err)
	}
	return listing, nil
}

// UpdateListing applies a partial update to a listing owned by agencyID. A location change clears
// the stored coordinates and queues a geocode task instead of geocoding inline.
func (s *listingService) UpdateListing(ctx context.Context, agencyID, id int, update *models.ListingUpdate) (*models.Listing, error) {
	if update == nil {
		return nil, fmt.Errorf("%w: missing update payload", ErrInvalidInput)
	}
	update.ClearCoordinates = false
	if err := update.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if update.IsEmpty() {
		return nil, fmt.Errorf("%w: no fields to update", ErrInvalidInput)
	}

	current, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to fetch listing %d: %w", id, err)
	}
	if current.AgencyID == nil || *current.AgencyID != agencyID {
		return nil, ErrListingNotFound
	}

	if update.Location != nil {
		trimmed := strings.TrimSpace(*update.Location)
		update.Location = &trimmed
		if trimmed != current.Location {
			update.ClearCoordinates = true
		}
	}

	updated, err := s.store.Update(ctx, id, agencyID, update)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to update listing %d: %w", id, err)
	}

	if update.ClearCoordinates {
		s.scheduleGeocode(ctx, id, updated.Location)
	}
	s.publish(ctx, events.ActionUpdate, id)
	return updated, nil
}

// SearchListings returns listings matching criteria, newest first.
func (s *listingService) SearchListings(ctx context.Context, criteria search.Criteria) ([]models.Listing, error) {
	listings, err := s.store.Find(ctx, search.Predicates(criteria))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listings: %w", err)
	}
	return listings, nil
}

// SearchByTransaction forces the transaction type taken from the path. An unknown type is
// rejected before the store is queried.
func (s *listingService) SearchByTransaction(ctx context.Context, rawType string, criteria search.Criteria) ([]models.Listing, error) {
	tt, err := models.ParseTransactionType(rawType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.SearchListings(ctx, criteria.WithTransactionType(tt))
}

// SearchAgencyListings scopes criteria to one agency.
func (s *listingService) SearchAgencyListings(ctx context.Context, agencyID int, criteria search.Criteria) ([]models.Listing, error) {
	return s.SearchListings(ctx, criteria.WithAgency(agencyID))
}

// GeocodeListing resolves and stores coordinates for one listing. Listings that already have
// coordinates are returned unchanged. A nil error with nil coordinates means no match was found,
// or that the location changed during the lookup; the update that changed it queued its own task.
func (s *listingService) GeocodeListing(ctx context.Context, id int) (*models.Listing, error) {
	listing, err := s.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.Coordinates != nil {
		return listing, nil
	}

	coords, err := s.geocoder.Geocode(ctx, listing.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to geocode listing %d: %w", id, err)
	}
	if coords == nil {
		return listing, nil
	}
	if err := s.store.SetCoordinates(ctx, id, listing.Location, coords); err != nil {
		if errors.Is(err, repository.ErrLocationChanged) {
			log.Printf("WARN: listing %d moved away from %q while geocoding; coordinates discarded", id, listing.Location)
			return s.GetListing(ctx, id)
		}
		return nil, fmt.Errorf("failed to store coordinates for listing %d: %w", id, err)
	}
	listing.Coordinates = coords
	s.publish(ctx, events.ActionGeocoded, id)
	return listing, nil
}

// BackfillCoordinates geocodes every listing still lacking coordinates, one at a time.
// Per-listing failures are counted, never returned.
func (s *listingService) BackfillCoordinates(ctx context.Context) (*models.GeocodeReport, error) {
	listings, err := s.store.FindMissingCoordinates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listings without coordinates: %w", err)
	}

	report := &models.GeocodeReport{Total: len(listings)}
	for i, listing := range listings {
		if ctx.Err() != nil {
			report.Errors += len(listings) - i
			break
		}
		coords, err := s.geocoder.Geocode(ctx, listing.Location)
		if err != nil {
			log.Printf("ERROR geocoding listing %d (%q): %v", listing.ID, listing.Location, err)
			report.Errors++
			continue
		}
		if coords == nil {
			report.Errors++
			continue
		}
		if err := s.store.SetCoordinates(ctx, listing.ID, listing.Location, coords); err != nil {
			log.Printf("ERROR storing coordinates for listing %d: %v", listing.ID, err)
			report.Errors++
			continue
		}
		report.Success++
		s.publish(ctx, events.ActionGeocoded, listing.ID)
	}
	report.Message = fmt.Sprintf("Geocoding completed: %d of %d listings updated", report.Success, report.Total)
	log.Println(report.Message)
	return report, nil
}

// PriceStats aggregates prices per location under the same filters as SearchListings.
func (s *listingService) PriceStats(ctx context.Context, criteria search.Criteria) ([]models.LocationPriceStats, error) {
	stats, err := s.store.PriceStats(ctx, search.Predicates(criteria))
	if err != nil {
		return nil, fmt.Errorf("failed to compute price statistics: %w", err)
	}
	return stats, nil
}

// UploadImages echoes inline image payloads back as their own URLs.
func (s *listingService) UploadImages(images []string) ([]string, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no images provided", ErrInvalidInput)
	}
	urls := make([]string, 0, len(images))
	for i, img := range images {
		if strings.TrimSpace(img) == "" {
			return nil, fmt.Errorf("%w: image %d is empty", ErrInvalidInput, i)
		}
		urls = append(urls, img)
	}
	return urls, nil
}

func (s *listingService) scheduleGeocode(ctx context.Context, listingID int, location string) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.ScheduleGeocode(ctx, listingID, location); err != nil {
		log.Printf("ERROR scheduling geocode task for listing %d: %v", listingID, err)
	}
}

func (s *listingService) publish(ctx context.Context, action string, listingID int) {
	if err := s.publisher.Publish(ctx, events.NewListingEvent(action, listingID)); err != nil {
		log.Printf("WARN: failed to publish %s event for listing %d: %v", action, listingID, err)
	}
}
