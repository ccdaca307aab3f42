package repository

import (
	"context"
	"errors"

	"github.com/intelliaflow/IAIMMOBOT/internal/models"
	"github.com/intelliaflow/IAIMMOBOT/internal/search"
)

var (
	// ErrNotFound is returned when a listing does not exist or is not owned by the given agency.
	ErrNotFound = errors.New("listing not found")
	// ErrLocationChanged is returned by SetCoordinates when the stored location no longer matches.
	ErrLocationChanged = errors.New("listing location changed")
)

// ListingStore persists listings. Find and PriceStats receive the conjunction built by
// search.Predicates; results of Find are ordered newest first.
type ListingStore interface {
	Insert(ctx context.Context, listing *models.Listing) error
	FindByID(ctx context.Context, id int) (*models.Listing, error)
	Find(ctx context.Context, preds []search.Predicate) ([]models.Listing, error)
	// Update applies a partial update to a listing owned by agencyID and returns the new row.
	Update(ctx context.Context, id, agencyID int, update *models.ListingUpdate) (*models.Listing, error)
	// SetCoordinates stores or clears (nil) the coordinate pair in a single write, provided the
	// listing is still at location.
	SetCoordinates(ctx context.Context, id int, location string, coords *models.Coordinates) error
	FindMissingCoordinates(ctx context.Context) ([]models.Listing, error)
	PriceStats(ctx context.Context, preds []search.Predicate) ([]models.LocationPriceStats, error)
}
