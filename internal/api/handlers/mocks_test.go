package handlers_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/intelliaflow/IAIMMOBOT/internal/models"
	"github.com/intelliaflow/IAIMMOBOT/internal/search"
)

// --- Mocks ---

// MockListingService implements services.IListingService
type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) CreateListing(ctx context.Context, agencyID int, input *models.ListingInput) (*models.Listing, error) {
	args := m.Called(ctx, agencyID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) GetListing(ctx context.Context, id int) (*models.Listing, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) UpdateListing(ctx context.Context, agencyID, id int, update *models.ListingUpdate) (*models.Listing, error) {
	args := m.Called(ctx, agencyID, id, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) SearchListings(ctx context.Context, criteria search.Criteria) ([]models.Listing, error) {
	args := m.Called(ctx, criteria)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}

func (m *MockListingService) SearchByTransaction(ctx context.Context, rawType string, criteria search.Criteria) ([]models.Listing, error) {
	args := m.Called(ctx, rawType, criteria)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}

func (m *MockListingService) SearchAgencyListings(ctx context.Context, agencyID int, criteria search.Criteria) ([]models.Listing, error) {
	args := m.Called(ctx, agencyID, criteria)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}

func (m *MockListingService) GeocodeListing(ctx context.Context, id int) (*models.Listing, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) BackfillCoordinates(ctx context.Context) (*models.GeocodeReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GeocodeReport), args.Error(1)
}

func (m *MockListingService) PriceStats(ctx context.Context, criteria search.Criteria) ([]models.LocationPriceStats, error) {
	args := m.Called(ctx, criteria)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LocationPriceStats), args.Error(1)
}

func (m *MockListingService) UploadImages(images []string) ([]string, error) {
	args := m.Called(images)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockAddressSearcher implements geocoding.IAddressSearcher
type MockAddressSearcher struct {
	mock.Mock
}

func (m *MockAddressSearcher) Search(ctx context.Context, query string) ([]models.AddressSuggestion, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AddressSuggestion), args.Error(1)
}
