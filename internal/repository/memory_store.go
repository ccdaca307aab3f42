package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/intelliaflow/IAIMMOBOT/internal/models"
	"github.com/intelliaflow/IAIMMOBOT/internal/search"
)

// MemoryStore is a process-local ListingStore used for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int
	listings map[int]models.Listing
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[int]models.Listing)}
}

func (s *MemoryStore) Insert(ctx context.Context, listing *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	listing.ID = s.nextID
	s.listings[listing.ID] = cloneListing(*listing)
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id int) (*models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneListing(l)
	return &out, nil
}

func (s *MemoryStore) Find(ctx context.Context, preds []search.Predicate) ([]models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := []models.Listing{}
	for _, l := range s.listings {
		l := l
		if search.Match(preds, &l) {
			results = append(results, cloneListing(l))
		}
	}
	sortNewestFirst(results)
	return results, nil
}

func (s *MemoryStore) Update(ctx context.Context, id, agencyID int, update *models.ListingUpdate) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok || l.AgencyID == nil || *l.AgencyID != agencyID {
		return nil, ErrNotFound
	}
	update.Apply(&l)
	s.listings[id] = cloneListing(l)
	return &l, nil
}

func (s *MemoryStore) SetCoordinates(ctx context.Context, id int, location string, coords *models.Coordinates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return ErrNotFound
	}
	if l.Location != location {
		return ErrLocationChanged
	}
	if coords != nil {
		c := *coords
		l.Coordinates = &c
	} else {
		l.Coordinates = nil
	}
	s.listings[id] = l
	return nil
}

func (s *MemoryStore) FindMissingCoordinates(ctx context.Context) ([]models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := []models.Listing{}
	for _, l := range s.listings {
		if l.Coordinates == nil {
			results = append(results, cloneListing(l))
		}
	}
	sortNewestFirst(results)
	return results, nil
}

func (s *MemoryStore) PriceStats(ctx context.Context, preds []search.Predicate) ([]models.LocationPriceStats, error) {
	listings, err := s.Find(ctx, preds)
	if err != nil {
		return nil, err
	}
	byLocation := map[string]*models.LocationPriceStats{}
	totals := map[string]int{}
	for _, l := range listings {
		st, ok := byLocation[l.Location]
		if !ok {
			st = &models.LocationPriceStats{Location: l.Location, MinPrice: l.Price, MaxPrice: l.Price}
			byLocation[l.Location] = st
		}
		st.Count++
		totals[l.Location] += l.Price
		if l.Price < st.MinPrice {
			st.MinPrice = l.Price
		}
		if l.Price > st.MaxPrice {
			st.MaxPrice = l.Price
		}
	}
	stats := make([]models.LocationPriceStats, 0, len(byLocation))
	for loc, st := range byLocation {
		st.AveragePrice = float64(totals[loc]) / float64(st.Count)
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Location < stats[j].Location })
	return stats, nil
}

func sortNewestFirst(listings []models.Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		if listings[i].CreatedAt.Equal(listings[j].CreatedAt) {
			return listings[i].ID > listings[j].ID
		}
		return listings[i].CreatedAt.After(listings[j].CreatedAt)
	})
}

func cloneListing(l models.Listing) models.Listing {
	if l.Features != nil {
		l.Features = append([]string(nil), l.Features...)
	}
	if l.Images != nil {
		l.Images = append([]string(nil), l.Images...)
	}
	if l.AgencyID != nil {
		id := *l.AgencyID
		l.AgencyID = &id
	}
	if l.Coordinates != nil {
		c := *l.Coordinates
		l.Coordinates = &c
	}
	return l
}
