package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TransactionType is either a sale or a rental.
type TransactionType string

const (
	TransactionSale TransactionType = "sale"
	TransactionRent TransactionType = "rent"
)

// ErrInvalidTransactionType is returned by ParseTransactionType for anything but "sale" or "rent".
var ErrInvalidTransactionType = errors.New("invalid transaction type")

// ParseTransactionType accepts exactly "sale" or "rent".
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(s) {
	case TransactionSale, TransactionRent:
		return TransactionType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, s)
}

// Coordinates is a resolved geocoding result. Values are kept as the decimal text
// returned by the geocoding service. A nil *Coordinates means "unresolved".
type Coordinates struct {
	Latitude  string `bson:"latitude" json:"lat"`
	Longitude string `bson:"longitude" json:"lon"`
}

// Listing represents a property listing.
type Listing struct {
	ID              int             `bson:"_id" json:"id"`
	Title           string          `bson:"title" json:"title"`
	Description     string          `bson:"description" json:"description"`
	Price           int             `bson:"price" json:"price"`
	Location        string          `bson:"location" json:"location"`
	Bedrooms        int             `bson:"bedrooms" json:"bedrooms"`
	Bathrooms       int             `bson:"bathrooms" json:"bathrooms"`
	Area            int             `bson:"area" json:"area"`
	Type            string          `bson:"type" json:"type"`
	TransactionType TransactionType `bson:"transaction_type" json:"transactionType"`
	Features        []string        `bson:"features,omitempty" json:"features"`
	Images          []string        `bson:"images,omitempty" json:"images"`
	AgencyID        *int            `bson:"agency_id,omitempty" json:"agencyId"`
	Coordinates     *Coordinates    `bson:"coordinates,omitempty" json:"-"`
	CreatedAt       time.Time       `bson:"created_at" json:"createdAt"`
}

// listingJSON flattens Coordinates into the nullable latitude/longitude pair clients expect.
type listingJSON struct {
	listingAlias
	Latitude  *string `json:"latitude"`
	Longitude *string `json:"longitude"`
}

type listingAlias Listing

func (l Listing) MarshalJSON() ([]byte, error) {
	out := listingJSON{listingAlias: listingAlias(l)}
	if l.Coordinates != nil {
		out.Latitude = &l.Coordinates.Latitude
		out.Longitude = &l.Coordinates.Longitude
	}
	return json.Marshal(out)
}

func (l *Listing) UnmarshalJSON(data []byte) error {
	var in listingJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*l = Listing(in.listingAlias)
	l.Coordinates = nil
	if in.Latitude != nil && in.Longitude != nil && *in.Latitude != "" && *in.Longitude != "" {
		l.Coordinates = &Coordinates{Latitude: *in.Latitude, Longitude: *in.Longitude}
	}
	return nil
}

// ListingInput is the create payload. Server-owned fields (id, agency, coordinates, createdAt)
// are not accepted from clients.
type ListingInput struct {
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Price           int             `json:"price"`
	Location        string          `json:"location"`
	Bedrooms        int             `json:"bedrooms"`
	Bathrooms       int             `json:"bathrooms"`
	Area            int             `json:"area"`
	Type            string          `json:"type"`
	TransactionType TransactionType `json:"transactionType"`
	Features        []string        `json:"features"`
	Images          []string        `json:"images"`
}

// Validate checks required fields and non-negative numbers, and defaults the transaction type.
func (in *ListingInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Location = strings.TrimSpace(in.Location)
	in.Type = strings.TrimSpace(in.Type)
	switch {
	case in.Title == "":
		return errors.New("title is required")
	case strings.TrimSpace(in.Description) == "":
		return errors.New("description is required")
	case in.Location == "":
		return errors.New("location is required")
	case in.Type == "":
		return errors.New("type is required")
	case in.Price < 0, in.Bedrooms < 0, in.Bathrooms < 0, in.Area < 0:
		return errors.New("price, bedrooms, bathrooms and area must be non-negative")
	}
	if in.TransactionType == "" {
		in.TransactionType = TransactionSale
	}
	if _, err := ParseTransactionType(string(in.TransactionType)); err != nil {
		return err
	}
	return nil
}

// ListingUpdate is a partial update; nil fields are left untouched.
type ListingUpdate struct {
	Title           *string          `json:"title"`
	Description     *string          `json:"description"`
	Price           *int             `json:"price"`
	Location        *string          `json:"location"`
	Bedrooms        *int             `json:"bedrooms"`
	Bathrooms       *int             `json:"bathrooms"`
	Area            *int             `json:"area"`
	Type            *string          `json:"type"`
	TransactionType *TransactionType `json:"transactionType"`
	Features        *[]string        `json:"features"`
	Images          *[]string        `json:"images"`

	// ClearCoordinates is set by the service when the location changes.
	ClearCoordinates bool `json:"-"`
}

// Validate rejects negative numbers, blank required strings and unknown transaction types.
func (u *ListingUpdate) Validate() error {
	for _, v := range []*int{u.Price, u.Bedrooms, u.Bathrooms, u.Area} {
		if v != nil && *v < 0 {
			return errors.New("price, bedrooms, bathrooms and area must be non-negative")
		}
	}
	for name, v := range map[string]*string{"title": u.Title, "description": u.Description, "location": u.Location, "type": u.Type} {
		if v != nil && strings.TrimSpace(*v) == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
	}
	if u.TransactionType != nil {
		if _, err := ParseTransactionType(string(*u.TransactionType)); err != nil {
			return err
		}
	}
	return nil
}

// IsEmpty reports whether the update changes nothing.
func (u *ListingUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.Price == nil && u.Location == nil &&
		u.Bedrooms == nil && u.Bathrooms == nil && u.Area == nil && u.Type == nil &&
		u.TransactionType == nil && u.Features == nil && u.Images == nil && !u.ClearCoordinates
}

// Apply copies the non-nil fields of u onto l.
func (u *ListingUpdate) Apply(l *Listing) {
	if u.Title != nil {
		l.Title = *u.Title
	}
	if u.Description != nil {
		l.Description = *u.Description
	}
	if u.Price != nil {
		l.Price = *u.Price
	}
	if u.Location != nil {
		l.Location = *u.Location
	}
	if u.Bedrooms != nil {
		l.Bedrooms = *u.Bedrooms
	}
	if u.Bathrooms != nil {
		l.Bathrooms = *u.Bathrooms
	}
	if u.Area != nil {
		l.Area = *u.Area
	}
	if u.Type != nil {
		l.Type = *u.Type
	}
	if u.TransactionType != nil {
		l.TransactionType = *u.TransactionType
	}
	if u.Features != nil {
		l.Features = *u.Features
	}
	if u.Images != nil {
		l.Images = *u.Images
	}
	if u.ClearCoordinates {
		l.Coordinates = nil
	}
}

// LocationPriceStats aggregates prices for one location string.
type LocationPriceStats struct {
	Location     string  `bson:"_id" json:"location" db:"location"`
	AveragePrice float64 `bson:"average_price" json:"averagePrice" db:"average_price"`
	Count        int     `bson:"count" json:"count" db:"count"`
	MinPrice     int     `bson:"min_price" json:"minPrice" db:"min_price"`
	MaxPrice     int     `bson:"max_price" json:"maxPrice" db:"max_price"`
}

// GeocodeReport is the outcome of a backfill sweep.
type GeocodeReport struct {
	Message string `json:"message"`
	Total   int    `json:"total"`
	Success int    `json:"success"`
	Errors  int    `json:"errors"`
}
