package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/intelliaflow/IAIMMOBOT/internal/db"
	"github.com/intelliaflow/IAIMMOBOT/internal/models"
	"github.com/intelliaflow/IAIMMOBOT/internal/search"
)

const propertiesSchema = `
CREATE TABLE IF NOT EXISTS properties (
	id               SERIAL PRIMARY KEY,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL,
	price            INTEGER NOT NULL,
	location         TEXT NOT NULL,
	bedrooms         INTEGER NOT NULL,
	bathrooms        INTEGER NOT NULL,
	area             INTEGER NOT NULL,
	type             TEXT NOT NULL,
	transaction_type TEXT NOT NULL DEFAULT 'sale',
	features         JSONB,
	images           JSONB,
	agency_id        INTEGER,
	latitude         TEXT,
	longitude        TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS properties_agency_id_idx ON properties (agency_id);
CREATE INDEX IF NOT EXISTS properties_created_at_idx ON properties (created_at DESC);
`

// jsonList stores a string slice in a JSONB column.
type jsonList []string

func (l jsonList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *jsonList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(l))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(l))
	}
	return fmt.Errorf("jsonList: unsupported source type %T", src)
}

type propertyRow struct {
	ID              int            `db:"id"`
	Title           string         `db:"title"`
	Description     string         `db:"description"`
	Price           int            `db:"price"`
	Location        string         `db:"location"`
	Bedrooms        int            `db:"bedrooms"`
	Bathrooms       int            `db:"bathrooms"`
	Area            int            `db:"area"`
	Type            string         `db:"type"`
	TransactionType string         `db:"transaction_type"`
	Features        jsonList       `db:"features"`
	Images          jsonList       `db:"images"`
	AgencyID        sql.NullInt64  `db:"agency_id"`
	Latitude        sql.NullString `db:"latitude"`
	Longitude       sql.NullString `db:"longitude"`
	CreatedAt       time.Time      `db:"created_at"`
}

func rowFromListing(l *models.Listing) propertyRow {
	row := propertyRow{
		ID:              l.ID,
		Title:           l.Title,
		Description:     l.Description,
		Price:           l.Price,
		Location:        l.Location,
		Bedrooms:        l.Bedrooms,
		Bathrooms:       l.Bathrooms,
		Area:            l.Area,
		Type:            l.Type,
		TransactionType: string(l.TransactionType),
		Features:        jsonList(l.Features),
		Images:          jsonList(l.Images),
		CreatedAt:       l.CreatedAt,
	}
	if l.AgencyID != nil {
		row.AgencyID = sql.NullInt64{Int64: int64(*l.AgencyID), Valid: true}
	}
	if l.Coordinates != nil {
		row.Latitude = sql.NullString{String: l.Coordinates.Latitude, Valid: true}
		row.Longitude = sql.NullString{String: l.Coordinates.Longitude, Valid: true}
	}
	return row
}

func (r propertyRow) toListing() models.Listing {
	l := models.Listing{
		ID:              r.ID,
		Title:           r.Title,
		Description:     r.Description,
		Price:           r.Price,
		Location:        r.Location,
		Bedrooms:        r.Bedrooms,
		Bathrooms:       r.Bathrooms,
		Area:            r.Area,
		Type:            r.Type,
		TransactionType: models.TransactionType(r.TransactionType),
		Features:        []string(r.Features),
		Images:          []string(r.Images),
		CreatedAt:       r.CreatedAt,
	}
	if r.AgencyID.Valid {
		id := int(r.AgencyID.Int64)
		l.AgencyID = &id
	}
	// Both halves or neither: a half-written pair counts as unresolved.
	if r.Latitude.Valid && r.Longitude.Valid && r.Latitude.String != "" && r.Longitude.String != "" {
		l.Coordinates = &models.Coordinates{Latitude: r.Latitude.String, Longitude: r.Longitude.String}
	}
	return l
}

// PostgresStore keeps listings in the properties table.
type PostgresStore struct {
	DB *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

// EnsureSchema creates the properties table and its indexes when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, propertiesSchema); err != nil {
		return fmt.Errorf("PostgresStore.EnsureSchema: %w", err)
	}
	return nil
}

// Insert stores listing and sets its id. A unique violation on id happens when rows were imported with
// explicit ids and the sequence lags behind; nextval advances on every attempt, so the insert is retried.
func (s *PostgresStore) Insert(ctx context.Context, listing *models.Listing) error {
	row := rowFromListing(listing)
	err := db.WithRetries(func() error {
		rows, err := s.DB.NamedQueryContext(ctx, `
			INSERT INTO properties
				(title, description, price, location, bedrooms, bathrooms, area, type, transaction_type,
				 features, images, agency_id, latitude, longitude, created_at)
			VALUES
				(:title, :description, :price, :location, :bedrooms, :bathrooms, :area, :type, :transaction_type,
				 :features, :images, :agency_id, :latitude, :longitude, :created_at)
			RETURNING id
		`, row)
		if err != nil {
			return err
		}
		defer rows.Close()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return err
			}
			return errors.New("no id returned")
		}
		return rows.Scan(&listing.ID)
	}, db.DefaultMaxRetries, db.IsPostgresUniqueViolation)
	if err != nil {
		return fmt.Errorf("PostgresStore.Insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id int) (*models.Listing, error) {
	var row propertyRow
	if err := s.DB.GetContext(ctx, &row, `SELECT * FROM properties WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("PostgresStore.FindByID: %w", err)
	}
	l := row.toListing()
	return &l, nil
}

func (s *PostgresStore) Find(ctx context.Context, preds []search.Predicate) ([]models.Listing, error) {
	where, args, err := sqlWhere(preds, 1)
	if err != nil {
		return nil, err
	}
	query := "SELECT * FROM properties" + where + " ORDER BY created_at DESC, id DESC"
	return s.selectListings(ctx, query, args...)
}

func (s *PostgresStore) Update(ctx context.Context, id, agencyID int, update *models.ListingUpdate) (*models.Listing, error) {
	set, args := sqlSet(update)
	if len(set) == 0 {
		l, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if l.AgencyID == nil || *l.AgencyID != agencyID {
			return nil, ErrNotFound
		}
		return l, nil
	}

	query := fmt.Sprintf("UPDATE properties SET %s WHERE id = $%d AND agency_id = $%d RETURNING *",
		strings.Join(set, ", "), len(args)+1, len(args)+2)
	args = append(args, id, agencyID)

	var row propertyRow
	if err := s.DB.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("PostgresStore.Update: %w", err)
	}
	l := row.toListing()
	return &l, nil
}

func (s *PostgresStore) SetCoordinates(ctx context.Context, id int, location string, coords *models.Coordinates) error {
	var lat, lon sql.NullString
	if coords != nil {
		lat = sql.NullString{String: coords.Latitude, Valid: true}
		lon = sql.NullString{String: coords.Longitude, Valid: true}
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE properties SET latitude = $1, longitude = $2 WHERE id = $3 AND location = $4`,
		lat, lon, id, location)
	if err != nil {
		return fmt.Errorf("PostgresStore.SetCoordinates: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return nil
	}
	var exists bool
	if err := s.DB.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM properties WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("PostgresStore.SetCoordinates: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrLocationChanged
}

func (s *PostgresStore) FindMissingCoordinates(ctx context.Context) ([]models.Listing, error) {
	return s.selectListings(ctx, `
		SELECT * FROM properties
		WHERE latitude IS NULL OR longitude IS NULL OR latitude = '' OR longitude = ''
		ORDER BY created_at DESC, id DESC
	`)
}

func (s *PostgresStore) PriceStats(ctx context.Context, preds []search.Predicate) ([]models.LocationPriceStats, error) {
	where, args, err := sqlWhere(preds, 1)
	if err != nil {
		return nil, err
	}
	query := `SELECT location,
			AVG(price)::float8 AS average_price,
			COUNT(*) AS count,
			MIN(price) AS min_price,
			MAX(price) AS max_price
		FROM properties` + where + `
		GROUP BY location
		ORDER BY location`
	stats := []models.LocationPriceStats{}
	if err := s.DB.SelectContext(ctx, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("PostgresStore.PriceStats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) selectListings(ctx context.Context, query string, args ...interface{}) ([]models.Listing, error) {
	var rows []propertyRow
	if err := s.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("PostgresStore: %w", err)
	}
	listings := make([]models.Listing, 0, len(rows))
	for _, r := range rows {
		listings = append(listings, r.toListing())
	}
	return listings, nil
}

// sqlWhere renders preds as a WHERE clause with placeholders numbered from idx.
func sqlWhere(preds []search.Predicate, idx int) (string, []interface{}, error) {
	if len(preds) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(preds))
	args := make([]interface{}, 0, len(preds))
	for _, p := range preds {
		column := string(p.Field)
		switch p.Op {
		case search.OpContainsFold:
			v, ok := p.Value.(string)
			if !ok {
				return "", nil, fmt.Errorf("predicate %s: expected string value", p)
			}
			clauses = append(clauses, fmt.Sprintf(`%s ILIKE $%d ESCAPE '\'`, column, idx))
			args = append(args, "%"+escapeLike(v)+"%")
		case search.OpEq:
			clauses = append(clauses, fmt.Sprintf("%s = $%d", column, idx))
			args = append(args, p.Value)
		case search.OpGte:
			clauses = append(clauses, fmt.Sprintf("%s >= $%d", column, idx))
			args = append(args, p.Value)
		case search.OpLte:
			clauses = append(clauses, fmt.Sprintf("%s <= $%d", column, idx))
			args = append(args, p.Value)
		default:
			return "", nil, fmt.Errorf("predicate %s: unsupported operator", p)
		}
		idx++
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// sqlSet renders the non-nil fields of u as SET assignments numbered from $1.
func sqlSet(u *models.ListingUpdate) ([]string, []interface{}) {
	var set []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if u.Title != nil {
		add("title", *u.Title)
	}
	if u.Description != nil {
		add("description", *u.Description)
	}
	if u.Price != nil {
		add("price", *u.Price)
	}
	if u.Location != nil {
		add("location", *u.Location)
	}
	if u.Bedrooms != nil {
		add("bedrooms", *u.Bedrooms)
	}
	if u.Bathrooms != nil {
		add("bathrooms", *u.Bathrooms)
	}
	if u.Area != nil {
		add("area", *u.Area)
	}
	if u.Type != nil {
		add("type", *u.Type)
	}
	if u.TransactionType != nil {
		add("transaction_type", string(*u.TransactionType))
	}
	if u.Features != nil {
		add("features", jsonList(*u.Features))
	}
	if u.Images != nil {
		add("images", jsonList(*u.Images))
	}
	if u.ClearCoordinates {
		set = append(set, "latitude = NULL", "longitude = NULL")
	}
	return set, args
}
