package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/intelliaflow/IAIMMOBOT/internal/db"
	"github.com/intelliaflow/IAIMMOBOT/internal/models"
	"github.com/intelliaflow/IAIMMOBOT/internal/search"
)

const (
	propertiesCollection = "properties"
	countersCollection   = "counters"
)

// MongoStore keeps listings in the properties collection with integer ids drawn from a counter document.
type MongoStore struct {
	collection *mongo.Collection
	counters   *mongo.Collection
}

func NewMongoStore(database *mongo.Database) *MongoStore {
	return &MongoStore{
		collection: database.Collection(propertiesCollection),
		counters:   database.Collection(countersCollection),
	}
}

// EnsureIndexes creates the secondary indexes used by searches.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "agency_id", Value: 1}}},
		{Keys: bson.D{{Key: "transaction_type", Value: 1}, {Key: "price", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("MongoStore.EnsureIndexes: %w", err)
	}
	return nil
}

func (s *MongoStore) nextID(ctx context.Context) (int, error) {
	var counter struct {
		Seq int `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": propertiesCollection},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate listing id: %w", err)
	}
	return counter.Seq, nil
}

func (s *MongoStore) Insert(ctx context.Context, listing *models.Listing) error {
	// A stale counter (e.g. after a manual import) collides on _id; draw a fresh id and retry.
	err := db.Try(func() error {
		id, err := s.nextID(ctx)
		if err != nil {
			return err
		}
		listing.ID = id
		_, err = s.collection.InsertOne(ctx, listing)
		return err
	})
	if err != nil {
		return fmt.Errorf("MongoStore.Insert: %w", err)
	}
	return nil
}

func (s *MongoStore) FindByID(ctx context.Context, id int) (*models.Listing, error) {
	var l models.Listing
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&l); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("MongoStore.FindByID: %w", err)
	}
	return &l, nil
}

func (s *MongoStore) Find(ctx context.Context, preds []search.Predicate) ([]models.Listing, error) {
	filter, err := bsonFilter(preds)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, filter)
}

func (s *MongoStore) find(ctx context.Context, filter bson.M) ([]models.Listing, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("MongoStore.Find: %w", err)
	}
	listings := []models.Listing{}
	if err := cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("MongoStore.Find: %w", err)
	}
	return listings, nil
}

func (s *MongoStore) Update(ctx context.Context, id, agencyID int, update *models.ListingUpdate) (*models.Listing, error) {
	filter := bson.M{"_id": id, "agency_id": agencyID}
	doc := bsonUpdate(update)
	if len(doc) == 0 {
		var l models.Listing
		if err := s.collection.FindOne(ctx, filter).Decode(&l); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("MongoStore.Update: %w", err)
		}
		return &l, nil
	}

	var l models.Listing
	err := s.collection.FindOneAndUpdate(ctx, filter, doc,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&l)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("MongoStore.Update: %w", err)
	}
	return &l, nil
}

func (s *MongoStore) SetCoordinates(ctx context.Context, id int, location string, coords *models.Coordinates) error {
	update := bson.M{"$unset": bson.M{"coordinates": ""}}
	if coords != nil {
		update = bson.M{"$set": bson.M{"coordinates": coords}}
	}
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id, "location": location}, update)
	if err != nil {
		return fmt.Errorf("MongoStore.SetCoordinates: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("MongoStore.SetCoordinates: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrLocationChanged
}

func (s *MongoStore) FindMissingCoordinates(ctx context.Context) ([]models.Listing, error) {
	// A null comparison also matches documents without the field.
	return s.find(ctx, bson.M{"coordinates": nil})
}

func (s *MongoStore) PriceStats(ctx context.Context, preds []search.Predicate) ([]models.LocationPriceStats, error) {
	filter, err := bsonFilter(preds)
	if err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$group", Value: bson.M{
			"_id":           "$location",
			"average_price": bson.M{"$avg": "$price"},
			"count":         bson.M{"$sum": 1},
			"min_price":     bson.M{"$min": "$price"},
			"max_price":     bson.M{"$max": "$price"},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}
	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("MongoStore.PriceStats: %w", err)
	}
	stats := []models.LocationPriceStats{}
	if err := cursor.All(ctx, &stats); err != nil {
		return nil, fmt.Errorf("MongoStore.PriceStats: %w", err)
	}
	return stats, nil
}

// bsonFilter renders preds as a query document. Range operators on one field share a sub-document.
func bsonFilter(preds []search.Predicate) (bson.M, error) {
	filter := bson.M{}
	for _, p := range preds {
		key := string(p.Field)
		switch p.Op {
		case search.OpContainsFold:
			v, ok := p.Value.(string)
			if !ok {
				return nil, fmt.Errorf("predicate %s: expected string value", p)
			}
			filter[key] = primitive.Regex{Pattern: regexp.QuoteMeta(v), Options: "i"}
		case search.OpEq:
			filter[key] = p.Value
		case search.OpGte, search.OpLte:
			op := "$gte"
			if p.Op == search.OpLte {
				op = "$lte"
			}
			rng, ok := filter[key].(bson.M)
			if !ok {
				rng = bson.M{}
				filter[key] = rng
			}
			rng[op] = p.Value
		default:
			return nil, fmt.Errorf("predicate %s: unsupported operator", p)
		}
	}
	return filter, nil
}

func bsonUpdate(u *models.ListingUpdate) bson.M {
	set := bson.M{}
	if u.Title != nil {
		set["title"] = *u.Title
	}
	if u.Description != nil {
		set["description"] = *u.Description
	}
	if u.Price != nil {
		set["price"] = *u.Price
	}
	if u.Location != nil {
		set["location"] = *u.Location
	}
	if u.Bedrooms != nil {
		set["bedrooms"] = *u.Bedrooms
	}
	if u.Bathrooms != nil {
		set["bathrooms"] = *u.Bathrooms
	}
	if u.Area != nil {
		set["area"] = *u.Area
	}
	if u.Type != nil {
		set["type"] = *u.Type
	}
	if u.TransactionType != nil {
		set["transaction_type"] = string(*u.TransactionType)
	}
	if u.Features != nil {
		set["features"] = *u.Features
	}
	if u.Images != nil {
		set["images"] = *u.Images
	}

	doc := bson.M{}
	if len(set) > 0 {
		doc["$set"] = set
	}
	if u.ClearCoordinates {
		doc["$unset"] = bson.M{"coordinates": ""}
	}
	return doc
}
