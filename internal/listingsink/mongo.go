// Package listingsink provides a reference ListingSink (spec.md §6.2)
// backed by MongoDB, grounded on internal/storage/database.go's
// MongoStorage (same client/collection/Store shape, re-pointed at
// upserting one listing document per call instead of batch-inserting crawl
// items).
package listingsink

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoListingSink implements internal/adapter.ListingSink against a single
// MongoDB collection, upserting by a stable hash of the listing's building
// and unit identity so repeated scrapes of the same unit update in place.
type MongoListingSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

// NewMongoListingSink connects to uri and binds to database.collection.
func NewMongoListingSink(uri, database, collection string, logger *slog.Logger) (*MongoListingSink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	return &MongoListingSink{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With("component", "listing_sink"),
	}, nil
}

// CreateOrUpdateListing implements adapter.ListingSink. It derives a stable
// key from building+property+listing identity fields, reads the existing
// document (if any) to classify the change, then upserts.
func (s *MongoListingSink) CreateOrUpdateListing(ctx context.Context, building, property, listing map[string]any) (listingRef, changeKind, detailsText string, err error) {
	key := listingKey(building, property, listing)

	var existing bson.M
	findErr := s.collection.FindOne(ctx, bson.M{"_key": key}).Decode(&existing)

	doc := bson.M{
		"_key":       key,
		"_updated_at": time.Now(),
		"building":   building,
		"property":   property,
		"listing":    listing,
	}

	switch {
	case findErr == mongo.ErrNoDocuments:
		doc["_created_at"] = time.Now()
		if _, err := s.collection.InsertOne(ctx, doc); err != nil {
			return "", "", "", fmt.Errorf("mongodb insert: %w", err)
		}
		return key, "new", fmt.Sprintf("registered %v", building["name"]), nil
	case findErr != nil:
		return "", "", "", fmt.Errorf("mongodb find: %w", findErr)
	}

	changeKind = classifyChange(existing, listing)
	if changeKind == "refetched_unchanged" {
		return key, changeKind, "", nil
	}

	doc["_created_at"] = existing["_created_at"]
	_, err = s.collection.ReplaceOne(ctx, bson.M{"_key": key}, doc)
	if err != nil {
		return "", "", "", fmt.Errorf("mongodb replace: %w", err)
	}
	return key, changeKind, fmt.Sprintf("updated %v", building["name"]), nil
}

// Close disconnects the MongoDB client.
func (s *MongoListingSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func listingKey(building, property, listing map[string]any) string {
	h := sha1.New()
	fmt.Fprintf(h, "%v|%v|%v", building["name"], property["unit"], listing["url"])
	return hex.EncodeToString(h.Sum(nil))
}

func classifyChange(existing bson.M, listing map[string]any) string {
	prevListing, _ := existing["listing"].(bson.M)
	if prevListing == nil {
		return "other_updates"
	}
	prevPrice, prevOK := prevListing["price_man_yen"]
	newPrice, newOK := listing["price_man_yen"]
	if prevOK && newOK && fmt.Sprint(prevPrice) != fmt.Sprint(newPrice) {
		return "price_updated"
	}
	for k, v := range listing {
		if fmt.Sprint(prevListing[k]) != fmt.Sprint(v) {
			return "other_updates"
		}
	}
	return "refetched_unchanged"
}
