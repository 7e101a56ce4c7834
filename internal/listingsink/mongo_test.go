package listingsink

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestListingKeyIsStableForSameIdentity(t *testing.T) {
	building := map[string]any{"name": "Sunrise Mansion"}
	property := map[string]any{"unit": "201"}
	listing := map[string]any{"url": "https://example.com/1"}

	k1 := listingKey(building, property, listing)
	k2 := listingKey(building, property, listing)
	if k1 != k2 {
		t.Errorf("listingKey not stable: %s != %s", k1, k2)
	}
	if len(k1) != 40 {
		t.Errorf("len(listingKey) = %d, want 40 (sha1 hex)", len(k1))
	}
}

func TestListingKeyDiffersOnDifferentIdentity(t *testing.T) {
	building := map[string]any{"name": "Sunrise Mansion"}
	property := map[string]any{"unit": "201"}

	k1 := listingKey(building, property, map[string]any{"url": "https://example.com/1"})
	k2 := listingKey(building, property, map[string]any{"url": "https://example.com/2"})
	if k1 == k2 {
		t.Error("expected different listingKey for different listing URL")
	}
}

func TestClassifyChangeNoPriorListingIsOtherUpdates(t *testing.T) {
	existing := bson.M{}
	got := classifyChange(existing, map[string]any{"price_man_yen": 10})
	if got != "other_updates" {
		t.Errorf("classifyChange = %s, want other_updates", got)
	}
}

func TestClassifyChangeDetectsPriceUpdate(t *testing.T) {
	existing := bson.M{"listing": bson.M{"price_man_yen": 10, "details_text": "x"}}
	got := classifyChange(existing, map[string]any{"price_man_yen": 12, "details_text": "x"})
	if got != "price_updated" {
		t.Errorf("classifyChange = %s, want price_updated", got)
	}
}

func TestClassifyChangeDetectsOtherFieldUpdate(t *testing.T) {
	existing := bson.M{"listing": bson.M{"price_man_yen": 10, "details_text": "old"}}
	got := classifyChange(existing, map[string]any{"price_man_yen": 10, "details_text": "new"})
	if got != "other_updates" {
		t.Errorf("classifyChange = %s, want other_updates", got)
	}
}

func TestClassifyChangeRefetchedUnchanged(t *testing.T) {
	existing := bson.M{"listing": bson.M{"price_man_yen": 10, "details_text": "same"}}
	got := classifyChange(existing, map[string]any{"price_man_yen": 10, "details_text": "same"})
	if got != "refetched_unchanged" {
		t.Errorf("classifyChange = %s, want refetched_unchanged", got)
	}
}
