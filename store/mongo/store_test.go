package mongo_test

import (
	"context"
	"os"
	"testing"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/mongo"
	"github.com/xraph/bursar/store/storetest"
)

// Set BURSAR_MONGO_URI to a replica set, e.g.
// mongodb://localhost:27017/?replicaSet=rs0, to run against a live server.
func open(t *testing.T) *mongo.Store {
	t.Helper()
	uri := os.Getenv("BURSAR_MONGO_URI")
	if uri == "" {
		t.Skip("BURSAR_MONGO_URI not set")
	}

	s, err := mongo.Open(uri, "bursar_test_"+id.NewRunID().Suffix())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	t.Cleanup(func() {
		_ = s.Database().Drop(ctx)
		_ = s.Close()
	})

	if err := s.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestConformance(t *testing.T) {
	s := open(t)
	storetest.Run(t, func(*testing.T) store.Store { return s })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := open(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
}
