package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	collUserFilterConfigs      = "userFilterConfigs"
	collChatAccounts           = "chatAccounts"
	collReloadSignal           = "filterReloadSignal"
	collCursor                 = "lastProcessedTradeMarker"
	collProcessedTrades        = "processedTrades"
	collMarketMetadata         = "marketMetadata"
	collTagCategoryMap         = "tagCategoryMap"
	collSportsTagIDs           = "sportsTagIds"
	collTagsDictionary         = "tagsDictionary"
	collAlertLog               = "alertLog"
)

// MongoDB error codes for index-creation conflicts.
const (
	codeIndexOptionsConflict   = 85
	codeIndexKeySpecsConflict  = 86
	codeIndexAlreadyExists     = 68
)

type indexSpec struct {
	collection string
	name       string
	model      mongo.IndexModel
}

// EnsureIndexes creates idempotent indexes on all collections. Known
// "already exists with the same spec" outcomes are non-errors; an index
// that exists with an incompatible spec is dropped and recreated.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := []indexSpec{
		{
			collection: collProcessedTrades,
			name:       "tx_hash_unique",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "tx_hash", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("tx_hash_unique"),
			},
		},
		{
			collection: collProcessedTrades,
			name:       "expires_at_ttl",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
			},
		},
		{
			collection: collMarketMetadata,
			name:       "condition_id_unique",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "condition_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("condition_id_unique"),
			},
		},
		{
			collection: collMarketMetadata,
			name:       "updated_at_idx",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "updated_at", Value: 1}},
				Options: options.Index().SetName("updated_at_idx"),
			},
		},
		{
			collection: collTagCategoryMap,
			name:       "updated_at_idx",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "updated_at", Value: 1}},
				Options: options.Index().SetName("updated_at_idx"),
			},
		},
		{
			collection: collSportsTagIDs,
			name:       "updated_at_idx",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "updated_at", Value: 1}},
				Options: options.Index().SetName("updated_at_idx"),
			},
		},
		{
			collection: collTagsDictionary,
			name:       "updated_at_idx",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "updated_at", Value: 1}},
				Options: options.Index().SetName("updated_at_idx"),
			},
		},
		{
			collection: collUserFilterConfigs,
			name:       "user_id_unique",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("user_id_unique"),
			},
		},
		{
			collection: collChatAccounts,
			name:       "user_id_unique",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("user_id_unique"),
			},
		},
		{
			collection: collAlertLog,
			name:       "attempted_at_idx",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "attempted_at", Value: 1}},
				Options: options.Index().SetName("attempted_at_idx"),
			},
		},
	}

	for _, s := range specs {
		if err := ensureOne(ctx, db, s); err != nil {
			return fmt.Errorf("create index %s on %s: %w", s.name, s.collection, err)
		}
	}

	log.Println("store indexes ensured")
	return nil
}

func ensureOne(ctx context.Context, db *mongo.Database, s indexSpec) error {
	_, err := db.Collection(s.collection).Indexes().CreateOne(ctx, s.model)
	if err == nil {
		return nil
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case codeIndexAlreadyExists:
			return nil
		case codeIndexOptionsConflict, codeIndexKeySpecsConflict:
			log.Printf("index %s on %s has an incompatible spec, dropping and recreating", s.name, s.collection)
			if _, dropErr := db.Collection(s.collection).Indexes().DropOne(ctx, s.name); dropErr != nil {
				return fmt.Errorf("drop incompatible index: %w", dropErr)
			}
			_, createErr := db.Collection(s.collection).Indexes().CreateOne(ctx, s.model)
			return createErr
		}
	}
	return err
}
