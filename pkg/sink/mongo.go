package sink

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/metadata"
)

// MongoSink stores records in <platform>.posts with a unique post_id index
type MongoSink struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    logger.Logger
}

// NewMongoSink connects to uri and prepares the posts collection of database
func NewMongoSink(ctx context.Context, uri, database string, log logger.Logger) (*MongoSink, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	coll := client.Database(database).Collection("posts")
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "post_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ensure post_id index: %w", err)
	}

	s := newMongoSink(coll, log)
	s.client = client
	return s, nil
}

func newMongoSink(coll *mongo.Collection, log logger.Logger) *MongoSink {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &MongoSink{coll: coll, log: log}
}

func (s *MongoSink) InsertUnique(ctx context.Context, rec metadata.Record) error {
	_, err := s.coll.InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return errs.Wrap(errs.ErrorTypeDuplicate, err, fmt.Sprintf("post %s already recorded", rec.PostID))
	}
	if err != nil {
		return fmt.Errorf("failed to insert post %s: %w", rec.PostID, err)
	}
	s.log.DebugWithFields("Record inserted", map[string]interface{}{"post_id": rec.PostID})
	return nil
}

func (s *MongoSink) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
