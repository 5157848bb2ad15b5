package store

import (
	"context"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"driftline/server/internal/state"
)

// MongoBackend stores one document per player in the driftline.players
// collection, keyed by display name.
type MongoBackend struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type mongoDoc struct {
	Name     string     `bson:"name"`
	Passcode string     `bson:"passcode"`
	State    state.Blob `bson:"state"`
}

// NewMongoBackend connects to the given MongoDB URL. key, when set, is used
// as the password for the URL's username.
func NewMongoBackend(ctx context.Context, rawURL, key string) (*MongoBackend, error) {
	opts := options.Client().ApplyURI(rawURL)
	if key != "" {
		cred := options.Credential{Password: key}
		if opts.Auth != nil {
			cred = *opts.Auth
			cred.Password = key
		}
		opts.SetAuth(cred)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &MongoBackend{
		client:     client,
		collection: client.Database("driftline").Collection("players"),
	}, nil
}

func (m *MongoBackend) Name() string { return "mongo" }

func (m *MongoBackend) Load(ctx context.Context, name string) (Record, string, bool, error) {
	var doc mongoDoc
	err := m.collection.FindOne(ctx, bson.M{"name": name}).Decode(&doc)
	if err == nil {
		return Record{Passcode: doc.Passcode, State: doc.State}, doc.Name, true, nil
	}
	if err != mongo.ErrNoDocuments {
		return Record{}, "", false, fmt.Errorf("mongo find: %w", err)
	}

	pattern := primitive.Regex{Pattern: "^" + regexp.QuoteMeta(name) + "$", Options: "i"}
	err = m.collection.FindOne(ctx, bson.M{"name": pattern}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return Record{}, "", false, nil
	}
	if err != nil {
		return Record{}, "", false, fmt.Errorf("mongo find (fold): %w", err)
	}
	return Record{Passcode: doc.Passcode, State: doc.State}, doc.Name, true, nil
}

func (m *MongoBackend) Save(ctx context.Context, name string, rec Record) error {
	doc := mongoDoc{Name: name, Passcode: rec.Passcode, State: rec.State}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"name": name}, doc, opts); err != nil {
		return fmt.Errorf("mongo replace: %w", err)
	}
	return nil
}

// Close disconnects the underlying client.
func (m *MongoBackend) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
