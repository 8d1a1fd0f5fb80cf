package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bosocmputer/lab_report_reconciler/configs"
	"github.com/bosocmputer/lab_report_reconciler/internal/logging"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var mongoClient *mongo.Client
var mongoDB *mongo.Database

// DictionaryEntry is one document of the dictionary collection.
type DictionaryEntry struct {
	Name  string `bson:"name" json:"name"`
	Order int    `bson:"order" json:"order"`
}

// InitMongoDB initializes MongoDB connection
func InitMongoDB() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(configs.MONGO_URI)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	mongoClient = client
	mongoDB = client.Database(configs.MONGO_DB_NAME)

	logging.L().Info("✅ Connected to MongoDB", zap.String("database", configs.MONGO_DB_NAME))
	return nil
}

// GetMongoDB returns the MongoDB database instance
func GetMongoDB() *mongo.Database {
	return mongoDB
}

// CloseMongoDB closes MongoDB connection
func CloseMongoDB() {
	if mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(ctx); err != nil {
			logging.L().Warn("MongoDB disconnect failed", zap.Error(err))
			return
		}
		logging.L().Info("MongoDB connection closed")
	}
}

// GetDictionaryNames reads every test name from the dictionary collection in stored order.
func GetDictionaryNames(ctx context.Context, collectionName string) ([]string, error) {
	if mongoDB == nil {
		return nil, fmt.Errorf("MongoDB is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	findOptions := options.Find().
		SetProjection(bson.M{"name": 1, "order": 1}).
		SetSort(bson.D{{Key: "order", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := mongoDB.Collection(collectionName).Find(ctx, bson.M{}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collectionName, err)
	}
	defer cursor.Close(ctx)

	var entries []DictionaryEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", collectionName, err)
	}
	return entryNames(entries), nil
}

// ReplaceDictionaryNames overwrites the dictionary collection with names, keeping their order.
func ReplaceDictionaryNames(ctx context.Context, collectionName string, names []string) (int, error) {
	if mongoDB == nil {
		return 0, fmt.Errorf("MongoDB is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	docs := entryDocuments(names)
	collection := mongoDB.Collection(collectionName)
	if _, err := collection.DeleteMany(ctx, bson.M{}); err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", collectionName, err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	result, err := collection.InsertMany(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("failed to insert into %s: %w", collectionName, err)
	}
	return len(result.InsertedIDs), nil
}

func entryNames(entries []DictionaryEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if name := strings.TrimSpace(e.Name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func entryDocuments(names []string) []interface{} {
	docs := make([]interface{}, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		docs = append(docs, DictionaryEntry{Name: name, Order: len(docs)})
	}
	return docs
}
