package alertRepo

import (
	"context"
	"fmt"
	"log"
	"time"

	"homeclean/database"
	"homeclean/database/repository"
	"homeclean/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoAlertRepo struct {
	coll *mongo.Collection
}

func NewMongoAlertRepo() repository.AlertRepository {
	return NewMongoAlertRepoWithDB(database.Database())
}

func NewMongoAlertRepoWithDB(db *mongo.Database) repository.AlertRepository {
	repo := &MongoAlertRepo{coll: db.Collection(database.AlertLogsCollection)}
	if err := repo.ensureIndexes(); err != nil {
		log.Printf("failed to create alert indexes: %v", err)
	}
	return repo
}

func (r *MongoAlertRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// At most one open alert per type and reference.
	openOpts := options.Index().
		SetUnique(true).
		SetName("uniq_open_alert").
		SetPartialFilterExpression(bson.M{"resolved": false})

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "reference", Value: 1}}, Options: openOpts},
		{Keys: bson.D{{Key: "resolved", Value: 1}, {Key: "severity", Value: 1}, {Key: "createdAt", Value: -1}}},
	}
	if _, err := r.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (r *MongoAlertRepo) Insert(ctx context.Context, a *models.AlertLog) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := r.coll.InsertOne(ctx, a); err != nil {
		err = repository.TranslateMongoError(err)
		if err == repository.ErrDuplicate {
			return err
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (r *MongoAlertRepo) GetByID(ctx context.Context, id string) (*models.AlertLog, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var a models.AlertLog
	if err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to fetch alert %s: %w", id, repository.TranslateMongoError(err))
	}
	return &a, nil
}

func (r *MongoAlertRepo) List(ctx context.Context, q repository.AlertQuery) ([]models.AlertLog, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{}
	if q.Type != "" {
		filter["type"] = q.Type
	}
	if q.Severity != "" {
		filter["severity"] = q.Severity
	}
	if q.Resolved != nil {
		filter["resolved"] = *q.Resolved
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer cursor.Close(ctx)
	var alerts []models.AlertLog
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, fmt.Errorf("failed to decode alerts: %w", err)
	}
	return alerts, nil
}

func (r *MongoAlertRepo) Resolve(ctx context.Context, id, note, resolvedBy string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"id": id, "resolved": false},
		bson.M{"$set": bson.M{
			"resolved":       true,
			"resolutionNote": note,
			"resolvedBy":     resolvedBy,
			"resolvedAt":     at,
		}})
	if err != nil {
		return fmt.Errorf("failed to resolve alert %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		n, err := r.coll.CountDocuments(ctx, bson.M{"id": id})
		if err != nil {
			return fmt.Errorf("failed to check alert %s: %w", id, err)
		}
		if n == 0 {
			return repository.ErrNotFound
		}
		return repository.ErrAlreadyResolved
	}
	return nil
}

func (r *MongoAlertRepo) ResolveOpen(ctx context.Context, alertType models.AlertType, reference, note string, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"type": alertType, "reference": reference, "resolved": false},
		bson.M{"$set": bson.M{
			"resolved":       true,
			"resolutionNote": note,
			"resolvedBy":     "system",
			"resolvedAt":     at,
		}})
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s alert for %s: %w", alertType, reference, err)
	}
	return res.ModifiedCount > 0, nil
}
