package ledgerRepo

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

// MongoPaymentLogRepo implements repository.PaymentLogRepository using MongoDB.
// Logs are insert-only.
type MongoPaymentLogRepo struct {
	coll *mongo.Collection
}

func NewMongoPaymentLogRepo() repository.PaymentLogRepository {
	return NewMongoPaymentLogRepoWithDB(database.Database())
}

func NewMongoPaymentLogRepoWithDB(db *mongo.Database) repository.PaymentLogRepository {
	repo := &MongoPaymentLogRepo{coll: db.Collection(database.PaymentLogsCollection)}
	if err := repo.ensureIndexes(); err != nil {
		log.Printf("failed to create payment log indexes: %v", err)
	}
	return repo
}

func (r *MongoPaymentLogRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		// One log per intent and kind: redelivered events collide here.
		{
			Keys:    bson.D{{Key: "stripePaymentIntentId", Value: 1}, {Key: "kind", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_intent_kind"),
		},
		{Keys: bson.D{{Key: "reservationId", Value: 1}}},
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "status", Value: 1}, {Key: "id", Value: 1}}},
	}
	if _, err := r.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (r *MongoPaymentLogRepo) Insert(ctx context.Context, l *models.PaymentLog) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := r.coll.InsertOne(ctx, l); err != nil {
		err = repository.TranslateMongoError(err)
		if err == repository.ErrDuplicate {
			return err
		}
		return fmt.Errorf("failed to insert payment log for %s: %w", l.StripePaymentIntentID, err)
	}
	return nil
}

func (r *MongoPaymentLogRepo) GetByIntent(ctx context.Context, paymentIntentID string, kind models.PaymentLogKind) (*models.PaymentLog, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var l models.PaymentLog
	filter := bson.M{"stripePaymentIntentId": paymentIntentID, "kind": kind}
	if err := r.coll.FindOne(ctx, filter).Decode(&l); err != nil {
		return nil, fmt.Errorf("failed to fetch %s log for %s: %w", kind, paymentIntentID, repository.TranslateMongoError(err))
	}
	return &l, nil
}

func (r *MongoPaymentLogRepo) ListByReservation(ctx context.Context, reservationID string) ([]models.PaymentLog, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := r.coll.Find(ctx, bson.M{"reservationId": reservationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment logs: %w", err)
	}
	defer cursor.Close(ctx)
	var logs []models.PaymentLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("failed to decode payment logs: %w", err)
	}
	return logs, nil
}

func (r *MongoPaymentLogRepo) FindUnreflectedCharges(ctx context.Context, afterID string, limit int) ([]models.PaymentLog, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cursor, err := r.coll.Aggregate(ctx, unreflectedChargesPipeline(afterID, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate charges: %w", err)
	}
	defer cursor.Close(ctx)
	var logs []models.PaymentLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("failed to decode charges: %w", err)
	}
	return logs, nil
}

// unreflectedChargesPipeline joins completed charges with their reservation and
// keeps those whose reservation is missing or not clientPaid.
func unreflectedChargesPipeline(afterID string, limit int) mongo.Pipeline {
	match := bson.M{
		"kind":   models.PaymentKindCharge,
		"status": models.PaymentCompleted,
	}
	if afterID != "" {
		match["id"] = bson.M{"$gt": afterID}
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "id", Value: 1}}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         database.ReservationsCollection,
			"localField":   "reservationId",
			"foreignField": "id",
			"as":           "reservation",
		}}},
		{{Key: "$match", Value: bson.M{"reservation.paymentSecurity.clientPaid": bson.M{"$ne": true}}}},
		{{Key: "$project", Value: bson.M{"reservation": 0}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	return pipeline
}
