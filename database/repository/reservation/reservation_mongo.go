package reservationRepo

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

// MongoReservationRepo implements repository.ReservationRepository using MongoDB.
type MongoReservationRepo struct {
	coll *mongo.Collection
}

func NewMongoReservationRepo() repository.ReservationRepository {
	return NewMongoReservationRepoWithDB(database.Database())
}

func NewMongoReservationRepoWithDB(db *mongo.Database) repository.ReservationRepository {
	repo := &MongoReservationRepo{coll: db.Collection(database.ReservationsCollection)}
	if err := repo.ensureIndexes(); err != nil {
		log.Printf("failed to create reservation indexes: %v", err)
	}
	return repo
}

func (r *MongoReservationRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Only reservations that reached checkout carry an intent id.
	intentOpts := options.Index().SetPartialFilterExpression(bson.M{
		"paymentSecurity.stripePaymentIntentId": bson.M{"$exists": true},
	})
	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "paymentSecurity.stripePaymentIntentId", Value: 1}}, Options: intentOpts},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "paymentSecurity.clientPaid", Value: 1}}},
		{Keys: bson.D{{Key: "providerId", Value: 1}, {Key: "paymentSecurity.providerPaid", Value: 1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: 1}}},
	}
	if _, err := r.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (r *MongoReservationRepo) Create(ctx context.Context, res *models.Reservation) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := r.coll.InsertOne(ctx, res); err != nil {
		return fmt.Errorf("failed to create reservation %s: %w", res.ID, repository.TranslateMongoError(err))
	}
	return nil
}

func (r *MongoReservationRepo) GetByID(ctx context.Context, id string) (*models.Reservation, error) {
	return r.findOne(ctx, bson.M{"id": id})
}

func (r *MongoReservationRepo) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Reservation, error) {
	return r.findOne(ctx, bson.M{"paymentSecurity.stripePaymentIntentId": paymentIntentID})
}

func (r *MongoReservationRepo) findOne(ctx context.Context, filter bson.M) (*models.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var res models.Reservation
	if err := r.coll.FindOne(ctx, filter).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to fetch reservation %v: %w", filter, repository.TranslateMongoError(err))
	}
	return &res, nil
}

func (r *MongoReservationRepo) Update(ctx context.Context, res *models.Reservation, expectedVersion int64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res.Version = expectedVersion + 1
	filter := bson.M{"id": res.ID, "version": expectedVersion}
	result, err := r.coll.ReplaceOne(ctx, filter, res)
	if err != nil {
		res.Version = expectedVersion
		return fmt.Errorf("failed to update reservation %s: %w", res.ID, repository.TranslateMongoError(err))
	}
	if result.MatchedCount == 0 {
		res.Version = expectedVersion
		n, err := r.coll.CountDocuments(ctx, bson.M{"id": res.ID})
		if err != nil {
			return fmt.Errorf("failed to check reservation %s: %w", res.ID, err)
		}
		if n == 0 {
			return repository.ErrNotFound
		}
		return repository.ErrVersionConflict
	}
	return nil
}

func (r *MongoReservationRepo) Find(ctx context.Context, q repository.ReservationQuery) ([]models.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cursor, err := r.coll.Find(ctx, reservationFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Reservation
	for cursor.Next(ctx) {
		var res models.Reservation
		if err := cursor.Decode(&res); err != nil {
			return nil, fmt.Errorf("failed to decode reservation: %w", err)
		}
		out = append(out, res)
	}
	return out, cursor.Err()
}

func reservationFilter(q repository.ReservationQuery) bson.M {
	filter := bson.M{}
	if len(q.Statuses) > 0 {
		filter["status"] = bson.M{"$in": q.Statuses}
	}
	if q.NonCanonicalStatus {
		filter["status"] = bson.M{"$nin": models.AllStatuses}
	}
	if q.ProviderID != "" {
		filter["providerId"] = q.ProviderID
	}
	if q.ClientPaid != nil {
		filter["paymentSecurity.clientPaid"] = *q.ClientPaid
	}
	if q.ProofValidated != nil {
		filter["executionProof.validated"] = *q.ProofValidated
	}
	if q.ProviderPaid != nil {
		filter["paymentSecurity.providerPaid"] = *q.ProviderPaid
	}
	if q.Blocked != nil {
		filter["fraudDetection.blocked"] = *q.Blocked
	}
	if q.HasPaymentIntent {
		filter["paymentSecurity.stripePaymentIntentId"] = bson.M{"$exists": true, "$ne": ""}
	}
	if q.PaidMismatch {
		filter["$expr"] = bson.M{"$ne": bson.A{"$paid", "$paymentSecurity.clientPaid"}}
	}
	if !q.UpdatedBefore.IsZero() {
		filter["updatedAt"] = bson.M{"$lt": q.UpdatedBefore}
	}
	if q.AfterID != "" {
		filter["id"] = bson.M{"$gt": q.AfterID}
	}
	return filter
}
