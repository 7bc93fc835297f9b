package providerRepo

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

// MongoProviderRepo reads payout destinations and keeps provider earnings.
// Provider onboarding writes the rest of the document elsewhere.
type MongoProviderRepo struct {
	coll *mongo.Collection
}

func NewMongoProviderRepo() repository.ProviderRepository {
	return NewMongoProviderRepoWithDB(database.Database())
}

func NewMongoProviderRepoWithDB(db *mongo.Database) repository.ProviderRepository {
	repo := &MongoProviderRepo{coll: db.Collection(database.ProvidersCollection)}
	if err := repo.ensureIndexes(); err != nil {
		log.Printf("failed to create provider indexes: %v", err)
	}
	return repo
}

// ensureIndexes creates indexes for frequently used fields in queries.
func (r *MongoProviderRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Partial index: only providers that started Stripe onboarding
	accountOpts := options.Index().SetPartialFilterExpression(bson.M{
		"paymentDetails.stripeAccountID": bson.M{"$exists": true},
	})
	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "paymentDetails.stripeAccountID", Value: 1}}, Options: accountOpts},
	}
	if _, err := r.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (r *MongoProviderRepo) GetByID(ctx context.Context, id string) (*models.Provider, error) {
	return r.findOne(ctx, bson.M{"id": id})
}

func (r *MongoProviderRepo) GetByStripeAccount(ctx context.Context, accountID string) (*models.Provider, error) {
	return r.findOne(ctx, bson.M{"paymentDetails.stripeAccountID": accountID})
}

func (r *MongoProviderRepo) findOne(ctx context.Context, filter bson.M) (*models.Provider, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	projection := bson.M{"id": 1, "profile": 1, "paymentDetails": 1, "earnings": 1, "createdAt": 1, "updatedAt": 1}
	var provider models.Provider
	if err := r.coll.FindOne(ctx, filter, options.FindOne().SetProjection(projection)).Decode(&provider); err != nil {
		return nil, fmt.Errorf("failed to fetch provider %v: %w", filter, repository.TranslateMongoError(err))
	}
	return &provider, nil
}

func (r *MongoProviderRepo) SetPayoutVerified(ctx context.Context, id string, verified bool) error {
	return r.update(ctx, id, bson.M{"$set": bson.M{
		"paymentDetails.stripeVerified": verified,
		"paymentDetails.lastUpdated":    time.Now(),
		"updatedAt":                     time.Now(),
	}})
}

func (r *MongoProviderRepo) AddEarnings(ctx context.Context, id string, pendingDelta, paidDelta int64) error {
	return r.update(ctx, id, bson.M{
		"$inc": bson.M{
			"earnings.pendingEarnings": pendingDelta,
			"earnings.paidEarnings":    paidDelta,
		},
		"$set": bson.M{"updatedAt": time.Now()},
	})
}

func (r *MongoProviderRepo) update(ctx context.Context, id string, update bson.M) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	result, err := r.coll.UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update provider with id %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}
