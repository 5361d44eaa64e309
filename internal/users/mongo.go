package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CollectionName is the MongoDB collection holding user documents.
const CollectionName = "users"

const (
	emailIndexName      = "users_email_key"
	usernameIndexName   = "users_username_key"
	resetTokenIndexName = "users_reset_password_token_key"
)

// MongoStore implements Store on a MongoDB collection.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore creates a MongoStore backed by the users collection of db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(CollectionName)}
}

// EnsureIndexes creates the unique indexes the store relies on. It is
// idempotent and safe to run on every deploy.
func (m *MongoStore) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(emailIndexName),
		},
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(usernameIndexName),
		},
		{
			Keys:    bson.D{{Key: "reset_password_token", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName(resetTokenIndexName),
		},
	}
	if _, err := m.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func (m *MongoStore) Create(ctx context.Context, u *User) error {
	if _, err := m.coll.InsertOne(ctx, u); err != nil {
		if dup := mongoDuplicateError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (m *MongoStore) GetByID(ctx context.Context, id string) (*User, error) {
	return m.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (m *MongoStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return m.findOne(ctx, bson.D{{Key: "email", Value: NormalizeEmail(email)}})
}

func (m *MongoStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	return m.findOne(ctx, bson.D{{Key: "username", Value: username}})
}

func (m *MongoStore) GetByLogin(ctx context.Context, identifier string) (*User, error) {
	if IsEmailIdentifier(identifier) {
		return m.GetByEmail(ctx, identifier)
	}
	return m.GetByUsername(ctx, identifier)
}

func (m *MongoStore) FindConflicts(ctx context.Context, email, username string) ([]*User, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "email", Value: NormalizeEmail(email)}},
		bson.D{{Key: "username", Value: username}},
	}}}
	cur, err := m.coll.Find(ctx, filter, options.Find().SetLimit(2))
	if err != nil {
		return nil, fmt.Errorf("find conflicts: %w", err)
	}
	var out []*User
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode conflicts: %w", err)
	}
	return out, nil
}

func (m *MongoStore) GetByResetToken(ctx context.Context, token string, now time.Time) (*User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return m.findOne(ctx, bson.D{
		{Key: "reset_password_token", Value: token},
		{Key: "reset_password_expires", Value: bson.D{{Key: "$gt", Value: now}}},
	})
}

func (m *MongoStore) Update(ctx context.Context, u *User) error {
	res, err := m.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: u.ID}}, u)
	if err != nil {
		if dup := mongoDuplicateError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("replace user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoStore) Delete(ctx context.Context, id string) error {
	res, err := m.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (m *MongoStore) Ping(ctx context.Context) error {
	return m.coll.Database().Client().Ping(ctx, nil)
}

func (m *MongoStore) findOne(ctx context.Context, filter bson.D) (*User, error) {
	var u User
	if err := m.coll.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !u.Role.Valid() {
		return nil, fmt.Errorf("user %s: unknown role %q", u.ID, u.Role)
	}
	return &u, nil
}

// mongoDuplicateError maps an E11000 error onto the sentinel for the index
// that rejected the write.
func mongoDuplicateError(err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, emailIndexName):
		return ErrDuplicateEmail
	case strings.Contains(msg, usernameIndexName):
		return ErrDuplicateUsername
	}
	return nil
}
