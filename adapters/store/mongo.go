package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/layer-3/cerberus/core"
	"github.com/layer-3/cerberus/ports"
)

// Collection names. Field names in the bson documents below follow the
// deployed data format.
const (
	usersCollection         = "users"
	sessionsCollection      = "sessions"
	registrationsCollection = "pending_registrations"
)

// MongoStore is the MongoDB implementation of ports.Store. Every method maps
// to a single-document operation; the protocol core relies only on the
// per-document atomicity the driver provides.
type MongoStore struct {
	db *mongo.Database
}

// NewMongoStore wraps an already-connected database handle.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) Users() ports.UserStore {
	return &mongoUsers{c: s.db.Collection(usersCollection)}
}

func (s *MongoStore) Sessions() ports.SessionStore {
	return &mongoSessions{c: s.db.Collection(sessionsCollection)}
}

func (s *MongoStore) Registrations() ports.RegistrationStore {
	return &mongoRegistrations{c: s.db.Collection(registrationsCollection)}
}

type userDoc struct {
	Pseudo     string `bson:"pseudo"`
	Name       string `bson:"name"`
	PublicKey  string `bson:"pkey"`
	TOTPSecret string `bson:"gotp"`
	Challenge  string `bson:"c,omitempty"`
}

type sessionDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Pseudo    string             `bson:"pseudo"`
	Name      string             `bson:"name"`
	Token     string             `bson:"token"`
	IP        string             `bson:"ip"`
	UserAgent string             `bson:"ua"`
	LastUsed  time.Time          `bson:"lastUsed"`
}

type registrationDoc struct {
	GID        string `bson:"gid"`
	Pseudo     string `bson:"pseudo"`
	Name       string `bson:"name"`
	TOTPSecret string `bson:"gotp"`
}

type mongoUsers struct {
	c *mongo.Collection
}

func (s *mongoUsers) FindByPseudo(ctx context.Context, pseudo string) (*core.User, error) {
	var doc userDoc
	err := s.c.FindOne(ctx, bson.M{"pseudo": pseudo}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &core.User{
		Pseudo:           doc.Pseudo,
		Name:             doc.Name,
		PublicKey:        doc.PublicKey,
		TOTPSecret:       doc.TOTPSecret,
		PendingChallenge: doc.Challenge,
	}, nil
}

func (s *mongoUsers) SetChallenge(ctx context.Context, pseudo, challenge string) error {
	// No upsert: an unknown pseudo is a deliberate no-op.
	if _, err := s.c.UpdateOne(ctx, bson.M{"pseudo": pseudo}, bson.M{"$set": bson.M{"c": challenge}}); err != nil {
		return fmt.Errorf("set challenge: %w", err)
	}
	return nil
}

func (s *mongoUsers) ClearChallenge(ctx context.Context, pseudo string) error {
	if _, err := s.c.UpdateOne(ctx, bson.M{"pseudo": pseudo}, bson.M{"$unset": bson.M{"c": true}}); err != nil {
		return fmt.Errorf("clear challenge: %w", err)
	}
	return nil
}

func (s *mongoUsers) Insert(ctx context.Context, user *core.User) error {
	doc := userDoc{
		Pseudo:     user.Pseudo,
		Name:       user.Name,
		PublicKey:  user.PublicKey,
		TOTPSecret: user.TOTPSecret,
		Challenge:  user.PendingChallenge,
	}
	if _, err := s.c.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

type mongoSessions struct {
	c *mongo.Collection
}

func (s *mongoSessions) FindByToken(ctx context.Context, token string) (*core.Session, error) {
	var doc sessionDoc
	err := s.c.FindOne(ctx, bson.M{"token": token}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	sess := doc.toCore()
	return &sess, nil
}

func (s *mongoSessions) Insert(ctx context.Context, session *core.Session) (string, error) {
	doc := sessionDoc{
		Pseudo:    session.Pseudo,
		Name:      session.Name,
		Token:     session.Token,
		IP:        session.IP,
		UserAgent: session.UserAgent,
		LastUsed:  session.LastUsed,
	}
	res, err := s.c.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("insert session: unexpected id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

func (s *mongoSessions) Touch(ctx context.Context, id string, t time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if _, err := s.c.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"lastUsed": t}}); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *mongoSessions) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil // unknown ids delete nothing
	}
	if _, err := s.c.DeleteOne(ctx, bson.M{"_id": oid}); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *mongoSessions) DeleteOwned(ctx context.Context, pseudo, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	// Ownership lives in the predicate: a foreign id matches nothing.
	if _, err := s.c.DeleteOne(ctx, bson.M{"_id": oid, "pseudo": pseudo}); err != nil {
		return fmt.Errorf("delete owned session: %w", err)
	}
	return nil
}

func (s *mongoSessions) DeleteOthers(ctx context.Context, pseudo, exceptID string) error {
	oid, err := primitive.ObjectIDFromHex(exceptID)
	if err != nil {
		return fmt.Errorf("flush sessions: %w", err)
	}
	if _, err := s.c.DeleteMany(ctx, bson.M{"pseudo": pseudo, "_id": bson.M{"$ne": oid}}); err != nil {
		return fmt.Errorf("flush sessions: %w", err)
	}
	return nil
}

func (s *mongoSessions) DeleteIdleSince(ctx context.Context, cutoff time.Time) error {
	if _, err := s.c.DeleteMany(ctx, bson.M{"lastUsed": bson.M{"$lte": cutoff}}); err != nil {
		return fmt.Errorf("reap sessions: %w", err)
	}
	return nil
}

func (s *mongoSessions) ListByPseudo(ctx context.Context, pseudo string) ([]core.Session, error) {
	cur, err := s.c.Find(ctx, bson.M{"pseudo": pseudo})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var docs []sessionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]core.Session, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toCore())
	}
	return out, nil
}

func (d sessionDoc) toCore() core.Session {
	return core.Session{
		ID:        d.ID.Hex(),
		Pseudo:    d.Pseudo,
		Name:      d.Name,
		Token:     d.Token,
		IP:        d.IP,
		UserAgent: d.UserAgent,
		LastUsed:  d.LastUsed,
	}
}

type mongoRegistrations struct {
	c *mongo.Collection
}

func (s *mongoRegistrations) FindByGID(ctx context.Context, gid string) (*core.PendingRegistration, error) {
	var doc registrationDoc
	err := s.c.FindOne(ctx, bson.M{"gid": gid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find registration: %w", err)
	}
	return &core.PendingRegistration{
		GID:        doc.GID,
		Pseudo:     doc.Pseudo,
		Name:       doc.Name,
		TOTPSecret: doc.TOTPSecret,
	}, nil
}

func (s *mongoRegistrations) Claim(ctx context.Context, gid string) (bool, error) {
	res, err := s.c.DeleteOne(ctx, bson.M{"gid": gid})
	if err != nil {
		return false, fmt.Errorf("claim registration: %w", err)
	}
	return res.DeletedCount == 1, nil
}

func (s *mongoRegistrations) Insert(ctx context.Context, reg *core.PendingRegistration) error {
	doc := registrationDoc{
		GID:        reg.GID,
		Pseudo:     reg.Pseudo,
		Name:       reg.Name,
		TOTPSecret: reg.TOTPSecret,
	}
	if _, err := s.c.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}
