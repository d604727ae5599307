// Package mongostore keeps each classroom as one document whose message and
// file logs are embedded arrays grown with $push.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

const (
	classroomsCollection = "classrooms"
	usersCollection      = "users"
)

// Store is the MongoDB implementation of interfaces.Store
type Store struct {
	client     *mongo.Client
	classrooms *mongo.Collection
	users      *mongo.Collection
}

var _ interfaces.Store = (*Store)(nil)

type classroomDoc struct {
	ID         string             `bson:"_id"`
	Name       string             `bson:"name"`
	JoinCode   string             `bson:"joinCode"`
	TeacherID  string             `bson:"teacherId"`
	StudentIDs []string           `bson:"studentIds"`
	Messages   []*types.Message   `bson:"messages"`
	Files      []*types.FileEntry `bson:"files"`
	CreatedAt  time.Time          `bson:"createdAt"`
}

// rosterProjection leaves the embedded logs on the server
var rosterProjection = bson.M{"messages": 0, "files": 0}

// New connects to uri, verifies the connection and ensures indexes
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:     client,
		classrooms: db.Collection(classroomsCollection),
		users:      db.Collection(usersCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.classrooms.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "joinCode", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "teacherId", Value: 1}}},
		{Keys: bson.D{{Key: "studentIds", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create classroom indexes: %w", err)
	}

	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}
	return nil
}

func (s *Store) CreateClassroom(ctx context.Context, classroom *types.Classroom) error {
	_, err := s.classrooms.InsertOne(ctx, toDoc(classroom))
	if mongo.IsDuplicateKeyError(err) {
		return interfaces.ErrDuplicateJoinCode
	}
	if err != nil {
		return fmt.Errorf("failed to insert classroom: %w", err)
	}
	return nil
}

func (s *Store) GetClassroom(ctx context.Context, classroomID string) (*types.Classroom, error) {
	return s.findRoster(ctx, bson.M{"_id": classroomID})
}

func (s *Store) GetClassroomByJoinCode(ctx context.Context, joinCode string) (*types.Classroom, error) {
	return s.findRoster(ctx, bson.M{"joinCode": joinCode})
}

func (s *Store) findRoster(ctx context.Context, filter bson.M) (*types.Classroom, error) {
	var doc classroomDoc
	err := s.classrooms.FindOne(ctx, filter, options.FindOne().SetProjection(rosterProjection)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, interfaces.ErrClassroomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query classroom: %w", err)
	}
	return fromDoc(&doc), nil
}

func (s *Store) ListClassroomsForUser(ctx context.Context, userID string) ([]*types.Classroom, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"teacherId": userID},
		bson.M{"studentIds": userID},
	}}
	opts := options.Find().
		SetProjection(rosterProjection).
		SetSort(bson.D{{Key: "createdAt", Value: -1}})

	cursor, err := s.classrooms.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query classrooms: %w", err)
	}
	var docs []classroomDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode classrooms: %w", err)
	}

	classrooms := make([]*types.Classroom, 0, len(docs))
	for i := range docs {
		classrooms = append(classrooms, fromDoc(&docs[i]))
	}
	return classrooms, nil
}

func (s *Store) AddStudent(ctx context.Context, classroomID, studentID string) error {
	return s.update(ctx, classroomID, bson.M{"$addToSet": bson.M{"studentIds": studentID}})
}

// AppendMessage pushes onto the embedded message log. $push is atomic per
// document so concurrent appends never overwrite each other.
func (s *Store) AppendMessage(ctx context.Context, classroomID string, message *types.Message) error {
	return s.update(ctx, classroomID, bson.M{"$push": bson.M{"messages": message}})
}

func (s *Store) AppendFile(ctx context.Context, classroomID string, entry *types.FileEntry) error {
	return s.update(ctx, classroomID, bson.M{"$push": bson.M{"files": entry}})
}

func (s *Store) update(ctx context.Context, classroomID string, update bson.M) error {
	res, err := s.classrooms.UpdateOne(ctx, bson.M{"_id": classroomID}, update)
	if err != nil {
		return fmt.Errorf("failed to update classroom: %w", err)
	}
	if res.MatchedCount == 0 {
		return interfaces.ErrClassroomNotFound
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, classroomID string, limit int) ([]*types.Message, error) {
	var doc classroomDoc
	err := s.classrooms.FindOne(ctx, bson.M{"_id": classroomID},
		options.FindOne().SetProjection(messagesProjection(limit))).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, interfaces.ErrClassroomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	if doc.Messages == nil {
		return []*types.Message{}, nil
	}
	return doc.Messages, nil
}

func (s *Store) ListFiles(ctx context.Context, classroomID string, filter types.FileFilter) ([]*types.FileEntry, error) {
	var doc classroomDoc
	err := s.classrooms.FindOne(ctx, bson.M{"_id": classroomID},
		options.FindOne().SetProjection(bson.M{"files": 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, interfaces.ErrClassroomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	return filterFiles(doc.Files, filter), nil
}

func (s *Store) CreateUser(ctx context.Context, user *types.User) error {
	_, err := s.users.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return interfaces.ErrDuplicateUsername
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*types.User, error) {
	return s.findUser(ctx, bson.M{"_id": userID})
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (*types.User, error) {
	var user types.User
	err := s.users.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, interfaces.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo ping failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// messagesProjection selects the whole log, or its last limit entries
func messagesProjection(limit int) bson.M {
	if limit > 0 {
		return bson.M{"messages": bson.M{"$slice": -limit}}
	}
	return bson.M{"messages": 1}
}

func filterFiles(files []*types.FileEntry, filter types.FileFilter) []*types.FileEntry {
	out := make([]*types.FileEntry, 0, len(files))
	for _, f := range files {
		if filter.Category != "" && f.Category != filter.Category {
			continue
		}
		if filter.Folder != "" && f.Folder != filter.Folder {
			continue
		}
		out = append(out, f)
	}
	return out
}

func toDoc(c *types.Classroom) *classroomDoc {
	doc := &classroomDoc{
		ID:         c.ID,
		Name:       c.Name,
		JoinCode:   c.JoinCode,
		TeacherID:  c.TeacherID,
		StudentIDs: c.StudentIDs,
		Messages:   c.Messages,
		Files:      c.Files,
		CreatedAt:  c.CreatedAt.UTC(),
	}
	if doc.StudentIDs == nil {
		doc.StudentIDs = []string{}
	}
	if doc.Messages == nil {
		doc.Messages = []*types.Message{}
	}
	if doc.Files == nil {
		doc.Files = []*types.FileEntry{}
	}
	return doc
}

func fromDoc(d *classroomDoc) *types.Classroom {
	c := &types.Classroom{
		ID:         d.ID,
		Name:       d.Name,
		JoinCode:   d.JoinCode,
		TeacherID:  d.TeacherID,
		StudentIDs: d.StudentIDs,
		CreatedAt:  d.CreatedAt,
	}
	if c.StudentIDs == nil {
		c.StudentIDs = []string{}
	}
	return c
}
