// Package memstore is an in-process implementation of interfaces.Store used
// for development runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

type classroomRecord struct {
	classroom types.Classroom
	messages  []*types.Message
	files     []*types.FileEntry
}

// Store keeps everything in maps guarded by one mutex
type Store struct {
	mu         sync.RWMutex
	classrooms map[string]*classroomRecord
	joinCodes  map[string]string
	users      map[string]*types.User
	usernames  map[string]string
	closed     bool
}

var _ interfaces.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		classrooms: make(map[string]*classroomRecord),
		joinCodes:  make(map[string]string),
		users:      make(map[string]*types.User),
		usernames:  make(map[string]string),
	}
}

func (s *Store) CreateClassroom(ctx context.Context, classroom *types.Classroom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.joinCodes[classroom.JoinCode]; taken {
		return interfaces.ErrDuplicateJoinCode
	}
	rec := &classroomRecord{classroom: *classroom}
	rec.classroom.StudentIDs = append([]string{}, classroom.StudentIDs...)
	rec.classroom.Messages = nil
	rec.classroom.Files = nil
	rec.messages = append(rec.messages, classroom.Messages...)
	rec.files = append(rec.files, classroom.Files...)

	s.classrooms[classroom.ID] = rec
	s.joinCodes[classroom.JoinCode] = classroom.ID
	return nil
}

func (s *Store) GetClassroom(ctx context.Context, classroomID string) (*types.Classroom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.classrooms[classroomID]
	if !ok {
		return nil, interfaces.ErrClassroomNotFound
	}
	return rec.roster(), nil
}

func (s *Store) GetClassroomByJoinCode(ctx context.Context, joinCode string) (*types.Classroom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.joinCodes[joinCode]
	if !ok {
		return nil, interfaces.ErrClassroomNotFound
	}
	return s.classrooms[id].roster(), nil
}

func (s *Store) ListClassroomsForUser(ctx context.Context, userID string) ([]*types.Classroom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Classroom
	for _, rec := range s.classrooms {
		if rec.classroom.HasMember(userID) {
			out = append(out, rec.roster())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) AddStudent(ctx context.Context, classroomID, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.classrooms[classroomID]
	if !ok {
		return interfaces.ErrClassroomNotFound
	}
	if !rec.classroom.HasMember(studentID) {
		rec.classroom.StudentIDs = append(rec.classroom.StudentIDs, studentID)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, classroomID string, message *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.classrooms[classroomID]
	if !ok {
		return interfaces.ErrClassroomNotFound
	}
	stored := *message
	rec.messages = append(rec.messages, &stored)
	return nil
}

func (s *Store) AppendFile(ctx context.Context, classroomID string, entry *types.FileEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.classrooms[classroomID]
	if !ok {
		return interfaces.ErrClassroomNotFound
	}
	stored := *entry
	rec.files = append(rec.files, &stored)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, classroomID string, limit int) ([]*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.classrooms[classroomID]
	if !ok {
		return nil, interfaces.ErrClassroomNotFound
	}
	msgs := rec.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*types.Message, len(msgs))
	for i, m := range msgs {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) ListFiles(ctx context.Context, classroomID string, filter types.FileFilter) ([]*types.FileEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.classrooms[classroomID]
	if !ok {
		return nil, interfaces.ErrClassroomNotFound
	}
	out := make([]*types.FileEntry, 0, len(rec.files))
	for _, f := range rec.files {
		if filter.Category != "" && f.Category != filter.Category {
			continue
		}
		if filter.Folder != "" && f.Folder != filter.Folder {
			continue
		}
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) CreateUser(ctx context.Context, user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.usernames[user.Username]; taken {
		return interfaces.ErrDuplicateUsername
	}
	cp := *user
	s.users[user.ID] = &cp
	s.usernames[user.Username] = user.ID
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	s.mu.RLock()
	id, ok := s.usernames[username]
	s.mu.RUnlock()
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return interfaces.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (r *classroomRecord) roster() *types.Classroom {
	c := r.classroom
	c.StudentIDs = append([]string{}, r.classroom.StudentIDs...)
	return &c
}
