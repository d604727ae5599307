package classroom

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

const (
	joinCodeLength   = 6
	joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	joinCodeAttempts = 5
)

// Manager owns classroom rosters. Rosters are cached after the first read;
// message and file logs are never cached.
type Manager struct {
	store   interfaces.ClassroomStore
	rosters map[string]*types.Classroom
	mu      sync.RWMutex
}

var _ interfaces.MembershipChecker = (*Manager)(nil)

// NewManager creates a classroom manager over store
func NewManager(store interfaces.ClassroomStore) *Manager {
	return &Manager{
		store:   store,
		rosters: make(map[string]*types.Classroom),
	}
}

// CreateClassroom creates a classroom owned by the calling teacher with a
// fresh join code
func (m *Manager) CreateClassroom(ctx context.Context, identity *types.Identity, req *types.CreateClassroomRequest) (*types.Classroom, error) {
	if identity == nil {
		return nil, types.ErrUnauthenticated
	}
	if !identity.IsTeacher() {
		return nil, fmt.Errorf("%w: %w", types.ErrForbidden, ErrNotTeacher)
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := types.ValidateStruct(req); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		classroom := &types.Classroom{
			ID:         uuid.New().String(),
			Name:       req.Name,
			JoinCode:   newJoinCode(),
			TeacherID:  identity.UserID,
			StudentIDs: []string{},
			CreatedAt:  time.Now().UTC(),
		}

		err := m.store.CreateClassroom(ctx, classroom)
		if errors.Is(err, interfaces.ErrDuplicateJoinCode) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrPersistenceFailed, err)
		}

		m.cache(classroom)
		slog.Info("classroom created", "classroom_id", classroom.ID, "teacher_id", identity.UserID)
		return classroom, nil
	}
	return nil, fmt.Errorf("%w: %w", types.ErrPersistenceFailed, ErrJoinCodeExhausted)
}

// JoinByCode adds the caller to the classroom owning code. Joining a
// classroom one already belongs to succeeds without change.
func (m *Manager) JoinByCode(ctx context.Context, identity *types.Identity, req *types.JoinClassroomRequest) (*types.Classroom, error) {
	if identity == nil {
		return nil, types.ErrUnauthenticated
	}
	req.JoinCode = strings.ToUpper(strings.TrimSpace(req.JoinCode))
	if err := types.ValidateStruct(req); err != nil {
		return nil, err
	}

	classroom, err := m.store.GetClassroomByJoinCode(ctx, req.JoinCode)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if classroom.HasMember(identity.UserID) {
		m.cache(classroom)
		return classroom, nil
	}
	if identity.IsTeacher() {
		return nil, fmt.Errorf("%w: %w", types.ErrForbidden, ErrNotStudent)
	}

	if err := m.store.AddStudent(ctx, classroom.ID, identity.UserID); err != nil {
		return nil, mapStoreError(err)
	}
	m.invalidate(classroom.ID)

	slog.Info("student joined classroom", "classroom_id", classroom.ID, "user_id", identity.UserID)
	return m.GetClassroom(ctx, classroom.ID)
}

// GetClassroom returns the roster of a classroom
func (m *Manager) GetClassroom(ctx context.Context, classroomID string) (*types.Classroom, error) {
	m.mu.RLock()
	if classroom, ok := m.rosters[classroomID]; ok {
		m.mu.RUnlock()
		return classroom, nil
	}
	m.mu.RUnlock()

	classroom, err := m.store.GetClassroom(ctx, classroomID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	m.cache(classroom)
	return classroom, nil
}

// ListForUser returns the classrooms the user teaches or attends
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]*types.Classroom, error) {
	classrooms, err := m.store.ListClassroomsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrPersistenceFailed, err)
	}
	return classrooms, nil
}

// ValidateMembership returns nil when userID is the teacher or a student of
// the classroom, a wrapped ErrNotFound when it does not exist and a wrapped
// ErrForbidden otherwise
func (m *Manager) ValidateMembership(ctx context.Context, classroomID, userID string) error {
	classroom, err := m.GetClassroom(ctx, classroomID)
	if err != nil {
		return err
	}
	if classroom.HasMember(userID) {
		return nil
	}

	// the cached roster may predate a join handled elsewhere
	m.invalidate(classroomID)
	classroom, err = m.GetClassroom(ctx, classroomID)
	if err != nil {
		return err
	}
	if classroom.HasMember(userID) {
		return nil
	}
	return fmt.Errorf("%w: %w", types.ErrForbidden, ErrNotMember)
}

// GetStats returns cache statistics
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"cached_rosters": len(m.rosters),
	}
}

func (m *Manager) cache(classroom *types.Classroom) {
	roster := *classroom
	roster.StudentIDs = append([]string(nil), classroom.StudentIDs...)
	roster.Messages = nil
	roster.Files = nil

	m.mu.Lock()
	m.rosters[classroom.ID] = &roster
	m.mu.Unlock()
}

func (m *Manager) invalidate(classroomID string) {
	m.mu.Lock()
	delete(m.rosters, classroomID)
	m.mu.Unlock()
}

func mapStoreError(err error) error {
	if errors.Is(err, interfaces.ErrClassroomNotFound) {
		return fmt.Errorf("%w: %w", types.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", types.ErrPersistenceFailed, err)
}

// newJoinCode returns a random code over an alphabet without look-alike
// characters
func newJoinCode() string {
	buf := make([]byte, joinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	for i, b := range buf {
		buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(buf)
}
