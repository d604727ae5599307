package interfaces

import (
	"context"

	"classhub/pkg/types"
)

// ClassroomStore persists classroom documents: roster, message log and file log.
// Appends are atomic with respect to each other so concurrent writers never
// lose entries.
type ClassroomStore interface {
	// CreateClassroom inserts a new classroom; ErrDuplicateJoinCode if the code is taken
	CreateClassroom(ctx context.Context, classroom *types.Classroom) error

	// GetClassroom returns the roster of a classroom without its logs
	GetClassroom(ctx context.Context, classroomID string) (*types.Classroom, error)

	// GetClassroomByJoinCode looks up a classroom by its human-readable code
	GetClassroomByJoinCode(ctx context.Context, joinCode string) (*types.Classroom, error)

	// ListClassroomsForUser returns rosters where the user is teacher or student
	ListClassroomsForUser(ctx context.Context, userID string) ([]*types.Classroom, error)

	// AddStudent adds a student to the roster; adding an existing student is a no-op
	AddStudent(ctx context.Context, classroomID, studentID string) error

	// AppendMessage appends to the message log; ErrClassroomNotFound if absent
	AppendMessage(ctx context.Context, classroomID string, message *types.Message) error

	// AppendFile appends to the file log; ErrClassroomNotFound if absent
	AppendFile(ctx context.Context, classroomID string, entry *types.FileEntry) error

	// ListMessages returns the last limit messages in append order (limit <= 0 means all)
	ListMessages(ctx context.Context, classroomID string, limit int) ([]*types.Message, error)

	// ListFiles returns file entries in append order matching the filter
	ListFiles(ctx context.Context, classroomID string, filter types.FileFilter) ([]*types.FileEntry, error)

	// HealthCheck verifies connectivity
	HealthCheck(ctx context.Context) error

	// Close releases the underlying connections
	Close() error
}

// UserStore is the user directory consulted at login
type UserStore interface {
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, userID string) (*types.User, error)
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
}

// Store is what a storage backend provides
type Store interface {
	ClassroomStore
	UserStore
}
