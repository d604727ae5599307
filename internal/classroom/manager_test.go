package classroom

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classhub/internal/memstore"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

var (
	teacher = &types.Identity{UserID: "t1", Username: "mr_t", Role: types.RoleTeacher}
	student = &types.Identity{UserID: "s1", Username: "ana", Role: types.RoleStudent}
	other   = &types.Identity{UserID: "s2", Username: "ben", Role: types.RoleStudent}
)

// collidingStore rejects the first n join codes
type collidingStore struct {
	*memstore.Store
	collisions int
}

func (c *collidingStore) CreateClassroom(ctx context.Context, classroom *types.Classroom) error {
	if c.collisions > 0 {
		c.collisions--
		return interfaces.ErrDuplicateJoinCode
	}
	return c.Store.CreateClassroom(ctx, classroom)
}

func TestCreateClassroom(t *testing.T) {
	m := NewManager(memstore.New())

	classroom, err := m.CreateClassroom(context.Background(), teacher, &types.CreateClassroomRequest{Name: "  Algebra  "})
	require.NoError(t, err)
	assert.Equal(t, "Algebra", classroom.Name)
	assert.Equal(t, "t1", classroom.TeacherID)
	assert.Len(t, classroom.JoinCode, joinCodeLength)
	for _, r := range classroom.JoinCode {
		assert.True(t, strings.ContainsRune(joinCodeAlphabet, r), "unexpected join code rune %q", r)
	}
	assert.Empty(t, classroom.StudentIDs)
}

func TestCreateClassroom_Rejections(t *testing.T) {
	m := NewManager(memstore.New())
	ctx := context.Background()

	_, err := m.CreateClassroom(ctx, student, &types.CreateClassroomRequest{Name: "Algebra"})
	assert.ErrorIs(t, err, types.ErrForbidden)

	_, err = m.CreateClassroom(ctx, nil, &types.CreateClassroomRequest{Name: "Algebra"})
	assert.ErrorIs(t, err, types.ErrUnauthenticated)

	_, err = m.CreateClassroom(ctx, teacher, &types.CreateClassroomRequest{Name: "   "})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestCreateClassroom_RetriesJoinCodeCollisions(t *testing.T) {
	m := NewManager(&collidingStore{Store: memstore.New(), collisions: 2})
	_, err := m.CreateClassroom(context.Background(), teacher, &types.CreateClassroomRequest{Name: "Algebra"})
	assert.NoError(t, err)

	m = NewManager(&collidingStore{Store: memstore.New(), collisions: joinCodeAttempts})
	_, err = m.CreateClassroom(context.Background(), teacher, &types.CreateClassroomRequest{Name: "Algebra"})
	assert.ErrorIs(t, err, ErrJoinCodeExhausted)
}

func TestJoinByCodeAndMembership(t *testing.T) {
	m := NewManager(memstore.New())
	ctx := context.Background()

	classroom, err := m.CreateClassroom(ctx, teacher, &types.CreateClassroomRequest{Name: "Algebra"})
	require.NoError(t, err)

	// not yet a member; this also caches the roster
	err = m.ValidateMembership(ctx, classroom.ID, student.UserID)
	assert.ErrorIs(t, err, types.ErrForbidden)

	joined, err := m.JoinByCode(ctx, student, &types.JoinClassroomRequest{JoinCode: strings.ToLower(classroom.JoinCode)})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, joined.StudentIDs)

	// joining twice changes nothing
	joined, err = m.JoinByCode(ctx, student, &types.JoinClassroomRequest{JoinCode: classroom.JoinCode})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, joined.StudentIDs)

	assert.NoError(t, m.ValidateMembership(ctx, classroom.ID, student.UserID))
	assert.NoError(t, m.ValidateMembership(ctx, classroom.ID, teacher.UserID))
	assert.ErrorIs(t, m.ValidateMembership(ctx, classroom.ID, other.UserID), types.ErrForbidden)
	assert.ErrorIs(t, m.ValidateMembership(ctx, "missing", student.UserID), types.ErrNotFound)

	_, err = m.JoinByCode(ctx, other, &types.JoinClassroomRequest{JoinCode: "ZZZZZZ"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = m.JoinByCode(ctx, other, &types.JoinClassroomRequest{JoinCode: "bad"})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	// the owner rejoining is fine, another teacher is not a student
	_, err = m.JoinByCode(ctx, teacher, &types.JoinClassroomRequest{JoinCode: classroom.JoinCode})
	assert.NoError(t, err)
	outsider := &types.Identity{UserID: "t2", Username: "ms_x", Role: types.RoleTeacher}
	_, err = m.JoinByCode(ctx, outsider, &types.JoinClassroomRequest{JoinCode: classroom.JoinCode})
	assert.ErrorIs(t, err, ErrNotStudent)
}

func TestValidateMembership_SeesJoinsMadeBehindTheCache(t *testing.T) {
	store := memstore.New()
	m := NewManager(store)
	ctx := context.Background()

	classroom, err := m.CreateClassroom(ctx, teacher, &types.CreateClassroomRequest{Name: "Algebra"})
	require.NoError(t, err)

	require.NoError(t, store.AddStudent(ctx, classroom.ID, "s9"))
	assert.NoError(t, m.ValidateMembership(ctx, classroom.ID, "s9"))
}

func TestListForUser(t *testing.T) {
	m := NewManager(memstore.New())
	ctx := context.Background()

	a, err := m.CreateClassroom(ctx, teacher, &types.CreateClassroomRequest{Name: "A"})
	require.NoError(t, err)
	_, err = m.CreateClassroom(ctx, teacher, &types.CreateClassroomRequest{Name: "B"})
	require.NoError(t, err)
	_, err = m.JoinByCode(ctx, student, &types.JoinClassroomRequest{JoinCode: a.JoinCode})
	require.NoError(t, err)

	mine, err := m.ListForUser(ctx, teacher.UserID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	theirs, err := m.ListForUser(ctx, student.UserID)
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	assert.Equal(t, a.ID, theirs[0].ID)

	assert.Equal(t, 2, m.GetStats()["cached_rosters"])
}
