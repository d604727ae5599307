package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"classhub/pkg/database"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()

	config := database.DefaultConfig()
	config.DSN = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() {
		if err := manager.Close(); err != nil {
			t.Logf("Failed to close manager: %v", err)
		}
	})

	if err := database.NewMigrationManager(manager.DB(), config.Driver).ApplyMigrations(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return manager
}

func createTestClassroom(t *testing.T, m *Manager, id, code string) *types.Classroom {
	t.Helper()
	classroom := &types.Classroom{
		ID:         id,
		Name:       "Physics " + id,
		JoinCode:   code,
		TeacherID:  "teacher-1",
		StudentIDs: []string{},
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.CreateClassroom(context.Background(), classroom); err != nil {
		t.Fatalf("CreateClassroom failed: %v", err)
	}
	return classroom
}

func TestManager_ClassroomLifecycle(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	createTestClassroom(t, m, "c1", "ABC123")

	got, err := m.GetClassroom(ctx, "c1")
	if err != nil {
		t.Fatalf("GetClassroom failed: %v", err)
	}
	if got.Name != "Physics c1" || got.JoinCode != "ABC123" || got.TeacherID != "teacher-1" {
		t.Errorf("Unexpected classroom: %+v", got)
	}
	if len(got.StudentIDs) != 0 {
		t.Errorf("Expected empty roster, got %v", got.StudentIDs)
	}

	byCode, err := m.GetClassroomByJoinCode(ctx, "ABC123")
	if err != nil {
		t.Fatalf("GetClassroomByJoinCode failed: %v", err)
	}
	if byCode.ID != "c1" {
		t.Errorf("Expected c1 by join code, got %s", byCode.ID)
	}

	if _, err := m.GetClassroom(ctx, "missing"); !errors.Is(err, interfaces.ErrClassroomNotFound) {
		t.Errorf("Expected ErrClassroomNotFound, got %v", err)
	}
}

func TestManager_DuplicateJoinCode(t *testing.T) {
	m := setupTestDB(t)
	createTestClassroom(t, m, "c1", "ABC123")

	err := m.CreateClassroom(context.Background(), &types.Classroom{
		ID: "c2", Name: "Other", JoinCode: "ABC123", TeacherID: "teacher-2", CreatedAt: time.Now(),
	})
	if !errors.Is(err, interfaces.ErrDuplicateJoinCode) {
		t.Errorf("Expected ErrDuplicateJoinCode, got %v", err)
	}
}

func TestManager_AddStudentIsIdempotent(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	createTestClassroom(t, m, "c1", "ABC123")

	for i := 0; i < 3; i++ {
		if err := m.AddStudent(ctx, "c1", "student-1"); err != nil {
			t.Fatalf("AddStudent failed: %v", err)
		}
	}
	if err := m.AddStudent(ctx, "c1", "student-2"); err != nil {
		t.Fatalf("AddStudent failed: %v", err)
	}

	got, err := m.GetClassroom(ctx, "c1")
	if err != nil {
		t.Fatalf("GetClassroom failed: %v", err)
	}
	if len(got.StudentIDs) != 2 || got.StudentIDs[0] != "student-1" || got.StudentIDs[1] != "student-2" {
		t.Errorf("Unexpected roster: %v", got.StudentIDs)
	}

	if err := m.AddStudent(ctx, "missing", "student-1"); !errors.Is(err, interfaces.ErrClassroomNotFound) {
		t.Errorf("Expected ErrClassroomNotFound, got %v", err)
	}
}

func TestManager_ListClassroomsForUser(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	createTestClassroom(t, m, "c1", "AAAAAA")
	createTestClassroom(t, m, "c2", "BBBBBB")
	if err := m.AddStudent(ctx, "c2", "student-1"); err != nil {
		t.Fatalf("AddStudent failed: %v", err)
	}
	// an id that is a prefix of another must not match
	if err := m.AddStudent(ctx, "c1", "student-10"); err != nil {
		t.Fatalf("AddStudent failed: %v", err)
	}

	teacherRooms, err := m.ListClassroomsForUser(ctx, "teacher-1")
	if err != nil {
		t.Fatalf("ListClassroomsForUser failed: %v", err)
	}
	if len(teacherRooms) != 2 {
		t.Errorf("Teacher should see 2 classrooms, got %d", len(teacherRooms))
	}

	studentRooms, err := m.ListClassroomsForUser(ctx, "student-1")
	if err != nil {
		t.Fatalf("ListClassroomsForUser failed: %v", err)
	}
	if len(studentRooms) != 1 || studentRooms[0].ID != "c2" {
		t.Errorf("student-1 should only see c2, got %v", studentRooms)
	}
}

func TestManager_AppendAndListMessages(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	createTestClassroom(t, m, "c1", "ABC123")

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		msg := &types.Message{
			ID:             fmt.Sprintf("m%d", i),
			SenderID:       "student-1",
			SenderUsername: "ana",
			Content:        fmt.Sprintf("message %d", i),
			Type:           types.MessageTypeText,
			Timestamp:      base.Add(time.Duration(i) * time.Second),
		}
		if err := m.AppendMessage(ctx, "c1", msg); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	all, err := m.ListMessages(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("Expected 5 messages, got %d", len(all))
	}
	for i, msg := range all {
		if msg.ID != fmt.Sprintf("m%d", i) {
			t.Errorf("Message %d out of order: %s", i, msg.ID)
		}
	}
	if !all[0].Timestamp.Equal(base) {
		t.Errorf("Timestamp not preserved: %v vs %v", all[0].Timestamp, base)
	}

	last, err := m.ListMessages(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("ListMessages with limit failed: %v", err)
	}
	if len(last) != 2 || last[0].ID != "m3" || last[1].ID != "m4" {
		t.Errorf("Expected last two messages m3,m4 in order, got %v", last)
	}

	err = m.AppendMessage(ctx, "missing", &types.Message{ID: "x", Type: types.MessageTypeText, Timestamp: base})
	if !errors.Is(err, interfaces.ErrClassroomNotFound) {
		t.Errorf("Expected ErrClassroomNotFound, got %v", err)
	}
	if _, err := m.ListMessages(ctx, "missing", 0); !errors.Is(err, interfaces.ErrClassroomNotFound) {
		t.Errorf("Expected ErrClassroomNotFound, got %v", err)
	}
}

func TestManager_ConcurrentAppendsLoseNothing(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	createTestClassroom(t, m, "c1", "ABC123")

	const writers = 40
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- m.AppendMessage(ctx, "c1", &types.Message{
				ID:        fmt.Sprintf("m%d", i),
				SenderID:  "s",
				Content:   "hi",
				Type:      types.MessageTypeText,
				Timestamp: time.Now(),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	messages, err := m.ListMessages(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != writers {
		t.Fatalf("Expected %d messages, got %d", writers, len(messages))
	}
	seen := make(map[string]bool)
	for _, msg := range messages {
		if seen[msg.ID] {
			t.Errorf("Duplicate message %s", msg.ID)
		}
		seen[msg.ID] = true
	}
}

func TestManager_AppendAndFilterFiles(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	createTestClassroom(t, m, "c1", "ABC123")

	entries := []*types.FileEntry{
		{ID: "f1", FileName: "notes.pdf", FileURL: "https://cdn/notes.pdf", FileSize: 1024, FileMimeType: "application/pdf",
			UploadedBy: "student-1", UploaderUsername: "ana", Category: types.CategoryHomework, Folder: "week1", PublicID: "notes_1"},
		{ID: "f2", FileName: "sheet.png", FileURL: "https://cdn/sheet.png", FileSize: 2048, FileMimeType: "image/png",
			UploadedBy: "teacher-1", UploaderUsername: "mr t", Category: types.CategoryExercise, PublicID: "sheet_2"},
		{ID: "f3", FileName: "answers.pdf", FileURL: "https://cdn/answers.pdf", FileSize: 512, FileMimeType: "application/pdf",
			UploadedBy: "teacher-1", UploaderUsername: "mr t", Category: types.CategoryCorrection, Folder: "week1", PublicID: "answers_3"},
	}
	for _, entry := range entries {
		entry.UploadedAt = time.Now().UTC()
		if err := m.AppendFile(ctx, "c1", entry); err != nil {
			t.Fatalf("AppendFile failed: %v", err)
		}
	}

	all, err := m.ListFiles(ctx, "c1", types.FileFilter{})
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "f1" || all[2].ID != "f3" {
		t.Fatalf("Unexpected file listing: %v", all)
	}
	if all[0].Category != types.CategoryHomework || all[0].FileSize != 1024 || all[0].PublicID != "notes_1" {
		t.Errorf("File entry fields not preserved: %+v", all[0])
	}

	homework, err := m.ListFiles(ctx, "c1", types.FileFilter{Category: types.CategoryHomework})
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(homework) != 1 || homework[0].ID != "f1" {
		t.Errorf("Expected only f1 for homework, got %v", homework)
	}

	week1, err := m.ListFiles(ctx, "c1", types.FileFilter{Folder: "week1"})
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(week1) != 2 {
		t.Errorf("Expected 2 files in week1, got %d", len(week1))
	}

	err = m.AppendFile(ctx, "missing", &types.FileEntry{ID: "x", Category: types.CategoryGeneral, UploadedAt: time.Now()})
	if !errors.Is(err, interfaces.ErrClassroomNotFound) {
		t.Errorf("Expected ErrClassroomNotFound, got %v", err)
	}
}

func TestManager_Users(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	user := &types.User{
		ID:           "u1",
		Username:     "ana",
		DisplayName:  "Ana",
		Role:         types.RoleStudent,
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	dup := *user
	dup.ID = "u2"
	if err := m.CreateUser(ctx, &dup); !errors.Is(err, interfaces.ErrDuplicateUsername) {
		t.Errorf("Expected ErrDuplicateUsername, got %v", err)
	}

	got, err := m.GetUserByUsername(ctx, "ana")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if got.ID != "u1" || got.PasswordHash != "hash" || got.Role != types.RoleStudent {
		t.Errorf("Unexpected user: %+v", got)
	}

	if _, err := m.GetUser(ctx, "u1"); err != nil {
		t.Errorf("GetUser failed: %v", err)
	}
	if _, err := m.GetUser(ctx, "nobody"); !errors.Is(err, interfaces.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	m := setupTestDB(t)

	if err := m.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	err := m.AppendMessage(context.Background(), "c1", &types.Message{ID: "x"})
	if !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed after Close, got %v", err)
	}
}
