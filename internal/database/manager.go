package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	dbconfig "classhub/pkg/database"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Manager is the SQL implementation of interfaces.Store. Reads go straight
// to the pool; every write is funnelled through one goroutine so appends
// compute their sequence numbers without racing.
type Manager struct {
	db           *sqlx.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

var _ interfaces.Store = (*Manager)(nil)

type writeOperation struct {
	ctx       context.Context
	operation func(ctx context.Context, db *sqlx.DB) error
	result    chan error
}

type classroomRow struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	JoinCode   string    `db:"join_code"`
	TeacherID  string    `db:"teacher_id"`
	StudentIDs string    `db:"student_ids"`
	CreatedAt  time.Time `db:"created_at"`
}

type messageRow struct {
	ID             string    `db:"id"`
	SenderID       string    `db:"sender_id"`
	SenderUsername string    `db:"sender_username"`
	Content        string    `db:"content"`
	Type           string    `db:"type"`
	AttachmentURL  string    `db:"attachment_url"`
	CreatedAt      time.Time `db:"created_at"`
}

type fileRow struct {
	ID               string    `db:"id"`
	OriginalName     string    `db:"original_name"`
	URL              string    `db:"url"`
	Size             int64     `db:"size"`
	MimeType         string    `db:"mime_type"`
	UploaderID       string    `db:"uploader_id"`
	UploaderUsername string    `db:"uploader_username"`
	Category         string    `db:"category"`
	Folder           string    `db:"folder"`
	ProviderID       string    `db:"provider_id"`
	UploadedAt       time.Time `db:"uploaded_at"`
}

// NewManager opens the configured database and starts the writer goroutine.
// Migrations are applied separately through pkg/database.MigrationManager.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(op.ctx, m.db)
			if err != nil {
				slog.Warn("database write failed", "error", err)
			}
			op.result <- err

		case <-m.shutdown:
			slog.Info("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for its result
func (m *Manager) executeWrite(ctx context.Context, operation func(ctx context.Context, db *sqlx.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// withTx runs fn inside a transaction that is rolled back unless fn succeeds
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateClassroom inserts a new classroom roster
func (m *Manager) CreateClassroom(ctx context.Context, classroom *types.Classroom) error {
	studentIDs := classroom.StudentIDs
	if studentIDs == nil {
		studentIDs = []string{}
	}
	studentIDsJSON, err := json.Marshal(studentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal student IDs: %w", err)
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		query := db.Rebind(`
			INSERT INTO classrooms (id, name, join_code, teacher_id, student_ids, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		_, err := db.ExecContext(ctx, query,
			classroom.ID,
			classroom.Name,
			classroom.JoinCode,
			classroom.TeacherID,
			string(studentIDsJSON),
			classroom.CreatedAt.UTC(),
		)
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicateJoinCode
		}
		if err != nil {
			return fmt.Errorf("failed to insert classroom: %w", err)
		}
		return nil
	})
}

// GetClassroom returns the roster of a classroom
func (m *Manager) GetClassroom(ctx context.Context, classroomID string) (*types.Classroom, error) {
	return m.getClassroom(ctx, "id", classroomID)
}

// GetClassroomByJoinCode returns the roster of the classroom owning joinCode
func (m *Manager) GetClassroomByJoinCode(ctx context.Context, joinCode string) (*types.Classroom, error) {
	return m.getClassroom(ctx, "join_code", joinCode)
}

func (m *Manager) getClassroom(ctx context.Context, column, value string) (*types.Classroom, error) {
	query := m.db.Rebind(`
		SELECT id, name, join_code, teacher_id, student_ids, created_at
		FROM classrooms
		WHERE ` + column + ` = ?
	`)

	var row classroomRow
	if err := m.db.GetContext(ctx, &row, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrClassroomNotFound
		}
		return nil, fmt.Errorf("failed to query classroom: %w", err)
	}
	return row.toClassroom()
}

// ListClassroomsForUser returns the rosters the user teaches or attends,
// newest first
func (m *Manager) ListClassroomsForUser(ctx context.Context, userID string) ([]*types.Classroom, error) {
	query := m.db.Rebind(`
		SELECT id, name, join_code, teacher_id, student_ids, created_at
		FROM classrooms
		WHERE teacher_id = ? OR student_ids LIKE ?
		ORDER BY created_at DESC
	`)

	var rows []classroomRow
	if err := m.db.SelectContext(ctx, &rows, query, userID, "%"+jsonQuote(userID)+"%"); err != nil {
		return nil, fmt.Errorf("failed to query classrooms: %w", err)
	}

	classrooms := make([]*types.Classroom, 0, len(rows))
	for _, row := range rows {
		classroom, err := row.toClassroom()
		if err != nil {
			return nil, err
		}
		// LIKE is a prefilter; membership is decided on the decoded roster
		if classroom.HasMember(userID) {
			classrooms = append(classrooms, classroom)
		}
	}
	return classrooms, nil
}

// AddStudent adds studentID to the roster. Existing members are left as is.
func (m *Manager) AddStudent(ctx context.Context, classroomID, studentID string) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return withTx(ctx, db, func(tx *sqlx.Tx) error {
			var row classroomRow
			err := tx.GetContext(ctx, &row, tx.Rebind(`
				SELECT id, name, join_code, teacher_id, student_ids, created_at
				FROM classrooms WHERE id = ?
			`), classroomID)
			if errors.Is(err, sql.ErrNoRows) {
				return interfaces.ErrClassroomNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to query classroom: %w", err)
			}

			classroom, err := row.toClassroom()
			if err != nil {
				return err
			}
			if classroom.HasMember(studentID) {
				return nil
			}

			studentIDsJSON, err := json.Marshal(append(classroom.StudentIDs, studentID))
			if err != nil {
				return fmt.Errorf("failed to marshal student IDs: %w", err)
			}
			_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE classrooms SET student_ids = ? WHERE id = ?`),
				string(studentIDsJSON), classroomID)
			if err != nil {
				return fmt.Errorf("failed to update roster: %w", err)
			}
			return nil
		})
	})
}

// AppendMessage appends message to the classroom's message log
func (m *Manager) AppendMessage(ctx context.Context, classroomID string, message *types.Message) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return withTx(ctx, db, func(tx *sqlx.Tx) error {
			if err := classroomExists(ctx, tx, classroomID); err != nil {
				return err
			}

			seq, err := nextSeq(ctx, tx, "classroom_messages", classroomID)
			if err != nil {
				return err
			}

			query := tx.Rebind(`
				INSERT INTO classroom_messages
					(classroom_id, seq, id, sender_id, sender_username, content, type, attachment_url, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`)
			_, err = tx.ExecContext(ctx, query,
				classroomID,
				seq,
				message.ID,
				message.SenderID,
				message.SenderUsername,
				message.Content,
				message.Type,
				message.AttachmentURL,
				message.Timestamp.UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to append message: %w", err)
			}
			return nil
		})
	})
}

// AppendFile appends entry to the classroom's file log
func (m *Manager) AppendFile(ctx context.Context, classroomID string, entry *types.FileEntry) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return withTx(ctx, db, func(tx *sqlx.Tx) error {
			if err := classroomExists(ctx, tx, classroomID); err != nil {
				return err
			}

			seq, err := nextSeq(ctx, tx, "classroom_files", classroomID)
			if err != nil {
				return err
			}

			query := tx.Rebind(`
				INSERT INTO classroom_files
					(classroom_id, seq, id, original_name, url, size, mime_type,
					 uploader_id, uploader_username, category, folder, provider_id, uploaded_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`)
			_, err = tx.ExecContext(ctx, query,
				classroomID,
				seq,
				entry.ID,
				entry.FileName,
				entry.FileURL,
				entry.FileSize,
				entry.FileMimeType,
				entry.UploadedBy,
				entry.UploaderUsername,
				entry.Category,
				entry.Folder,
				entry.PublicID,
				entry.UploadedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to append file entry: %w", err)
			}
			return nil
		})
	})
}

// ListMessages returns the last limit messages of a classroom in append
// order. A limit of zero or less returns the whole log.
func (m *Manager) ListMessages(ctx context.Context, classroomID string, limit int) ([]*types.Message, error) {
	if err := classroomExists(ctx, m.db, classroomID); err != nil {
		return nil, err
	}

	columns := `id, sender_id, sender_username, content, type, attachment_url, created_at, seq`
	var query string
	var args []interface{}
	if limit > 0 {
		query = `SELECT ` + columns + ` FROM (
				SELECT ` + columns + ` FROM classroom_messages
				WHERE classroom_id = ? ORDER BY seq DESC LIMIT ?
			) AS recent ORDER BY seq ASC`
		args = []interface{}{classroomID, limit}
	} else {
		query = `SELECT ` + columns + ` FROM classroom_messages WHERE classroom_id = ? ORDER BY seq ASC`
		args = []interface{}{classroomID}
	}

	var rows []struct {
		messageRow
		Seq int64 `db:"seq"`
	}
	if err := m.db.SelectContext(ctx, &rows, m.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	messages := make([]*types.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.messageRow.toMessage())
	}
	return messages, nil
}

// ListFiles returns the classroom's file entries in append order, narrowed
// by filter
func (m *Manager) ListFiles(ctx context.Context, classroomID string, filter types.FileFilter) ([]*types.FileEntry, error) {
	if err := classroomExists(ctx, m.db, classroomID); err != nil {
		return nil, err
	}

	var where strings.Builder
	args := []interface{}{classroomID}
	where.WriteString("classroom_id = ?")
	if filter.Category != "" {
		where.WriteString(" AND category = ?")
		args = append(args, filter.Category)
	}
	if filter.Folder != "" {
		where.WriteString(" AND folder = ?")
		args = append(args, filter.Folder)
	}

	query := m.db.Rebind(`
		SELECT id, original_name, url, size, mime_type, uploader_id, uploader_username,
			category, folder, provider_id, uploaded_at
		FROM classroom_files
		WHERE ` + where.String() + `
		ORDER BY seq ASC
	`)

	var rows []fileRow
	if err := m.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}

	files := make([]*types.FileEntry, 0, len(rows))
	for _, row := range rows {
		files = append(files, row.toFileEntry())
	}
	return files, nil
}

// CreateUser inserts a user; ErrDuplicateUsername if the name is taken
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO users (id, username, display_name, role, password_hash, created_at)
			VALUES (:id, :username, :display_name, :role, :password_hash, :created_at)
		`, user)
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicateUsername
		}
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// GetUser returns a user by id
func (m *Manager) GetUser(ctx context.Context, userID string) (*types.User, error) {
	return m.getUser(ctx, "id", userID)
}

// GetUserByUsername returns a user by login name
func (m *Manager) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	return m.getUser(ctx, "username", username)
}

func (m *Manager) getUser(ctx context.Context, column, value string) (*types.User, error) {
	query := m.db.Rebind(`
		SELECT id, username, display_name, role, password_hash, created_at
		FROM users WHERE ` + column + ` = ?
	`)

	var user types.User
	if err := m.db.GetContext(ctx, &user, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM classrooms"); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB returns the underlying connection pool for migrations
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// Driver returns the database/sql driver name in use
func (m *Manager) Driver() string {
	return m.config.Driver
}

// Close stops the writer and closes the pool. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func classroomExists(ctx context.Context, q sqlx.QueryerContext, classroomID string) error {
	var count int
	query := sqlx.Rebind(sqlx.BindType(driverNameOf(q)), `SELECT COUNT(*) FROM classrooms WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q, &count, query, classroomID); err != nil {
		return fmt.Errorf("failed to query classroom: %w", err)
	}
	if count == 0 {
		return interfaces.ErrClassroomNotFound
	}
	return nil
}

// nextSeq returns the next append position in table for classroomID. The
// writer loop and the enclosing transaction keep it race free.
func nextSeq(ctx context.Context, tx *sqlx.Tx, table, classroomID string) (int64, error) {
	var seq int64
	query := tx.Rebind(`SELECT COALESCE(MAX(seq), 0) + 1 FROM ` + table + ` WHERE classroom_id = ?`)
	if err := tx.GetContext(ctx, &seq, query, classroomID); err != nil {
		return 0, fmt.Errorf("failed to read sequence of %s: %w", table, err)
	}
	return seq, nil
}

func driverNameOf(q sqlx.QueryerContext) string {
	switch v := q.(type) {
	case *sqlx.DB:
		return v.DriverName()
	case *sqlx.Tx:
		return v.DriverName()
	}
	return dbconfig.DriverSQLite
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (r classroomRow) toClassroom() (*types.Classroom, error) {
	classroom := &types.Classroom{
		ID:        r.ID,
		Name:      r.Name,
		JoinCode:  r.JoinCode,
		TeacherID: r.TeacherID,
		CreatedAt: r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.StudentIDs), &classroom.StudentIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal student IDs: %w", err)
	}
	if classroom.StudentIDs == nil {
		classroom.StudentIDs = []string{}
	}
	return classroom, nil
}

func (r messageRow) toMessage() *types.Message {
	return &types.Message{
		ID:             r.ID,
		SenderID:       r.SenderID,
		SenderUsername: r.SenderUsername,
		Content:        r.Content,
		Type:           r.Type,
		AttachmentURL:  r.AttachmentURL,
		Timestamp:      r.CreatedAt,
	}
}

func (r fileRow) toFileEntry() *types.FileEntry {
	return &types.FileEntry{
		ID:               r.ID,
		FileName:         r.OriginalName,
		FileURL:          r.URL,
		FileSize:         r.Size,
		FileMimeType:     r.MimeType,
		UploadedBy:       r.UploaderID,
		UploaderUsername: r.UploaderUsername,
		Category:         r.Category,
		Folder:           r.Folder,
		PublicID:         r.ProviderID,
		UploadedAt:       r.UploadedAt,
	}
}
