package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SchemaValidator checks a migrated database against the layout the
// stores expect. It understands both SQLite and Postgres catalogs.
type SchemaValidator struct {
	db     *sqlx.DB
	driver string
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sqlx.DB, driver string) *SchemaValidator {
	return &SchemaValidator{db: db, driver: driver}
}

// requiredColumns lists the columns read or written by the SQL store
var requiredColumns = map[string][]string{
	"users":      {"id", "username", "display_name", "role", "password_hash", "created_at"},
	"classrooms": {"id", "name", "join_code", "teacher_id", "student_ids", "created_at"},
	"classroom_messages": {
		"classroom_id", "seq", "id", "sender_id", "sender_username",
		"content", "type", "attachment_url", "created_at",
	},
	"classroom_files": {
		"classroom_id", "seq", "id", "original_name", "url", "size", "mime_type",
		"uploader_id", "uploader_username", "category", "folder", "provider_id", "uploaded_at",
	},
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"users":              "User directory",
		"classrooms":         "Classroom roster",
		"classroom_messages": "Chat history",
		"classroom_files":    "File deposits",
		"schema_migrations":  "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies every table carries the expected columns
func (v *SchemaValidator) ValidateTableStructure() error {
	for table, columns := range requiredColumns {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_classrooms_join_code":     "Join code lookups",
		"idx_classrooms_teacher":       "Classrooms by teacher",
		"idx_classroom_files_category": "File listing by category",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// tableExists checks if a table exists in the database
func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if v.driver == DriverPostgres {
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
	}

	var count int
	if err := v.db.QueryRow(query, tableName).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// indexExists checks if an index exists in the database
func (v *SchemaValidator) indexExists(indexName string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?"
	if v.driver == DriverPostgres {
		query = "SELECT COUNT(*) FROM pg_indexes WHERE schemaname = current_schema() AND indexname = $1"
	}

	var count int
	if err := v.db.QueryRow(query, indexName).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has every expected column
func (v *SchemaValidator) validateColumns(tableName string, expected []string) error {
	var found []string
	var err error
	if v.driver == DriverPostgres {
		err = v.db.Select(&found,
			"SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1",
			tableName)
	} else {
		err = v.db.Select(&found, "SELECT name FROM pragma_table_info(?)", tableName)
	}
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(found))
	for _, name := range found {
		present[name] = true
	}
	for _, col := range expected {
		if !present[col] {
			return fmt.Errorf("column %s not found", col)
		}
	}
	return nil
}
