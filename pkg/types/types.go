package types

import (
	"encoding/json"
	"time"
)

// Message type constants accepted on the chat channel
const (
	MessageTypeText  = "text"
	MessageTypeMath  = "math"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// File categories accepted by the deposit pipeline
const (
	CategoryExercise   = "exercise"
	CategoryHomework   = "homework"
	CategoryCorrection = "correction"
	CategoryGeneral    = "general"
)

// Roles carried by a session identity
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Realtime event names
const (
	EventJoinRoom    = "joinRoom"
	EventChatMessage = "chatMessage"
	EventMessage     = "message"
	EventHistory     = "history"
	EventFileAdded   = "fileAdded"
)

// Identity is the session-derived identity attached to a connection or request.
// It is captured once and never mutated afterwards.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// IsTeacher reports whether the identity carries the teacher role
func (i *Identity) IsTeacher() bool {
	return i != nil && i.Role == RoleTeacher
}

// User is an account in the user directory
type User struct {
	ID           string    `json:"id" db:"id" bson:"_id"`
	Username     string    `json:"username" db:"username" bson:"username"`
	DisplayName  string    `json:"displayName" db:"display_name" bson:"displayName"`
	Role         string    `json:"role" db:"role" bson:"role"`
	PasswordHash string    `json:"-" db:"password_hash" bson:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at" bson:"createdAt"`
}

// Identity returns the session identity for the user
func (u *User) Identity() *Identity {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return &Identity{UserID: u.ID, Username: name, Role: u.Role}
}

// Classroom is the aggregate record for one teaching group.
// Messages and Files are append-only and ordered by append order.
type Classroom struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	JoinCode   string       `json:"joinCode"`
	TeacherID  string       `json:"teacherId"`
	StudentIDs []string     `json:"studentIds"`
	Messages   []*Message   `json:"messages,omitempty"`
	Files      []*FileEntry `json:"files,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// HasMember reports whether userID is the teacher or one of the students
func (c *Classroom) HasMember(userID string) bool {
	if c.TeacherID == userID {
		return true
	}
	for _, id := range c.StudentIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Message is one chat entry. Immutable once appended.
type Message struct {
	ID             string    `json:"id" bson:"id"`
	SenderID       string    `json:"senderId" bson:"senderId"`
	SenderUsername string    `json:"senderUsername" bson:"senderUsername"`
	Content        string    `json:"content" bson:"content"`
	Type           string    `json:"type" bson:"type"`
	AttachmentURL  string    `json:"attachmentUrl,omitempty" bson:"attachmentUrl,omitempty"`
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
}

// FileEntry describes one deposited file and its storage locator
type FileEntry struct {
	ID               string    `json:"id" bson:"id"`
	FileName         string    `json:"fileName" bson:"fileName"`
	FileURL          string    `json:"fileUrl" bson:"fileUrl"`
	FileSize         int64     `json:"fileSize" bson:"fileSize"`
	FileMimeType     string    `json:"fileMimeType" bson:"fileMimeType"`
	UploadedBy       string    `json:"uploadedBy" bson:"uploadedBy"`
	UploaderUsername string    `json:"uploaderUsername" bson:"uploaderUsername"`
	Category         string    `json:"category" bson:"category"`
	Folder           string    `json:"folder,omitempty" bson:"folder,omitempty"`
	PublicID         string    `json:"publicId,omitempty" bson:"publicId,omitempty"`
	UploadedAt       time.Time `json:"uploadedAt" bson:"uploadedAt"`
}

// FileFilter narrows a file listing. Empty fields match everything.
type FileFilter struct {
	Category string
	Folder   string
}

// ChatRequest is the client payload of a chatMessage event
type ChatRequest struct {
	ClassroomID   string `json:"classroomId" validate:"required,max=64"`
	Content       string `json:"content" validate:"max=65536"`
	Type          string `json:"type" validate:"omitempty,oneof=text math image file"`
	AttachmentURL string `json:"attachmentUrl" validate:"max=2048"`
}

// Event is the envelope of every realtime frame in both directions
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// InboundEvent is an Event whose data has not been decoded yet
type InboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RegisterRequest creates an account in the user directory
type RegisterRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=32,username"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"displayName" validate:"max=64"`
	Role        string `json:"role" validate:"required,oneof=teacher student"`
}

// LoginRequest carries credentials for session establishment
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// CreateClassroomRequest is the payload for creating a classroom
type CreateClassroomRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

// JoinClassroomRequest is the payload for joining by code
type JoinClassroomRequest struct {
	JoinCode string `json:"joinCode" validate:"required,len=6,alphanum"`
}
