package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestChatRequest_Normalize(t *testing.T) {
	tests := []struct {
		name     string
		req      ChatRequest
		wantErr  error
		wantType string
	}{
		{
			name:     "text defaults type",
			req:      ChatRequest{ClassroomID: " c1 ", Content: "hello"},
			wantType: MessageTypeText,
		},
		{
			name:     "math",
			req:      ChatRequest{ClassroomID: "c1", Content: `\frac{1}{2}`, Type: MessageTypeMath},
			wantType: MessageTypeMath,
		},
		{
			name:     "image with url and no content",
			req:      ChatRequest{ClassroomID: "c1", Type: MessageTypeImage, AttachmentURL: "https://cdn/x.png"},
			wantType: MessageTypeImage,
		},
		{
			name:    "blank text",
			req:     ChatRequest{ClassroomID: "c1", Content: "  \n "},
			wantErr: ErrMissingContent,
		},
		{
			name:    "file without url",
			req:     ChatRequest{ClassroomID: "c1", Type: MessageTypeFile, Content: "see attached"},
			wantErr: ErrMissingAttachmentURL,
		},
		{
			name:    "unknown type",
			req:     ChatRequest{ClassroomID: "c1", Content: "hi", Type: "video"},
			wantErr: ErrInvalidMessageType,
		},
		{
			name:    "missing classroom",
			req:     ChatRequest{Content: "hi"},
			wantErr: ErrInvalidArgument,
		},
		{
			name:    "oversized content",
			req:     ChatRequest{ClassroomID: "c1", Content: strings.Repeat("x", maxContentBytes+1)},
			wantErr: ErrContentTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := req.Normalize()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Normalize() error = %v, want %v", err, tt.wantErr)
				}
				if !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("validation errors must be invalid arguments, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() unexpected error: %v", err)
			}
			if req.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", req.Type, tt.wantType)
			}
			if req.ClassroomID != strings.TrimSpace(tt.req.ClassroomID) {
				t.Errorf("ClassroomID not trimmed: %q", req.ClassroomID)
			}
		})
	}
}

func TestValidateStruct_NamesJSONFields(t *testing.T) {
	err := ValidateStruct(&RegisterRequest{Username: "a b", Password: "short", Role: "admin"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	for _, field := range []string{"username", "password", "role"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err.Error(), field)
		}
	}

	if err := ValidateStruct(&RegisterRequest{Username: "ms.frizzle", Password: "magicbus1", Role: RoleTeacher}); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}
}

func TestJoinClassroomRequest_Validation(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"AB12CD", true},
		{"AB12C", false},
		{"AB12CDE", false},
		{"AB-2CD", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidateStruct(&JoinClassroomRequest{JoinCode: tt.code})
		if (err == nil) != tt.valid {
			t.Errorf("join code %q: valid=%v, err=%v", tt.code, tt.valid, err)
		}
	}
}

func TestClassroom_HasMember(t *testing.T) {
	c := &Classroom{TeacherID: "t1", StudentIDs: []string{"s1", "s2"}}

	for _, id := range []string{"t1", "s1", "s2"} {
		if !c.HasMember(id) {
			t.Errorf("%s should be a member", id)
		}
	}
	if c.HasMember("s3") {
		t.Error("s3 should not be a member")
	}
}

func TestUser_Identity(t *testing.T) {
	u := &User{ID: "u1", Username: "alice", Role: RoleStudent}
	if got := u.Identity(); got.Username != "alice" || got.IsTeacher() {
		t.Errorf("unexpected identity %+v", got)
	}

	u.DisplayName = "Alice L."
	u.Role = RoleTeacher
	id := u.Identity()
	if id.Username != "Alice L." {
		t.Errorf("display name should win, got %q", id.Username)
	}
	if !id.IsTeacher() {
		t.Error("teacher role not reported")
	}

	var nilIdentity *Identity
	if nilIdentity.IsTeacher() {
		t.Error("nil identity is never a teacher")
	}
}

func TestUser_PasswordHashNotSerialized(t *testing.T) {
	data, err := json.Marshal(&User{ID: "u1", Username: "alice", PasswordHash: "$2a$10$secret"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Errorf("password hash leaked: %s", data)
	}
}

func TestEnumerations(t *testing.T) {
	for _, c := range []string{CategoryExercise, CategoryHomework, CategoryCorrection, CategoryGeneral} {
		if !IsValidCategory(c) {
			t.Errorf("%s should be a valid category", c)
		}
	}
	if IsValidCategory("essay") {
		t.Error("essay is not a category")
	}

	if !IsValidRole(RoleTeacher) || !IsValidRole(RoleStudent) || IsValidRole("admin") {
		t.Error("role validation mismatch")
	}

	if !IsAttachmentType(MessageTypeImage) || !IsAttachmentType(MessageTypeFile) {
		t.Error("image and file carry attachments")
	}
	if IsAttachmentType(MessageTypeText) || IsAttachmentType(MessageTypeMath) {
		t.Error("text and math are inline")
	}
}

func TestInboundEvent_DefersData(t *testing.T) {
	var ev InboundEvent
	if err := json.Unmarshal([]byte(`{"event":"joinRoom","data":"c1"}`), &ev); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if ev.Event != EventJoinRoom || string(ev.Data) != `"c1"` {
		t.Errorf("unexpected event %+v", ev)
	}
}
