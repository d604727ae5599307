package types

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxContentBytes = 65536

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

	validate = newValidator()
)

// newValidator builds the shared validator. Field errors are reported with
// their JSON names so they can be returned to clients unchanged.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRegex.MatchString(fl.Field().String())
	})
	return v
}

// ValidateStruct runs tag validation on v and converts failures into an
// ErrInvalidArgument naming every offending field.
func ValidateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidArgument, strings.Join(parts, "; "))
}

// Normalize applies defaults and validates a chat request.
// Type defaults to text; attachment types need a URL, inline types need content.
func (r *ChatRequest) Normalize() error {
	r.ClassroomID = strings.TrimSpace(r.ClassroomID)
	r.AttachmentURL = strings.TrimSpace(r.AttachmentURL)
	if r.Type == "" {
		r.Type = MessageTypeText
	}

	if len(r.Content) > maxContentBytes {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, ErrContentTooLarge)
	}
	if !IsValidMessageType(r.Type) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, ErrInvalidMessageType)
	}
	if err := ValidateStruct(r); err != nil {
		return err
	}

	if IsAttachmentType(r.Type) {
		if r.AttachmentURL == "" {
			return fmt.Errorf("%w: %w", ErrInvalidArgument, ErrMissingAttachmentURL)
		}
		return nil
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, ErrMissingContent)
	}
	return nil
}

// IsValidMessageType checks if the message type is one of the allowed types
func IsValidMessageType(msgType string) bool {
	switch msgType {
	case MessageTypeText, MessageTypeMath, MessageTypeImage, MessageTypeFile:
		return true
	default:
		return false
	}
}

// IsAttachmentType reports whether messages of this type carry a URL instead of inline content
func IsAttachmentType(msgType string) bool {
	return msgType == MessageTypeImage || msgType == MessageTypeFile
}

// IsValidCategory checks the deposit category against the allowed set
func IsValidCategory(category string) bool {
	switch category {
	case CategoryExercise, CategoryHomework, CategoryCorrection, CategoryGeneral:
		return true
	default:
		return false
	}
}

// IsValidRole checks if role is teacher or student
func IsValidRole(role string) bool {
	return role == RoleTeacher || role == RoleStudent
}
