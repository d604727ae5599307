package interfaces

import (
	"context"
	"io"
	"net/http"

	"classhub/pkg/types"
)

// SessionAuthenticator resolves the identity behind a web session
type SessionAuthenticator interface {
	// Authenticate returns the identity for the request or types.ErrUnauthenticated
	Authenticate(r *http.Request) (*types.Identity, error)
}

// MembershipChecker verifies that a user belongs to a classroom
type MembershipChecker interface {
	ValidateMembership(ctx context.Context, classroomID, userID string) error
}

// Resource types understood by object stores
const (
	ResourceImage = "image"
	ResourceRaw   = "raw"
)

// UploadRequest describes one object handed to the storage collaborator
type UploadRequest struct {
	PublicID     string
	Folder       string
	ResourceType string
	ContentType  string
	Size         int64
	Body         io.Reader
}

// UploadResult is what the storage collaborator returns for a stored object
type UploadResult struct {
	URL      string
	PublicID string
	Format   string
	Bytes    int64
}

// ObjectStore is the external object-storage collaborator
type ObjectStore interface {
	Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error)
	Delete(ctx context.Context, publicID, resourceType string) error
}
