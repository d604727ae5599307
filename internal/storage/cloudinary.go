package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"classhub/pkg/interfaces"
)

// CloudinaryStore uploads deposits to Cloudinary
type CloudinaryStore struct {
	cld *cloudinary.Cloudinary
}

var _ interfaces.ObjectStore = (*CloudinaryStore)(nil)

// NewCloudinaryStore builds a client from account credentials
func NewCloudinaryStore(cloudName, apiKey, apiSecret string) (*CloudinaryStore, error) {
	if cloudName == "" || apiKey == "" || apiSecret == "" {
		return nil, ErrMissingCredential
	}
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudinary client: %w", err)
	}
	return &CloudinaryStore{cld: cld}, nil
}

// Upload stores the object under the requested public id. Cloudinary keeps
// the extension in raw public ids and appends its own for images.
func (s *CloudinaryStore) Upload(ctx context.Context, req *interfaces.UploadRequest) (*interfaces.UploadResult, error) {
	if req.Body == nil {
		return nil, ErrEmptyBody
	}

	resp, err := s.cld.Upload.Upload(ctx, req.Body, uploader.UploadParams{
		PublicID:       req.PublicID,
		Folder:         req.Folder,
		ResourceType:   req.ResourceType,
		UniqueFilename: api.Bool(false),
		Overwrite:      api.Bool(false),
	})
	if err != nil {
		return nil, err
	}
	if resp.Error.Message != "" {
		return nil, errors.New(resp.Error.Message)
	}

	url := resp.SecureURL
	if url == "" {
		url = resp.URL
	}
	return &interfaces.UploadResult{
		URL:      url,
		PublicID: resp.PublicID,
		Format:   resp.Format,
		Bytes:    int64(resp.Bytes),
	}, nil
}

// Delete removes an uploaded object. Deleting a missing object is not an error.
func (s *CloudinaryStore) Delete(ctx context.Context, publicID, resourceType string) error {
	resp, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: resourceType,
	})
	if err != nil {
		return err
	}
	if resp.Error.Message != "" {
		return errors.New(resp.Error.Message)
	}
	return nil
}
