package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"classhub/pkg/interfaces"
)

// imageFormats maps image MIME types to the extension the store appends
var imageFormats = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// LocalStore keeps uploads on disk and serves them under baseURL
type LocalStore struct {
	dir     string
	baseURL string
}

var _ interfaces.ObjectStore = (*LocalStore)(nil)

// NewLocalStore creates dir if needed
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Upload writes the body to disk. Images get an extension derived from the
// content type, like a hosted provider would; raw ids are used as given.
func (s *LocalStore) Upload(ctx context.Context, req *interfaces.UploadRequest) (*interfaces.UploadResult, error) {
	if req.Body == nil {
		return nil, ErrEmptyBody
	}

	publicID := req.PublicID
	if req.Folder != "" {
		publicID = path.Join(req.Folder, req.PublicID)
	}
	if !filepath.IsLocal(publicID) {
		return nil, ErrInvalidPublicID
	}

	name := publicID
	format := strings.TrimPrefix(path.Ext(publicID), ".")
	if req.ResourceType == interfaces.ResourceImage {
		if f, ok := imageFormats[req.ContentType]; ok {
			format = f
			name = publicID + "." + f
		}
	}

	target := filepath.Join(s.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(f, contextReader{ctx: ctx, r: req.Body})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return nil, err
	}

	return &interfaces.UploadResult{
		URL:      s.baseURL + "/" + name,
		PublicID: publicID,
		Format:   format,
		Bytes:    n,
	}, nil
}

// Delete removes a stored object; resourceType picks the image naming rule
func (s *LocalStore) Delete(ctx context.Context, publicID, resourceType string) error {
	if !filepath.IsLocal(publicID) {
		return ErrInvalidPublicID
	}

	candidates := []string{publicID}
	if resourceType == interfaces.ResourceImage {
		for _, f := range imageFormats {
			candidates = append(candidates, publicID+"."+f)
		}
	}
	for _, name := range candidates {
		err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(name)))
		if err == nil {
			return nil
		}
		if !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Handler serves stored objects; mount it at the base URL path.
// Directories are never listed.
func (s *LocalStore) Handler() http.Handler {
	return http.StripPrefix(s.baseURL+"/", http.FileServer(filesOnly{http.Dir(s.dir)}))
}

// filesOnly hides directories so classroom ids and file names cannot be
// enumerated
type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
