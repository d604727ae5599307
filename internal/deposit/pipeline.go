// Package deposit uploads classroom files to the object store and records
// them in the classroom's file log.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// LaneExecutor serializes work per classroom
type LaneExecutor interface {
	Execute(ctx context.Context, classroomID string, job func(ctx context.Context) error) error
}

// Config tunes the pipeline
type Config struct {
	MaxFileSize   int64
	UploadTimeout time.Duration
	StoreTimeout  time.Duration
	// RootFolder prefixes every provider folder
	RootFolder string
	// BroadcastDeposits pushes a fileAdded event to the classroom room
	BroadcastDeposits bool
}

// DefaultConfig returns the pipeline defaults
func DefaultConfig() Config {
	return Config{
		MaxFileSize:   10 << 20,
		UploadTimeout: 60 * time.Second,
		StoreTimeout:  5 * time.Second,
		RootFolder:    "classhub",
	}
}

// File is an uploaded file as received from the client
type File struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
}

// DepositRequest is one categorized file deposit
type DepositRequest struct {
	ClassroomID string
	Category    string
	Folder      string
	File        File
}

// AttachmentResult is returned for a chat attachment upload
type AttachmentResult struct {
	URL      string `json:"url"`
	FileType string `json:"fileType"`
	FileName string `json:"fileName"`
}

// Pipeline validates, uploads and records files
type Pipeline struct {
	store       interfaces.ClassroomStore
	objects     interfaces.ObjectStore
	lanes       LaneExecutor
	broadcaster interfaces.Broadcaster
	config      Config
	now         func() time.Time
}

// NewPipeline creates a deposit pipeline. broadcaster may be nil when
// deposits are not broadcast.
func NewPipeline(store interfaces.ClassroomStore, objects interfaces.ObjectStore, lanes LaneExecutor,
	broadcaster interfaces.Broadcaster, config Config) *Pipeline {
	defaults := DefaultConfig()
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = defaults.MaxFileSize
	}
	if config.UploadTimeout <= 0 {
		config.UploadTimeout = defaults.UploadTimeout
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = defaults.StoreTimeout
	}
	return &Pipeline{
		store:       store,
		objects:     objects,
		lanes:       lanes,
		broadcaster: broadcaster,
		config:      config,
		now:         time.Now,
	}
}

// MaxFileSize is the configured upload limit in bytes
func (p *Pipeline) MaxFileSize() int64 {
	return p.config.MaxFileSize
}

// Deposit stores a file and appends its entry to the classroom. Every local
// check runs before the upload; a failed append removes the uploaded object.
func (p *Pipeline) Deposit(ctx context.Context, identity *types.Identity, req *DepositRequest) (*types.FileEntry, error) {
	if identity == nil || identity.UserID == "" {
		return nil, types.ErrUnauthenticated
	}
	if req == nil {
		return nil, ErrMissingFile
	}

	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = types.CategoryGeneral
	}
	if !types.IsValidCategory(category) {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidArgument, types.ErrInvalidCategory)
	}

	folder := strings.TrimSpace(req.Folder)
	if len(folder) > 100 || strings.ContainsAny(folder, "/\\") || folder == "." || folder == ".." {
		return nil, ErrInvalidFolder
	}

	mediaType, ext, err := p.checkFile(&req.File)
	if err != nil {
		return nil, err
	}
	if err := p.requireClassroom(ctx, req.ClassroomID); err != nil {
		return nil, err
	}

	uploaded, err := p.upload(ctx, req.ClassroomID, "", &req.File, mediaType, ext)
	if err != nil {
		return nil, err
	}

	entry := &types.FileEntry{
		ID:               uuid.New().String(),
		FileName:         req.File.Name,
		FileURL:          reconcileURL(uploaded.URL, mediaType, ext),
		FileSize:         req.File.Size,
		FileMimeType:     mediaType,
		UploadedBy:       identity.UserID,
		UploaderUsername: identity.Username,
		Category:         category,
		Folder:           folder,
		PublicID:         uploaded.PublicID,
	}
	if uploaded.Bytes > 0 {
		entry.FileSize = uploaded.Bytes
	}

	err = p.inLane(ctx, req.ClassroomID, func(ctx context.Context) error {
		entry.UploadedAt = p.now().UTC()

		storeCtx, cancel := context.WithTimeout(ctx, p.config.StoreTimeout)
		defer cancel()
		if err := p.store.AppendFile(storeCtx, req.ClassroomID, entry); err != nil {
			return err
		}

		if p.config.BroadcastDeposits && p.broadcaster != nil {
			p.broadcaster.Broadcast(req.ClassroomID, types.Event{Event: types.EventFileAdded, Data: entry})
		}
		return nil
	})
	if err != nil {
		p.removeOrphan(ctx, uploaded.PublicID, resourceType(mediaType))
		if errors.Is(err, interfaces.ErrClassroomNotFound) {
			return nil, fmt.Errorf("%w: %w", types.ErrNotFound, err)
		}
		return nil, fmt.Errorf("%w: %w", types.ErrPersistenceFailed, err)
	}

	slog.Info("file deposited",
		"classroom_id", req.ClassroomID,
		"user_id", identity.UserID,
		"file_id", entry.ID,
		"category", category,
		"size", humanize.IBytes(uint64(entry.FileSize)))
	return entry, nil
}

// UploadAttachment stores a chat attachment. Nothing is recorded in the
// classroom; the returned URL goes into a later chatMessage.
func (p *Pipeline) UploadAttachment(ctx context.Context, identity *types.Identity, classroomID string, file *File) (*AttachmentResult, error) {
	if identity == nil || identity.UserID == "" {
		return nil, types.ErrUnauthenticated
	}
	if file == nil {
		return nil, ErrMissingFile
	}

	mediaType, ext, err := p.checkFile(file)
	if err != nil {
		return nil, err
	}
	if err := p.requireClassroom(ctx, classroomID); err != nil {
		return nil, err
	}

	uploaded, err := p.upload(ctx, classroomID, "attachments", file, mediaType, ext)
	if err != nil {
		return nil, err
	}

	fileType := types.MessageTypeFile
	if resourceType(mediaType) == interfaces.ResourceImage {
		fileType = types.MessageTypeImage
	}

	slog.Info("attachment uploaded",
		"classroom_id", classroomID,
		"user_id", identity.UserID,
		"file_type", fileType)

	return &AttachmentResult{
		URL:      reconcileURL(uploaded.URL, mediaType, ext),
		FileType: fileType,
		FileName: file.Name,
	}, nil
}

func (p *Pipeline) inLane(ctx context.Context, classroomID string, job func(ctx context.Context) error) error {
	if p.lanes == nil {
		return job(ctx)
	}
	return p.lanes.Execute(ctx, classroomID, job)
}

// checkFile runs the local size and type guards
func (p *Pipeline) checkFile(file *File) (string, string, error) {
	if file.Body == nil || strings.TrimSpace(file.Name) == "" {
		return "", "", ErrMissingFile
	}
	if file.Size > p.config.MaxFileSize {
		return "", "", p.tooLarge(file.Size)
	}
	mediaType, ext, ok := resolveType(file.Name, file.MimeType)
	if !ok {
		return "", "", ErrUnsupportedFileType
	}
	return mediaType, ext, nil
}

// tooLarge builds the size violation error; a negative size means the
// body overran the limit without declaring a size
func (p *Pipeline) tooLarge(size int64) error {
	if size < 0 {
		return fmt.Errorf("%w: file exceeds the %s limit", ErrFileTooLarge, humanize.IBytes(uint64(p.config.MaxFileSize)))
	}
	return fmt.Errorf("%w: %s exceeds the %s limit",
		ErrFileTooLarge, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(p.config.MaxFileSize)))
}

func (p *Pipeline) requireClassroom(ctx context.Context, classroomID string) error {
	if strings.TrimSpace(classroomID) == "" {
		return fmt.Errorf("%w: classroom id is required", types.ErrInvalidArgument)
	}
	storeCtx, cancel := context.WithTimeout(ctx, p.config.StoreTimeout)
	defer cancel()

	if _, err := p.store.GetClassroom(storeCtx, classroomID); err != nil {
		if errors.Is(err, interfaces.ErrClassroomNotFound) {
			return fmt.Errorf("%w: %w", types.ErrNotFound, err)
		}
		return fmt.Errorf("%w: %w", types.ErrPersistenceFailed, err)
	}
	return nil
}

// upload sends the body to the object store under a traceable public id:
// the sanitized base name plus a millisecond timestamp, with the extension
// kept for raw resources
func (p *Pipeline) upload(ctx context.Context, classroomID, subfolder string, file *File, mediaType, ext string) (*interfaces.UploadResult, error) {
	kind := resourceType(mediaType)
	publicID := fmt.Sprintf("%s_%d", baseName(file.Name), p.now().UnixMilli())
	if kind == interfaces.ResourceRaw {
		publicID += ext
	}

	folder := path.Join(p.config.RootFolder, classroomID, subfolder)

	uploadCtx, cancel := context.WithTimeout(ctx, p.config.UploadTimeout)
	defer cancel()

	limit := p.config.MaxFileSize
	declared := file.Size > 0 && file.Size < limit
	if declared {
		limit = file.Size
	}
	body := &limitedReader{r: file.Body, remaining: limit}
	result, err := p.objects.Upload(uploadCtx, &interfaces.UploadRequest{
		PublicID:     publicID,
		Folder:       folder,
		ResourceType: kind,
		ContentType:  mediaType,
		Size:         file.Size,
		Body:         body,
	})
	if body.exceeded {
		if declared {
			return nil, fmt.Errorf("%w: body exceeds its declared size of %s", ErrFileTooLarge, humanize.IBytes(uint64(file.Size)))
		}
		return nil, p.tooLarge(-1)
	}
	if err != nil {
		if errors.Is(uploadCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: upload timed out after %s", types.ErrUploadFailed, p.config.UploadTimeout)
		}
		return nil, fmt.Errorf("%w: %s", types.ErrUploadFailed, err.Error())
	}
	if result == nil || result.URL == "" {
		return nil, fmt.Errorf("%w: storage returned no locator", types.ErrUploadFailed)
	}
	return result, nil
}

// removeOrphan deletes an object whose entry could not be recorded
func (p *Pipeline) removeOrphan(ctx context.Context, publicID, kind string) {
	if publicID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.UploadTimeout)
	defer cancel()
	if err := p.objects.Delete(ctx, publicID, kind); err != nil {
		slog.Warn("failed to remove orphaned upload", "public_id", publicID, "error", err)
	}
}

// limitedReader fails once more than remaining bytes are read. upload sets
// remaining to the declared size when known, else to the configured limit.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(b []byte) (int, error) {
	if l.exceeded {
		return 0, ErrFileTooLarge
	}
	n, err := l.r.Read(b)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, ErrFileTooLarge
	}
	return n, err
}
