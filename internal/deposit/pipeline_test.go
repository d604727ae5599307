package deposit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classhub/internal/hub"
	"classhub/internal/memstore"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// fakeObjectStore records uploads and deletes
type fakeObjectStore struct {
	mu        sync.Mutex
	uploads   []*interfaces.UploadRequest
	deleted   []string
	uploadErr error
	// urlFor overrides the returned locator
	urlFor func(req *interfaces.UploadRequest) string
}

func (f *fakeObjectStore) Upload(ctx context.Context, req *interfaces.UploadRequest) (*interfaces.UploadResult, error) {
	n, err := io.Copy(io.Discard, req.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, req)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}

	url := "https://cdn.example.com/" + req.Folder + "/" + req.PublicID
	if f.urlFor != nil {
		url = f.urlFor(req)
	}
	return &interfaces.UploadResult{
		URL:      url,
		PublicID: req.Folder + "/" + req.PublicID,
		Bytes:    n,
	}, nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, publicID, resourceType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, publicID)
	return nil
}

func (f *fakeObjectStore) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

// failingFileStore rejects file appends
type failingFileStore struct {
	*memstore.Store
}

func (s *failingFileStore) AppendFile(ctx context.Context, classroomID string, entry *types.FileEntry) error {
	return errors.New("write conflict")
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []types.Event
}

func (b *recordingBroadcaster) Broadcast(classroomID string, event interface{}) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event.(types.Event))
	return 1
}

var teacher = &types.Identity{UserID: "teacher-1", Username: "Prof", Role: types.RoleTeacher}

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	store := memstore.New()
	require.NoError(t, store.CreateClassroom(context.Background(), &types.Classroom{
		ID: "C1", Name: "Physics", JoinCode: "PHY234", TeacherID: "teacher-1", CreatedAt: time.Now(),
	}))
	return store
}

func newLanes(t *testing.T) *hub.Hub {
	t.Helper()
	lanes := hub.NewHub(hub.DefaultConfig())
	require.NoError(t, lanes.Start(context.Background()))
	t.Cleanup(func() { _ = lanes.Stop() })
	return lanes
}

func newPipeline(t *testing.T, store interfaces.ClassroomStore, objects interfaces.ObjectStore, config Config) *Pipeline {
	t.Helper()
	p := NewPipeline(store, objects, newLanes(t), nil, config)
	p.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return p
}

func pdfFile(size int) File {
	return File{
		Name:     "notes.pdf",
		MimeType: "application/pdf",
		Size:     int64(size),
		Body:     bytes.NewReader(make([]byte, size)),
	}
}

func TestDeposit_PDFHomework(t *testing.T) {
	store := newStore(t)
	objects := &fakeObjectStore{}
	p := newPipeline(t, store, objects, DefaultConfig())

	entry, err := p.Deposit(context.Background(), teacher, &DepositRequest{
		ClassroomID: "C1",
		Category:    types.CategoryHomework,
		File:        pdfFile(2 << 20),
	})
	require.NoError(t, err)

	assert.Equal(t, "application/pdf", entry.FileMimeType)
	assert.Equal(t, types.CategoryHomework, entry.Category)
	assert.True(t, strings.HasSuffix(entry.FileURL, ".pdf"), entry.FileURL)
	assert.Equal(t, "notes.pdf", entry.FileName)
	assert.Equal(t, int64(2<<20), entry.FileSize)
	assert.Equal(t, "teacher-1", entry.UploadedBy)
	assert.Equal(t, "Prof", entry.UploaderUsername)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.UploadedAt.IsZero())

	require.Len(t, objects.uploads, 1)
	up := objects.uploads[0]
	assert.Equal(t, interfaces.ResourceRaw, up.ResourceType)
	assert.Equal(t, "notes_1700000000000.pdf", up.PublicID)
	assert.Equal(t, "classhub/C1", up.Folder)

	files, err := store.ListFiles(context.Background(), "C1", types.FileFilter{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, entry.ID, files[0].ID)
}

func TestDeposit_TooLargeRejectedBeforeUpload(t *testing.T) {
	store := newStore(t)
	objects := &fakeObjectStore{}
	p := newPipeline(t, store, objects, DefaultConfig())

	_, err := p.Deposit(context.Background(), teacher, &DepositRequest{
		ClassroomID: "C1",
		Category:    types.CategoryHomework,
		File:        pdfFile(15 << 20),
	})
	require.ErrorIs(t, err, ErrFileTooLarge)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "15 MiB")
	assert.Contains(t, err.Error(), "10 MiB")

	assert.Zero(t, objects.uploadCount())
	files, _ := store.ListFiles(context.Background(), "C1", types.FileFilter{})
	assert.Empty(t, files)
}

func TestDeposit_BodyOverrunRejected(t *testing.T) {
	store := newStore(t)
	p := newPipeline(t, store, &fakeObjectStore{}, Config{MaxFileSize: 1024})

	file := pdfFile(4096)
	file.Size = 100

	_, err := p.Deposit(context.Background(), teacher, &DepositRequest{ClassroomID: "C1", File: file})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	files, _ := store.ListFiles(context.Background(), "C1", types.FileFilter{})
	assert.Empty(t, files)
}

func TestDeposit_BodyLongerThanDeclaredSize(t *testing.T) {
	store := newStore(t)
	objects := &fakeObjectStore{}
	p := newPipeline(t, store, objects, Config{MaxFileSize: 4096})

	file := pdfFile(500)
	file.Size = 100

	_, err := p.Deposit(context.Background(), teacher, &DepositRequest{ClassroomID: "C1", File: file})
	require.ErrorIs(t, err, ErrFileTooLarge)
	assert.Contains(t, err.Error(), "declared size of 100 B")

	assert.Zero(t, objects.uploadCount())
	files, _ := store.ListFiles(context.Background(), "C1", types.FileFilter{})
	assert.Empty(t, files)
}

func TestDeposit_UndeclaredSizeCappedAtLimit(t *testing.T) {
	store := newStore(t)
	p := newPipeline(t, store, &fakeObjectStore{}, Config{MaxFileSize: 1024})

	file := pdfFile(2048)
	file.Size = 0

	_, err := p.Deposit(context.Background(), teacher, &DepositRequest{ClassroomID: "C1", File: file})
	require.ErrorIs(t, err, ErrFileTooLarge)
	assert.Contains(t, err.Error(), "1.0 KiB")
}

func TestDeposit_InvalidCategory(t *testing.T) {
	store := newStore(t)
	objects := &fakeObjectStore{}
	p := newPipeline(t, store, objects, DefaultConfig())

	_, err := p.Deposit(context.Background(), teacher, &DepositRequest{
		ClassroomID: "C1",
		Category:    "essay",
		File:        pdfFile(10),
	})
	require.ErrorIs(t, err, types.ErrInvalidArgument)
	assert.ErrorIs(t, err, types.ErrInvalidCategory)

	assert.Zero(t, objects.uploadCount())
	files, _ := store.ListFiles(context.Background(), "C1", types.FileFilter{})
	assert.Empty(t, files)
}

func TestDeposit_DefaultCategoryAndFolder(t *testing.T) {
	store := newStore(t)
	p := newPipeline(t, store, &fakeObjectStore{}, DefaultConfig())

	entry, err := p.Deposit(context.Background(), teacher, &DepositRequest{
		ClassroomID: "C1",
		Folder:      "Week 1",
		File:        pdfFile(10),
	})
	require.NoError(t, err)
	assert.Equal(t, types.CategoryGeneral, entry.Category)
	assert.Equal(t, "Week 1", entry.Folder)
}

func TestDeposit_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		identity *types.Identity
		req      *DepositRequest
		wantErr  error
	}{
		{"no identity", nil, &DepositRequest{ClassroomID: "C1", File: pdfFile(10)}, types.ErrUnauthenticated},
		{"nil request", teacher, nil, ErrMissingFile},
		{"no body", teacher, &DepositRequest{ClassroomID: "C1", File: File{Name: "a.pdf", MimeType: "application/pdf"}}, ErrMissingFile},
		{"executable", teacher, &DepositRequest{ClassroomID: "C1", File: File{Name: "run.exe", MimeType: "application/x-msdownload", Size: 3, Body: strings.NewReader("MZ!")}}, ErrUnsupportedFileType},
		{"mime and extension disagree", teacher, &DepositRequest{ClassroomID: "C1", File: File{Name: "notes.docx", MimeType: "application/pdf", Size: 3, Body: strings.NewReader("abc")}}, ErrUnsupportedFileType},
		{"nested folder", teacher, &DepositRequest{ClassroomID: "C1", Folder: "a/b", File: pdfFile(10)}, ErrInvalidFolder},
		{"missing classroom", teacher, &DepositRequest{ClassroomID: "nope", File: pdfFile(10)}, types.ErrNotFound},
		{"empty classroom id", teacher, &DepositRequest{File: pdfFile(10)}, types.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objects := &fakeObjectStore{}
			p := newPipeline(t, newStore(t), objects, DefaultConfig())

			_, err := p.Deposit(context.Background(), tt.identity, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, objects.uploadCount(), "no upload may happen for rejected input")
		})
	}
}

func TestDeposit_UploadFailure(t *testing.T) {
	store := newStore(t)
	objects := &fakeObjectStore{uploadErr: errors.New("Invalid Signature")}
	p := newPipeline(t, store, objects, DefaultConfig())

	_, err := p.Deposit(context.Background(), teacher, &DepositRequest{ClassroomID: "C1", File: pdfFile(10)})
	require.ErrorIs(t, err, types.ErrUploadFailed)
	assert.Contains(t, err.Error(), "Invalid Signature")

	files, _ := store.ListFiles(context.Background(), "C1", types.FileFilter{})
	assert.Empty(t, files)
}

func TestDeposit_PersistenceFailureRemovesUpload(t *testing.T) {
	objects := &fakeObjectStore{}
	p := newPipeline(t, &failingFileStore{Store: newStore(t)}, objects, DefaultConfig())

	_, err := p.Deposit(context.Background(), teacher, &DepositRequest{ClassroomID: "C1", File: pdfFile(10)})
	require.ErrorIs(t, err, types.ErrPersistenceFailed)

	require.Len(t, objects.deleted, 1)
	assert.Equal(t, "classhub/C1/notes_1700000000000.pdf", objects.deleted[0])
}

func TestDeposit_ImageLocatorReconciled(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		mime    string
		url     string
		wantURL string
	}{
		{"extension missing", "diagram.png", "image/png", "https://cdn.example.com/diagram", "https://cdn.example.com/diagram.png"},
		{"provider extension kept", "photo.jpeg", "image/jpeg", "https://cdn.example.com/photo.jpg", "https://cdn.example.com/photo.jpg"},
		{"uppercase kept", "scan.gif", "image/gif", "https://cdn.example.com/scan.GIF", "https://cdn.example.com/scan.GIF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objects := &fakeObjectStore{urlFor: func(*interfaces.UploadRequest) string { return tt.url }}
			p := newPipeline(t, newStore(t), objects, DefaultConfig())

			entry, err := p.Deposit(context.Background(), teacher, &DepositRequest{
				ClassroomID: "C1",
				Category:    types.CategoryExercise,
				File:        File{Name: tt.file, MimeType: tt.mime, Size: 4, Body: strings.NewReader("data")},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, entry.FileURL)
			assert.Equal(t, interfaces.ResourceImage, objects.uploads[0].ResourceType)
			assert.NotContains(t, objects.uploads[0].PublicID, ".")
		})
	}
}

func TestDeposit_BroadcastOptIn(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		broadcaster := &recordingBroadcaster{}
		config := DefaultConfig()
		config.BroadcastDeposits = enabled
		p := NewPipeline(newStore(t), &fakeObjectStore{}, newLanes(t), broadcaster, config)

		_, err := p.Deposit(context.Background(), teacher, &DepositRequest{ClassroomID: "C1", File: pdfFile(10)})
		require.NoError(t, err)

		if enabled {
			require.Len(t, broadcaster.events, 1)
			assert.Equal(t, types.EventFileAdded, broadcaster.events[0].Event)
		} else {
			assert.Empty(t, broadcaster.events)
		}
	}
}

func TestUploadAttachment(t *testing.T) {
	store := newStore(t)
	objects := &fakeObjectStore{}
	p := newPipeline(t, store, objects, DefaultConfig())

	img, err := p.UploadAttachment(context.Background(), teacher, "C1", &File{
		Name: "board.webp", MimeType: "image/webp", Size: 4, Body: strings.NewReader("webp"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.MessageTypeImage, img.FileType)
	assert.Equal(t, "board.webp", img.FileName)
	assert.True(t, strings.HasSuffix(img.URL, ".webp"))

	doc, err := p.UploadAttachment(context.Background(), teacher, "C1", &File{
		Name: "syllabus.docx", MimeType: "application/octet-stream", Size: 4, Body: strings.NewReader("docx"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.MessageTypeFile, doc.FileType)
	assert.True(t, strings.HasSuffix(doc.URL, ".docx"))

	assert.Equal(t, "classhub/C1/attachments", objects.uploads[0].Folder)

	files, _ := store.ListFiles(context.Background(), "C1", types.FileFilter{})
	assert.Empty(t, files, "attachments are not recorded as deposits")
}

func TestUploadAttachment_Rejections(t *testing.T) {
	objects := &fakeObjectStore{}
	p := newPipeline(t, newStore(t), objects, DefaultConfig())

	_, err := p.UploadAttachment(context.Background(), nil, "C1", &File{Name: "a.png", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, types.ErrUnauthenticated)

	_, err = p.UploadAttachment(context.Background(), teacher, "C1", &File{Name: "big.png", MimeType: "image/png", Size: 11 << 20, Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = p.UploadAttachment(context.Background(), teacher, "C1", &File{Name: "clip.mp4", MimeType: "video/mp4", Size: 1, Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	assert.Zero(t, objects.uploadCount())
}
