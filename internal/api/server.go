// Package api is the JSON HTTP surface: accounts, classrooms, message
// history, file deposits and chat attachments.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"classhub/internal/deposit"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Authenticator establishes and resolves web sessions
type Authenticator interface {
	interfaces.SessionAuthenticator
	Register(ctx context.Context, req *types.RegisterRequest) (*types.User, error)
	Login(w http.ResponseWriter, r *http.Request, req *types.LoginRequest) (*types.User, error)
	Logout(w http.ResponseWriter, r *http.Request) error
	CurrentUser(r *http.Request) (*types.User, error)
}

// Classrooms manages rosters and membership
type Classrooms interface {
	interfaces.MembershipChecker
	CreateClassroom(ctx context.Context, identity *types.Identity, req *types.CreateClassroomRequest) (*types.Classroom, error)
	JoinByCode(ctx context.Context, identity *types.Identity, req *types.JoinClassroomRequest) (*types.Classroom, error)
	GetClassroom(ctx context.Context, classroomID string) (*types.Classroom, error)
	ListForUser(ctx context.Context, userID string) ([]*types.Classroom, error)
}

// MessageSubmitter runs the chat pipeline
type MessageSubmitter interface {
	SubmitMessage(ctx context.Context, identity *types.Identity, req *types.ChatRequest) (*types.Message, error)
}

// Depositor runs the file pipeline
type Depositor interface {
	Deposit(ctx context.Context, identity *types.Identity, req *deposit.DepositRequest) (*types.FileEntry, error)
	UploadAttachment(ctx context.Context, identity *types.Identity, classroomID string, file *deposit.File) (*deposit.AttachmentResult, error)
	MaxFileSize() int64
}

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	RoomSize(classroomID string) int
	GetStats() map[string]int
}

// StatsProvider reports component statistics for /health
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Dependencies are the components the server routes to
type Dependencies struct {
	Auth       Authenticator
	Classrooms Classrooms
	Store      interfaces.ClassroomStore
	Messages   MessageSubmitter
	Deposits   Depositor
	Registry   Registry
	// Stats are reported by name under "components" in /health
	Stats          map[string]StatsProvider
	AllowedOrigins []string
}

// Server is the HTTP API. It holds no business logic, only decoding,
// access checks and error mapping.
type Server struct {
	deps      Dependencies
	router    *http.ServeMux
	startedAt time.Time
}

// NewServer creates the API and registers its routes
func NewServer(deps Dependencies) *Server {
	s := &Server{
		deps:      deps,
		router:    http.NewServeMux(),
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.handle("POST /api/register", s.register)
	s.handle("POST /api/login", s.login)
	s.handle("POST /api/logout", s.logout)
	s.handle("GET /api/me", s.me)

	s.handle("POST /api/classrooms", s.withIdentity(s.createClassroom))
	s.handle("GET /api/classrooms", s.withIdentity(s.listClassrooms))
	s.handle("POST /api/classrooms/join", s.withIdentity(s.joinClassroom))
	s.handle("GET /api/classrooms/{id}", s.requireMember(s.getClassroom))
	s.handle("GET /api/classrooms/{id}/messages", s.requireMember(s.listMessages))
	s.handle("POST /api/classrooms/{id}/messages", s.requireMember(s.postMessage))
	s.handle("GET /api/classrooms/{id}/files", s.requireMember(s.listFiles))
	s.handle("POST /api/classrooms/{id}/files", s.requireMember(s.depositFile))
	s.handle("POST /api/classrooms/{id}/attachments", s.requireMember(s.uploadAttachment))

	s.handle("GET /health", s.healthCheck)

	// preflight for every route; the CORS middleware answers it
	s.handle("OPTIONS /", func(http.ResponseWriter, *http.Request) {})
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.router.Handle(pattern, s.corsMiddleware(s.jsonMiddleware(h)))
}

// Handle mounts an additional handler, such as the websocket endpoint, on
// the same mux
func (s *Server) Handle(pattern string, h http.Handler) {
	s.router.Handle(pattern, h)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response types
type UserResponse struct {
	User *types.User `json:"user"`
}

type ClassroomResponse struct {
	Classroom       *types.Classroom `json:"classroom"`
	ConnectionCount int              `json:"connectionCount"`
}

type ListClassroomsResponse struct {
	Classrooms []*types.Classroom `json:"classrooms"`
}

type MessageResponse struct {
	Message *types.Message `json:"message"`
}

type ListMessagesResponse struct {
	Messages []*types.Message `json:"messages"`
}

type ListFilesResponse struct {
	Files []*types.FileEntry `json:"files"`
}

type DepositResponse struct {
	Success bool             `json:"success"`
	File    *types.FileEntry `json:"file"`
	FileURL string           `json:"fileUrl"`
}

type AttachmentResponse struct {
	Success  bool   `json:"success"`
	FileURL  string `json:"fileUrl,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	FileType string `json:"fileType"`
	FileName string `json:"fileName"`
}

type HealthResponse struct {
	Status      string                            `json:"status"`
	Timestamp   time.Time                         `json:"timestamp"`
	Database    string                            `json:"database"`
	Connections map[string]int                    `json:"connections"`
	Components  map[string]map[string]interface{} `json:"components,omitempty"`
	System      map[string]interface{}            `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// UploadErrorResponse is the failure shape of the upload endpoints
type UploadErrorResponse struct {
	Success bool `json:"success"`
	ErrorResponse
}

// POST /api/register
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	user, err := s.deps.Auth.Register(r.Context(), &req)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, UserResponse{User: user})
}

// POST /api/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	user, err := s.deps.Auth.Login(w, r, &req)
	if err != nil {
		s.sendError(w, err)
		return
	}
	slog.Info("user logged in", "user_id", user.ID)
	s.sendJSON(w, http.StatusOK, UserResponse{User: user})
}

// POST /api/logout
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Auth.Logout(w, r); err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// GET /api/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Auth.CurrentUser(r)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, UserResponse{User: user})
}

// POST /api/classrooms
func (s *Server) createClassroom(w http.ResponseWriter, r *http.Request, identity *types.Identity) {
	var req types.CreateClassroomRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	classroom, err := s.deps.Classrooms.CreateClassroom(r.Context(), identity, &req)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, ClassroomResponse{Classroom: classroom})
}

// GET /api/classrooms
func (s *Server) listClassrooms(w http.ResponseWriter, r *http.Request, identity *types.Identity) {
	classrooms, err := s.deps.Classrooms.ListForUser(r.Context(), identity.UserID)
	if err != nil {
		s.sendError(w, err)
		return
	}
	if classrooms == nil {
		classrooms = []*types.Classroom{}
	}
	s.sendJSON(w, http.StatusOK, ListClassroomsResponse{Classrooms: classrooms})
}

// POST /api/classrooms/join
func (s *Server) joinClassroom(w http.ResponseWriter, r *http.Request, identity *types.Identity) {
	var req types.JoinClassroomRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	classroom, err := s.deps.Classrooms.JoinByCode(r.Context(), identity, &req)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, ClassroomResponse{Classroom: classroom})
}

// GET /api/classrooms/{id}
func (s *Server) getClassroom(w http.ResponseWriter, r *http.Request, identity *types.Identity, classroomID string) {
	classroom, err := s.deps.Classrooms.GetClassroom(r.Context(), classroomID)
	if err != nil {
		s.sendError(w, err)
		return
	}
	count := 0
	if s.deps.Registry != nil {
		count = s.deps.Registry.RoomSize(classroomID)
	}
	s.sendJSON(w, http.StatusOK, ClassroomResponse{Classroom: classroom, ConnectionCount: count})
}

// GET /api/classrooms/{id}/messages?limit=
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request, identity *types.Identity, classroomID string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.sendError(w, fmt.Errorf("%w: limit must be a non-negative integer", types.ErrInvalidArgument))
			return
		}
		limit = n
	}

	messages, err := s.deps.Store.ListMessages(r.Context(), classroomID, limit)
	if err != nil {
		s.sendError(w, storeError(err))
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	s.sendJSON(w, http.StatusOK, ListMessagesResponse{Messages: messages})
}

// POST /api/classrooms/{id}/messages
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request, identity *types.Identity, classroomID string) {
	var req types.ChatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	req.ClassroomID = classroomID

	message, err := s.deps.Messages.SubmitMessage(r.Context(), identity, &req)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, MessageResponse{Message: message})
}

// GET /api/classrooms/{id}/files?category=&folder=
func (s *Server) listFiles(w http.ResponseWriter, r *http.Request, identity *types.Identity, classroomID string) {
	filter := types.FileFilter{
		Category: r.URL.Query().Get("category"),
		Folder:   r.URL.Query().Get("folder"),
	}
	if filter.Category != "" && !types.IsValidCategory(filter.Category) {
		s.sendError(w, fmt.Errorf("%w: %w", types.ErrInvalidArgument, types.ErrInvalidCategory))
		return
	}

	files, err := s.deps.Store.ListFiles(r.Context(), classroomID, filter)
	if err != nil {
		s.sendError(w, storeError(err))
		return
	}
	if files == nil {
		files = []*types.FileEntry{}
	}
	s.sendJSON(w, http.StatusOK, ListFilesResponse{Files: files})
}

// POST /api/classrooms/{id}/files (multipart: file, category, folder)
func (s *Server) depositFile(w http.ResponseWriter, r *http.Request, identity *types.Identity, classroomID string) {
	file, closeFile, err := s.readUpload(w, r)
	if err != nil {
		s.sendUploadError(w, err)
		return
	}
	defer closeFile()

	entry, err := s.deps.Deposits.Deposit(r.Context(), identity, &deposit.DepositRequest{
		ClassroomID: classroomID,
		Category:    r.FormValue("category"),
		Folder:      r.FormValue("folder"),
		File:        *file,
	})
	if err != nil {
		s.sendUploadError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, DepositResponse{Success: true, File: entry, FileURL: entry.FileURL})
}

// POST /api/classrooms/{id}/attachments (multipart: file)
func (s *Server) uploadAttachment(w http.ResponseWriter, r *http.Request, identity *types.Identity, classroomID string) {
	file, closeFile, err := s.readUpload(w, r)
	if err != nil {
		s.sendUploadError(w, err)
		return
	}
	defer closeFile()

	result, err := s.deps.Deposits.UploadAttachment(r.Context(), identity, classroomID, file)
	if err != nil {
		s.sendUploadError(w, err)
		return
	}

	resp := AttachmentResponse{Success: true, FileType: result.FileType, FileName: result.FileName}
	if result.FileType == types.MessageTypeImage {
		resp.ImageURL = result.URL
	} else {
		resp.FileURL = result.URL
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// readUpload parses the multipart form and opens the "file" part. The body
// is capped a little above the file limit so oversized requests stop early.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*deposit.File, func(), error) {
	limit := s.deps.Deposits.MaxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, nil, fmt.Errorf("%w: request exceeds the %s limit", deposit.ErrFileTooLarge, humanize.IBytes(uint64(limit)))
		}
		return nil, nil, fmt.Errorf("%w: invalid multipart form: %v", types.ErrInvalidArgument, err)
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, deposit.ErrMissingFile
	}

	closeFile := func() {
		_ = part.Close()
		_ = r.MultipartForm.RemoveAll()
	}
	return &deposit.File{
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Body:     part,
	}, closeFile, nil
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	connections := map[string]int{}
	if s.deps.Registry != nil {
		connections = s.deps.Registry.GetStats()
	}

	components := make(map[string]map[string]interface{}, len(s.deps.Stats))
	for name, provider := range s.deps.Stats {
		components[name] = provider.GetStats()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: connections,
		Components:  components,
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory":     humanize.IBytes(mem.Alloc),
			"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
			"started":    humanize.Time(s.startedAt),
		},
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

// withIdentity rejects requests without a session identity
func (s *Server) withIdentity(next func(http.ResponseWriter, *http.Request, *types.Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.deps.Auth.Authenticate(r)
		if err != nil || identity == nil {
			s.sendError(w, types.ErrUnauthenticated)
			return
		}
		next(w, r, identity)
	}
}

// requireMember admits only the teacher and students of the classroom in
// the {id} path segment
func (s *Server) requireMember(next func(http.ResponseWriter, *http.Request, *types.Identity, string)) http.HandlerFunc {
	return s.withIdentity(func(w http.ResponseWriter, r *http.Request, identity *types.Identity) {
		classroomID := r.PathValue("id")
		if err := s.deps.Classrooms.ValidateMembership(r.Context(), classroomID, identity.UserID); err != nil {
			if isUpload(r) {
				s.sendUploadError(w, err)
			} else {
				s.sendError(w, err)
			}
			return
		}
		next(w, r, identity, classroomID)
	})
}

func isUpload(r *http.Request) bool {
	return r.Method == http.MethodPost &&
		(strings.HasSuffix(r.URL.Path, "/files") || strings.HasSuffix(r.URL.Path, "/attachments"))
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, fmt.Errorf("%w: invalid JSON", types.ErrInvalidArgument))
		return false
	}
	return true
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

// sendError writes the error response for err's kind
func (s *Server) sendError(w http.ResponseWriter, err error) {
	code, message := classify(err)
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// sendUploadError is sendError with the success flag the upload clients expect
func (s *Server) sendUploadError(w http.ResponseWriter, err error) {
	code, message := classify(err)
	s.sendJSON(w, code, UploadErrorResponse{
		Success: false,
		ErrorResponse: ErrorResponse{
			Error:   http.StatusText(code),
			Code:    code,
			Message: message,
		},
	})
}

// classify maps an error to its status code and client message. Server-side
// failures are logged and hidden behind a generic message.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrUnauthenticated):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, deposit.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, types.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, types.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, types.ErrUploadFailed):
		slog.Error("upload failed", "error", err)
		return http.StatusBadGateway, err.Error()
	default:
		slog.Error("request failed", "error", err)
		return http.StatusInternalServerError, "Internal server error"
	}
}

func storeError(err error) error {
	if errors.Is(err, interfaces.ErrClassroomNotFound) {
		return fmt.Errorf("%w: %w", types.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", types.ErrPersistenceFailed, err)
}

// corsMiddleware lets browser clients on the allowed origins call the API
// with their session cookie
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// originAllowed matches cross-site origins; an empty list grants none
func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.deps.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// jsonMiddleware sets the JSON content type on every API response
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
