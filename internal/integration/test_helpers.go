// Package integration drives a fully wired classhub server over real HTTP
// and websocket connections.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"classhub/internal/app"
	"classhub/internal/config"
	"classhub/pkg/types"
)

// StartTestServer runs the application on a loopback port with a
// temporary SQLite database and local upload directory
func StartTestServer(t *testing.T, modify func(*config.Config)) string {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.DSN = filepath.Join(dir, "classhub.db")
	cfg.Storage.Provider = config.ProviderLocal
	cfg.Storage.LocalDir = filepath.Join(dir, "uploads")
	cfg.Storage.MaxFileSize = 64 * 1024
	if modify != nil {
		modify(cfg)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	if err := application.Serve(context.Background(), ln); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Failed to stop application: %v", err)
		}
	})

	return "http://" + application.GetAddr()
}

var errTimeout = errors.New("timed out waiting for event")

// TestClient is one signed-in browser: an HTTP client with a cookie jar and
// an optional websocket connection sharing its session
type TestClient struct {
	BaseURL string
	User    *types.User

	t      *testing.T
	http   *http.Client
	jar    http.CookieJar
	conn   *websocket.Conn
	events chan *types.InboundEvent
	done   chan struct{}
	quit   chan struct{}
	err    error
}

// NewTestClient registers and signs in a new account
func NewTestClient(t *testing.T, baseURL, username, role string) *TestClient {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}
	tc := &TestClient{
		BaseURL: baseURL,
		t:       t,
		http:    &http.Client{Jar: jar, Timeout: 10 * time.Second},
		jar:     jar,
	}

	password := "password-" + username
	resp := tc.PostJSON("/api/register", types.RegisterRequest{Username: username, Password: password, Role: role})
	ExpectStatus(t, resp, http.StatusCreated)

	var login struct {
		User *types.User `json:"user"`
	}
	resp = tc.PostJSON("/api/login", types.LoginRequest{Username: username, Password: password})
	ExpectStatus(t, resp, http.StatusOK)
	DecodeBody(t, resp, &login)
	tc.User = login.User

	t.Cleanup(tc.Close)
	return tc
}

// NewTab returns a second client sharing this client's session
func (tc *TestClient) NewTab() *TestClient {
	tab := &TestClient{BaseURL: tc.BaseURL, User: tc.User, t: tc.t, http: tc.http, jar: tc.jar}
	tc.t.Cleanup(tab.Close)
	return tab
}

// Do sends a request with the client's session cookie
func (tc *TestClient) Do(method, path string, body io.Reader, contentType string) *http.Response {
	tc.t.Helper()
	req, err := http.NewRequest(method, tc.BaseURL+path, body)
	if err != nil {
		tc.t.Fatalf("Failed to build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := tc.http.Do(req)
	if err != nil {
		tc.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

func (tc *TestClient) Get(path string) *http.Response {
	return tc.Do(http.MethodGet, path, nil, "")
}

func (tc *TestClient) PostJSON(path string, payload interface{}) *http.Response {
	tc.t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		tc.t.Fatalf("Failed to encode payload: %v", err)
	}
	return tc.Do(http.MethodPost, path, bytes.NewReader(data), "application/json")
}

// CreateClassroom creates a classroom owned by the client
func (tc *TestClient) CreateClassroom(name string) *types.Classroom {
	tc.t.Helper()
	resp := tc.PostJSON("/api/classrooms", types.CreateClassroomRequest{Name: name})
	ExpectStatus(tc.t, resp, http.StatusCreated)
	var out struct {
		Classroom *types.Classroom `json:"classroom"`
	}
	DecodeBody(tc.t, resp, &out)
	return out.Classroom
}

// JoinClassroom joins by code and returns the updated roster
func (tc *TestClient) JoinClassroom(code string) *types.Classroom {
	tc.t.Helper()
	resp := tc.PostJSON("/api/classrooms/join", types.JoinClassroomRequest{JoinCode: code})
	ExpectStatus(tc.t, resp, http.StatusOK)
	var out struct {
		Classroom *types.Classroom `json:"classroom"`
	}
	DecodeBody(tc.t, resp, &out)
	return out.Classroom
}

// Deposit uploads data as a multipart file with an explicit content type
func (tc *TestClient) Deposit(classroomID, category, fileName, contentType string, data []byte) *http.Response {
	tc.t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if category != "" {
		if err := mw.WriteField("category", category); err != nil {
			tc.t.Fatalf("Failed to write field: %v", err)
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		tc.t.Fatalf("Failed to create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		tc.t.Fatalf("Failed to write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		tc.t.Fatalf("Failed to close multipart writer: %v", err)
	}

	return tc.Do(http.MethodPost, "/api/classrooms/"+classroomID+"/files", &body, mw.FormDataContentType())
}

// Connect opens the realtime channel with the client's session cookie
func (tc *TestClient) Connect() {
	tc.t.Helper()

	u, err := url.Parse(tc.BaseURL)
	if err != nil {
		tc.t.Fatalf("Invalid server URL: %v", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"

	dialer := websocket.Dialer{Jar: tc.jar, HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(u.String(), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		tc.t.Fatalf("Failed to connect websocket (status %d): %v", status, err)
	}
	tc.conn = conn
	tc.events = make(chan *types.InboundEvent, 64)
	tc.done = make(chan struct{})
	tc.quit = make(chan struct{})
	go tc.readLoop(conn, tc.events, tc.done, tc.quit)
}

// readLoop owns every read on conn. Waiting for a frame never touches the
// read deadline, which gorilla treats as fatal once it expires.
func (tc *TestClient) readLoop(conn *websocket.Conn, events chan<- *types.InboundEvent, done, quit chan struct{}) {
	defer close(done)
	for {
		var ev types.InboundEvent
		if err := conn.ReadJSON(&ev); err != nil {
			tc.err = err
			return
		}
		select {
		case events <- &ev:
		case <-quit:
			return
		}
	}
}

// Emit sends one realtime event
func (tc *TestClient) Emit(event string, data interface{}) {
	tc.t.Helper()
	if err := tc.conn.WriteJSON(types.Event{Event: event, Data: data}); err != nil {
		tc.t.Fatalf("Failed to send %s: %v", event, err)
	}
}

// NextEvent waits for the next realtime frame
func (tc *TestClient) NextEvent(timeout time.Duration) (*types.InboundEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-tc.events:
		return ev, nil
	case <-tc.done:
		select {
		case ev := <-tc.events:
			return ev, nil
		default:
		}
		return nil, fmt.Errorf("connection closed: %w", tc.err)
	case <-timer.C:
		return nil, errTimeout
	}
}

// ExpectEvent waits for a frame and requires its event name
func (tc *TestClient) ExpectEvent(name string, out interface{}) {
	tc.t.Helper()
	ev, err := tc.NextEvent(2 * time.Second)
	if err != nil {
		tc.t.Fatalf("%s: expected %s event: %v", tc.User.Username, name, err)
	}
	if ev.Event != name {
		tc.t.Fatalf("%s: expected %s event, got %s", tc.User.Username, name, ev.Event)
	}
	if out != nil {
		if err := json.Unmarshal(ev.Data, out); err != nil {
			tc.t.Fatalf("Failed to decode %s data: %v", name, err)
		}
	}
}

// ExpectSilence requires that no frame arrives within d. The connection
// stays usable afterwards.
func (tc *TestClient) ExpectSilence(d time.Duration) {
	tc.t.Helper()
	ev, err := tc.NextEvent(d)
	if err == nil {
		tc.t.Fatalf("%s: expected no event, got %s", tc.User.Username, ev.Event)
	}
	if !errors.Is(err, errTimeout) {
		tc.t.Fatalf("%s: connection failed while waiting: %v", tc.User.Username, err)
	}
}

// WaitForConnections polls the classroom until n connections have joined
func (tc *TestClient) WaitForConnections(classroomID string, n int) {
	tc.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp := tc.Get("/api/classrooms/" + classroomID)
		var out struct {
			ConnectionCount int `json:"connectionCount"`
		}
		DecodeBody(tc.t, resp, &out)
		if out.ConnectionCount >= n {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	tc.t.Fatalf("Timed out waiting for %d connections in %s", n, classroomID)
}

func (tc *TestClient) Close() {
	if tc.conn != nil {
		close(tc.quit)
		tc.conn.Close()
		<-tc.done
		tc.conn = nil
	}
}

// ExpectStatus fails the test when resp carries another status
func ExpectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("Expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

// DecodeBody decodes and closes a JSON response body
func DecodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}
