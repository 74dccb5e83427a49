package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mi6Fsoc/reroom-prototype/adapters/catalog"
	"github.com/mi6Fsoc/reroom-prototype/adapters/hasher"
	"github.com/mi6Fsoc/reroom-prototype/adapters/imaging"
	"github.com/mi6Fsoc/reroom-prototype/domain"
	"github.com/mi6Fsoc/reroom-prototype/usecase"
	"github.com/mi6Fsoc/reroom-prototype/utils/log"
)

func init() {
	log.SetLogger(zap.NewNop())
}

type stubLlm struct{}

func (stubLlm) AnalyzeImage(context.Context, domain.Image, []domain.Style) ([]string, error) {
	return []string{"scandi"}, nil
}

func (stubLlm) GenerateImage(_ context.Context, img domain.Image, _ string) (domain.Image, error) {
	return domain.Image{Data: append([]byte("edited:"), img.Data...), MIMEType: "image/png"}, nil
}

func (stubLlm) NewChat(context.Context) (domain.ChatSession, error) { return echoChat{}, nil }

type echoChat struct{}

func (echoChat) SendMessage(_ context.Context, text string) (domain.ChatResponse, error) {
	return domain.ChatResponse{Text: "You said: " + text}, nil
}

func (echoChat) SendToolResult(context.Context, domain.ToolResult) (domain.ChatResponse, error) {
	return domain.ChatResponse{}, nil
}

type testServer struct {
	e      *echo.Echo
	tokens *TokenIssuer
}

func newTestServer(t *testing.T) testServer {
	t.Helper()

	styles, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	registry := usecase.NewSessionRegistry(usecase.RegistryConfig{})
	t.Cleanup(registry.Shutdown)

	svc := usecase.NewDesignService(usecase.DesignServiceDeps{
		Catalog:  styles,
		Llm:      stubLlm{},
		Codec:    imaging.NewPNGCodec(),
		Hasher:   hasher.New(),
		Sessions: registry,
	})
	t.Cleanup(svc.Wait)

	tokens := NewTokenIssuer("test-secret", time.Hour)
	e := echo.New()
	NewDesignHandler(svc, tokens, 0).Register(e.Group("/api/v1"))
	return testServer{e: e, tokens: tokens}
}

func (s testServer) do(t *testing.T, method, path, token string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s testServer) createSession(t *testing.T) CreateSessionResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/sessions", "", nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /sessions = %d %s", rec.Code, rec.Body.String())
	}
	var resp CreateSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) usecase.SessionView {
	t.Helper()
	var view usecase.SessionView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decoding session view: %v (%s)", err, rec.Body.String())
	}
	return view
}

func TestHealthAndStyles(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(t, http.MethodGet, "/api/v1/health", "", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d", rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/styles", "", nil, "")
	var styles []domain.Style
	if err := json.Unmarshal(rec.Body.Bytes(), &styles); err != nil {
		t.Fatal(err)
	}
	if len(styles) != 14 || styles[0].ID != "mcm" {
		t.Errorf("GET /styles returned %d styles", len(styles))
	}
}

func TestSessionToken(t *testing.T) {
	s := newTestServer(t)
	created := s.createSession(t)

	tests := []struct {
		name string
		path string
		auth string
		want int
	}{
		{name: "bearer", path: "/api/v1/session", auth: "Bearer " + created.Token, want: http.StatusOK},
		{name: "query", path: "/api/v1/session?token=" + created.Token, want: http.StatusOK},
		{name: "missing", path: "/api/v1/session", want: http.StatusUnauthorized},
		{name: "garbage", path: "/api/v1/session", auth: "Bearer not-a-jwt", want: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/api/v1/session", auth: "Basic abc", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.auth)
			}
			rec := httptest.NewRecorder()
			s.e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if view := decodeView(t, s.do(t, http.MethodGet, "/api/v1/session", created.Token, nil, "")); view.ID != created.Session.ID {
		t.Errorf("session id = %q, want %q", view.ID, created.Session.ID)
	}
}

func TestTokenIssuer(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Minute)
	token, err := issuer.Issue("s1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if id, err := issuer.Parse(token); err != nil || id != "s1" {
		t.Errorf("Parse() = %q, %v", id, err)
	}
	if _, err := NewTokenIssuer("other", time.Minute).Parse(token); err == nil {
		t.Error("Parse() accepted a token signed with another secret")
	}

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := issuer.Parse(token); err == nil {
		t.Error("Parse() accepted an expired token")
	}
}

func TestUnknownSessionToken(t *testing.T) {
	s := newTestServer(t)
	token, err := s.tokens.Issue("gone")
	if err != nil {
		t.Fatal(err)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/session", token, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /session for unknown session = %d, want 404", rec.Code)
	}
}

func TestUploadAndDownload(t *testing.T) {
	s := newTestServer(t)
	token := s.createSession(t).Token
	room := pngBytes(t)

	rec := s.do(t, http.MethodPost, "/api/v1/session/image", token, room, "image/png")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /session/image = %d %s", rec.Code, rec.Body.String())
	}
	view := decodeView(t, rec)
	if !view.HasImage || view.Messages[0].Text != usecase.WelcomeText {
		t.Errorf("view after upload = %+v", view)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/session/image/current", token, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /session/image/current = %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), room) {
		t.Error("downloaded image differs from upload")
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "image/png" {
		t.Errorf("Content-Type = %q", got)
	}
	etag := rec.Header().Get("ETag")
	if etag != `"`+view.CurrentDigest+`"` {
		t.Errorf("ETag = %q, want digest %q", etag, view.CurrentDigest)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/image/original", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Errorf("conditional GET = %d, want 304", rec.Code)
	}
}

func TestMultipartUpload(t *testing.T) {
	s := newTestServer(t)
	token := s.createSession(t).Token

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "room.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(pngBytes(t))
	mw.Close()

	rec := s.do(t, http.MethodPost, "/api/v1/session/image", token, body.Bytes(), mw.FormDataContentType())
	if rec.Code != http.StatusOK {
		t.Fatalf("multipart upload = %d %s", rec.Code, rec.Body.String())
	}
	if !decodeView(t, rec).HasImage {
		t.Error("multipart upload did not load the room")
	}
}

func TestStyleFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.createSession(t).Token
	s.do(t, http.MethodPost, "/api/v1/session/image", token, pngBytes(t), "image/png")

	rec := s.do(t, http.MethodPost, "/api/v1/session/styles/boho", token, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /styles/boho = %d %s", rec.Code, rec.Body.String())
	}
	var pending domain.PendingGeneration
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatal(err)
	}
	if pending.Style.ID != "boho" || !strings.HasPrefix(pending.Instruction, "Redesign this room in Bohemian style.") {
		t.Errorf("pending = %+v", pending)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/session/pending/confirm", token, []byte(`{"instruction":"more plants"}`), echo.MIMEApplicationJSON)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /pending/confirm = %d %s", rec.Code, rec.Body.String())
	}
	view := decodeView(t, rec)
	if view.CurrentDigest == view.OriginalDigest {
		t.Error("current image unchanged after confirm")
	}
	applied := false
	for _, msg := range view.Messages {
		applied = applied || strings.Contains(msg.Text, "**Bohemian**")
	}
	if !applied {
		t.Errorf("no confirmation message in %+v", view.Messages)
	}
}

func TestChat(t *testing.T) {
	s := newTestServer(t)
	token := s.createSession(t).Token

	rec := s.do(t, http.MethodPost, "/api/v1/session/chat", token, []byte(`{"text":"hello"}`), echo.MIMEApplicationJSON)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /chat = %d %s", rec.Code, rec.Body.String())
	}
	view := decodeView(t, rec)
	if len(view.Messages) != 2 || view.Messages[1].Text != "You said: hello" {
		t.Errorf("messages = %+v", view.Messages)
	}
}

func TestResponsesReportIdle(t *testing.T) {
	s := newTestServer(t)
	token := s.createSession(t).Token

	fresh := decodeView(t, s.do(t, http.MethodGet, "/api/v1/session", token, nil, ""))
	if fresh.OriginalDigest != "" || fresh.CurrentDigest != "" {
		t.Errorf("digests before upload = %q, %q, want empty", fresh.OriginalDigest, fresh.CurrentDigest)
	}

	steps := []struct {
		method, path string
		body         []byte
		contentType  string
	}{
		{http.MethodPost, "/api/v1/session/image", pngBytes(t), "image/png"},
		{http.MethodPost, "/api/v1/session/chat", []byte(`{"text":"hello"}`), echo.MIMEApplicationJSON},
		{http.MethodPost, "/api/v1/session/styles/scandi", nil, ""},
		{http.MethodPost, "/api/v1/session/pending/confirm", []byte(`{}`), echo.MIMEApplicationJSON},
	}

	for _, step := range steps {
		rec := s.do(t, step.method, step.path, token, step.body, step.contentType)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s %s = %d %s", step.method, step.path, rec.Code, rec.Body.String())
		}
		if strings.HasSuffix(step.path, "/styles/scandi") {
			continue
		}
		if view := decodeView(t, rec); view.LoadingState != domain.LoadingIdle {
			t.Errorf("%s %s loading_state = %q, want idle", step.method, step.path, view.LoadingState)
		}
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	token := s.createSession(t).Token

	tests := []struct {
		name        string
		method      string
		path        string
		body        string
		contentType string
		want        int
	}{
		{name: "confirm without pending", method: http.MethodPost, path: "/api/v1/session/pending/confirm", want: http.StatusConflict},
		{name: "cancel without pending", method: http.MethodDelete, path: "/api/v1/session/pending", want: http.StatusConflict},
		{name: "download before upload", method: http.MethodGet, path: "/api/v1/session/image/current", want: http.StatusConflict},
		{name: "style before upload", method: http.MethodPost, path: "/api/v1/session/styles/mcm", want: http.StatusConflict},
		{name: "unsupported image", method: http.MethodPost, path: "/api/v1/session/image", body: "hello", contentType: "image/png", want: http.StatusBadRequest},
		{name: "empty chat", method: http.MethodPost, path: "/api/v1/session/chat", body: `{"text":"  "}`, contentType: echo.MIMEApplicationJSON, want: http.StatusBadRequest},
		{name: "voice disabled", method: http.MethodPost, path: "/api/v1/session/voice", body: "pcm", contentType: "audio/l16", want: http.StatusNotImplemented},
		{name: "speech disabled", method: http.MethodGet, path: "/api/v1/session/messages/x/speech", want: http.StatusNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, token, []byte(tt.body), tt.contentType)
			if rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	s.do(t, http.MethodPost, "/api/v1/session/image", token, pngBytes(t), "image/png")
	if rec := s.do(t, http.MethodPost, "/api/v1/session/styles/victorian", token, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown style = %d, want 404", rec.Code)
	}
}

func TestReset(t *testing.T) {
	s := newTestServer(t)
	token := s.createSession(t).Token
	s.do(t, http.MethodPost, "/api/v1/session/image", token, pngBytes(t), "image/png")

	if rec := s.do(t, http.MethodDelete, "/api/v1/session", token, nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE /session = %d", rec.Code)
	}
	view := decodeView(t, s.do(t, http.MethodGet, "/api/v1/session", token, nil, ""))
	if view.HasImage || len(view.Messages) != 0 {
		t.Errorf("view after reset = %+v", view)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := NewDesignHandler(nil, nil, 1)
	entered := make(chan struct{})
	release := make(chan struct{})
	handler := h.RateLimitMiddleware(func(c echo.Context) error {
		close(entered)
		<-release
		return c.NoContent(http.StatusOK)
	})

	e := echo.New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = handler(e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder()))
	}()
	<-entered

	err := handler(e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder()))
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("second request error = %v, want 429", err)
	}

	close(release)
	<-done
}
