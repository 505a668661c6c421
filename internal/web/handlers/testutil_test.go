package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/credential"
	"github.com/kozaktomas/facegate/internal/extractor"
	"github.com/kozaktomas/facegate/internal/flow"
	"github.com/kozaktomas/facegate/internal/model"
	"github.com/kozaktomas/facegate/internal/model/modeltest"
	"github.com/kozaktomas/facegate/internal/web/middleware"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Embedding: config.EmbeddingConfig{Model: config.DefaultModel},
		Camera:    config.CameraConfig{MaxSize: 1024},
		Policy:    config.PolicyConfig{MultiFace: "fail-closed", MaxBiometricAttempts: 3},
	}
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// testFrame encodes a small uniform PNG; different shades give different frames.
func testFrame(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error: %v", err)
	}
	return buf.Bytes()
}

// frameRequest builds a multipart request uploading frame as the "frame" field.
func frameRequest(t *testing.T, method, path string, frame []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("frame", "frame.png")
	if err != nil {
		t.Fatalf("CreateFormFile() error: %v", err)
	}
	if _, err := part.Write(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// jsonRequest builds a request with a JSON body.
func jsonRequest(t *testing.T, method, path string, v any) *http.Request {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// flowEnv wires flow handlers to in-memory collaborators.
type flowEnv struct {
	store    *credential.MemoryStore
	hasher   credential.Hasher
	model    *modeltest.StaticModel
	gate     *model.Gate
	sessions *middleware.SessionManager
}

func newFlowEnv(t *testing.T) *flowEnv {
	t.Helper()
	m := modeltest.NewStaticModel()
	sm := middleware.NewSessionManager("test-secret")
	t.Cleanup(sm.Stop)
	return &flowEnv{
		store:    credential.NewMemoryStore(),
		hasher:   credential.NewBcryptHasher(4),
		model:    m,
		gate:     model.NewGate(modeltest.Loader(m), model.Source{Name: "static", Dim: 128}),
		sessions: sm,
	}
}

func (e *flowEnv) options() FlowOptions {
	return FlowOptions{
		Deps: flow.Deps{
			Store:     e.store,
			Hasher:    e.hasher,
			Gate:      e.gate,
			Extractor: extractor.New(extractor.FailClosed),
		},
		MaxFrameSize: 1024,
		Sessions:     e.sessions,
	}
}

// enroll stores an account directly, bypassing the enrollment flow.
func (e *flowEnv) enroll(t *testing.T, identifier, secret string, descriptor []float32) {
	t.Helper()
	hash, err := e.hasher.Hash(secret)
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}
	rec := &credential.AccountRecord{
		Identifier:        identifier,
		SecretHash:        hash,
		FaceDescriptor:    descriptor,
		DisplayAttributes: map[string]string{credential.RoleAttribute: "user", credential.AttrFullName: "Jana Novakova"},
	}
	if err := e.store.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
