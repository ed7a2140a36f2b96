package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kiliankoe/promptgate/internal/completion"
	"github.com/kiliankoe/promptgate/internal/uploads"
	"github.com/kiliankoe/promptgate/internal/usage"
)

type stubProvider struct {
	prompts []string
	text    string
	err     error
}

func (p *stubProvider) Complete(ctx context.Context, apiKey, model, prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	return p.text, p.err
}

func newTestRouter(t *testing.T, p *stubProvider) (*gin.Engine, *usage.Gate) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	g := usage.NewGate()
	res, err := usage.NewResolver("sk-default", g)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	svc, err := completion.New(g, res, p, "gpt-4")
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	store, err := uploads.Open(t.TempDir())
	if err != nil {
		t.Fatalf("uploads: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	r := gin.New()
	r.Use(RequestID())
	h := &Handler{Gate: g, Service: svc, Uploads: store, MaxBytes: 1 << 20}
	h.Register(r)
	return r, g
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func multipartBody(t *testing.T, field, filename string, data []byte, kind string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" || data != nil {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		fw.Write(data)
	}
	if kind != "" {
		mw.WriteField("type", kind)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestCallModelMetersAndGates(t *testing.T) {
	p := &stubProvider{text: "ok"}
	r, _ := newTestRouter(t, p)
	body := map[string]string{"system_prompt": "sys", "user_prompt": "hi"}
	for i := 0; i < usage.FreeLimit; i++ {
		w := doJSON(t, r, http.MethodPost, "/api/call-model", body)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		out := decode(t, w)
		if out["success"] != true || out["response"] != "ok" {
			t.Fatalf("call %d: unexpected body %v", i+1, out)
		}
		if _, ok := out["needs_api_key"]; ok {
			t.Fatalf("needs_api_key should be omitted on success, got %v", out)
		}
	}
	w := doJSON(t, r, http.MethodPost, "/api/call-model", body)
	if w.Code != http.StatusOK {
		t.Fatalf("gated call should still be 200, got %d", w.Code)
	}
	out := decode(t, w)
	if out["success"] != false || out["needs_api_key"] != true || out["response"] != completion.NeedsKeyMessage {
		t.Fatalf("unexpected gated body %v", out)
	}
	if len(p.prompts) != usage.FreeLimit {
		t.Fatalf("provider called %d times, expected %d", len(p.prompts), usage.FreeLimit)
	}

	w = doJSON(t, r, http.MethodGet, "/api/get-count", nil)
	if decode(t, w)["count"] != float64(usage.FreeLimit+1) {
		t.Fatalf("unexpected count body %s", w.Body.String())
	}
}

func TestCallModelSetsSessionCookie(t *testing.T) {
	r, _ := newTestRouter(t, &stubProvider{text: "ok"})
	w := doJSON(t, r, http.MethodPost, "/api/call-model", map[string]string{"user_prompt": "hi"})
	if !strings.Contains(w.Header().Get("Set-Cookie"), "session_active=true") {
		t.Fatalf("expected session cookie, got %q", w.Header().Get("Set-Cookie"))
	}
}

func TestCallModelProviderErrorIs200(t *testing.T) {
	r, _ := newTestRouter(t, &stubProvider{err: errors.New("openai status 500")})
	w := doJSON(t, r, http.MethodPost, "/api/call-model", map[string]string{"user_prompt": "hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	out := decode(t, w)
	if out["success"] != false || out["response"] != "openai status 500" {
		t.Fatalf("unexpected body %v", out)
	}
}

func TestCallModelWithSources(t *testing.T) {
	p := &stubProvider{text: "ok"}
	r, _ := newTestRouter(t, p)
	raw := `{"system_prompt":"sys","user_prompt":"summarize doc1","sources":{"doc1":"hello world","doc2":"skip"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/call-model", strings.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(p.prompts) != 1 {
		t.Fatalf("expected one provider call, got %d", len(p.prompts))
	}
	if !strings.Contains(p.prompts[0], "Content for doc1: hello world") || strings.Contains(p.prompts[0], "skip") {
		t.Fatalf("unexpected composed prompt %q", p.prompts[0])
	}
}

func TestCallModelWithSource(t *testing.T) {
	p := &stubProvider{text: "ok"}
	r, _ := newTestRouter(t, p)
	w := doJSON(t, r, http.MethodPost, "/api/call-model-with-source", map[string]string{
		"system_prompt": "sys", "user_prompt": "question", "processed_data": "THE SOURCE",
	})
	if decode(t, w)["success"] != true {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
	if !strings.Contains(p.prompts[0], "Source: THE SOURCE\n\nsys question") {
		t.Fatalf("unexpected prompt %q", p.prompts[0])
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	r, g := newTestRouter(t, &stubProvider{text: "ok"})
	for i := 0; i < 5; i++ {
		g.Admit()
	}

	w := doJSON(t, r, http.MethodPost, "/api/set-api-key", map[string]string{"api_key": "sk-user"})
	if w.Code != http.StatusOK || decode(t, w)["success"] != true {
		t.Fatalf("set-api-key failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/check-api-key", nil)
	out := decode(t, w)
	if out["hasCustomKey"] != true || out["apiKey"] != "sk-user" || out["count"] != float64(5) {
		t.Fatalf("unexpected status %v", out)
	}

	w = doJSON(t, r, http.MethodPost, "/api/call-model", map[string]string{"user_prompt": "hi"})
	if decode(t, w)["success"] != true {
		t.Fatalf("call with custom key should pass: %s", w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/api/remove-api-key", nil)
	if decode(t, w)["success"] != true {
		t.Fatalf("remove-api-key failed: %s", w.Body.String())
	}
	out = decode(t, doJSON(t, r, http.MethodGet, "/api/check-api-key", nil))
	if out["hasCustomKey"] != false || out["apiKey"] != "" || out["count"] != float64(0) {
		t.Fatalf("unexpected status after remove %v", out)
	}
}

func TestSetAPIKeyRequiresKey(t *testing.T) {
	r, g := newTestRouter(t, &stubProvider{})
	w := doJSON(t, r, http.MethodPost, "/api/set-api-key", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if g.Status().HasCustomKey {
		t.Fatal("override should not be set")
	}
}

func TestResetCount(t *testing.T) {
	r, g := newTestRouter(t, &stubProvider{})
	g.Admit()
	g.Admit()
	w := doJSON(t, r, http.MethodPost, "/api/reset-count", nil)
	if decode(t, w)["success"] != true {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
	if g.Count() != 0 {
		t.Fatalf("expected count 0, got %d", g.Count())
	}
}

func TestUploadImage(t *testing.T) {
	r, _ := newTestRouter(t, &stubProvider{})
	var img bytes.Buffer
	png.Encode(&img, image.NewGray(image.Rect(0, 0, 2, 2)))

	body, ct := multipartBody(t, "file", "pic.png", img.Bytes(), "image")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["success"] != true || out["filename"] != "pic.png" {
		t.Fatalf("unexpected body %v", out)
	}
	if s, _ := out["processed_data"].(string); s == "" {
		t.Fatal("expected base64 processed_data")
	}
	path, _ := out["filepath"].(string)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("uploaded original not saved: %v", err)
	}
}

func TestUploadMissingFile(t *testing.T) {
	r, _ := newTestRouter(t, &stubProvider{})
	body, ct := multipartBody(t, "", "", nil, "image")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if decode(t, w)["error"] != "No file part" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestUploadUnsupportedType(t *testing.T) {
	r, _ := newTestRouter(t, &stubProvider{})
	body, ct := multipartBody(t, "file", "data.csv", []byte("a,b\n"), "csv")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if _, ok := decode(t, w)["error"]; !ok {
		t.Fatalf("expected error body, got %s", w.Body.String())
	}
}

func TestUploadBrokenDocument(t *testing.T) {
	r, _ := newTestRouter(t, &stubProvider{})
	body, ct := multipartBody(t, "file", "bad.pdf", []byte("not a pdf at all"), "pdf")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	r, _ := newTestRouter(t, &stubProvider{})
	w := doJSON(t, r, http.MethodGet, "/health", nil)
	if w.Header().Get(HeaderRequestID) == "" {
		t.Fatal("expected generated request id")
	}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get(HeaderRequestID) != "abc" {
		t.Fatalf("expected echoed request id, got %q", w.Header().Get(HeaderRequestID))
	}
}

func TestCallModelRejectsUndecodableBody(t *testing.T) {
	p := &stubProvider{text: "ok"}
	r, g := newTestRouter(t, p)
	bodies := map[string]string{
		"/api/call-model":             `{"system_prompt":"sys","user_prompt":"summarize doc1","sources":5}`,
		"/api/call-model-with-source": `{not json`,
	}
	for path, raw := range bodies {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, w.Code)
		}
		out := decode(t, w)
		if _, ok := out["error"]; !ok || out["success"] != false {
			t.Fatalf("%s: unexpected body %v", path, out)
		}
	}
	if g.Count() != 0 {
		t.Fatalf("rejected bodies should not be counted, got %d", g.Count())
	}
	if len(p.prompts) != 0 {
		t.Fatalf("provider should not be called, got %q", p.prompts)
	}
}

func TestUploadTooLarge(t *testing.T) {
	r, _ := newTestRouter(t, &stubProvider{})
	big := bytes.Repeat([]byte("x"), 3<<20)
	body, ct := multipartBody(t, "file", "huge.png", big, "image")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
}
