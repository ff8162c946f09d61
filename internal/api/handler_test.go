package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/buildcfg/internal/descriptor"
	"github.com/eugenenazirov/buildcfg/internal/properties"
	"github.com/eugenenazirov/buildcfg/internal/resolver"
	"github.com/eugenenazirov/buildcfg/internal/signing"
	"github.com/eugenenazirov/buildcfg/internal/storage"
	"github.com/eugenenazirov/buildcfg/internal/toolchain"
	"github.com/eugenenazirov/buildcfg/internal/watch"
)

type stubReloader struct {
	store *storage.MemoryStorage
	props map[string]string
	err   error
	calls int
}

func (s *stubReloader) Reload(ctx context.Context) (storage.Snapshot, error) {
	s.calls++
	if s.err != nil {
		return storage.Snapshot{}, s.err
	}
	d, err := descriptor.Assemble(ctx, descriptor.Input{
		Toolchain: toolchain.NewStatic(toolchain.DefaultVersions()),
		Signing:   signing.FromProperties(signing.ReleaseName, properties.FromMap(s.props), "/project/app"),
	})
	if err != nil {
		return storage.Snapshot{}, err
	}
	return s.store.Replace(d)
}

func setupTestRouter(t *testing.T, props map[string]string) (http.Handler, *stubReloader, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC))
	store := storage.NewMemoryStorage(clock)
	reloader := &stubReloader{store: store, props: props}

	handler := NewHandler(store, reloader, WithClock(clock))
	logger := zaptest.NewLogger(t)
	router := NewRouter(handler, logger, WithLogging(false))

	return router, reloader, clock
}

func serve(t *testing.T, router http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	resp := httptest.NewRecorder()
	writeInternalError(resp, assertError("boom"))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.Code)
	}
}

type assertError string

func (a assertError) Error() string { return string(a) }

func TestHealthEndpoint(t *testing.T) {
	router, _, clock := setupTestRouter(t, nil)

	rec := serve(t, router, http.MethodGet, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if !body.Timestamp.Equal(clock.Now()) {
		t.Fatalf("expected timestamp %s, got %s", clock.Now(), body.Timestamp)
	}
}

func TestDescriptorNotReadyBeforeFirstResolve(t *testing.T) {
	router, _, _ := setupTestRouter(t, nil)

	rec := serve(t, router, http.MethodGet, "/api/descriptor")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestReloadThenGetDescriptor(t *testing.T) {
	router, reloader, clock := setupTestRouter(t, map[string]string{
		signing.KeyAlias:      "release",
		signing.StorePassword: "secret",
	})

	clock.Advance(time.Hour)
	rec := serve(t, router, http.MethodPost, "/api/reload")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 from reload, got %d", rec.Code)
	}
	if reloader.calls != 1 {
		t.Fatalf("expected one reload, got %d", reloader.calls)
	}

	rec = serve(t, router, http.MethodGet, "/api/descriptor")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("descriptor response leaked a password: %s", rec.Body.String())
	}

	var body struct {
		Descriptor struct {
			Namespace     string `json:"namespace"`
			NdkVersion    string `json:"ndkVersion"`
			DefaultConfig struct {
				ApplicationID string `json:"applicationId"`
			} `json:"defaultConfig"`
		} `json:"descriptor"`
		Revision  uint64    `json:"revision"`
		UpdatedAt time.Time `json:"updatedAt"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Descriptor.Namespace != descriptor.Namespace {
		t.Fatalf("unexpected namespace %s", body.Descriptor.Namespace)
	}
	if body.Descriptor.DefaultConfig.ApplicationID != descriptor.ApplicationID {
		t.Fatalf("unexpected applicationId %s", body.Descriptor.DefaultConfig.ApplicationID)
	}
	if body.Descriptor.NdkVersion != descriptor.NdkVersion {
		t.Fatalf("unexpected ndkVersion %s", body.Descriptor.NdkVersion)
	}
	if body.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", body.Revision)
	}
	if !body.UpdatedAt.Equal(clock.Now()) {
		t.Fatalf("expected updatedAt %s, got %s", clock.Now(), body.UpdatedAt)
	}
}

func TestGetDescriptorAsYAML(t *testing.T) {
	router, _, _ := setupTestRouter(t, nil)
	serve(t, router, http.MethodPost, "/api/reload")

	rec := serve(t, router, http.MethodGet, "/api/descriptor?format=yaml")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/yaml" {
		t.Fatalf("expected yaml content type, got %s", got)
	}
	if !strings.Contains(rec.Body.String(), "ndk_version: "+descriptor.NdkVersion) {
		t.Fatalf("expected ndk_version in yaml body: %s", rec.Body.String())
	}

	rec = serve(t, router, http.MethodGet, "/api/descriptor?format=xml")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown format, got %d", rec.Code)
	}
}

func TestGetSigningReportsMissingFields(t *testing.T) {
	router, _, _ := setupTestRouter(t, map[string]string{
		signing.KeyAlias:      "release",
		signing.StorePassword: "secret",
	})
	serve(t, router, http.MethodPost, "/api/reload")

	rec := serve(t, router, http.MethodGet, "/api/signing")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		SigningConfig struct {
			Name          string  `json:"name"`
			KeyAlias      *string `json:"keyAlias"`
			KeyPassword   *string `json:"keyPassword"`
			StoreFile     *string `json:"storeFile"`
			StorePassword *string `json:"storePassword"`
		} `json:"signingConfig"`
		Complete bool     `json:"complete"`
		Missing  []string `json:"missing"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body.Complete {
		t.Fatalf("expected incomplete signing config")
	}
	if want := []string{signing.KeyPassword, signing.StoreFile}; fmt.Sprint(body.Missing) != fmt.Sprint(want) {
		t.Fatalf("expected missing %v, got %v", want, body.Missing)
	}
	if body.SigningConfig.KeyAlias == nil || *body.SigningConfig.KeyAlias != "release" {
		t.Fatalf("expected keyAlias release, got %v", body.SigningConfig.KeyAlias)
	}
	if body.SigningConfig.StorePassword == nil || *body.SigningConfig.StorePassword == "secret" {
		t.Fatalf("expected masked store password")
	}
	if body.SigningConfig.KeyPassword != nil || body.SigningConfig.StoreFile != nil {
		t.Fatalf("expected unset fields to be null")
	}
}

func TestReloadFailureMapsToStatus(t *testing.T) {
	router, reloader, _ := setupTestRouter(t, nil)

	reloader.err = fmt.Errorf("resolve descriptor: %w", signing.ErrIncomplete)
	rec := serve(t, router, http.MethodPost, "/api/reload")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}

	var body struct {
		Suggestion string `json:"suggestion"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Suggestion == "" {
		t.Fatalf("expected suggestion to be populated")
	}

	reloader.err = assertError("disk on fire")
	rec = serve(t, router, http.MethodPost, "/api/reload")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
}

func TestStrictReloadOfIncompleteSigningReturns422(t *testing.T) {
	root := t.TempDir()
	module := filepath.Join(root, "app")
	if err := os.MkdirAll(module, 0o755); err != nil {
		t.Fatalf("create module dir: %v", err)
	}
	keyProps := filepath.Join(root, "key.properties")
	if err := os.WriteFile(keyProps, []byte("keyAlias=release\n"), 0o600); err != nil {
		t.Fatalf("write key.properties: %v", err)
	}

	logger := zaptest.NewLogger(t)
	res := resolver.New(resolver.Options{KeyPropertiesPath: keyProps, ModuleDir: module, Strict: true},
		toolchain.NewStatic(toolchain.DefaultVersions()), logger)
	store := storage.NewMemoryStorage(nil)
	w, err := watch.New(res, store, []string{keyProps}, watch.WithLogger(logger))
	if err != nil {
		t.Fatalf("watch.New returned error: %v", err)
	}

	_, reloadErr := w.Reload(context.Background())
	if !errors.Is(reloadErr, resolver.ErrStrict) || !errors.Is(reloadErr, signing.ErrIncomplete) {
		t.Fatalf("expected strict incomplete-signing error, got %v", reloadErr)
	}

	router := NewRouter(NewHandler(store, w), logger, WithLogging(false), WithRateLimit(0, 0), WithReloadRateLimit(0, 0))
	rec := serve(t, router, http.MethodPost, "/api/reload")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Details string `json:"details"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	for _, key := range []string{signing.KeyPassword, signing.StoreFile, signing.StorePassword} {
		if !strings.Contains(body.Details, key) {
			t.Fatalf("expected %s in details: %s", key, body.Details)
		}
	}

	rec = serve(t, router, http.MethodGet, "/api/descriptor")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected store to stay empty after failed reload, got %d", rec.Code)
	}
}

func TestReloadWithoutReloader(t *testing.T) {
	handler := NewHandler(storage.NewMemoryStorage(nil), nil)
	router := NewRouter(handler, zaptest.NewLogger(t), WithLogging(false))

	rec := serve(t, router, http.MethodPost, "/api/reload")
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected status 501, got %d", rec.Code)
	}
}

func TestCorsPreflight(t *testing.T) {
	router, _, _ := setupTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/reload", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected Access-Control-Allow-Origin header to be set")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	router, _, _ := setupTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "test-request-id")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "test-request-id" {
		t.Fatalf("expected X-Request-ID header to be echoed, got %s", got)
	}
}
