package adapthttp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"lumitrack/internal/adapter/memory"
	"lumitrack/internal/app"
	"lumitrack/internal/domain"
)

type testEnv struct {
	srv *httptest.Server
	db  *memory.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := memory.New()
	log := zerolog.Nop()

	creds := app.NewCredentialService(db, db.NewSessionRepo(), bcrypt.MinCost)
	sessions := app.NewSessionService(creds, db.NewSessionRepo(), time.Hour, log)
	ingest := app.NewIngestService(db, log)
	export := app.NewExportService(db)

	if _, err := creds.CreateUser(context.Background(), "alice", "secret123"); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	handler := New(sessions, creds, ingest, export, nil, log, 1<<20).Handler()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, db: db}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/login", "",
		strings.NewReader(`{"username":"alice","password":"secret123"}`))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if out.Token == "" {
		t.Fatal("empty token")
	}
	return out.Token
}

func TestPing(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/ping", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{
		`{"username":"alice","password":"wrong"}`,
		`{"username":"nobody","password":"secret123"}`,
	} {
		resp := env.do(t, http.MethodPost, "/api/login", "", strings.NewReader(body))
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d for %s", resp.StatusCode, body)
		}
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		// One uniform error body; the response must not say which part failed.
		if !strings.Contains(string(b), "authentication required") {
			t.Errorf("unexpected error body: %s", b)
		}
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/checkToken"},
		{http.MethodPost, "/api/createUser"},
		{http.MethodPost, "/api/uploadData"},
		{http.MethodGet, "/api/exportData"},
		{http.MethodPost, "/api/getDancerFiberData"},
		{http.MethodPost, "/api/getDancerLEDData"},
	}
	for _, p := range paths {
		resp := env.do(t, p.method, p.path, "", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d", p.method, p.path, resp.StatusCode)
		}
		resp = env.do(t, p.method, p.path, "garbage-token", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s with bad token: status = %d", p.method, p.path, resp.StatusCode)
		}
	}
}

func TestCheckToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	resp := env.do(t, http.MethodGet, "/api/checkToken", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Valid  bool  `json:"valid"`
		UserID int64 `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Valid || out.UserID == 0 {
		t.Errorf("unexpected body: %+v", out)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	resp := env.do(t, http.MethodPost, "/api/logout", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}

	// The token is dead for protected calls.
	resp = env.do(t, http.MethodGet, "/api/checkToken", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("revoked token check: status = %d", resp.StatusCode)
	}

	// Logging the same token out again still succeeds.
	resp = env.do(t, http.MethodPost, "/api/logout", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("repeat logout status = %d", resp.StatusCode)
	}

	// A token that never existed is a 401.
	resp = env.do(t, http.MethodPost, "/api/logout", "never-issued", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unknown token logout status = %d", resp.StatusCode)
	}
}

func TestCreateUser(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	resp := env.do(t, http.MethodPost, "/api/createUser", token,
		strings.NewReader(`{"username":"bob","password":"hunter22"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	// Duplicate username conflicts.
	resp = env.do(t, http.MethodPost, "/api/createUser", token,
		strings.NewReader(`{"username":"bob","password":"hunter22"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d", resp.StatusCode)
	}

	// Weak password is invalid input.
	resp = env.do(t, http.MethodPost, "/api/createUser", token,
		strings.NewReader(`{"username":"carol","password":"short"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("weak password status = %d", resp.StatusCode)
	}
}

func TestUploadExportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	payload := `{"version":1,"records":[
		{"dancer":"d1","channel":"fiber","ts":10,"data":[0.5,0.25]},
		{"dancer":"d1","channel":"fiber","ts":20,"data":[0.75]},
		{"dancer":"d2","channel":"led","ts":10,"data":[255,0]}
	]}`
	resp := env.do(t, http.MethodPost, "/api/uploadData", token, strings.NewReader(payload))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var summary app.IngestSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	resp.Body.Close()
	if summary.Accepted != 3 || summary.Rejected != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	resp = env.do(t, http.MethodGet, "/api/exportData", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	exported, _ := io.ReadAll(resp.Body)

	// The export re-uploads cleanly.
	resp = env.do(t, http.MethodPost, "/api/uploadData", token, bytes.NewReader(exported))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-upload status = %d", resp.StatusCode)
	}
	var summary2 app.IngestSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary2); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary2.Accepted != 3 || summary2.Rejected != 0 {
		t.Errorf("re-upload summary = %+v", summary2)
	}
}

func TestUpload_Gzip(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = io.WriteString(gz, `{"version":1,"records":[{"dancer":"d1","channel":"led","ts":1,"data":[7]}]}`)
	_ = gz.Close()

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/uploadData", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var summary app.IngestSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Accepted != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestUpload_Unparsable(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	resp := env.do(t, http.MethodPost, "/api/uploadData", token, strings.NewReader(`garbage`))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestExport_QueryFilters(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	payload := `{"version":1,"records":[
		{"dancer":"d1","channel":"fiber","ts":10,"data":[0.5]},
		{"dancer":"d1","channel":"fiber","ts":20,"data":[0.6]},
		{"dancer":"d1","channel":"fiber","ts":30,"data":[0.7]}
	]}`
	resp := env.do(t, http.MethodPost, "/api/uploadData", token, strings.NewReader(payload))
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/exportData?dancer=d1&channel=fiber&from=10&to=30", token, nil)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	// Half-open range keeps ts 10 and 20, drops 30.
	if !strings.Contains(string(body), `"ts":10`) || !strings.Contains(string(body), `"ts":20`) {
		t.Errorf("expected ts 10 and 20 in export: %s", body)
	}
	if strings.Contains(string(body), `"ts":30`) {
		t.Errorf("ts 30 should be excluded: %s", body)
	}

	resp = env.do(t, http.MethodGet, "/api/exportData?channel=laser", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad channel status = %d", resp.StatusCode)
	}
}

// brokenTelemetry fails every operation, standing in for a store outage.
type brokenTelemetry struct{}

func (brokenTelemetry) Append(ctx context.Context, dancerID string, channel domain.Channel, samples []domain.SensorSample) (domain.AppendResult, error) {
	return domain.AppendResult{}, errors.New("store unavailable")
}

func (brokenTelemetry) ReadAll(ctx context.Context, dancerID string, channel domain.Channel) ([]domain.SensorSample, error) {
	return nil, errors.New("store unavailable")
}

func (brokenTelemetry) ReadRange(ctx context.Context, dancerID string, channel domain.Channel, fromTs, toTs int64) ([]domain.SensorSample, error) {
	return nil, errors.New("store unavailable")
}

func (brokenTelemetry) Keys(ctx context.Context) ([]domain.PartitionKey, error) {
	return nil, errors.New("store unavailable")
}

func TestExport_StoreFailureBeforeStreaming(t *testing.T) {
	db := memory.New()
	log := zerolog.Nop()
	creds := app.NewCredentialService(db, db.NewSessionRepo(), bcrypt.MinCost)
	sessions := app.NewSessionService(creds, db.NewSessionRepo(), time.Hour, log)
	ingest := app.NewIngestService(db, log)
	export := app.NewExportService(brokenTelemetry{})
	if _, err := creds.CreateUser(context.Background(), "alice", "secret123"); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	srv := httptest.NewServer(New(sessions, creds, ingest, export, nil, log, 1<<20).Handler())
	t.Cleanup(srv.Close)
	env := &testEnv{srv: srv, db: db}
	token := env.login(t)

	// A store failure before any byte is streamed must surface as an error
	// response, not a 200 with a truncated body.
	resp := env.do(t, http.MethodGet, "/api/exportData", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" {
		t.Errorf("error response must not claim Content-Encoding %q", enc)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"error"`) {
		t.Errorf("expected taxonomy error body, got %s", body)
	}
}

func TestDancerChannelEndpoints(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	payload := `{"version":1,"records":[
		{"dancer":"d1","channel":"fiber","ts":10,"data":[0.5]},
		{"dancer":"d1","channel":"led","ts":10,"data":[128]}
	]}`
	resp := env.do(t, http.MethodPost, "/api/uploadData", token, strings.NewReader(payload))
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/getDancerFiberData", token,
		strings.NewReader(`{"dancer":"d1"}`))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fiber status = %d", resp.StatusCode)
	}
	var out struct {
		Dancer  string `json:"dancer"`
		Channel string `json:"channel"`
		Records []struct {
			Ts   *int64    `json:"ts"`
			Data []float64 `json:"data"`
		} `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Channel != "fiber" || len(out.Records) != 1 {
		t.Errorf("unexpected body: %+v", out)
	}

	resp = env.do(t, http.MethodPost, "/api/getDancerLEDData", token,
		strings.NewReader(`{"dancer":"d1"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("led status = %d", resp.StatusCode)
	}

	// Unknown dancer is a 404.
	resp = env.do(t, http.MethodPost, "/api/getDancerFiberData", token,
		strings.NewReader(`{"dancer":"ghost"}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown dancer status = %d", resp.StatusCode)
	}
}

func TestDeleteUser_RevokesSessions(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	// Create bob, log bob in, then delete bob with alice's session.
	resp := env.do(t, http.MethodPost, "/api/createUser", token,
		strings.NewReader(`{"username":"bob","password":"hunter22"}`))
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/login", "",
		strings.NewReader(`{"username":"bob","password":"hunter22"}`))
	var bobLogin struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bobLogin); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/deleteUser", token,
		strings.NewReader(`{"user_id":`+jsonInt(created.ID)+`}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	// Bob's session died with the account.
	resp = env.do(t, http.MethodGet, "/api/checkToken", bobLogin.Token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("deleted user's token: status = %d", resp.StatusCode)
	}

	// Deleting again is a 404.
	resp = env.do(t, http.MethodPost, "/api/deleteUser", token,
		strings.NewReader(`{"user_id":`+jsonInt(created.ID)+`}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("repeat delete status = %d", resp.StatusCode)
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
