package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/store/memory"
)

const (
	email    = "bob@example.com"
	password = "s3cure-password"
)

func newServer(t *testing.T, mutate func(*authcore.Config)) *httptest.Server {
	t.Helper()

	key, err := jwt.GenerateEd25519Key("k1")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := authcore.DefaultConfig()
	cfg.Token.PrivateKey = key.PrivateKey
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Security.EnableLoginThrottle = false
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := authcore.New().WithConfig(cfg).WithStore(memory.New()).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	srv := httptest.NewServer(NewRouter(Dependencies{Engine: engine, BasePath: "/rest"}))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path, bearer, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path, bearer string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func passwordLogin(t *testing.T, srv *httptest.Server) tokenResponse {
	t.Helper()

	form := url.Values{"username": {email}, "password": {password}}
	resp, err := srv.Client().PostForm(srv.URL+"/rest/auth/token", form)
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from token, got %d", resp.StatusCode)
	}
	return decodeBody[tokenResponse](t, resp)
}

func TestSignupTokenProtected(t *testing.T) {
	srv := newServer(t, nil)

	resp := postJSON(t, srv, "/rest/auth/signup", "", `{"email":"Bob@Example.com","password":"`+password+`"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	created := decodeBody[accountResponse](t, resp)
	if created.Email != email || created.AccountID == "" {
		t.Fatalf("unexpected signup body %+v", created)
	}

	tok := passwordLogin(t, srv)
	if tok.TokenType != "bearer" || tok.AccessToken == "" || tok.RefreshToken == "" {
		t.Fatalf("unexpected token body %+v", tok)
	}
	if tok.ExpiresIn <= 0 {
		t.Fatalf("expected positive expires_in, got %d", tok.ExpiresIn)
	}

	resp = get(t, srv, "/rest/protected-route", tok.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from protected route, got %d", resp.StatusCode)
	}
	if body := decodeBody[map[string]string](t, resp); body["message"] != "This is a protected route" {
		t.Fatalf("unexpected protected body %v", body)
	}

	resp = get(t, srv, "/rest/users/me", tok.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /users/me, got %d", resp.StatusCode)
	}
	if me := decodeBody[accountResponse](t, resp); me.AccountID != created.AccountID {
		t.Fatalf("identity mismatch: %+v vs %+v", me, created)
	}
}

func TestSignupErrors(t *testing.T) {
	srv := newServer(t, nil)
	body := `{"email":"` + email + `","password":"` + password + `"}`

	if resp := postJSON(t, srv, "/rest/auth/signup", "", body); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	resp := postJSON(t, srv, "/rest/auth/signup", "", body)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", resp.StatusCode)
	}
	if e := decodeBody[errorBody](t, resp); e.Error != "duplicate_account" {
		t.Fatalf("unexpected error code %q", e.Error)
	}

	resp = postJSON(t, srv, "/rest/auth/signup", "", `{"email":"not-an-email","password":"`+password+`"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad email, got %d", resp.StatusCode)
	}
	if e := decodeBody[errorBody](t, resp); e.Error != "invalid_email" {
		t.Fatalf("unexpected error code %q", e.Error)
	}

	resp = postJSON(t, srv, "/rest/auth/signup", "", `{"email":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", resp.StatusCode)
	}
}

func TestTokenRejectsBadCredentials(t *testing.T) {
	srv := newServer(t, nil)
	postJSON(t, srv, "/rest/auth/signup", "", `{"email":"`+email+`","password":"`+password+`"}`)

	for _, body := range []string{
		`{"email":"` + email + `","password":"wrong-password"}`,
		`{"email":"nobody@example.com","password":"` + password + `"}`,
	} {
		resp := postJSON(t, srv, "/rest/auth/token", "", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
		if e := decodeBody[errorBody](t, resp); e.Detail != "Incorrect email or password" {
			t.Fatalf("unexpected detail %q", e.Detail)
		}
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	resp, err := srv.Client().PostForm(srv.URL+"/rest/auth/token", form)
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported grant, got %d", resp.StatusCode)
	}
}

func TestRefreshAndReuse(t *testing.T) {
	srv := newServer(t, nil)
	postJSON(t, srv, "/rest/auth/signup", "", `{"email":"`+email+`","password":"`+password+`"}`)
	tok := passwordLogin(t, srv)

	resp := postJSON(t, srv, "/rest/auth/refresh", "", `{"refresh_token":"`+tok.RefreshToken+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from refresh, got %d", resp.StatusCode)
	}
	rotated := decodeBody[tokenResponse](t, resp)
	if rotated.RefreshToken == tok.RefreshToken || rotated.SessionID != tok.SessionID {
		t.Fatalf("refresh did not rotate within the session: %+v", rotated)
	}

	resp = postJSON(t, srv, "/rest/auth/refresh", "", `{"refresh_token":"`+tok.RefreshToken+`"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 on reuse, got %d", resp.StatusCode)
	}
	if e := decodeBody[errorBody](t, resp); e.Error != "refresh_reuse" {
		t.Fatalf("unexpected error code %q", e.Error)
	}

	if resp := get(t, srv, "/rest/users/me", rotated.AccessToken); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("session should be revoked after reuse, got %d", resp.StatusCode)
	}
}

func TestRefreshGrantOnTokenEndpoint(t *testing.T) {
	srv := newServer(t, nil)
	postJSON(t, srv, "/rest/auth/signup", "", `{"email":"`+email+`","password":"`+password+`"}`)
	tok := passwordLogin(t, srv)

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {tok.RefreshToken}}
	resp, err := srv.Client().PostForm(srv.URL+"/rest/auth/token", form)
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestJSONGrantsOnTokenEndpoint(t *testing.T) {
	srv := newServer(t, nil)
	postJSON(t, srv, "/rest/auth/signup", "", `{"email":"`+email+`","password":"`+password+`"}`)

	resp := postJSON(t, srv, "/rest/auth/token", "", `{"grant_type":"password","email":"`+email+`","password":"`+password+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for JSON password grant, got %d", resp.StatusCode)
	}
	tok := decodeBody[tokenResponse](t, resp)

	resp = postJSON(t, srv, "/rest/auth/token", "", `{"grant_type":"refresh_token","refresh_token":"`+tok.RefreshToken+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for JSON refresh grant, got %d", resp.StatusCode)
	}
	rotated := decodeBody[tokenResponse](t, resp)
	if rotated.RefreshToken == "" || rotated.RefreshToken == tok.RefreshToken {
		t.Fatalf("expected a rotated refresh token, got %q", rotated.RefreshToken)
	}

	resp = postJSON(t, srv, "/rest/auth/token", "", `{"grant_type":"client_credentials"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported grant, got %d", resp.StatusCode)
	}
}

func TestLogout(t *testing.T) {
	srv := newServer(t, nil)
	postJSON(t, srv, "/rest/auth/signup", "", `{"email":"`+email+`","password":"`+password+`"}`)
	tok := passwordLogin(t, srv)

	if resp := postJSON(t, srv, "/rest/auth/logout", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("logout without token should be 401, got %d", resp.StatusCode)
	}
	if resp := postJSON(t, srv, "/rest/auth/logout", tok.AccessToken, ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if resp := get(t, srv, "/rest/protected-route", tok.AccessToken); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestLogoutAllAndChangePassword(t *testing.T) {
	srv := newServer(t, nil)
	postJSON(t, srv, "/rest/auth/signup", "", `{"email":"`+email+`","password":"`+password+`"}`)
	first := passwordLogin(t, srv)
	second := passwordLogin(t, srv)

	resp := postJSON(t, srv, "/rest/auth/logout-all", first.AccessToken, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decodeBody[map[string]int](t, resp); body["revoked"] != 2 {
		t.Fatalf("expected two revoked sessions, got %v", body)
	}
	if resp := get(t, srv, "/rest/users/me", second.AccessToken); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	tok := passwordLogin(t, srv)
	resp = postJSON(t, srv, "/rest/auth/change-password", tok.AccessToken,
		`{"old_password":"wrong-password","new_password":"another-password"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong old password, got %d", resp.StatusCode)
	}
	resp = postJSON(t, srv, "/rest/auth/change-password", tok.AccessToken,
		`{"old_password":"`+password+`","new_password":"another-password"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	form := url.Values{"username": {email}, "password": {"another-password"}}
	login, err := srv.Client().PostForm(srv.URL+"/rest/auth/token", form)
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	defer login.Body.Close()
	if login.StatusCode != http.StatusOK {
		t.Fatalf("expected login with new password to succeed, got %d", login.StatusCode)
	}
}

func TestRateLimitedLogin(t *testing.T) {
	srv := newServer(t, func(cfg *authcore.Config) {
		cfg.Security.EnableLoginThrottle = true
		cfg.Security.MaxLoginAttempts = 2
	})
	postJSON(t, srv, "/rest/auth/signup", "", `{"email":"`+email+`","password":"`+password+`"}`)

	bad := `{"email":"` + email + `","password":"wrong-password"}`
	postJSON(t, srv, "/rest/auth/token", "", bad)
	postJSON(t, srv, "/rest/auth/token", "", bad)

	resp := postJSON(t, srv, "/rest/auth/token", "", bad)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestHealth(t *testing.T) {
	srv := newServer(t, nil)

	if resp := get(t, srv, "/health/live", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from live, got %d", resp.StatusCode)
	}
	if resp := get(t, srv, "/health/ready", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from ready, got %d", resp.StatusCode)
	}
	if resp := get(t, srv, "/metrics", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("metrics should not be mounted without a handler, got %d", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{authcore.ErrInvalidRequest, http.StatusBadRequest},
		{authcore.ErrInvalidCredentials, http.StatusBadRequest},
		{authcore.ErrDuplicateAccount, http.StatusConflict},
		{authcore.ErrRefreshReuse, http.StatusUnauthorized},
		{authcore.ErrTokenExpired, http.StatusUnauthorized},
		{authcore.ErrAccountNotFound, http.StatusNotFound},
		{authcore.ErrRateLimited, http.StatusTooManyRequests},
		{authcore.ErrTransient, http.StatusServiceUnavailable},
		{authcore.ErrEngineNotReady, http.StatusInternalServerError},
		{authcore.ErrInternal, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}
