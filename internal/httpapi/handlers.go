package httpapi

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

const maxBodyBytes = 1 << 20

type credentials struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c credentials) login() string {
	if c.Email != "" {
		return c.Email
	}
	return c.Username
}

// tokenRequest is the /auth/token body: credentials for the password grant, or a refresh
// token for the refresh_token grant.
type tokenRequest struct {
	credentials
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshToken     string    `json:"refresh_token"`
	SessionID        string    `json:"session_id"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

type accountResponse struct {
	AccountID string    `json:"account_id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	Disabled  bool      `json:"disabled,omitempty"`
}

func (a *API) tokenResponse(pair authcore.TokenPair) tokenResponse {
	expiresIn := int64(pair.ExpiresAt.Sub(a.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		TokenType:        "bearer",
		ExpiresIn:        expiresIn,
		RefreshToken:     pair.RefreshToken,
		SessionID:        pair.SessionID,
		SessionExpiresAt: pair.SessionExpiresAt,
	}
}

// decode fills dst from a JSON body, or from an urlencoded form via fromForm.
func decode(w http.ResponseWriter, r *http.Request, dst any, fromForm func(r *http.Request)) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if fromForm == nil {
			return errors.New("form body not accepted")
		}
		if err := r.ParseForm(); err != nil {
			return err
		}
		fromForm(r)
		return nil
	default:
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		return dec.Decode(dst)
	}
}

func (a *API) tenant(requested string) string {
	if requested != "" {
		return requested
	}
	return a.defaultTenant
}

func (a *API) signup(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decode(w, r, &req, func(r *http.Request) {
		req.TenantID = r.PostForm.Get("tenant_id")
		req.Email = r.PostForm.Get("email")
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	}); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	res, err := a.engine.Signup(r.Context(), a.tenant(req.TenantID), req.login(), req.Password)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, accountResponse{
		AccountID: res.AccountID,
		TenantID:  res.TenantID,
		Email:     res.Email,
		CreatedAt: res.CreatedAt,
	})
}

// token is the OAuth2 password-grant endpoint. It also accepts grant_type=refresh_token,
// in JSON and form bodies alike.
func (a *API) token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(w, r, &req, func(r *http.Request) {
		req.GrantType = r.PostForm.Get("grant_type")
		req.RefreshToken = r.PostForm.Get("refresh_token")
		req.TenantID = r.PostForm.Get("tenant_id")
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	}); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	var (
		pair authcore.TokenPair
		err  error
	)
	switch req.GrantType {
	case "", "password":
		pair, err = a.engine.Login(r.Context(), a.tenant(req.TenantID), req.login(), req.Password)
	case "refresh_token":
		pair, err = a.engine.Refresh(r.Context(), req.RefreshToken)
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant type")
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.tokenResponse(pair))
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(w, r, &req, func(r *http.Request) {
		req.RefreshToken = r.PostForm.Get("refresh_token")
	}); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	pair, err := a.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.tokenResponse(pair))
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	if err := a.engine.Logout(r.Context(), id.SessionID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) logoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	n, err := a.engine.LogoutAll(r.Context(), id.AccountID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decode(w, r, &req, nil); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	id, _ := middleware.IdentityFromContext(r.Context())
	acct, err := a.engine.Account(r.Context(), id.AccountID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := a.engine.ChangePassword(r.Context(), acct.TenantID, acct.Email, req.OldPassword, req.NewPassword); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	acct, err := a.engine.Account(r.Context(), id.AccountID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		AccountID: acct.AccountID,
		TenantID:  acct.TenantID,
		Email:     acct.Email,
		CreatedAt: acct.CreatedAt,
		Disabled:  acct.Disabled,
	})
}

func (a *API) protected(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "This is a protected route"})
}

func (a *API) live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
