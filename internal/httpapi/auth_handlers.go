package httpapi

import (
	"net/http"

	"userhub.org/internal/audit"
	"userhub.org/internal/auth"
)

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type loginRequest struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type resetRequestRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

type authResponse struct {
	User   *auth.User     `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

func (a *API) handleAuth(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/v1/auth/register":
		a.register(w, r)
	case "/v1/auth/login":
		a.login(w, r)
	case "/v1/auth/refresh":
		a.refresh(w, r)
	case "/v1/auth/logout":
		a.logout(w, r)
	case "/v1/auth/logout-all":
		a.logoutAll(w, r)
	case "/v1/auth/password/change":
		a.changePassword(w, r)
	case "/v1/auth/password/reset-request":
		a.requestPasswordReset(w, r)
	case "/v1/auth/password/reset":
		a.resetPassword(w, r)
	case "/v1/auth/verify-email":
		a.verifyEmail(w, r)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	meta := requestMeta(r)
	// The raw verification token is handed to the embedding service for
	// delivery; it must never enter an HTTP response.
	user, _, err := a.accounts.Register(r.Context(), auth.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, meta)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	pair, err := a.issuer.Issue(r.Context(), user, meta.IP, meta.UserAgent)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{"username": user.Username})
	writeJSON(w, http.StatusCreated, authResponse{User: user, Tokens: pair})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}
	meta := requestMeta(r)
	user, err := a.accounts.Authenticate(r.Context(), identifier, req.Password, meta)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	pair, err := a.issuer.Issue(r.Context(), user, meta.IP, meta.UserAgent)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{"username": user.Username})
	writeJSON(w, http.StatusOK, authResponse{User: user, Tokens: pair})
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.issuer.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": pair})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if err := a.issuer.Revoke(r.Context(), identity.SessionID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	meta := requestMeta(r)
	a.recorder.Record(r.Context(), auth.ActivityEntry{
		UserID:    identity.UserID,
		Action:    auth.ActionLogout,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) logoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if err := a.issuer.RevokeAll(r.Context(), identity.UserID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	meta := requestMeta(r)
	a.recorder.Record(r.Context(), auth.ActivityEntry{
		UserID:    identity.UserID,
		Action:    auth.ActionLogout,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"scope": "all_sessions"},
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.accounts.ChangePassword(r.Context(), identity.UserID, req.OldPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requestPasswordReset responds 202 whether or not the email maps to an
// account. Token delivery happens out-of-band; the token never appears in the
// response or the logs.
func (a *API) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// The raw reset token goes to the embedding service for out-of-band
	// delivery, never into the response or logs.
	if _, err := a.accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
	})
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.accounts.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) verifyEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.accounts.VerifyEmail(r.Context(), req.Token); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}
