package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/authgate"
)

const maxRequestBytes = 64 << 10

// Handler serves the authentication API from an authgate.Backend.
type Handler struct {
	backend authgate.Backend
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewHandler routes /auth/* to backend. A nil logger discards.
func NewHandler(backend authgate.Backend, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Handler{backend: backend, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /auth/check-user/{username}", h.handleCheckUser)
	h.mux.HandleFunc("GET /auth/password-status/{username}", h.handlePasswordStatus)
	h.mux.HandleFunc("POST /auth/set-password", h.handleSetPassword)
	h.mux.HandleFunc("POST /auth/login", h.handleLogin)
	h.mux.HandleFunc("POST /auth/forgot-password", h.handleForgotPassword)
	h.mux.HandleFunc("POST /auth/reset-password", h.handleResetPassword)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleCheckUser(w http.ResponseWriter, r *http.Request) {
	exists, err := h.backend.CheckUserExists(r.Context(), r.PathValue("username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, existsResponse{Exists: exists})
}

func (h *Handler) handlePasswordStatus(w http.ResponseWriter, r *http.Request) {
	set, err := h.backend.IsPasswordSet(r.Context(), r.PathValue("username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, passwordStatusResponse{PasswordSet: set})
}

func (h *Handler) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.backend.SetPassword(r.Context(), req.Username, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password set successfully"})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.backend.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:    res.Token,
		ID:       res.User.ID,
		Username: res.User.Username,
		Role:     res.User.Role,
		Message:  "Login successful",
	})
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.backend.ForgotPassword(r.Context(), req.Username); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset request submitted"})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	resetter, ok := h.backend.(authgate.PasswordResetter)
	if !ok {
		h.writeError(w, r, authgate.ErrResetUnsupported)
		return
	}
	var req resetPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := resetter.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset successfully"})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authgate.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, messageResponse{Message: "User not found"})
	case errors.Is(err, authgate.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, messageResponse{Message: "Invalid password"})
	case errors.Is(err, authgate.ErrResetTokenInvalid):
		writeJSON(w, http.StatusGone, messageResponse{Message: "Reset token is invalid or expired"})
	case errors.Is(err, authgate.ErrResetUnsupported):
		writeJSON(w, http.StatusNotImplemented, messageResponse{Message: "Password reset is not available"})
	default:
		h.logger.Warn("authgate: backend request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: err.Error()})
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
