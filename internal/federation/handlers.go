package federation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/podshare/podshare-go/internal/platform/logutil"
	"github.com/podshare/podshare-go/internal/sharing"
)

// peerSecretHeader carries the shared secret on every conduit request.
const peerSecretHeader = "X-Conduit-Secret"

// Deterministic reason codes for conduit error responses.
const (
	ReasonUnauthenticated = "unauthenticated"
	ReasonBadRequest      = "bad_request"
	ReasonConflict        = "conflict"
	ReasonShareFailed     = "external_share_failed"
	ReasonInternalError   = "internal_error"
)

// ErrorEnvelope is the conduit error response format.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code       string `json:"code"`
	ReasonCode string `json:"reason_code"`
	Message    string `json:"message"`
}

// WriteError writes a standardized JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, reasonCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorEnvelope{
		Error: ErrorDetail{
			Code:       http.StatusText(statusCode),
			ReasonCode: reasonCode,
			Message:    message,
		},
	})
}

// PeerAuth verifies conduit peers against bcrypt hashes of their secrets.
// An empty hash set rejects everything.
type PeerAuth struct {
	hashes []string
}

// NewPeerAuth creates a verifier. hashes are bcrypt digests of the secrets
// peers present; plaintext secrets never live in config.
func NewPeerAuth(hashes []string) *PeerAuth {
	return &PeerAuth{hashes: hashes}
}

// HashSecret creates a bcrypt hash for enrolling a new peer secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether the presented secret matches any enrolled peer.
func (a *PeerAuth) Verify(secret string) bool {
	if secret == "" {
		return false
	}
	for _, hash := range a.hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil {
			return true
		}
	}
	return false
}

// Middleware gates conduit routes on peer authentication.
func (a *PeerAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Verify(r.Header.Get(peerSecretHeader)) {
			WriteError(w, http.StatusUnauthorized, ReasonUnauthenticated, "invalid peer secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler serves the inbound conduit endpoints of one pod.
type Handler struct {
	router *Router
	auth   *PeerAuth
	logger *slog.Logger
}

// NewHandler creates the conduit HTTP handler.
func NewHandler(router *Router, auth *PeerAuth, logger *slog.Logger) *Handler {
	return &Handler{router: router, auth: auth, logger: logutil.NoopIfNil(logger)}
}

// Mount attaches the conduit routes under /conduit.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/conduit", func(r chi.Router) {
		r.Use(h.auth.Middleware)
		r.Post("/invite", h.handleInvite)
		r.Post("/uninvite", h.handleUninvite)
		r.Post("/reply", h.handleReply)
	})
}

func (h *Handler) handleInvite(w http.ResponseWriter, r *http.Request) {
	var msg sharing.ShareInviteMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		WriteError(w, http.StatusBadRequest, ReasonBadRequest, "invalid invite message")
		return
	}
	h.finish(w, r, h.router.ProcessExternalInvite(r.Context(), &msg))
}

func (h *Handler) handleUninvite(w http.ResponseWriter, r *http.Request) {
	var msg sharing.ShareUninviteMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		WriteError(w, http.StatusBadRequest, ReasonBadRequest, "invalid uninvite message")
		return
	}
	h.finish(w, r, h.router.ProcessExternalUninvite(r.Context(), &msg))
}

func (h *Handler) handleReply(w http.ResponseWriter, r *http.Request) {
	var msg sharing.ShareReplyMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		WriteError(w, http.StatusBadRequest, ReasonBadRequest, "invalid reply message")
		return
	}
	h.finish(w, r, h.router.ProcessExternalReply(r.Context(), &msg))
}

func (h *Handler) finish(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, sharing.ErrNameConflict):
		WriteError(w, http.StatusConflict, ReasonConflict, err.Error())
	case errors.Is(err, sharing.ErrExternalShareFailed):
		WriteError(w, http.StatusUnprocessableEntity, ReasonShareFailed, err.Error())
	default:
		h.logger.Error("conduit message failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		WriteError(w, http.StatusInternalServerError, ReasonInternalError, "internal error")
	}
}
