package account

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-staff/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-staff/internal/auth"
)

// Handler exposes HTTP endpoints for login and account management.
type Handler struct {
	svc    *Service
	issuer *auth.Issuer
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, issuer *auth.Issuer, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, issuer: issuer, logger: logger}
}

// TokenResponse is the body returned by a successful login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Login handles the password form (username = corporate email). Unknown
// email and wrong password produce the same response.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	a, err := h.svc.Authenticate(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrInvalidCredential):
			w.Header().Set("WWW-Authenticate", "Bearer")
			h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "incorrect email or password"})
		case errors.Is(err, ErrAccountBlocked):
			h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "account blocked"})
		default:
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
		}
		return
	}
	tok, err := h.issuer.Issue(a.EmailCorporate)
	if err != nil {
		h.logger.Errorw("issue token failed", "account_id", a.ID, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
		return
	}
	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: tok,
		TokenType:   "bearer",
		ExpiresIn:   int(h.issuer.TTL().Seconds()),
	})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.AccountFrom(r.Context())
	var req NewAccount
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid create payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	a, err := h.svc.CreateAccount(r.Context(), actor, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.AccountFrom(r.Context())
	h.writeJSON(w, http.StatusOK, actor)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.AccountFrom(r.Context())
	h.update(w, r, actor, actor.ID)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.AccountFrom(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	h.update(w, r, actor, id)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, actor *entity.Account, id int64) {
	var patch entity.ProfilePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	a, err := h.svc.UpdateProfile(r.Context(), actor, id, patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.AccountFrom(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.Profile(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.AccountFrom(r.Context())
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.Unblock(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "account not found"})
	case errors.Is(err, ErrWeakPassword), errors.Is(err, ErrInvalidInput):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrEmailTaken):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.logger.Errorw("request failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
