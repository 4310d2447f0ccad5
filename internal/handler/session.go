package handler

import (
	"log/slog"
	"net/http"

	"storefront-cart/internal/model"
	"storefront-cart/internal/notify"
)

type signInRequest struct {
	Token string `json:"token"`
}

// handleSignIn stores the customer's bearer token for this session.
// POST /session
func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Token == "" {
		h.writeError(w, model.NewValidationError("token", "is required"))
		return
	}

	user, err := e.SignIn(ctx, req.Token)
	if err != nil {
		h.logger.InfoContext(ctx, "sign in rejected", slog.String("error", err.Error()))
		h.writeError(w, model.NewUnauthorizedError("invalid token"))
		return
	}

	h.logger.InfoContext(ctx, "signed in", slog.String("user_id", user.ID))
	h.writeJSON(w, http.StatusOK, sessionView(e))
}

// handleSignOut forgets the token and the cart.
// DELETE /session
func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	e.SignOut(r.Context())
	h.writeJSON(w, http.StatusOK, sessionView(e))
}

type noticesResponse struct {
	Notices []notify.Notice `json:"notices"`
}

// handleNotices drains queued notices.
// GET /notices
func (h *Handler) handleNotices(w http.ResponseWriter, r *http.Request) {
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	notices := e.Notices.Drain()
	if notices == nil {
		notices = []notify.Notice{}
	}
	h.writeJSON(w, http.StatusOK, noticesResponse{Notices: notices})
}
