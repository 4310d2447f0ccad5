package handler

import (
	"log/slog"
	"net/http"

	"storefront-cart/internal/cart"
	"storefront-cart/internal/model"
	"storefront-cart/internal/reconcile"
)

type lineItemRequest struct {
	VariantID string            `json:"variant_id"`
	Quantity  int               `json:"quantity"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type replaceRequest struct {
	Items []lineItemRequest `json:"items"`
}

type updateLineItemRequest struct {
	Quantity int               `json:"quantity"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// handleGetCart returns the session's cart, creating it on first use.
// GET /cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if _, err := e.Cart.Ensure(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cartView(e))
}

// handleAddLineItem adds a variant to the cart.
// POST /cart/line-items
func (h *Handler) handleAddLineItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req lineItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.VariantID == "" {
		h.writeError(w, model.NewValidationError("variant_id", "is required"))
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	h.logger.InfoContext(ctx, "adding line item",
		slog.String("variant_id", req.VariantID),
		slog.Int("quantity", req.Quantity),
	)

	if _, err := e.Cart.AddLineItem(ctx, cart.AddLineItem{
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
		Metadata:  req.Metadata,
	}, cart.WithSuccess("Added to cart")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cartView(e))
}

// handleUpdateLineItem changes a line's quantity; zero removes the line.
// POST /cart/line-items/{id}
func (h *Handler) handleUpdateLineItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lineID := r.PathValue("id")
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req updateLineItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "updating line item",
		slog.String("line_id", lineID),
		slog.Int("quantity", req.Quantity),
	)

	if req.Metadata != nil && req.Quantity > 0 {
		_, err = e.Cart.UpdateLineItem(ctx, cart.UpdateLineItem{
			LineID:   lineID,
			Quantity: req.Quantity,
			Metadata: req.Metadata,
		})
	} else {
		_, err = e.Cart.SetQuantity(ctx, lineID, req.Quantity)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cartView(e))
}

// handleDeleteLineItem removes a line.
// DELETE /cart/line-items/{id}
func (h *Handler) handleDeleteLineItem(w http.ResponseWriter, r *http.Request) {
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if _, err := e.Cart.DeleteLineItem(r.Context(), r.PathValue("id"), cart.WithSuccess("Removed from cart")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cartView(e))
}

// handleReplaceLineItems sets the full basket; lines not listed are removed.
// PUT /cart/line-items
func (h *Handler) handleReplaceLineItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req replaceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "replacing line items", slog.Int("items", len(req.Items)))

	if _, err := e.Cart.Replace(ctx, desiredItems(req.Items)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cartView(e))
}

func desiredItems(items []lineItemRequest) []reconcile.DesiredItem {
	desired := make([]reconcile.DesiredItem, 0, len(items))
	for _, it := range items {
		desired = append(desired, reconcile.DesiredItem{
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			Metadata:  it.Metadata,
		})
	}
	return desired
}

type emailDraftRequest struct {
	Email string `json:"email"`
}

// handleDraftEmail records an email edit; the write happens after the quiet window.
// PUT /cart/draft/email
func (h *Handler) handleDraftEmail(w http.ResponseWriter, r *http.Request) {
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req emailDraftRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	e.Email.Change(req.Email)
	h.writeJSON(w, http.StatusAccepted, FieldView{
		Pending: e.Email.Pending(),
		Error:   fieldError(e.Email.Err()),
	})
}

// handleDraftAddress records an address-form edit for auto-save.
// PUT /cart/draft/address
func (h *Handler) handleDraftAddress(w http.ResponseWriter, r *http.Request) {
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var addr model.Address
	if err := decodeJSON(r, &addr); err != nil {
		h.writeError(w, err)
		return
	}

	e.Address.Change(addr)
	h.writeJSON(w, http.StatusAccepted, AddressDraftView{
		FieldView: FieldView{Pending: e.Address.Pending(), Error: fieldError(e.Address.Err())},
		Active:    e.Address.Active(),
		SavedID:   e.Address.SavedID(),
	})
}

// handleAutosaveOptIn records consent to address auto-save and evaluates it.
// POST /address-book/autosave
func (h *Handler) handleAutosaveOptIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := h.engineFor(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := e.Address.OptIn(ctx); err != nil {
		h.writeError(w, err)
		return
	}
	if e.Session.Authenticated() {
		if _, err := e.Address.Start(ctx); err != nil {
			h.writeError(w, err)
			return
		}
	}
	h.writeJSON(w, http.StatusOK, AddressDraftView{
		Active:  e.Address.Active(),
		SavedID: e.Address.SavedID(),
	})
}
