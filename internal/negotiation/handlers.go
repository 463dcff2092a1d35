package negotiation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/questforge/trade-engine/internal/model"
)

// Mount registers the façade's HTTP surface on the given router.
func (s *Service) Mount(r chi.Router) {
	r.Post("/requests", s.handleSendRequest)
	r.Post("/requests/accept", s.handleAcceptRequest)
	r.Post("/requests/deny", s.handleDenyRequest)

	r.Get("/sessions/{sessionID}", s.handleOpenSession)
	r.Post("/sessions/{sessionID}/offer", s.handleModifyOffer)
	r.Post("/sessions/{sessionID}/currency", s.handleModifyCurrency)
	r.Post("/sessions/{sessionID}/confirm", s.handleToggleConfirm)
	r.Post("/sessions/{sessionID}/cancel", s.handleCancel)
}

// --- Request/Response types ---

// SendRequestBody is the JSON body for POST /requests.
type SendRequestBody struct {
	Sender model.ActorID `json:"sender"`
	Target model.ActorID `json:"target"`
}

// RespondRequestBody is the JSON body for accept/deny.
type RespondRequestBody struct {
	Target model.ActorID `json:"target"`
	Sender model.ActorID `json:"sender"`
}

// ModifyOfferBody is the JSON body for POST /sessions/{id}/offer.
type ModifyOfferBody struct {
	Actor model.ActorID `json:"actor"`
	Slots model.Offer   `json:"slots"`
}

// ModifyCurrencyBody is the JSON body for POST /sessions/{id}/currency.
type ModifyCurrencyBody struct {
	Actor  model.ActorID   `json:"actor"`
	Amount decimal.Decimal `json:"amount"`
}

// ConfirmBody is the JSON body for POST /sessions/{id}/confirm.
type ConfirmBody struct {
	Actor     model.ActorID `json:"actor"`
	Confirmed bool          `json:"confirmed"`
}

// CancelBody is the JSON body for POST /sessions/{id}/cancel.
type CancelBody struct {
	Actor  model.ActorID `json:"actor"`
	Reason string        `json:"reason"`
}

// --- Handlers ---

func (s *Service) handleSendRequest(w http.ResponseWriter, r *http.Request) {
	var body SendRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Sender == "" || body.Target == "" {
		writeError(w, "sender and target are required", http.StatusBadRequest)
		return
	}

	if err := s.SendRequest(r.Context(), body.Sender, body.Target); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	var body RespondRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	view, err := s.AcceptRequest(r.Context(), body.Target, body.Sender)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(view)
}

func (s *Service) handleDenyRequest(w http.ResponseWriter, r *http.Request) {
	var body RespondRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.DenyRequest(r.Context(), body.Target, body.Sender); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.OpenSession(model.SessionID(chi.URLParam(r, "sessionID")))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

func (s *Service) handleModifyOffer(w http.ResponseWriter, r *http.Request) {
	var body ModifyOfferBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	view, err := s.ModifyOffer(r.Context(), model.SessionID(chi.URLParam(r, "sessionID")), body.Actor, body.Slots)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

func (s *Service) handleModifyCurrency(w http.ResponseWriter, r *http.Request) {
	var body ModifyCurrencyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	view, err := s.ModifyCurrency(r.Context(), model.SessionID(chi.URLParam(r, "sessionID")), body.Actor, body.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

func (s *Service) handleToggleConfirm(w http.ResponseWriter, r *http.Request) {
	var body ConfirmBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	view, err := s.ToggleConfirm(r.Context(), model.SessionID(chi.URLParam(r, "sessionID")), body.Actor, body.Confirmed)
	if err != nil && view.Status != model.StatusRolledBack {
		writeDomainError(w, err)
		return
	}

	// A rolled-back settlement still returns the terminal state so the
	// caller can display the reason; the error rides along as a field.
	resp := struct {
		StateView
		Error string `json:"error,omitempty"`
	}{StateView: view}
	if err != nil {
		resp.Error = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body CancelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.Cancel(r.Context(), model.SessionID(chi.URLParam(r, "sessionID")), body.Actor, body.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Error mapping ---

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrSelfTrade),
		errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrInvalidOffer):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNoPendingRequest),
		errors.Is(err, model.ErrSessionNotFound),
		errors.Is(err, model.ErrUnreachableActor):
		return http.StatusNotFound
	case errors.Is(err, model.ErrRequestExpired):
		return http.StatusGone
	case errors.Is(err, model.ErrAlreadyInSession),
		errors.Is(err, model.ErrRequestPending),
		errors.Is(err, model.ErrSessionClosed),
		errors.Is(err, model.ErrLimitExceeded),
		errors.Is(err, model.ErrSettlementFailed),
		errors.Is(err, model.ErrNotParty):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
