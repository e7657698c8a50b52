package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/paylinka/linkledger/internal/models"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paylinka_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paylinka_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// LinkStore is the creation and query surface of the ledger.
type LinkStore interface {
	CreateLink(ctx context.Context, req models.CreateLinkRequest) (*models.PaymentLink, error)
	GetLink(ctx context.Context, id models.LinkID) (*models.PaymentLink, error)
	IsActive(ctx context.Context, id models.LinkID) (bool, error)
	LinksByCreator(ctx context.Context, creator models.Address) ([]models.LinkID, error)
	Events(ctx context.Context, id models.LinkID) ([]models.Event, error)
	Balance(ctx context.Context, address, asset models.Address) (decimal.Decimal, error)
}

// Settler executes settlements and cancellations.
type Settler interface {
	Pay(ctx context.Context, req models.PayRequest) (*models.TransferReceipt, error)
	Cancel(ctx context.Context, id models.LinkID, caller models.Address) error
}

type Handler struct {
	store   LinkStore
	settler Settler
}

func NewHandler(store LinkStore, settler Settler) *Handler {
	return &Handler{store: store, settler: settler}
}

// Routes registers the API on the given router.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/links", h.CreateLinkHandler).Methods("POST")
	r.HandleFunc("/links/{id}", h.GetLinkHandler).Methods("GET")
	r.HandleFunc("/links/{id}/active", h.IsActiveHandler).Methods("GET")
	r.HandleFunc("/links/{id}/events", h.GetEventsHandler).Methods("GET")
	r.HandleFunc("/links/{id}/pay", h.PayLinkHandler).Methods("POST")
	r.HandleFunc("/links/{id}/cancel", h.CancelLinkHandler).Methods("POST")
	r.HandleFunc("/creators/{address}/links", h.LinksByCreatorHandler).Methods("GET")
	r.HandleFunc("/balances/{address}", h.BalanceHandler).Methods("GET")
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

type createLinkBody struct {
	Creator   string          `json:"creator"`
	Recipient string          `json:"recipient"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Expiry    int64           `json:"expiry"`
	Memo      string          `json:"memo"`
}

func (h *Handler) CreateLinkHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/links"))
	defer timer.ObserveDuration()

	var body createLinkBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/links")
		return
	}

	creator, err := models.ParseAddress(body.Creator)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid creator address", "POST", "/links")
		return
	}
	// A missing recipient settles to the null identity so the store rejects
	// it with the creation taxonomy; a malformed one is a transport error.
	recipient := models.ZeroAddress
	if body.Recipient != "" {
		if recipient, err = models.ParseAddress(body.Recipient); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid recipient address", "POST", "/links")
			return
		}
	}
	asset := models.NativeAsset
	if body.Asset != "" {
		if asset, err = models.ParseAddress(body.Asset); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid asset address", "POST", "/links")
			return
		}
	}

	link, err := h.store.CreateLink(r.Context(), models.CreateLinkRequest{
		Creator:   creator,
		Recipient: recipient,
		Asset:     asset,
		Amount:    body.Amount,
		Expiry:    body.Expiry,
		Memo:      body.Memo,
	})
	if err != nil {
		switch err {
		case models.ErrInvalidRecipient:
			respondWithError(w, http.StatusUnprocessableEntity, "Zero recipient", "POST", "/links")
		case models.ErrInvalidAmount:
			respondWithError(w, http.StatusUnprocessableEntity, "Positive amount required", "POST", "/links")
		default:
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/links")
		}
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/links/%s", link.ID))
	respondWithJSON(w, http.StatusCreated, map[string]interface{}{"id": link.ID, "link": link}, "POST", "/links")
}

func (h *Handler) GetLinkHandler(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseLinkID(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Link not found", "GET", "/links/{id}")
		return
	}

	link, err := h.store.GetLink(r.Context(), id)
	if err != nil {
		if err == models.ErrLinkNotFound {
			respondWithError(w, http.StatusNotFound, "Link not found", "GET", "/links/{id}")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "GET", "/links/{id}")
		return
	}
	respondWithJSON(w, http.StatusOK, link, "GET", "/links/{id}")
}

func (h *Handler) IsActiveHandler(w http.ResponseWriter, r *http.Request) {
	// Unknown or malformed ids read as inactive, never as an error.
	active := false
	if id, err := models.ParseLinkID(mux.Vars(r)["id"]); err == nil {
		if a, err := h.store.IsActive(r.Context(), id); err == nil {
			active = a
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"active": active}, "GET", "/links/{id}/active")
}

func (h *Handler) GetEventsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseLinkID(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Link not found", "GET", "/links/{id}/events")
		return
	}

	events, err := h.store.Events(r.Context(), id)
	if err != nil {
		if err == models.ErrLinkNotFound {
			respondWithError(w, http.StatusNotFound, "Link not found", "GET", "/links/{id}/events")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "GET", "/links/{id}/events")
		return
	}
	respondWithJSON(w, http.StatusOK, events, "GET", "/links/{id}/events")
}

func (h *Handler) LinksByCreatorHandler(w http.ResponseWriter, r *http.Request) {
	creator, err := models.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid creator address", "GET", "/creators/{address}/links")
		return
	}

	ids, err := h.store.LinksByCreator(r.Context(), creator)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "GET", "/creators/{address}/links")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"link_ids": ids}, "GET", "/creators/{address}/links")
}

func (h *Handler) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	address, err := models.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid address", "GET", "/balances/{address}")
		return
	}
	asset := models.NativeAsset
	if raw := r.URL.Query().Get("asset"); raw != "" {
		if asset, err = models.ParseAddress(raw); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid asset address", "GET", "/balances/{address}")
			return
		}
	}

	balance, err := h.store.Balance(r.Context(), address, asset)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "GET", "/balances/{address}")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"address": address,
		"asset":   asset,
		"balance": balance,
	}, "GET", "/balances/{address}")
}

type payBody struct {
	Payer  string          `json:"payer"`
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) PayLinkHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/links/{id}/pay"))
	defer timer.ObserveDuration()

	id, err := models.ParseLinkID(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Link not found", "POST", "/links/{id}/pay")
		return
	}

	var body payBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/links/{id}/pay")
		return
	}
	payer, err := models.ParseAddress(body.Payer)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid payer address", "POST", "/links/{id}/pay")
		return
	}
	asset := models.NativeAsset
	if body.Asset != "" {
		if asset, err = models.ParseAddress(body.Asset); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid asset address", "POST", "/links/{id}/pay")
			return
		}
	}

	receipt, err := h.settler.Pay(r.Context(), models.PayRequest{
		LinkID: id,
		Payer:  payer,
		Asset:  asset,
		Amount: body.Amount,
	})
	if err != nil {
		switch err {
		case models.ErrLinkNotFound:
			respondWithError(w, http.StatusNotFound, "Link not found", "POST", "/links/{id}/pay")
		case models.ErrLinkCancelled:
			respondWithError(w, http.StatusConflict, "Link cancelled", "POST", "/links/{id}/pay")
		case models.ErrAlreadyPaid:
			respondWithError(w, http.StatusConflict, "Already paid", "POST", "/links/{id}/pay")
		case models.ErrLinkExpired:
			respondWithError(w, http.StatusGone, "Link expired", "POST", "/links/{id}/pay")
		case models.ErrInvalidAmount:
			respondWithError(w, http.StatusUnprocessableEntity, "Integral amount required", "POST", "/links/{id}/pay")
		case models.ErrAssetMismatch:
			respondWithError(w, http.StatusUnprocessableEntity, "Asset mismatch", "POST", "/links/{id}/pay")
		case models.ErrInsufficientFunds:
			respondWithError(w, http.StatusUnprocessableEntity, "Insufficient funds", "POST", "/links/{id}/pay")
		case models.ErrTransferFailed:
			respondWithError(w, http.StatusBadGateway, "Transfer failed", "POST", "/links/{id}/pay")
		default:
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/links/{id}/pay")
		}
		return
	}
	respondWithJSON(w, http.StatusOK, receipt, "POST", "/links/{id}/pay")
}

type cancelBody struct {
	Caller string `json:"caller"`
}

func (h *Handler) CancelLinkHandler(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseLinkID(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Link not found", "POST", "/links/{id}/cancel")
		return
	}

	var body cancelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/links/{id}/cancel")
		return
	}
	caller, err := models.ParseAddress(body.Caller)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid caller address", "POST", "/links/{id}/cancel")
		return
	}

	if err := h.settler.Cancel(r.Context(), id, caller); err != nil {
		switch err {
		case models.ErrLinkNotFound:
			respondWithError(w, http.StatusNotFound, "Link not found", "POST", "/links/{id}/cancel")
		case models.ErrNotCreator:
			respondWithError(w, http.StatusForbidden, "Not creator", "POST", "/links/{id}/cancel")
		case models.ErrAlreadyPaid:
			respondWithError(w, http.StatusConflict, "Already paid", "POST", "/links/{id}/cancel")
		case models.ErrLinkCancelled:
			respondWithError(w, http.StatusConflict, "Link cancelled", "POST", "/links/{id}/cancel")
		default:
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/links/{id}/cancel")
		}
		return
	}
	respondWithJSON(w, http.StatusNoContent, nil, "POST", "/links/{id}/cancel")
}

func respondWithError(w http.ResponseWriter, code int, message, method, endpoint string) {
	respondWithJSON(w, code, map[string]string{"error": message}, method, endpoint)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
