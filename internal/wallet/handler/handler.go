// Package handler exposes the wallet service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/audit"
	"custodia/internal/wallet/models"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/requestcontext"
)

// Service defines the wallet operations the handler needs.
type Service interface {
	CreateWallet(ctx context.Context, owners []domain.Address, threshold int) (*models.Wallet, error)
	Deposit(ctx context.Context, walletID domain.WalletID, amount uint64) (*models.Wallet, error)
	GetWallet(ctx context.Context, walletID domain.WalletID) (*models.Wallet, error)
	ListWallets(ctx context.Context) ([]*models.Wallet, error)
	AuditTrail(ctx context.Context, walletID domain.WalletID) ([]*audit.Event, error)
	Submit(ctx context.Context, walletID domain.WalletID, target domain.Address, amount uint64, payload []byte) (*models.Transaction, error)
	Confirm(ctx context.Context, walletID domain.WalletID, index uint64) (*models.Transaction, error)
	Revoke(ctx context.Context, walletID domain.WalletID, index uint64) (*models.Transaction, error)
	Execute(ctx context.Context, walletID domain.WalletID, index uint64) (*models.Transaction, error)
	GetTransaction(ctx context.Context, walletID domain.WalletID, index uint64) (*models.Transaction, error)
	ListTransactions(ctx context.Context, walletID domain.WalletID, pendingOnly bool) ([]*models.Transaction, error)
	TransactionCount(ctx context.Context, walletID domain.WalletID) (uint64, error)
	IsConfirmedBy(ctx context.Context, walletID domain.WalletID, index uint64, owner domain.Address) (bool, error)
}

// Handler handles wallet endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New creates a wallet Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the wallet routes. The caller supplies the middleware
// chain (request id, logging, auth) at the router level.
func (h *Handler) Register(r chi.Router) {
	r.Route("/wallets", func(r chi.Router) {
		r.Post("/", h.handleCreateWallet)
		r.Get("/", h.handleListWallets)
		r.Route("/{walletID}", func(r chi.Router) {
			r.Get("/", h.handleGetWallet)
			r.Post("/deposit", h.handleDeposit)
			r.Get("/audit", h.handleAuditTrail)
			r.Route("/transactions", func(r chi.Router) {
				r.Post("/", h.handleSubmit)
				r.Get("/", h.handleListTransactions)
				r.Route("/{index}", func(r chi.Router) {
					r.Get("/", h.handleGetTransaction)
					r.Post("/confirm", h.handleConfirm)
					r.Post("/revoke", h.handleRevoke)
					r.Post("/execute", h.handleExecute)
					r.Get("/confirmations/{owner}", h.handleIsConfirmed)
				})
			})
		})
	})
}

type createWalletRequest struct {
	Owners    []string `json:"owners"`
	Threshold int      `json:"threshold"`
}

type walletResponse struct {
	ID               string   `json:"id"`
	Address          string   `json:"address"`
	Owners           []string `json:"owners"`
	Threshold        int      `json:"threshold"`
	Balance          uint64   `json:"balance"`
	TransactionCount uint64   `json:"transaction_count"`
}

func toWalletResponse(wallet *models.Wallet, txCount uint64) walletResponse {
	owners := make([]string, len(wallet.Owners))
	for i, o := range wallet.Owners {
		owners[i] = o.String()
	}
	return walletResponse{
		ID:               wallet.ID.String(),
		Address:          wallet.Address.String(),
		Owners:           owners,
		Threshold:        wallet.Threshold,
		Balance:          wallet.Balance,
		TransactionCount: txCount,
	}
}

func (h *Handler) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	owners := make([]domain.Address, len(req.Owners))
	for i, raw := range req.Owners {
		owner, err := domain.ParseAddress(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		owners[i] = owner
	}

	wallet, err := h.service.CreateWallet(ctx, owners, req.Threshold)
	if err != nil {
		h.logError(ctx, "create wallet failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toWalletResponse(wallet, 0))
}

func (h *Handler) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	walletID, err := pathWalletID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	wallet, err := h.service.GetWallet(ctx, walletID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	count, err := h.service.TransactionCount(ctx, walletID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toWalletResponse(wallet, count))
}

func (h *Handler) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.service.ListWallets(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]walletResponse, len(wallets))
	for i, wallet := range wallets {
		out[i] = toWalletResponse(wallet, 0)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"wallets": out})
}

type auditEventResponse struct {
	Name       string            `json:"name"`
	Actor      string            `json:"actor"`
	TxIndex    *uint64           `json:"tx_index,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	OccurredAt string            `json:"occurred_at"`
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	walletID, err := pathWalletID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	events, err := h.service.AuditTrail(ctx, walletID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]auditEventResponse, len(events))
	for i, event := range events {
		out[i] = auditEventResponse{
			Name:       string(event.Name),
			Actor:      event.Actor.String(),
			TxIndex:    event.TxIndex,
			Detail:     event.Detail,
			OccurredAt: event.OccurredAt.Format(time.RFC3339Nano),
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": out})
}

type depositRequest struct {
	Amount uint64 `json:"amount"`
}

func (h *Handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	walletID, err := pathWalletID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	wallet, err := h.service.Deposit(ctx, walletID, req.Amount)
	if err != nil {
		h.logError(ctx, "deposit failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toWalletResponse(wallet, 0))
}

type submitRequest struct {
	Target  string          `json:"target"`
	Amount  uint64          `json:"amount"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type transactionResponse struct {
	WalletID      string          `json:"wallet_id"`
	Index         uint64          `json:"index"`
	Target        string          `json:"target"`
	Amount        uint64          `json:"amount"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Action        string          `json:"action"`
	Executed      bool            `json:"executed"`
	Confirmations int             `json:"confirmations"`
	SubmittedBy   string          `json:"submitted_by"`
}

func toTransactionResponse(tx *models.Transaction) transactionResponse {
	return transactionResponse{
		WalletID:      tx.WalletID.String(),
		Index:         tx.Index,
		Target:        tx.Target.String(),
		Amount:        tx.Amount,
		Payload:       json.RawMessage(tx.Payload),
		Action:        string(models.PayloadKind(tx.Payload)),
		Executed:      tx.Executed,
		Confirmations: tx.Confirmations,
		SubmittedBy:   tx.SubmittedBy.String(),
	}
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	walletID, err := pathWalletID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	target, err := domain.ParseAddress(req.Target)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	tx, err := h.service.Submit(ctx, walletID, target, req.Amount, req.Payload)
	if err != nil {
		h.logError(ctx, "submit failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toTransactionResponse(tx))
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	walletID, err := pathWalletID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pendingOnly := r.URL.Query().Get("pending") == "true"

	txs, err := h.service.ListTransactions(ctx, walletID, pendingOnly)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]transactionResponse, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionResponse(tx)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (h *Handler) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	h.withTransaction(w, r, h.service.GetTransaction, http.StatusOK)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	h.withTransaction(w, r, h.service.Confirm, http.StatusOK)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	h.withTransaction(w, r, h.service.Revoke, http.StatusOK)
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	h.withTransaction(w, r, h.service.Execute, http.StatusOK)
}

// withTransaction factors the shared path parsing and response shape of the
// per-transaction endpoints.
func (h *Handler) withTransaction(w http.ResponseWriter, r *http.Request, op func(context.Context, domain.WalletID, uint64) (*models.Transaction, error), status int) {
	ctx := r.Context()
	walletID, err := pathWalletID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	index, err := pathIndex(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	tx, err := op(ctx, walletID, index)
	if err != nil {
		h.logError(ctx, "transaction operation failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, status, toTransactionResponse(tx))
}

func (h *Handler) handleIsConfirmed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	walletID, err := pathWalletID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	index, err := pathIndex(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	owner, err := domain.ParseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	confirmed, err := h.service.IsConfirmedBy(ctx, walletID, index, owner)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"owner":     owner.String(),
		"confirmed": confirmed,
	})
}

func pathWalletID(r *http.Request) (domain.WalletID, error) {
	walletID, err := domain.ParseWalletID(chi.URLParam(r, "walletID"))
	if err != nil {
		return domain.WalletID{}, dErrors.New(dErrors.CodeBadRequest, "invalid wallet id")
	}
	return walletID, nil
}

func pathIndex(r *http.Request) (uint64, error) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, "invalid transaction index")
	}
	return index, nil
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
}
