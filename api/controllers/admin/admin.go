package admin

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/trgnguyen/remarket-backend/api/middleware"
	"github.com/trgnguyen/remarket-backend/api/responses"
	"github.com/trgnguyen/remarket-backend/api/validators"
	internaladmin "github.com/trgnguyen/remarket-backend/internal/admin"
	"github.com/trgnguyen/remarket-backend/pkg/config"
	"github.com/trgnguyen/remarket-backend/pkg/enums"
	pkgerrors "github.com/trgnguyen/remarket-backend/pkg/errors"
	"github.com/trgnguyen/remarket-backend/pkg/logger"
	"github.com/trgnguyen/remarket-backend/pkg/pagination"
)

type releaseEscrowRequest struct {
	Notes string `json:"notes" validate:"required,min=5,max=1000"`
}

type refundEscrowRequest struct {
	Notes string `json:"notes" validate:"required,min=5,max=1000"`
}

// Transactions pages the escrow-centric transaction listing.
func Transactions(svc internaladmin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}

		filter, err := buildFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListTransactions(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

// ProblemTransactions lists holdings that need an operator decision.
func ProblemTransactions(svc internaladmin.Service, escrowCfg config.EscrowConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 100, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListProblemTransactions(r.Context(), escrowCfg.GraceWindow, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

// Timeline returns the chronological history of one order.
func Timeline(svc internaladmin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}

		raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
		orderID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		entries, err := svc.Timeline(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entries)
	}
}

// ExportTransactions streams the filtered transaction listing as CSV.
func ExportTransactions(svc internaladmin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}

		filter, err := buildFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filename := fmt.Sprintf("transactions-%s.csv", time.Now().UTC().Format("20060102-150405"))
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

		if err := svc.ExportTransactionsCSV(r.Context(), filter, w); err != nil {
			// Headers are already out; log instead of rewriting the response.
			if logg != nil {
				logg.Error(r.Context(), "csv export failed", err)
			}
		}
	}
}

// ReleaseEscrow is the manual override. Notes are mandatory.
func ReleaseEscrow(svc internaladmin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}

		raw := strings.TrimSpace(chi.URLParam(r, "itemId"))
		itemID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order item id"))
			return
		}

		adminID, ok := middleware.ActorUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user id"))
			return
		}

		var req releaseEscrowRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internaladmin.ReleaseEscrowInput{
			OrderItemID: itemID,
			AdminUserID: adminID,
			Notes:       req.Notes,
		}
		if err := svc.ReleaseEscrow(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "released"})
	}
}

// RefundEscrow resolves a dispute in the buyer's favor. Notes are mandatory.
func RefundEscrow(svc internaladmin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}

		raw := strings.TrimSpace(chi.URLParam(r, "itemId"))
		itemID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order item id"))
			return
		}

		adminID, ok := middleware.ActorUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user id"))
			return
		}

		var req refundEscrowRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internaladmin.RefundEscrowInput{
			OrderItemID: itemID,
			AdminUserID: adminID,
			Notes:       req.Notes,
		}
		if err := svc.RefundEscrow(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "refunded"})
	}
}

func buildFilter(r *http.Request) (internaladmin.TransactionFilter, error) {
	var filter internaladmin.TransactionFilter

	if raw := strings.TrimSpace(r.URL.Query().Get("escrow_status")); raw != "" {
		status, err := enums.ParseEscrowStatus(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid escrow status filter")
		}
		filter.EscrowStatus = &status
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("seller_id")); raw != "" {
		sellerID, err := uuid.Parse(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid seller id filter")
		}
		filter.SellerID = &sellerID
	}

	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return filter, err
	}
	filter.Params = pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}
	return filter, nil
}
