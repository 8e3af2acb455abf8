package payments

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/trgnguyen/remarket-backend/api/responses"
	internalpayments "github.com/trgnguyen/remarket-backend/internal/payments"
	pkgerrors "github.com/trgnguyen/remarket-backend/pkg/errors"
	"github.com/trgnguyen/remarket-backend/pkg/logger"
)

// Confirm is the payment gateway's return/webhook endpoint. The gateway
// redirects with query parameters; replays of the same orderCode are
// idempotent so the handler never guards on method or dedupes upstream.
func Confirm(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		query := r.URL.Query()
		input := internalpayments.ConfirmInput{
			Code:      strings.TrimSpace(query.Get("code")),
			Status:    strings.TrimSpace(query.Get("status")),
			OrderCode: strings.TrimSpace(query.Get("orderCode")),
			Cancel:    strings.EqualFold(strings.TrimSpace(query.Get("cancel")), "true"),
		}

		if rawAmount := strings.TrimSpace(query.Get("amount")); rawAmount != "" {
			amount, err := strconv.ParseInt(rawAmount, 10, 64)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "amount must be numeric"))
				return
			}
			input.Amount = amount
		}

		if input.OrderCode == "" && !input.Cancel {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "orderCode is required"))
			return
		}

		result, err := svc.Confirm(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
