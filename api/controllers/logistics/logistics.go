package logistics

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/trgnguyen/remarket-backend/api/middleware"
	"github.com/trgnguyen/remarket-backend/api/responses"
	"github.com/trgnguyen/remarket-backend/api/validators"
	internallogistics "github.com/trgnguyen/remarket-backend/internal/logistics"
	"github.com/trgnguyen/remarket-backend/pkg/enums"
	pkgerrors "github.com/trgnguyen/remarket-backend/pkg/errors"
	"github.com/trgnguyen/remarket-backend/pkg/logger"
)

type confirmPickupRequest struct {
	QRToken   string   `json:"qr_token" validate:"required"`
	PhotoURLs []string `json:"photo_urls" validate:"required,min=1,dive,url"`
}

type confirmDeliveryRequest struct {
	PhotoURLs []string `json:"photo_urls" validate:"required,min=1,dive,url"`
}

// Queue lists items in one of the shipper-visible statuses.
func Queue(svc internallogistics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "logistics service unavailable"))
			return
		}

		rawStatus := strings.TrimSpace(r.URL.Query().Get("status"))
		if rawStatus == "" {
			rawStatus = enums.OrderItemStatusAwaitingPickup.String()
		}
		status, err := enums.ParseOrderItemStatus(rawStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 100, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items, err := svc.Queue(r.Context(), status, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, items)
	}
}

// PickupQR mints the QR token the seller hands to the shipper.
func PickupQR(svc internallogistics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "logistics service unavailable"))
			return
		}

		itemID, err := parseItemID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sellerID, ok := middleware.ActorUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user id"))
			return
		}

		token, err := svc.IssuePickupQR(r.Context(), internallogistics.IssueQRInput{
			OrderItemID: itemID,
			SellerID:    sellerID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"qr_token": token})
	}
}

// ConfirmPickup records pickup proof and moves the item into the warehouse.
func ConfirmPickup(svc internallogistics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "logistics service unavailable"))
			return
		}

		itemID, err := parseItemID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipperID, ok := middleware.ActorUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user id"))
			return
		}

		var req confirmPickupRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internallogistics.ConfirmPickupInput{
			OrderItemID: itemID,
			ShipperID:   shipperID,
			QRToken:     req.QRToken,
			PhotoURLs:   req.PhotoURLs,
		}
		if err := svc.ConfirmPickup(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": enums.OrderItemStatusInWarehouse.String()})
	}
}

// Dispatch moves one warehouse item out for delivery.
func Dispatch(svc internallogistics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "logistics service unavailable"))
			return
		}

		itemID, err := parseItemID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipperID, ok := middleware.ActorUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user id"))
			return
		}

		if err := svc.Dispatch(r.Context(), internallogistics.DispatchInput{
			OrderItemID: itemID,
			ShipperID:   shipperID,
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": enums.OrderItemStatusOutForDelivery.String()})
	}
}

// DispatchAll moves every warehouse item out for delivery, reporting per-item
// failures instead of aborting the batch.
func DispatchAll(svc internallogistics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "logistics service unavailable"))
			return
		}

		shipperID, ok := middleware.ActorUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user id"))
			return
		}

		report, err := svc.DispatchAll(r.Context(), shipperID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

// ConfirmDelivery records delivery proof and triggers the escrow release.
func ConfirmDelivery(svc internallogistics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "logistics service unavailable"))
			return
		}

		itemID, err := parseItemID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipperID, ok := middleware.ActorUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user id"))
			return
		}

		var req confirmDeliveryRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internallogistics.ConfirmDeliveryInput{
			OrderItemID: itemID,
			ShipperID:   shipperID,
			PhotoURLs:   req.PhotoURLs,
		}
		if err := svc.ConfirmDelivery(r.Context(), input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": enums.OrderItemStatusDelivered.String()})
	}
}

func parseItemID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "itemId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order item id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order item id")
	}
	return id, nil
}
