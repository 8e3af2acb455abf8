package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trgnguyen/remarket-backend/api/controllers"
	admincontrollers "github.com/trgnguyen/remarket-backend/api/controllers/admin"
	logisticscontrollers "github.com/trgnguyen/remarket-backend/api/controllers/logistics"
	ordercontrollers "github.com/trgnguyen/remarket-backend/api/controllers/orders"
	paymentcontrollers "github.com/trgnguyen/remarket-backend/api/controllers/payments"
	"github.com/trgnguyen/remarket-backend/api/middleware"
	internaladmin "github.com/trgnguyen/remarket-backend/internal/admin"
	internallogistics "github.com/trgnguyen/remarket-backend/internal/logistics"
	internalorders "github.com/trgnguyen/remarket-backend/internal/orders"
	internalpayments "github.com/trgnguyen/remarket-backend/internal/payments"
	"github.com/trgnguyen/remarket-backend/pkg/config"
	"github.com/trgnguyen/remarket-backend/pkg/db"
	"github.com/trgnguyen/remarket-backend/pkg/enums"
	"github.com/trgnguyen/remarket-backend/pkg/logger"
	"github.com/trgnguyen/remarket-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	ordersSvc internalorders.Service,
	paymentsSvc internalpayments.Service,
	logisticsSvc internallogistics.Service,
	adminSvc internaladmin.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.CORS(),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	// Gateway callback: unauthenticated, the gateway cannot carry our JWT.
	// Idempotency lives in the reconciliation itself.
	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Get("/confirm", paymentcontrollers.Confirm(paymentsSvc, logg))
		r.Post("/confirm", paymentcontrollers.Confirm(paymentsSvc, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/orders", func(r chi.Router) {
			r.With(middleware.RequireRole(logg, enums.ActorRoleBuyer)).Post("/", ordercontrollers.Create(ordersSvc, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleBuyer)).Get("/", ordercontrollers.List(ordersSvc, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(ordersSvc, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleBuyer, enums.ActorRoleSeller, enums.ActorRoleAdmin)).
				Post("/{orderId}/cancel", ordercontrollers.Cancel(ordersSvc, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleSeller)).
				Post("/{orderId}/items/{itemId}/pickup-request", ordercontrollers.RequestPickup(ordersSvc, logg))
		})

		r.Route("/seller", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleSeller))
			r.Get("/items", ordercontrollers.SellerItems(ordersSvc, logg))
			r.Get("/items/{itemId}/pickup-qr", logisticscontrollers.PickupQR(logisticsSvc, logg))
		})

		r.Route("/logistics", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleShipper))
			r.Get("/queue", logisticscontrollers.Queue(logisticsSvc, logg))
			r.Post("/items/{itemId}/pickup", logisticscontrollers.ConfirmPickup(logisticsSvc, logg))
			r.Post("/items/{itemId}/dispatch", logisticscontrollers.Dispatch(logisticsSvc, logg))
			r.Post("/items/{itemId}/delivery", logisticscontrollers.ConfirmDelivery(logisticsSvc, logg))
			r.Post("/dispatch-all", logisticscontrollers.DispatchAll(logisticsSvc, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
			r.Get("/transactions", admincontrollers.Transactions(adminSvc, logg))
			r.Get("/transactions/export", admincontrollers.ExportTransactions(adminSvc, logg))
			r.Get("/transactions/problems", admincontrollers.ProblemTransactions(adminSvc, cfg.Escrow, logg))
			r.Get("/orders/{orderId}/timeline", admincontrollers.Timeline(adminSvc, logg))
			r.Post("/escrow/{itemId}/release", admincontrollers.ReleaseEscrow(adminSvc, logg))
			r.Post("/escrow/{itemId}/refund", admincontrollers.RefundEscrow(adminSvc, logg))
		})
	})

	return r
}
