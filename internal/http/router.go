package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

func NewRouter(handler *Handler, log logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(Timeout)
	r.Use(CORS)

	r.Get("/healthz", handler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/invoices", handler.CreateInvoice)
		r.Get("/invoices", handler.ListInvoices)
		r.Get("/invoices/{id}", handler.GetInvoice)
		r.Put("/invoices/{id}", handler.UpdateInvoice)
		r.Post("/invoices/{id}/cancel", handler.CancelInvoice)

		r.Post("/inventory/availability", handler.CheckAvailability)
		r.Get("/inventory/low-stock", handler.LowStock)
		r.Get("/inventory/items/{id}/movements", handler.Movements)
		r.Post("/inventory/items/{id}/adjust", handler.AdjustStock)
		r.Post("/inventory/import-excel", handler.ImportStockExcel)
		r.Post("/inventory/import-prices", handler.ImportPriceList)

		r.Post("/pricing/calculate", handler.CalculatePrice)
		r.Post("/pricing/breakdown", handler.PriceBreakdown)
	})

	return r
}
