package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/settlement/api/responses"
	"github.com/angelmondragon/settlement/api/validators"
	"github.com/angelmondragon/settlement/internal/inventory"
	"github.com/angelmondragon/settlement/pkg/logger"
)

type lowStockReporter interface {
	LowStock(ctx context.Context, limit int) ([]inventory.StockStatus, error)
}

func LowStock(reporter lowStockReporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := reporter.LowStock(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}
