package controllers

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement/api/responses"
	"github.com/angelmondragon/settlement/api/validators"
	"github.com/angelmondragon/settlement/pkg/db/models"
	"github.com/angelmondragon/settlement/pkg/logger"
)

type productLister interface {
	List(ctx context.Context, featuredFirst bool) ([]models.Product, error)
}

type productView struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	BasePrice   decimal.Decimal `json:"base_price"`
	Brand       string          `json:"brand"`
	Category    string          `json:"category"`
	ImageRef    string          `json:"image_ref,omitempty"`
	Featured    bool            `json:"featured"`
}

// ProductList returns the catalog, featured products first unless
// featured_first=false.
func ProductList(products productLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		featuredFirst, err := validators.ParseQueryBool(r, "featured_first", true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := products.List(r.Context(), featuredFirst)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]productView, 0, len(rows))
		for _, p := range rows {
			out = append(out, productView{
				ID:          p.ID,
				Name:        p.Name,
				Description: p.Description,
				BasePrice:   p.BasePrice,
				Brand:       p.Brand,
				Category:    p.Category,
				ImageRef:    p.ImageRef,
				Featured:    p.Featured,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
