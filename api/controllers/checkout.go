package controllers

import (
	"net/http"

	"github.com/angelmondragon/settlement/api/responses"
	"github.com/angelmondragon/settlement/api/validators"
	"github.com/angelmondragon/settlement/internal/checkout"
	pkgerrors "github.com/angelmondragon/settlement/pkg/errors"
	"github.com/angelmondragon/settlement/pkg/logger"
)

// Checkout commits the posted basket. A new order answers 201, a replay of
// a known order id answers 200 with the stored summary.
func Checkout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var input checkout.Input
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out, err := svc.Checkout(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if out.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, out)
	}
}
