package webhooks

import (
	"context"
	"net/http"

	"github.com/angelmondragon/settlement/api/responses"
	"github.com/angelmondragon/settlement/api/validators"
	"github.com/angelmondragon/settlement/internal/webhooks"
	pkgerrors "github.com/angelmondragon/settlement/pkg/errors"
	"github.com/angelmondragon/settlement/pkg/logger"
)

type paymentHandler interface {
	HandlePayment(ctx context.Context, n webhooks.PaymentNotification) (*webhooks.PaymentOutcome, error)
}

// PaymentWebhook applies a payment confirmation. Duplicate deliveries answer
// 200 with the current order state.
func PaymentWebhook(svc paymentHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment webhook unavailable"))
			return
		}

		var n webhooks.PaymentNotification
		if err := validators.DecodeJSONBody(r, &n); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out, err := svc.HandlePayment(ctx, n)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}
