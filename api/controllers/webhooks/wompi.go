package webhooks

import (
	"io"
	"net/http"

	"github.com/angelmondragon/orderpay-backend/api/responses"
	"github.com/angelmondragon/orderpay-backend/internal/webhooks"
	"github.com/angelmondragon/orderpay-backend/pkg/logger"
	"github.com/angelmondragon/orderpay-backend/pkg/types"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// WompiWebhook receives gateway transaction updates. The endpoint always
// answers 200 with {"received": bool}; a rejected delivery must not trigger
// provider-side retries or leak internals.
func WompiWebhook(svc *webhooks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteSuccess(w, types.WebhookAck{Received: false})
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			if logg != nil {
				logg.Error(ctx, "failed to read webhook body", err)
			}
			responses.WriteSuccess(w, types.WebhookAck{Received: false})
			return
		}

		received := svc.Handle(ctx, payload)
		responses.WriteSuccess(w, types.WebhookAck{Received: received})
	}
}
