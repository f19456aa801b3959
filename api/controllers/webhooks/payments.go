package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tradewell/marketplace-backend/api/responses"
	"github.com/tradewell/marketplace-backend/internal/payments"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
	"github.com/tradewell/marketplace-backend/pkg/gateway"
	"github.com/tradewell/marketplace-backend/pkg/logger"
)

const (
	signatureHeader = "x-signature"

	idempotencyTTL = 24 * time.Hour
)

type webhookService interface {
	HandleWebhookEvent(ctx context.Context, event payments.WebhookEvent) error
}

// IdempotencyGuard drops duplicate webhook deliveries.
type IdempotencyGuard interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// PaymentWebhook verifies the gateway's HMAC signature over the raw body
// before decoding anything. Duplicate deliveries are dropped via a Redis
// idempotency key on the event reference; the guard is optional and nil
// disables deduplication.
func PaymentWebhook(svc webhookService, webhookSecret string, guard IdempotencyGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(signatureHeader))
		if !gateway.VerifySignature(webhookSecret, body, signature) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "webhook signature mismatch"))
			return
		}

		var event payments.WebhookEvent
		if err := json.Unmarshal(body, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook event"))
			return
		}

		var idemKey string
		if guard != nil && event.Data.Reference != "" {
			idemKey = guard.IdempotencyKey("webhook:"+event.Event, event.Data.Reference)
			fresh, err := guard.SetNX(ctx, idemKey, "1", idempotencyTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook idempotency"))
				return
			}
			if !fresh {
				responses.WriteSuccess(w, nil)
				return
			}
		}

		if err := svc.HandleWebhookEvent(ctx, event); err != nil {
			if idemKey != "" {
				_ = guard.Del(ctx, idemKey)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}
