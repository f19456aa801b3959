package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tradewell/marketplace-backend/api/responses"
	"github.com/tradewell/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
	"github.com/tradewell/marketplace-backend/pkg/logger"
	"github.com/tradewell/marketplace-backend/pkg/visibility"
)

const (
	userIDHeader = "X-User-Id"
	roleHeader   = "X-Actor-Role"
	shopIDHeader = "X-Shop-Id"
)

// Identity resolves the caller from the identity headers set by the edge
// proxy, which terminates authentication before requests reach this service.
// Requests without a user id are rejected.
func Identity(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			rawUserID := strings.TrimSpace(r.Header.Get(userIDHeader))
			if rawUserID == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
				return
			}
			userID, err := uuid.Parse(rawUserID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid caller identity"))
				return
			}

			actor := visibility.Actor{
				UserID: userID,
				Role:   parseRole(r.Header.Get(roleHeader)),
			}
			if rawShopID := strings.TrimSpace(r.Header.Get(shopIDHeader)); rawShopID != "" {
				shopID, err := uuid.Parse(rawShopID)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid shop identity"))
					return
				}
				actor.ShopID = shopID
			}

			ctx = WithActor(ctx, actor)
			if logg != nil {
				ctx = logg.WithUserID(ctx, userID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseRole(raw string) enums.ActorRole {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case enums.ActorRoleAdmin.String():
		return enums.ActorRoleAdmin
	case enums.ActorRoleShopStaff.String():
		return enums.ActorRoleShopStaff
	default:
		return enums.ActorRoleCustomer
	}
}
