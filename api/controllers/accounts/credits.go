package accounts

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/recapz-backend/api/middleware"
	"github.com/angelmondragon/recapz-backend/api/responses"
	"github.com/angelmondragon/recapz-backend/internal/credits"
	pkgerrors "github.com/angelmondragon/recapz-backend/pkg/errors"
	"github.com/angelmondragon/recapz-backend/pkg/logger"
)

// BalanceReader serves credit snapshots.
type BalanceReader interface {
	Balance(ctx context.Context, accountID uuid.UUID) (credits.Balance, error)
}

// MyCredits returns the caller's credit snapshot.
func MyCredits(ledger BalanceReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ledger == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit ledger unavailable"))
			return
		}
		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		balance, err := ledger.Balance(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}
