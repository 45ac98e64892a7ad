package service

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/librify/librify-api/internal/models"
	appErrors "github.com/librify/librify-api/pkg/errors"
)

// amountTolerance absorbs float drift when comparing currency amounts.
const amountTolerance = 0.005

// FeePolicy selects how strictly fee writes are validated.
type FeePolicy struct {
	// StrictSplit rejects writes where cash + online differs from the
	// amount paid. When false the mismatch is tolerated (historical and
	// imported rows) and only logged by callers.
	StrictSplit bool
}

// ReconcileFees validates a fee breakdown and returns the normalised copy
// that is safe to persist. The due amount is always recomputed from
// total − discount − paid rather than trusted from the caller; a breakdown
// whose recomputed due would be negative is an overpayment and is rejected
// outright instead of being clamped.
func ReconcileFees(b models.FeeBreakdown, policy FeePolicy, logger *zap.Logger) (models.FeeBreakdown, error) {
	if b.TotalFee < 0 || b.AmountPaid < 0 || b.Discount < 0 || b.CashPaid < 0 || b.OnlinePaid < 0 || b.SecurityMoney < 0 {
		return models.FeeBreakdown{}, appErrors.Clone(appErrors.ErrValidation, "fee amounts must not be negative")
	}
	if b.Discount > b.TotalFee {
		return models.FeeBreakdown{}, appErrors.Clone(appErrors.ErrValidation, "discount exceeds total fee")
	}

	due := b.TotalFee - b.Discount - b.AmountPaid
	if due < -amountTolerance {
		return models.FeeBreakdown{}, appErrors.Clone(appErrors.ErrOverpayment,
			fmt.Sprintf("amount paid %.2f exceeds payable %.2f; record the excess as advance or security money", b.AmountPaid, b.TotalFee-b.Discount))
	}
	if due < 0 {
		due = 0
	}
	b.DueAmount = due

	split := b.CashPaid + b.OnlinePaid
	if math.Abs(split-b.AmountPaid) > amountTolerance {
		if policy.StrictSplit {
			return models.FeeBreakdown{}, appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("cash %.2f + online %.2f does not equal amount paid %.2f", b.CashPaid, b.OnlinePaid, b.AmountPaid))
		}
		if logger != nil {
			logger.Warn("fee split does not reconcile with amount paid",
				zap.Float64("cash", b.CashPaid),
				zap.Float64("online", b.OnlinePaid),
				zap.Float64("amount_paid", b.AmountPaid))
		}
	}

	return b, nil
}

// Reconciles reports whether paid + due still equals total − discount. Used
// as a sanity check on rows read back from storage.
func Reconciles(b models.FeeBreakdown) bool {
	return math.Abs((b.AmountPaid+b.DueAmount)-(b.TotalFee-b.Discount)) <= amountTolerance
}
