package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/librify/librify-api/internal/models"
	appErrors "github.com/librify/librify-api/pkg/errors"
)

func TestReconcileFeesRecomputesDue(t *testing.T) {
	// Caller-supplied due amounts are never trusted.
	in := models.FeeBreakdown{TotalFee: 3000, AmountPaid: 1000, CashPaid: 1000, DueAmount: 999}

	out, err := ReconcileFees(in, FeePolicy{StrictSplit: true}, nil)
	require.NoError(t, err)
	require.Equal(t, float64(2000), out.DueAmount)
	require.True(t, Reconciles(out))
}

func TestReconcileFeesAppliesDiscount(t *testing.T) {
	in := models.FeeBreakdown{TotalFee: 5000, Discount: 500, AmountPaid: 4500, OnlinePaid: 4500}

	out, err := ReconcileFees(in, FeePolicy{StrictSplit: true}, nil)
	require.NoError(t, err)
	require.Equal(t, float64(0), out.DueAmount)
}

func TestReconcileFeesRejectsOverpayment(t *testing.T) {
	in := models.FeeBreakdown{TotalFee: 1000, AmountPaid: 1200, CashPaid: 1200}

	_, err := ReconcileFees(in, FeePolicy{StrictSplit: true}, nil)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrOverpayment.Code, appErr.Code)
}

func TestReconcileFeesRejectsNegatives(t *testing.T) {
	for _, in := range []models.FeeBreakdown{
		{TotalFee: -1},
		{TotalFee: 100, AmountPaid: -5},
		{TotalFee: 100, Discount: -1},
		{TotalFee: 100, SecurityMoney: -20},
	} {
		_, err := ReconcileFees(in, FeePolicy{}, nil)
		var appErr *appErrors.Error
		require.True(t, errors.As(err, &appErr))
		require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	}
}

func TestReconcileFeesSplitPolicy(t *testing.T) {
	mismatch := models.FeeBreakdown{TotalFee: 1000, AmountPaid: 800, CashPaid: 500, OnlinePaid: 200}

	_, err := ReconcileFees(mismatch, FeePolicy{StrictSplit: true}, nil)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	// Lenient policy tolerates the mismatch for imported data.
	out, err := ReconcileFees(mismatch, FeePolicy{StrictSplit: false}, nil)
	require.NoError(t, err)
	require.Equal(t, float64(200), out.DueAmount)
}
