package models

// FeeBreakdown holds the fee ledger fields of one membership period. Amounts
// are whole currency units; the core performs no locale or currency
// formatting.
type FeeBreakdown struct {
	TotalFee      float64 `db:"total_fee" json:"total_fee"`
	AmountPaid    float64 `db:"amount_paid" json:"amount_paid"`
	DueAmount     float64 `db:"due_amount" json:"due_amount"`
	CashPaid      float64 `db:"cash_paid" json:"cash_paid"`
	OnlinePaid    float64 `db:"online_paid" json:"online_paid"`
	SecurityMoney float64 `db:"security_money" json:"security_money"`
	Discount      float64 `db:"discount" json:"discount"`
}
