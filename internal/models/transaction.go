package models

// TransactionRequest asks the ledger to move Amount from FromAccount (debit)
// to ToAccount (credit).
type TransactionRequest struct {
	UserID         string       `json:"userId" validate:"required,max=64"`
	FromAccount    string       `json:"fromAccount" validate:"required,max=64"`
	ToAccount      string       `json:"toAccount" validate:"required,max=64,nefield=FromAccount"`
	Amount         int64        `json:"amount"`
	DebitCategory  string       `json:"debitCategory,omitempty" validate:"max=64"`
	CreditCategory string       `json:"creditCategory,omitempty" validate:"max=64"`
	Reasons        []ReasonCode `json:"reasons,omitempty" validate:"max=16,dive,max=64"`
	Reversal       *ReversalOf  `json:"-"`
}

// ReversalOf links a reversal transaction to the transaction it undoes.
// DebitOriginalHash is stamped on the reversal debit leg, CreditOriginalHash
// on the reversal credit leg.
type ReversalOf struct {
	ParentID           string
	DebitOriginalHash  string
	CreditOriginalHash string
}

// RiskFeatures is the snapshot sent to the anomaly scoring service.
type RiskFeatures struct {
	Amount     int64  `json:"amount"`
	HourOfDay  int    `json:"hour_of_day"`
	Category   string `json:"category"`
	AccountID  string `json:"account_id"`
	EntryType  string `json:"entry_type"`
	IsReversal bool   `json:"is_reversal"`
}

type RiskAssessment struct {
	Score      float64      `json:"score"`
	Suspicious bool         `json:"suspicious"`
	Reasons    []ReasonCode `json:"reasons,omitempty"`
}
