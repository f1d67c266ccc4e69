package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// LineKind discriminates the sign and meaning of a quote line
type LineKind string

const (
	LineKindProject    LineKind = "project"
	LineKindExpense    LineKind = "expense"
	LineKindRetainer   LineKind = "retainer"
	LineKindDiscount   LineKind = "discount"
	LineKindAdjustment LineKind = "adjustment"
)

// IsValid checks if the kind is one of the known values
func (k LineKind) IsValid() bool {
	switch k {
	case LineKindProject, LineKindExpense, LineKindRetainer, LineKindDiscount, LineKindAdjustment:
		return true
	}
	return false
}

// Line bounds keep every quote total inside int64 cents and the numeric(12,2) columns
const (
	MaxQuoteLines       = 200
	MaxLineQuantity     = 10000
	MaxUnitAmountCents  = 999_999_999_999
	MaxQuoteAmountCents = 999_999_999_999
)

// QuoteLine is a priced line item stored inside a Quote.
// Discount lines carry a positive magnitude that is subtracted from the subtotal.
type QuoteLine struct {
	Kind            LineKind   `json:"kind" validate:"required,oneof=project expense retainer discount adjustment"`
	SourceID        *uuid.UUID `json:"sourceId,omitempty"`
	Title           string     `json:"title" validate:"required,max=200"`
	Description     *string    `json:"description,omitempty"`
	Quantity        float64    `json:"quantity" validate:"gte=0,lte=10000"`
	UnitLabel       string     `json:"unitLabel" validate:"max=50"`
	UnitAmountCents int64      `json:"unitAmountCents" validate:"gte=0,lte=999999999999"`
	Taxable         bool       `json:"taxable"`
	GroupKey        string     `json:"groupKey" validate:"max=100"`
	NotesInternal   *string    `json:"notesInternal,omitempty"`
	NotesClient     *string    `json:"notesClient,omitempty"`
}

// IsDiscount reports whether the line reduces the subtotal
func (l QuoteLine) IsDiscount() bool {
	return l.Kind == LineKindDiscount
}

// QuoteStatus is the lifecycle state of a quote
type QuoteStatus string

const (
	QuoteStatusProposed QuoteStatus = "proposed"
	QuoteStatusLocked   QuoteStatus = "locked"
	QuoteStatusInvoiced QuoteStatus = "invoiced"
)

// quoteTransitions is the complete set of allowed quote state changes
var quoteTransitions = map[QuoteStatus][]QuoteStatus{
	QuoteStatusProposed: {QuoteStatusLocked},
	QuoteStatusLocked:   {QuoteStatusInvoiced},
	QuoteStatusInvoiced: {},
}

// CanTransitionTo checks the quote transition table
func (s QuoteStatus) CanTransitionTo(next QuoteStatus) bool {
	for _, allowed := range quoteTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsEditable reports whether lines and terms may still change
func (s QuoteStatus) IsEditable() bool {
	return s == QuoteStatusProposed
}

// Quote is an internal proposal of priced lines for a client.
// Totals are cached in major currency units and recomputed from Lines on every write.
type Quote struct {
	BaseModel
	ClientID           uuid.UUID                      `gorm:"type:uuid;not null;index"`
	CreatedByID        string                         `gorm:"type:varchar(100);column:created_by_id"`
	Lines              datatypes.JSONSlice[QuoteLine] `gorm:"not null"`
	Subtotal           decimal.Decimal                `gorm:"type:numeric(12,2);not null"`
	Discount           decimal.Decimal                `gorm:"type:numeric(12,2);not null"`
	Total              decimal.Decimal                `gorm:"type:numeric(12,2);not null"`
	Status             QuoteStatus                    `gorm:"type:varchar(20);not null;default:'proposed';index"`
	DueDate            *time.Time                     `gorm:"column:due_date"`
	NetTermsDays       *int                           `gorm:"column:net_terms_days"`
	ClientMemo         *string                        `gorm:"type:text;column:client_memo"`
	InternalMemo       *string                        `gorm:"type:text;column:internal_memo"`
	BillableProjectIDs datatypes.JSONSlice[uuid.UUID] `gorm:"not null;column:billable_project_ids"`
	BillableExpenseIDs datatypes.JSONSlice[uuid.UUID] `gorm:"not null;column:billable_expense_ids"`
}
