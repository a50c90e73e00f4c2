package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type ModelKind string

const (
	ModelFree       ModelKind = "free"
	ModelFlatFee    ModelKind = "flat_fee"
	ModelCommission ModelKind = "commission"
)

func (k ModelKind) Valid() bool {
	switch k {
	case ModelFree, ModelFlatFee, ModelCommission:
		return true
	default:
		return false
	}
}

// Terms is one of FreeTerms, FlatFeeTerms or CommissionTerms.
type Terms interface {
	Kind() ModelKind
	isTerms()
}

type FreeTerms struct{}

func (FreeTerms) Kind() ModelKind { return ModelFree }
func (FreeTerms) isTerms()        {}

// FlatFeeTerms charge the instructor a fixed amount per month; lessons are kept in full.
type FlatFeeTerms struct {
	MonthlyAmount int64 `json:"monthly_amount" validate:"gte=0,lte=500000"`
	AutoDebit     bool  `json:"auto_debit"`
}

func (FlatFeeTerms) Kind() ModelKind { return ModelFlatFee }
func (FlatFeeTerms) isTerms()        {}

// CommissionTerms give the school RatePercent of every lesson.
type CommissionTerms struct {
	RatePercent decimal.Decimal `json:"rate_percent"`
}

func (CommissionTerms) Kind() ModelKind { return ModelCommission }
func (CommissionTerms) isTerms()        {}

// Params is the flat wire shape of Terms.
type Params struct {
	MonthlyAmount *int64           `json:"monthly_amount,omitempty"`
	AutoDebit     *bool            `json:"auto_debit,omitempty"`
	RatePercent   *decimal.Decimal `json:"rate_percent,omitempty"`
}

// TermsFrom builds Terms for kind from params; missing parameters are a validation error.
func TermsFrom(kind ModelKind, params Params) (Terms, error) {
	switch kind {
	case ModelFree:
		return FreeTerms{}, nil
	case ModelFlatFee:
		if params.MonthlyAmount == nil {
			return nil, ErrInvalidFlatFee
		}
		terms := FlatFeeTerms{MonthlyAmount: *params.MonthlyAmount}
		if params.AutoDebit != nil {
			terms.AutoDebit = *params.AutoDebit
		}
		return terms, nil
	case ModelCommission:
		if params.RatePercent == nil {
			return nil, ErrInvalidCommissionRate
		}
		return CommissionTerms{RatePercent: *params.RatePercent}, nil
	default:
		return nil, ErrInvalidModelKind
	}
}

func ParamsOf(terms Terms) Params {
	switch t := terms.(type) {
	case FlatFeeTerms:
		amount, autoDebit := t.MonthlyAmount, t.AutoDebit
		return Params{MonthlyAmount: &amount, AutoDebit: &autoDebit}
	case CommissionTerms:
		rate := t.RatePercent
		return Params{RatePercent: &rate}
	default:
		return Params{}
	}
}

// Profile is an immutable compensation snapshot. EffectiveTo is nil for the
// instructor's current profile.
type Profile struct {
	ID            snowflake.ID
	InstructorID  string
	Terms         Terms
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	CreatedBy     string
	CreatedAt     time.Time
}

func (p Profile) Kind() ModelKind {
	if p.Terms == nil {
		return ""
	}
	return p.Terms.Kind()
}

// Covers reports whether at falls inside [EffectiveFrom, EffectiveTo].
func (p Profile) Covers(at time.Time) bool {
	if at.Before(p.EffectiveFrom) {
		return false
	}
	return p.EffectiveTo == nil || !at.After(*p.EffectiveTo)
}

// RatePercent is the commission rate, zero for the other kinds.
func (p Profile) RatePercent() decimal.Decimal {
	if t, ok := p.Terms.(CommissionTerms); ok {
		return t.RatePercent
	}
	return decimal.Zero
}

func (p Profile) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID            string     `json:"id"`
		InstructorID  string     `json:"instructor_id"`
		ModelKind     ModelKind  `json:"model_kind"`
		Params        Params     `json:"params"`
		EffectiveFrom time.Time  `json:"effective_from"`
		EffectiveTo   *time.Time `json:"effective_to,omitempty"`
		CreatedBy     string     `json:"created_by,omitempty"`
		CreatedAt     time.Time  `json:"created_at"`
	}{
		ID:            p.ID.String(),
		InstructorID:  p.InstructorID,
		ModelKind:     p.Kind(),
		Params:        ParamsOf(p.Terms),
		EffectiveFrom: p.EffectiveFrom,
		EffectiveTo:   p.EffectiveTo,
		CreatedBy:     p.CreatedBy,
		CreatedAt:     p.CreatedAt,
	})
}

// ProfileRecord is the compensation_profiles row. The commission rate is kept
// in hundredths of a percent.
type ProfileRecord struct {
	ID              snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	InstructorID    string       `gorm:"type:varchar(64);not null;index:idx_compensation_profiles_instructor,priority:1;uniqueIndex:ux_compensation_profiles_open,where:effective_to IS NULL"`
	ModelKind       string       `gorm:"type:varchar(16);not null"`
	MonthlyAmount   *int64
	AutoDebit       bool  `gorm:"not null;default:false"`
	RateBasisPoints *int64
	EffectiveFrom   time.Time  `gorm:"not null;index:idx_compensation_profiles_instructor,priority:2"`
	EffectiveTo     *time.Time `gorm:""`
	CreatedBy       string     `gorm:"type:varchar(128);not null;default:''"`
	CreatedAt       time.Time  `gorm:"not null"`
}

func (ProfileRecord) TableName() string { return "compensation_profiles" }

func ToRecord(p Profile) ProfileRecord {
	rec := ProfileRecord{
		ID:            p.ID,
		InstructorID:  p.InstructorID,
		ModelKind:     string(p.Kind()),
		EffectiveFrom: p.EffectiveFrom,
		EffectiveTo:   p.EffectiveTo,
		CreatedBy:     p.CreatedBy,
		CreatedAt:     p.CreatedAt,
	}
	switch t := p.Terms.(type) {
	case FlatFeeTerms:
		amount := t.MonthlyAmount
		rec.MonthlyAmount = &amount
		rec.AutoDebit = t.AutoDebit
	case CommissionTerms:
		bp := t.RatePercent.Shift(2).IntPart()
		rec.RateBasisPoints = &bp
	}
	return rec
}

func (r ProfileRecord) ToProfile() Profile {
	var terms Terms
	switch ModelKind(r.ModelKind) {
	case ModelFlatFee:
		var amount int64
		if r.MonthlyAmount != nil {
			amount = *r.MonthlyAmount
		}
		terms = FlatFeeTerms{MonthlyAmount: amount, AutoDebit: r.AutoDebit}
	case ModelCommission:
		var bp int64
		if r.RateBasisPoints != nil {
			bp = *r.RateBasisPoints
		}
		terms = CommissionTerms{RatePercent: decimal.New(bp, -2)}
	default:
		terms = FreeTerms{}
	}
	return Profile{
		ID:            r.ID,
		InstructorID:  r.InstructorID,
		Terms:         terms,
		EffectiveFrom: r.EffectiveFrom.UTC(),
		EffectiveTo:   utcPtr(r.EffectiveTo),
		CreatedBy:     r.CreatedBy,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
