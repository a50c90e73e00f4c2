// Package split turns a completed lesson and the compensation profile in force
// at completion into a revenue split. It performs no I/O.
package split

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	compdomain "github.com/smallbiznis/instructorledger/internal/compensation/domain"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
)

var (
	ErrNegativePrice   = errors.New("lesson_price_negative")
	ErrProfileMismatch = errors.New("compensation_profile_mismatch")
	ErrUnknownModel    = errors.New("compensation_model_unknown")
)

var hundred = decimal.NewFromInt(100)

type Lesson struct {
	LessonID     string
	InstructorID string
	StudentID    string
	TotalPrice   int64
	Currency     string
	CollectedBy  ledgerdomain.CollectedBy
	CompletedAt  time.Time
}

// Compute returns the split of lesson under profile. The result carries no ID.
func Compute(lesson Lesson, profile compdomain.Profile, computedAt time.Time) (ledgerdomain.RevenueSplit, error) {
	if lesson.TotalPrice < 0 {
		return ledgerdomain.RevenueSplit{}, ErrNegativePrice
	}
	if strings.TrimSpace(lesson.InstructorID) != profile.InstructorID || !profile.Covers(lesson.CompletedAt) {
		return ledgerdomain.RevenueSplit{}, ErrProfileMismatch
	}

	gross := lesson.TotalPrice
	var (
		school int64
		rateBP int64
	)
	switch terms := profile.Terms.(type) {
	case compdomain.FreeTerms, compdomain.FlatFeeTerms:
		school = 0
	case compdomain.CommissionTerms:
		school = SchoolShare(gross, terms.RatePercent)
		rateBP = terms.RatePercent.Shift(2).Round(0).IntPart()
	default:
		return ledgerdomain.RevenueSplit{}, ErrUnknownModel
	}

	collectedBy := lesson.CollectedBy
	if collectedBy == "" {
		collectedBy = ledgerdomain.CollectedBySchool
	}

	return ledgerdomain.RevenueSplit{
		LessonID:              strings.TrimSpace(lesson.LessonID),
		InstructorID:          profile.InstructorID,
		StudentID:             strings.TrimSpace(lesson.StudentID),
		CompensationProfileID: profile.ID,
		ModelKind:             string(profile.Kind()),
		RateBasisPoints:       rateBP,
		GrossAmount:           gross,
		SchoolShare:           school,
		NetInstructor:         gross - school,
		Currency:              strings.ToUpper(strings.TrimSpace(lesson.Currency)),
		CollectedBy:           collectedBy,
		CompletedAt:           lesson.CompletedAt.UTC(),
		ComputedAt:            computedAt.UTC(),
	}, nil
}

// SchoolShare is gross × rate / 100 rounded half-up to the minor unit.
func SchoolShare(gross int64, ratePercent decimal.Decimal) int64 {
	return decimal.NewFromInt(gross).Mul(ratePercent).Div(hundred).Round(0).IntPart()
}
