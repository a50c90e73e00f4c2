package split

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	compdomain "github.com/smallbiznis/instructorledger/internal/compensation/domain"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	from      = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	completed = time.Date(2025, 1, 20, 14, 0, 0, 0, time.UTC)
)

func profile(terms compdomain.Terms) compdomain.Profile {
	return compdomain.Profile{ID: 7, InstructorID: "ins-1", Terms: terms, EffectiveFrom: from}
}

func lesson(price int64) Lesson {
	return Lesson{LessonID: "l-1", InstructorID: "ins-1", TotalPrice: price, Currency: "chf", CompletedAt: completed}
}

func TestComputeCommission(t *testing.T) {
	got, err := Compute(lesson(9000), profile(compdomain.CommissionTerms{RatePercent: decimal.NewFromInt(20)}), completed)
	require.NoError(t, err)
	assert.Equal(t, int64(1800), got.SchoolShare)
	assert.Equal(t, int64(7200), got.NetInstructor)
	assert.Equal(t, int64(2000), got.RateBasisPoints)
	assert.Equal(t, "commission", got.ModelKind)
	assert.Equal(t, "CHF", got.Currency)
	assert.Equal(t, ledgerdomain.CollectedBySchool, got.CollectedBy)
	assert.Equal(t, profile(nil).ID, got.CompensationProfileID)
}

func TestComputeFreeAndFlatFeeKeepGross(t *testing.T) {
	for _, terms := range []compdomain.Terms{compdomain.FreeTerms{}, compdomain.FlatFeeTerms{MonthlyAmount: 50000}} {
		got, err := Compute(lesson(12345), profile(terms), completed)
		require.NoError(t, err)
		assert.Zero(t, got.SchoolShare)
		assert.Equal(t, int64(12345), got.NetInstructor)
		assert.Zero(t, got.RateBasisPoints)
	}
}

func TestSchoolShareRoundsHalfUp(t *testing.T) {
	cases := []struct {
		gross int64
		rate  string
		want  int64
	}{
		{gross: 9000, rate: "20", want: 1800},
		{gross: 1, rate: "50", want: 1},
		{gross: 3, rate: "50", want: 2},
		{gross: 333, rate: "12.5", want: 42},
		{gross: 999, rate: "33.33", want: 333},
		{gross: 0, rate: "25", want: 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SchoolShare(tc.gross, decimal.RequireFromString(tc.rate)), "%d at %s%%", tc.gross, tc.rate)
	}
}

func TestSharesAlwaysSumToGross(t *testing.T) {
	rates := []string{"0", "0.01", "7.5", "19.99", "33.33", "50"}
	for _, rate := range rates {
		p := profile(compdomain.CommissionTerms{RatePercent: decimal.RequireFromString(rate)})
		for gross := int64(0); gross <= 2000; gross += 7 {
			got, err := Compute(lesson(gross), p, completed)
			require.NoError(t, err)
			require.Equal(t, gross, got.SchoolShare+got.NetInstructor, "gross %d rate %s", gross, rate)
			require.GreaterOrEqual(t, got.NetInstructor, int64(0))
		}
	}
}

func TestComputeRejects(t *testing.T) {
	p := profile(compdomain.FreeTerms{})

	_, err := Compute(lesson(-1), p, completed)
	assert.ErrorIs(t, err, ErrNegativePrice)

	other := lesson(100)
	other.InstructorID = "ins-2"
	_, err = Compute(other, p, completed)
	assert.ErrorIs(t, err, ErrProfileMismatch)

	early := lesson(100)
	early.CompletedAt = from.Add(-time.Second)
	_, err = Compute(early, p, completed)
	assert.ErrorIs(t, err, ErrProfileMismatch)

	closed := p
	end := completed.Add(-time.Hour)
	closed.EffectiveTo = &end
	_, err = Compute(lesson(100), closed, completed)
	assert.ErrorIs(t, err, ErrProfileMismatch)
}
