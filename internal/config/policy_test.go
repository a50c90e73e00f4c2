package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, ValidatePolicy(p))
	assert.Equal(t, 15*24*time.Hour, p.WarningAfter())
	assert.True(t, p.Escalates("monthly_fee"))
	assert.False(t, p.Escalates("instructor_payout"))
}

func TestValidatePolicy(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"empty currency", func(p *Policy) { p.Currency = " " }},
		{"zero minor units", func(p *Policy) { p.MinorUnitsPerUnit = 0 }},
		{"bad timezone", func(p *Policy) { p.Timezone = "Mars/Olympus" }},
		{"negative grace", func(p *Policy) { p.FeeGraceDays = -1 }},
		{"zero interval", func(p *Policy) { p.Reminders.WarningAfterDays = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultPolicy()
			tc.mutate(&p)
			assert.Error(t, ValidatePolicy(p))
		})
	}
}

func TestPolicyHolderGet(t *testing.T) {
	var nilHolder *PolicyHolder
	assert.Equal(t, "CHF", nilHolder.Get().Currency)

	p := DefaultPolicy()
	p.Currency = "EUR"
	holder := NewStaticPolicyHolder(p)
	assert.Equal(t, "EUR", holder.Get().Currency)
}
