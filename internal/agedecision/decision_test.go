package agedecision

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterDigits(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"You look 25", "25"},
		{"Approximately 10-12 years old", "1012"},
		{"I am 100% sure you are 5 years old", "1005"},
		{"unable to determine", ""},
		{"", ""},
		{"٣٤ years", ""},
		{" 0 0 7 ", "007"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FilterDigits(tt.in), "input %q", tt.in)
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		verdict Verdict
		age     string
	}{
		{"plain adult", "You look 25", VerdictAdult, "25"},
		{"range concatenates", "Approximately 10-12 years old", VerdictAdult, "1012"},
		{"percentage corrupts", "I am 100% sure you are 5 years old", VerdictAdult, "1005"},
		{"threshold is minor", "18", VerdictMinor, "18"},
		{"just above threshold", "19", VerdictAdult, "19"},
		{"child", "You appear to be 12.", VerdictMinor, "12"},
		{"leading zeros", "age: 007", VerdictMinor, "7"},
		{"zero", "0", VerdictMinor, "0"},
		{"no digits", "unable to determine", VerdictUnparseable, ""},
		{"empty", "", VerdictUnparseable, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.in)
			assert.Equal(t, tt.verdict, d.Verdict)
			assert.Equal(t, tt.age, d.AgeString())
			assert.Equal(t, FilterDigits(tt.in), d.Digits)
		})
	}
}

func TestDecideHugeNumberIsAdult(t *testing.T) {
	d := Decide(strings.Repeat("9", 64))

	require.NotNil(t, d.Age)
	assert.Equal(t, VerdictAdult, d.Verdict)
	assert.Len(t, d.AgeString(), 64)
}

func TestDecideUnparseableHasNoAge(t *testing.T) {
	d := Decide("no numbers here")

	assert.Nil(t, d.Age)
	assert.Equal(t, SeverityError, d.Verdict.Severity())
	assert.Equal(t, "Unable to extract age from the estimator response.", d.Verdict.Message())
}

func TestVerdictSeverity(t *testing.T) {
	assert.Equal(t, SeveritySuccess, VerdictAdult.Severity())
	assert.Equal(t, SeverityError, VerdictMinor.Severity())
	assert.Contains(t, VerdictMinor.Message(), "Access is restricted")
	assert.Contains(t, VerdictAdult.Message(), "You can proceed")
}
