// Package agedecision turns the free-text reply of the age estimator into a verdict.
//
// The only numeric signal is the ordered concatenation of every ASCII digit in the reply.
// Unrelated numbers (percentages, dates, ranges) are concatenated too, so
// "Approximately 10-12 years old" reads as 1012. Callers must treat the verdict as a
// best-effort signal from a non-deterministic model, not as proof of age.
package agedecision

import (
	"math/big"
	"strings"
)

// AdultAgeThreshold is the age a subject must strictly exceed to be classified as adult.
const AdultAgeThreshold = 18

var threshold = big.NewInt(AdultAgeThreshold)

// Verdict is the classification derived from an estimator reply.
type Verdict string

const (
	VerdictAdult       Verdict = "adult"
	VerdictMinor       Verdict = "minor"
	VerdictUnparseable Verdict = "unparseable"
)

// Severity tells the UI how to render a message.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Message returns the user-visible text for the verdict.
func (v Verdict) Message() string {
	switch v {
	case VerdictAdult:
		return "You are above 18. You can proceed."
	case VerdictMinor:
		return "You are under 18. Access is restricted, and you cannot proceed."
	default:
		return "Unable to extract age from the estimator response."
	}
}

// Severity returns how the verdict message should be displayed.
func (v Verdict) Severity() Severity {
	if v == VerdictAdult {
		return SeveritySuccess
	}
	return SeverityError
}

// Decision is the result of Decide. Age is nil when Verdict is VerdictUnparseable.
type Decision struct {
	Verdict Verdict
	Digits  string
	Age     *big.Int
}

// AgeString returns the parsed age in base 10, or "" when no age was parsed.
func (d Decision) AgeString() string {
	if d.Age == nil {
		return ""
	}
	return d.Age.String()
}

// FilterDigits keeps every ASCII digit of text in its original order.
func FilterDigits(text string) string {
	var b strings.Builder
	for i := 0; i < len(text); i++ {
		if c := text[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Decide filters the digits out of text, parses them as one base-10 integer and
// compares it against AdultAgeThreshold.
func Decide(text string) Decision {
	digits := FilterDigits(text)
	if digits == "" {
		return Decision{Verdict: VerdictUnparseable}
	}

	age, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Decision{Verdict: VerdictUnparseable, Digits: digits}
	}

	verdict := VerdictMinor
	if age.Cmp(threshold) > 0 {
		verdict = VerdictAdult
	}
	return Decision{Verdict: verdict, Digits: digits, Age: age}
}
