package validate

import (
	"strings"
	"unicode/utf8"
)

// Verdict classifies one generated summary.
type Verdict int

const (
	Accepted Verdict = iota
	RejectedPolicy
	RejectedTooShort
	RejectedMalformed
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case RejectedPolicy:
		return "rejected_policy"
	case RejectedTooShort:
		return "rejected_too_short"
	case RejectedMalformed:
		return "rejected_malformed"
	default:
		return "unknown"
	}
}

const (
	DefaultPolicyMarker = "INAPPROPRIATE"
	DefaultErrorMarker  = "ERROR"
	DefaultMinLength    = 200
)

// Result is the outcome of Classify. Text is only set when the verdict is Accepted.
type Result struct {
	Verdict Verdict
	Text    string
	Reason  string
	// ErrorMarked is true when the output carried the service's error marker.
	ErrorMarked bool
}

// Gate decides whether a generated summary is usable. The zero value is not
// useful; start from Default().
type Gate struct {
	PolicyMarker string
	ErrorMarker  string
	// MinLength is exclusive: summaries of MinLength runes or fewer are rejected.
	MinLength int
}

func Default() Gate {
	return Gate{
		PolicyMarker: DefaultPolicyMarker,
		ErrorMarker:  DefaultErrorMarker,
		MinLength:    DefaultMinLength,
	}
}

// Classify applies the rules in order: empty, policy marker, error marker,
// length. Accepted text is trimmed and flattened onto a single line.
func (g Gate) Classify(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Result{Verdict: RejectedMalformed, Reason: "empty output"}
	}
	if g.PolicyMarker != "" && strings.Contains(raw, g.PolicyMarker) {
		return Result{Verdict: RejectedPolicy, Reason: "policy marker " + g.PolicyMarker}
	}
	if g.ErrorMarker != "" && strings.Contains(raw, g.ErrorMarker) {
		return Result{Verdict: RejectedMalformed, Reason: "error marker " + g.ErrorMarker, ErrorMarked: true}
	}
	if n := utf8.RuneCountInString(trimmed); n <= g.MinLength {
		return Result{Verdict: RejectedTooShort, Reason: "summary too short"}
	}
	return Result{Verdict: Accepted, Text: flatten(trimmed)}
}

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func flatten(s string) string {
	return newlines.Replace(s)
}
