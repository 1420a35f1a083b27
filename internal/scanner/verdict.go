// Package scanner classifies text crossing the trust boundary.
//
// Inbound text is scored for prompt-injection attempts with a regex catalog
// plus a weighted feature model. Outbound text is checked for secret and PII
// leakage. The package also mints and checks per-session canary tokens.
package scanner

// Verdict is the outcome class of a scan.
type Verdict string

const (
	VerdictPass  Verdict = "PASS"
	VerdictFlag  Verdict = "FLAG"
	VerdictBlock Verdict = "BLOCK"
)

// Result is a scan outcome. Patterns names the catalog entries that matched;
// Reason is a short human-readable explanation for FLAG and BLOCK.
type Result struct {
	Verdict  Verdict  `json:"verdict"`
	Patterns []string `json:"patterns,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Score    float64  `json:"score,omitempty"`
}

// Blocked reports whether the result forbids the operation.
func (r Result) Blocked() bool { return r.Verdict == VerdictBlock }

func pass() Result { return Result{Verdict: VerdictPass} }
