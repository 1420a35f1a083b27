package scanner

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
)

// DefaultThreshold is the feature-score threshold at which inbound text is
// flagged. BLOCK requires 1.3x the threshold.
const DefaultThreshold = 0.7

const blockMultiplier = 1.3

// Scanner classifies inbound and outbound text. The threshold is runtime
// tunable; everything else is immutable after construction.
type Scanner struct {
	mu        sync.RWMutex
	threshold float64
}

// New creates a scanner with the given feature threshold.
// A threshold <= 0 selects DefaultThreshold.
func New(threshold float64) *Scanner {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Scanner{threshold: threshold}
}

// Threshold returns the current feature threshold.
func (s *Scanner) Threshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// SetThreshold tunes the feature threshold at runtime. Values outside (0,10]
// are ignored.
func (s *Scanner) SetThreshold(t float64) {
	if t <= 0 || t > 10 || math.IsNaN(t) {
		return
	}
	s.mu.Lock()
	s.threshold = t
	s.mu.Unlock()
}

// ScanInbound classifies untrusted inbound text.
//
// The regex catalog runs first: a single BLOCK-severity match forces BLOCK.
// The feature score can then escalate the verdict: score >= 1.3*threshold
// blocks, score >= threshold flags, otherwise the regex verdict stands.
func (s *Scanner) ScanInbound(text string) Result {
	if strings.TrimSpace(text) == "" {
		return pass()
	}

	var matched []string
	regexVerdict := VerdictPass
	for _, p := range inboundPatterns {
		if p.re.MatchString(text) {
			matched = append(matched, p.name)
			if p.sev == sevBlock {
				regexVerdict = VerdictBlock
			} else if regexVerdict != VerdictBlock {
				regexVerdict = VerdictFlag
			}
		}
	}

	score := extractFeatures(text).score()
	threshold := s.Threshold()

	res := Result{Verdict: regexVerdict, Patterns: matched, Score: score}
	switch {
	case regexVerdict == VerdictBlock:
		res.Reason = fmt.Sprintf("injection pattern matched: %s", strings.Join(matched, ", "))
	case score >= threshold*blockMultiplier:
		res.Verdict = VerdictBlock
		res.Reason = fmt.Sprintf("injection score %.2f exceeds block threshold %.2f", score, threshold*blockMultiplier)
	case score >= threshold:
		res.Verdict = VerdictFlag
		res.Reason = fmt.Sprintf("injection score %.2f exceeds threshold %.2f", score, threshold)
	case regexVerdict == VerdictFlag:
		res.Reason = fmt.Sprintf("advisory pattern matched: %s", strings.Join(matched, ", "))
	}

	if res.Verdict != VerdictPass {
		slog.Debug("scanner.inbound", "verdict", res.Verdict, "score", score, "patterns", matched)
	}
	return res
}

// ScanOutbound classifies host-originated text before it leaves the trust
// boundary. Any secret match blocks; PII matches flag.
func (s *Scanner) ScanOutbound(text string) Result {
	if text == "" {
		return pass()
	}

	var secrets, pii []string
	for _, p := range outboundPatterns {
		if p.re.MatchString(text) {
			if p.kind == "secret" {
				secrets = append(secrets, p.name)
			} else {
				pii = append(pii, p.name)
			}
		}
	}

	switch {
	case len(secrets) > 0:
		return Result{
			Verdict:  VerdictBlock,
			Patterns: append(secrets, pii...),
			Reason:   fmt.Sprintf("secret material detected: %s", strings.Join(secrets, ", ")),
		}
	case len(pii) > 0:
		return Result{
			Verdict:  VerdictFlag,
			Patterns: pii,
			Reason:   fmt.Sprintf("possible PII: %s", strings.Join(pii, ", ")),
		}
	}
	return pass()
}
