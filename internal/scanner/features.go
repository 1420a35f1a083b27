package scanner

import (
	"regexp"
	"strings"
)

// Feature model for inbound text. Five features, each clamped to [0,1],
// combined by a fixed weight vector. A strong single feature adds a boost so
// that one clear signal is not diluted by the others.

var featureWeights = [5]float64{0.30, 0.30, 0.20, 0.15, 0.05}

const singleFeatureBoostAt = 0.5
const singleFeatureBoost = 0.3

// Vocabulary of override verbs and their usual objects.
var overrideVocabulary = map[string]bool{
	"ignore": true, "disregard": true, "forget": true, "override": true,
	"bypass": true, "unrestricted": true, "jailbreak": true,
	"instructions": true, "instruction": true, "prompt": true, "prompts": true,
	"rules": true, "restrictions": true, "guidelines": true, "system": true,
	"previous": true, "prior": true, "reveal": true, "pretend": true,
}

var (
	roleSwitchRe = regexp.MustCompile(`(?i)\byou\s+are\s+(now|a|an|the)\b|\bact\s+as\b|\bpretend\s+to\s+be\b|\bassume\s+the\s+role\b|\bfrom\s+now\s+on\b`)
	encodingRe   = regexp.MustCompile(`(?i)\bbase64\b|\\x[0-9a-f]{2}|%[0-9a-f]{2}|&#\d{2,4};|\\u[0-9a-f]{4}|\brot13\b`)
	structuralRe = regexp.MustCompile(`(?im)^\s*(system|assistant|user)\s*:|<\|[a-z_]+\|>|\[/?(INST|SYS)\]|^---+$|` + "```" + `\s*(system|prompt)`)
	tokenSplitRe = regexp.MustCompile(`[^A-Za-z0-9']+`)
)

type featureVector struct {
	overrideDensity float64
	roleSwitches    float64
	encodingMarkers float64
	structural      float64
	lengthRatio     float64
}

func (f featureVector) values() [5]float64 {
	return [5]float64{f.overrideDensity, f.roleSwitches, f.encodingMarkers, f.structural, f.lengthRatio}
}

// score computes the weighted sum plus the single-feature boost.
func (f featureVector) score() float64 {
	vals := f.values()
	var sum, max float64
	for i, v := range vals {
		sum += featureWeights[i] * v
		if v > max {
			max = v
		}
	}
	if max > singleFeatureBoostAt {
		sum += singleFeatureBoost * max
	}
	return sum
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func extractFeatures(text string) featureVector {
	var f featureVector

	tokens := tokenSplitRe.Split(strings.ToLower(text), -1)
	total, hits := 0, 0
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		total++
		if overrideVocabulary[tok] {
			hits++
		}
	}
	if total > 0 {
		f.overrideDensity = clamp01(float64(hits) / float64(total) * 10)
	}

	f.roleSwitches = clamp01(float64(len(roleSwitchRe.FindAllStringIndex(text, -1))) / 3)
	f.encodingMarkers = clamp01(float64(len(encodingRe.FindAllStringIndex(text, -1))) / 5)
	f.structural = clamp01(float64(len(structuralRe.FindAllStringIndex(text, -1))) / 4)
	f.lengthRatio = clamp01(float64(len(text)) / 2000)

	return f
}
