package ml

import (
	"errors"
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Counts beyond these maxima saturate at 1.
const (
	maxCTAs           = 10.0
	maxForms          = 3.0
	maxInputs         = 12.0
	maxHeadings       = 20.0
	maxImages         = 30.0
	maxTrustHits      = 12.0
	maxWords          = 3000.0
	maxContactSignals = 4.0
	maxMetaSignals    = 4.0
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d{0,3}[\s.-]?\(?\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}`)
)

var ctaKeywords = []string{
	"buy", "sign up", "signup", "get started", "start now", "subscribe", "contact us", "try", "download",
	"order", "book", "register", "join", "add to cart", "shop now", "learn more", "request a demo",
}

var trustKeywords = []string{
	"testimonial", "review", "guarantee", "secure", "certified", "trusted", "award", "rated", "customers",
	"privacy", "money-back", "verified", "ssl", "partner", "case study", "as seen on",
}

var folder = cases.Fold()

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func saturate(value, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return clamp01(value / max)
}

func logSaturate(value, max float64) float64 {
	if value <= 0 || max <= 0 {
		return 0
	}
	return clamp01(math.Log1p(value) / math.Log1p(max))
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ClampScore bounds a raw model output to the [0,100] score range.
func ClampScore(raw float64) float64 {
	if math.IsNaN(raw) {
		return 0
	}
	return math.Min(math.Max(raw, MinScore), MaxScore)
}

// normalizeText collapses whitespace runs and blank lines into single spaces.
func normalizeText(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

// foldText produces a case-folded NFKC form suitable for keyword matching.
func foldText(s string) string {
	return folder.String(norm.NFKC.String(s))
}

func countKeywordHits(folded string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		hits += strings.Count(folded, kw)
	}
	return hits
}

// ValidateVector checks a vector against the current extractor dimensionality.
func ValidateVector(v FeatureVector) error {
	if len(v) != FeatureDim {
		return ErrDimensionMismatch
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return errors.New("feature vector contains non-finite values")
		}
	}
	return nil
}
