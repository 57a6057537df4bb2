package ml

import (
	"fmt"
	"strings"
)

// Feedback limits.
const (
	MaxObservations      = 50
	MaxObservationLength = 1000
	MaxCommentLength     = 4000
)

// Section is one reviewed aspect of a page.
type Section struct {
	Observations []string `json:"observations"`
}

// Feedback is the optional qualitative review attached to a training example.
// It does not influence the numeric model.
type Feedback struct {
	CTA               *Section `json:"cta,omitempty"`
	VisualHierarchy   *Section `json:"visual_hierarchy,omitempty"`
	CopyEffectiveness *Section `json:"copy_effectiveness,omitempty"`
	TrustSignals      *Section `json:"trust_signals,omitempty"`
	Comment           string   `json:"comment,omitempty"`
}

// Sections returns the non-nil sections keyed by their wire name.
func (f *Feedback) Sections() map[string]*Section {
	out := make(map[string]*Section, 4)
	if f == nil {
		return out
	}
	for name, s := range map[string]*Section{
		"cta":                f.CTA,
		"visual_hierarchy":   f.VisualHierarchy,
		"copy_effectiveness": f.CopyEffectiveness,
		"trust_signals":      f.TrustSignals,
	} {
		if s != nil {
			out[name] = s
		}
	}
	return out
}

// IsEmpty reports whether f carries no observations and no comment.
func (f *Feedback) IsEmpty() bool {
	if f == nil {
		return true
	}
	for _, s := range f.Sections() {
		if len(s.Observations) > 0 {
			return false
		}
	}
	return strings.TrimSpace(f.Comment) == ""
}

func (f *Feedback) Validate() error {
	if f == nil {
		return nil
	}
	if len(f.Comment) > MaxCommentLength {
		return &InputError{Field: "user_feedback.comment", Reason: fmt.Sprintf("longer than %d bytes", MaxCommentLength)}
	}
	for name, s := range f.Sections() {
		if len(s.Observations) > MaxObservations {
			return &InputError{Field: "user_feedback." + name, Reason: fmt.Sprintf("more than %d observations", MaxObservations)}
		}
		for _, obs := range s.Observations {
			if strings.TrimSpace(obs) == "" {
				return &InputError{Field: "user_feedback." + name, Reason: "empty observation"}
			}
			if len(obs) > MaxObservationLength {
				return &InputError{Field: "user_feedback." + name, Reason: fmt.Sprintf("observation longer than %d bytes", MaxObservationLength)}
			}
		}
	}
	return nil
}

var (
	negativeTerms = []string{"missing", "lack", "no ", "poor", "weak", "confusing", "unclear", "ineffective", "absent", "could be", "should be", "not"}
	positiveTerms = []string{"clear", "effective", "good", "strong", "well", "present", "prominent", "visible", "professional"}
)

// ObservationScore derives a 0..100 score from observation wording alone.
// It is used when no HTML is available, e.g. for screenshot reviews.
// Negative wording wins over positive wording; unanalysed sections are ignored; 50 means no signal.
func ObservationScore(f *Feedback) float64 {
	positive, negative := 0, 0
	for _, s := range f.Sections() {
		for _, obs := range s.Observations {
			lower := strings.ToLower(obs)
			switch {
			case strings.Contains(lower, "unable to analyze"):
			case containsAny(lower, negativeTerms):
				negative++
			case containsAny(lower, positiveTerms):
				positive++
			}
		}
	}
	informative := positive + negative
	if informative == 0 {
		return 50
	}
	return ClampScore(50 + 30*(float64(positive)/float64(informative)-0.5))
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
