// Package planner implements the bounded iterative planning loop:
// propose, score, refine, until confidence crosses the threshold or the
// iteration budget runs out.
package planner

import (
	"fmt"
	"strings"
)

// Metric names used in iteration scoring. Each is on a 0-10 scale.
const (
	MetricFeasibility  = "feasibility"
	MetricCompleteness = "completeness"
	MetricViability    = "viability"
)

// Weights compose the per-metric scores into a single confidence value.
type Weights struct {
	Feasibility  float64
	Completeness float64
	Viability    float64
}

// DefaultWeights is the standard composition: feasibility dominates,
// then completeness, then viability.
var DefaultWeights = Weights{
	Feasibility:  0.40,
	Completeness: 0.35,
	Viability:    0.25,
}

// Valid reports whether the weights sum to 1 within tolerance.
func (w Weights) Valid() bool {
	sum := w.Feasibility + w.Completeness + w.Viability
	return sum > 0.999 && sum < 1.001
}

// improvementBonusFactor scales the confidence reward for an iteration
// that beats its predecessor's overall score.
const improvementBonusFactor = 0.1

// Evaluator scores plan text and derives refinement suggestions.
type Evaluator struct {
	weights Weights
}

// NewEvaluator returns an evaluator with the given weights, falling back
// to DefaultWeights when they do not sum to 1.
func NewEvaluator(weights Weights) *Evaluator {
	if !weights.Valid() {
		weights = DefaultWeights
	}
	return &Evaluator{weights: weights}
}

// Score computes the metric scores for a plan. Metrics supplied by the
// collaborator win; anything missing is estimated from the text.
func (e *Evaluator) Score(planText string, supplied map[string]float64) map[string]float64 {
	metrics := map[string]float64{
		MetricFeasibility:  estimateFeasibility(planText),
		MetricCompleteness: estimateCompleteness(planText),
		MetricViability:    estimateViability(planText),
	}
	for name, v := range supplied {
		metrics[name] = clampScore(v)
	}
	return metrics
}

// Confidence folds metric scores into [0,1] using the weights, adding a
// capped bonus when the overall score improved on the previous iteration.
// prevOverall < 0 means there is no previous iteration.
func (e *Evaluator) Confidence(metrics map[string]float64, prevOverall float64) (confidence, overall float64) {
	overall = e.weights.Feasibility*metrics[MetricFeasibility] +
		e.weights.Completeness*metrics[MetricCompleteness] +
		e.weights.Viability*metrics[MetricViability]

	confidence = overall / 10
	if prevOverall >= 0 && overall > prevOverall {
		confidence += (overall - prevOverall) / 10 * improvementBonusFactor
	}
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence, overall
}

// Suggestions derives refinement directions for the next iteration from
// weak metrics and the loop phase: early iterations broaden, later ones
// deepen and polish.
func (e *Evaluator) Suggestions(metrics map[string]float64, iteration int) []string {
	var out []string

	if metrics[MetricFeasibility] < 7 {
		out = append(out, "ground the plan in concrete implementation steps and named technologies")
	}
	if metrics[MetricCompleteness] < 7 {
		out = append(out, "cover missing areas: architecture, testing strategy, deployment, timeline")
	}
	if metrics[MetricViability] < 7 {
		out = append(out, "address risks, costs and the target market explicitly")
	}

	switch {
	case iteration <= 1:
		out = append(out, "broaden the solution space before committing to one approach")
	case iteration == 2:
		out = append(out, "deepen the strongest approach with specifics")
	default:
		out = append(out, "polish edge cases and tighten the rollout sequence")
	}
	return out
}

// FailureSuggestion names the follow-up for a failed iteration.
func FailureSuggestion(iteration int, err error) string {
	return fmt.Sprintf("iteration %d failed (%v); retry with the previous iteration's context", iteration, err)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

// Text heuristics. These mirror what a reviewer skims for: concrete
// steps, section coverage, and commercial grounding.

var feasibilityMarkers = []string{
	"step", "implement", "build", "api", "database", "library",
	"framework", "prototype", "milestone",
}

var completenessSections = []string{
	"architecture", "test", "deploy", "timeline", "monitor",
	"security", "scale",
}

var viabilityMarkers = []string{
	"risk", "cost", "market", "user", "revenue", "competitor",
	"adoption", "maintenance",
}

func estimateFeasibility(text string) float64 {
	return scoreMarkers(text, feasibilityMarkers, 2.0)
}

func estimateCompleteness(text string) float64 {
	return scoreMarkers(text, completenessSections, 1.5)
}

func estimateViability(text string) float64 {
	return scoreMarkers(text, viabilityMarkers, 2.0)
}

// scoreMarkers gives a base score for non-trivial text plus a fixed
// increment per distinct marker found, capped at 10.
func scoreMarkers(text string, markers []string, perHit float64) float64 {
	lower := strings.ToLower(text)
	score := 0.0
	if len(strings.TrimSpace(text)) > 100 {
		score = 3
	} else if len(strings.TrimSpace(text)) > 0 {
		score = 1
	}
	for _, m := range markers {
		if strings.Contains(lower, m) {
			score += perHit
		}
	}
	return clampScore(score)
}
