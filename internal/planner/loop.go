package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"ideaforge/internal/logging"
	"ideaforge/internal/store"
)

// ErrPlanningFailed is returned when a run produces no plan at all: the
// session is finalized as failed and the caller gets both the session
// and this error.
var ErrPlanningFailed = errors.New("planning failed")

// PlanResult is what the collaborator returns for one iteration.
// Metrics and Suggestions are optional; the evaluator fills gaps.
type PlanResult struct {
	ResultText  string
	Metrics     map[string]float64
	Suggestions []string
}

// Planner produces one plan draft for the given planning context.
type Planner interface {
	Plan(ctx context.Context, planningContext string) (*PlanResult, error)
}

// Iteration bounds. Requests outside the range are clamped, not rejected.
const (
	MinIterations = 1
	MaxIterations = 10
)

// DefaultConfidenceThreshold stops the loop once met.
const DefaultConfidenceThreshold = 0.85

// Request describes one planning run.
type Request struct {
	Domain              string
	Requirements        string
	IdeaID              string
	MaxIterations       int
	ConfidenceThreshold float64
}

// Loop drives the iterative planning process and persists every
// iteration as it happens.
type Loop struct {
	planner     Planner
	store       *store.SessionStore
	eval        *Evaluator
	callTimeout time.Duration
}

// NewLoop builds a planning loop. callTimeout bounds each collaborator
// call; zero means 120s.
func NewLoop(p Planner, st *store.SessionStore, eval *Evaluator, callTimeout time.Duration) *Loop {
	if eval == nil {
		eval = NewEvaluator(DefaultWeights)
	}
	if callTimeout <= 0 {
		callTimeout = 120 * time.Second
	}
	return &Loop{planner: p, store: st, eval: eval, callTimeout: callTimeout}
}

// Run executes the planning loop for one request. Iterations are strictly
// sequential; each one is persisted before the next begins. The returned
// session reflects the final persisted state.
func (l *Loop) Run(ctx context.Context, req Request) (*store.PlanningSession, error) {
	maxIter := req.MaxIterations
	if maxIter < MinIterations {
		logging.PlanningWarn("max iterations %d below minimum, clamping to %d", maxIter, MinIterations)
		maxIter = MinIterations
	}
	if maxIter > MaxIterations {
		logging.PlanningWarn("max iterations %d above maximum, clamping to %d", maxIter, MaxIterations)
		maxIter = MaxIterations
	}
	threshold := req.ConfidenceThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConfidenceThreshold
	}

	sess := &store.PlanningSession{
		ID:     uuid.NewString(),
		IdeaID: req.IdeaID,
		Domain: req.Domain,
		Status: store.StatusInProgress,
	}
	if err := l.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logging.Planning("Session %s: domain=%s maxIter=%d threshold=%.2f",
		sess.ID, req.Domain, maxIter, threshold)
	audit := logging.AuditWithSession(sess.ID)
	audit.SessionStart(sess.ID)
	start := time.Now()

	planningContext := buildInitialContext(req.Domain, req.Requirements)

	var (
		overalls    []float64
		lastPlan    string
		lastConf    float64
		prevOverall = -1.0
		completed   int
		lastErr     error
	)

	for i := 1; i <= maxIter; i++ {
		if err := ctx.Err(); err != nil {
			// Canceled between iterations: completed work stays persisted
			l.finalize(sess.ID, store.StatusFailed, lastPlan, lastConf, overalls)
			return l.reload(sess.ID, err)
		}

		result, err := l.planOnce(ctx, planningContext)
		completed = i

		if err != nil {
			iter := &store.PlanningIteration{
				Index:       i,
				Context:     planningContext,
				ResultText:  "",
				Confidence:  0,
				Suggestions: []string{FailureSuggestion(i, err)},
			}
			if serr := l.persistIteration(sess.ID, iter); serr != nil {
				return nil, fmt.Errorf("failed to persist iteration %d: %w", i, serr)
			}
			audit.PlanningIteration(sess.ID, i, 0, false)
			logging.PlanningWarn("Session %s iteration %d failed: %v", sess.ID, i, err)
			lastErr = err

			if i == 1 && strings.TrimSpace(req.Domain) == "" && strings.TrimSpace(req.Requirements) == "" {
				// Nothing succeeded yet and there is no context to
				// fall back on
				l.finalize(sess.ID, store.StatusFailed, "", 0, overalls)
				audit.SessionEnd(sess.ID, completed, time.Since(start).Milliseconds())
				return l.reload(sess.ID, fmt.Errorf("%w: first iteration failed with no fallback context: %w", ErrPlanningFailed, err))
			}
			// Retry against the last good context
			continue
		}

		metrics := l.eval.Score(result.ResultText, result.Metrics)
		confidence, overall := l.eval.Confidence(metrics, prevOverall)
		suggestions := result.Suggestions
		if len(suggestions) == 0 {
			suggestions = l.eval.Suggestions(metrics, i)
		}

		iter := &store.PlanningIteration{
			Index:       i,
			Context:     planningContext,
			ResultText:  result.ResultText,
			Metrics:     metrics,
			Suggestions: suggestions,
			Confidence:  confidence,
		}
		if err := l.persistIteration(sess.ID, iter); err != nil {
			return nil, fmt.Errorf("failed to persist iteration %d: %w", i, err)
		}
		audit.PlanningIteration(sess.ID, i, confidence, true)
		logging.Planning("Session %s iteration %d: confidence=%.3f overall=%.2f",
			sess.ID, i, confidence, overall)

		lastPlan = result.ResultText
		lastConf = confidence
		prevOverall = overall
		overalls = append(overalls, overall)

		if confidence >= threshold {
			logging.Planning("Session %s converged at iteration %d (%.3f >= %.2f)",
				sess.ID, i, confidence, threshold)
			break
		}

		planningContext = refineContext(planningContext, result.ResultText, suggestions)
	}

	status := store.StatusCompleted
	var runErr error
	if lastPlan == "" {
		status = store.StatusFailed
		runErr = fmt.Errorf("%w: no iteration produced a plan after %d attempts", ErrPlanningFailed, completed)
		if lastErr != nil {
			runErr = fmt.Errorf("%w: %w", runErr, lastErr)
		}
	}
	l.finalize(sess.ID, status, lastPlan, lastConf, overalls)
	audit.SessionEnd(sess.ID, completed, time.Since(start).Milliseconds())
	return l.reload(sess.ID, runErr)
}

// planOnce runs a single bounded collaborator call.
func (l *Loop) planOnce(ctx context.Context, planningContext string) (*PlanResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()
	return l.planner.Plan(callCtx, planningContext)
}

// persistIteration writes on a detached context so work that already
// finished survives a cancellation that raced the planner call.
func (l *Loop) persistIteration(sessionID string, iter *store.PlanningIteration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return l.store.AppendIteration(ctx, sessionID, iter)
}

func (l *Loop) finalize(sessionID string, status store.SessionStatus, finalPlan string, confidence float64, overalls []float64) {
	conv := summarizeConvergence(overalls)
	// Finalize on a fresh context so cancellation cannot strand the
	// session in in_progress
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.store.FinalizeSession(ctx, sessionID, status, finalPlan, confidence, conv); err != nil {
		logging.Get(logging.CategoryPlanning).Error("Failed to finalize session %s: %v", sessionID, err)
	}
}

func (l *Loop) reload(sessionID string, runErr error) (*store.PlanningSession, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sess, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess, runErr
}

func buildInitialContext(domain, requirements string) string {
	var b strings.Builder
	b.WriteString("Domain: ")
	b.WriteString(domain)
	if requirements != "" {
		b.WriteString("\nRequirements:\n")
		b.WriteString(requirements)
	}
	return b.String()
}

// refineContext seeds the next iteration with the prior draft and the
// refinement directions.
func refineContext(prev, planText string, suggestions []string) string {
	var b strings.Builder
	b.WriteString(prev)
	b.WriteString("\n\nPrevious draft:\n")
	b.WriteString(planText)
	if len(suggestions) > 0 {
		b.WriteString("\n\nRefine by:\n")
		for _, s := range suggestions {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// summarizeConvergence reports how the overall scores evolved.
func summarizeConvergence(overalls []float64) *store.ConvergenceSummary {
	if len(overalls) == 0 {
		return nil
	}
	peak := overalls[0]
	sum := overalls[0]
	for _, v := range overalls[1:] {
		if v > peak {
			peak = v
		}
		sum += v
	}
	mean := sum / float64(len(overalls))

	var variance float64
	for _, v := range overalls {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(overalls))

	var trend, improving float64
	if len(overalls) > 1 {
		var diffSum float64
		for i := 1; i < len(overalls); i++ {
			diff := overalls[i] - overalls[i-1]
			diffSum += diff
			if diff > 0 {
				improving++
			}
		}
		trend = diffSum / float64(len(overalls)-1)
		improving /= float64(len(overalls) - 1)
	} else {
		improving = 1
	}

	return &store.ConvergenceSummary{
		ImprovementTrend: roundTo(trend, 4),
		ConvergenceRate:  roundTo(improving, 4),
		PeakScore:        roundTo(peak/10, 4),
		ScoreVariance:    roundTo(variance, 4),
	}
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
