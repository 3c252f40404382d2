package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"ideaforge/internal/logging"
	"ideaforge/internal/store"
)

// ScoreIdea derives an idea's overall score and confidence from its
// validation metrics and persists it. Overall is the mean of the three
// 0-10 metrics; confidence maps overall onto [0,1]. A blank ID gets a
// fresh one, so the same call creates and re-scores.
func ScoreIdea(ctx context.Context, st *store.SessionStore, idea *store.Idea) error {
	if strings.TrimSpace(idea.Domain) == "" {
		return fmt.Errorf("idea domain must not be empty")
	}

	v := &idea.Validation
	v.Feasibility = clampScale(v.Feasibility)
	v.Demand = clampScale(v.Demand)
	v.Viability = clampScale(v.Viability)
	v.Overall = roundTo(float64(v.Feasibility+v.Demand+v.Viability)/3, 4)
	idea.Confidence = roundTo(v.Overall/10, 4)

	if idea.ID == "" {
		idea.ID = uuid.NewString()
	}
	if err := st.SaveIdea(ctx, idea); err != nil {
		return err
	}
	logging.Planning("Idea %s scored: overall=%.2f confidence=%.3f",
		idea.ID, v.Overall, idea.Confidence)
	return nil
}

// clampScale pins a metric to the 0-10 scale.
func clampScale(v int) int {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
