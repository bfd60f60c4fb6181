package verify

import (
	"context"

	"go.uber.org/zap"

	"bmadloop/internal/domain"
)

// DeriveRemediation applies the two-axis decision: did verification pass,
// and does the code exist. A passing verdict needs nothing. A failing
// verdict where the code demonstrably exists means the tracking records
// are stale, so fix the tracking. Anywhere the code is absent or its
// existence is unknown, the only safe answer is to implement again.
func DeriveRemediation(passed bool, codeImplemented *bool) domain.Remediation {
	if passed {
		return domain.RemediationNone
	}
	if codeImplemented != nil && *codeImplemented {
		return domain.RemediationFixTracking
	}
	return domain.RemediationReimplement
}

// Engine coordinates the two verifiers. The cheap quick pass runs first;
// a quick failure escalates to a single deep pass before any retry, so
// stale tracking records never trigger a pointless re-implementation.
type Engine struct {
	quick  *QuickVerifier
	deep   *DeepVerifier
	logger *zap.Logger
}

// NewEngine creates a verification engine.
func NewEngine(quick *QuickVerifier, deep *DeepVerifier, logger *zap.Logger) *Engine {
	return &Engine{quick: quick, deep: deep, logger: logger}
}

// Quick runs only the structural checks.
func (e *Engine) Quick(ctx context.Context, id domain.StoryID) (*domain.Verdict, error) {
	return e.quick.Verify(ctx, id)
}

// Deep runs only the assistant-mediated inspection.
func (e *Engine) Deep(ctx context.Context, id domain.StoryID) (*domain.Verdict, error) {
	return e.deep.Verify(ctx, id)
}

// Verify runs the full escalation: quick first, deep once on quick
// failure. A quick failure is never final on its own; the deep pass
// supplies the code-exists axis that picks between fixing stale tracking
// and implementing again. The escalated verdict stays failed even when
// the deep inspection is clean: success is declared only once the
// tracking records agree, which the fix-tracking remediation restores.
func (e *Engine) Verify(ctx context.Context, id domain.StoryID) (*domain.Verdict, error) {
	quick, err := e.quick.Verify(ctx, id)
	if err != nil {
		return nil, err
	}
	if quick.Passed {
		return quick, nil
	}

	e.logger.Info("quick verification failed, escalating to deep",
		zap.String("story", id.String()),
		zap.Int("failed_checks", len(quick.FailedChecks())))

	deep, err := e.deep.Verify(ctx, id)
	if err != nil {
		return nil, err
	}

	deep.Passed = false
	deep.Checks = append(quick.FailedChecks(), deep.Checks...)
	deep.Remediation = DeriveRemediation(false, deep.CodeImplemented)
	return deep, nil
}
