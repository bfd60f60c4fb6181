// Package verify implements story verification: cheap structural checks
// against the tracking records (quick mode) and an assistant-mediated
// inspection of the actual code (deep mode).
package verify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bmadloop/internal/domain"
	"bmadloop/internal/gitver"
	"bmadloop/internal/tracking"
)

// CommitChecker reports whether a commit for the story exists. It is a
// function so tests can verify without a real repository.
type CommitChecker func(ctx context.Context, workDir string, id domain.StoryID) (bool, error)

// QuickVerifier evaluates the structural completion predicates. It never
// reads source code: everything comes from tracking records and git.
type QuickVerifier struct {
	store       tracking.Store
	workDir     string
	checkCommit CommitChecker
	logger      *zap.Logger
}

// NewQuickVerifier creates a quick verifier over the tracking store.
func NewQuickVerifier(store tracking.Store, workDir string, logger *zap.Logger) *QuickVerifier {
	return &QuickVerifier{
		store:       store,
		workDir:     workDir,
		checkCommit: gitver.HasCommitMatching,
		logger:      logger,
	}
}

// SetCommitChecker replaces the git commit lookup, for tests and demo
// runs that have no repository.
func (q *QuickVerifier) SetCommitChecker(fn CommitChecker) {
	q.checkCommit = fn
}

// Verify runs all quick checks for a story. Every check is always
// evaluated, even after one fails, so the verdict shows the full
// picture. A verdict is always producible: unreadable records and
// failed lookups become failed checks, never errors.
func (q *QuickVerifier) Verify(ctx context.Context, id domain.StoryID) (*domain.Verdict, error) {
	story, storyErr := q.store.ReadStory(id)
	if storyErr != nil {
		story = &domain.Story{ID: id, Key: id.String()}
	}

	verdict := &domain.Verdict{StoryID: id, Mode: domain.ModeQuick}

	fileDetail := fileExistsDetail(story)
	if storyErr != nil {
		fileDetail = fmt.Sprintf("story record unreadable: %v", storyErr)
	}
	verdict.Checks = append(verdict.Checks, domain.Check{
		Name:   domain.CheckFileExists,
		Passed: storyErr == nil && story.FileExists,
		Detail: fileDetail,
	})

	verdict.Checks = append(verdict.Checks, domain.Check{
		Name:   domain.CheckStatusDone,
		Passed: storyErr == nil && story.FileExists && story.Status == domain.StatusDone,
		Detail: fmt.Sprintf("story status is %q", story.Status),
	})

	verdict.Checks = append(verdict.Checks, domain.Check{
		Name:   domain.CheckTasksDone,
		Passed: storyErr == nil && story.FileExists && story.AllTasksDone(),
		Detail: fmt.Sprintf("%d/%d tasks done", story.DoneTaskCount(), len(story.Tasks)),
	})

	hasCommit, commitErr := q.checkCommit(ctx, q.workDir, id)
	commitCheck := domain.Check{
		Name:   domain.CheckGitCommit,
		Passed: commitErr == nil && hasCommit,
		Detail: commitDetail(hasCommit, id),
	}
	if commitErr != nil {
		commitCheck.Detail = fmt.Sprintf("commit lookup failed: %v", commitErr)
	}
	verdict.Checks = append(verdict.Checks, commitCheck)

	sprintCheck := domain.Check{Name: domain.CheckSprintDone}
	rec, sprintErr := q.store.ReadSprintRecord()
	if sprintErr != nil {
		sprintCheck.Detail = fmt.Sprintf("sprint record unreadable: %v", sprintErr)
	} else {
		sprintStatus, found := rec.StatusOf(id)
		sprintCheck.Passed = found && sprintStatus == domain.StatusDone
		sprintCheck.Detail = sprintDetail(found, sprintStatus)
	}
	verdict.Checks = append(verdict.Checks, sprintCheck)

	verdict.Passed = len(verdict.FailedChecks()) == 0
	verdict.Remediation = DeriveRemediation(verdict.Passed, verdict.CodeImplemented)

	q.logger.Debug("quick verification complete",
		zap.String("story", id.String()),
		zap.Bool("passed", verdict.Passed))
	return verdict, nil
}

func fileExistsDetail(story *domain.Story) string {
	if story.FileExists {
		return fmt.Sprintf("story file at %s", story.FilePath)
	}
	return "story file not found"
}

func commitDetail(hasCommit bool, id domain.StoryID) string {
	if hasCommit {
		return fmt.Sprintf("found story commit for %s", id)
	}
	return fmt.Sprintf("no feat/fix story commit mentions %s", id)
}

func sprintDetail(found bool, status domain.StoryStatus) string {
	if !found {
		return "story missing from sprint record"
	}
	return fmt.Sprintf("sprint record status is %q", status)
}
