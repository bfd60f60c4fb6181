package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bmadloop/internal/assistant"
	"bmadloop/internal/config"
	"bmadloop/internal/domain"
	"bmadloop/internal/errs"
	"bmadloop/internal/events"
	"bmadloop/internal/testutil"
	"bmadloop/internal/verify"
)

const passingReply = `{
  "overall_implemented": true,
  "summary": "Implemented.",
  "tasks": [{"task": "Implement", "implemented": true}],
  "files_found": ["internal/feature/feature.go"],
  "files_missing": [],
  "tests_found": true,
  "tests_pass": true,
  "matches_requirements": true
}`

const absentReply = `{
  "overall_implemented": false,
  "summary": "No implementation found.",
  "tasks": [{"task": "Implement", "implemented": false}],
  "files_found": [],
  "files_missing": ["internal/feature/feature.go"],
  "tests_found": false,
  "tests_pass": false,
  "matches_requirements": false
}`

// scriptInvoker fakes the assistant: pipeline prompts succeed, verify
// prompts return the scripted reply.
type scriptInvoker struct {
	mu            sync.Mutex
	verifyReply   string
	pipelineErr   error
	pipelineHook  func(prompt string)
	verifyCalls   int
	pipelineCalls int
}

func (s *scriptInvoker) Invoke(ctx context.Context, req assistant.Request) (*assistant.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Kind == assistant.KindVerify {
		s.verifyCalls++
		return &assistant.Result{Text: s.verifyReply}, nil
	}
	s.pipelineCalls++
	if s.pipelineHook != nil {
		s.pipelineHook(req.Prompt)
	}
	if s.pipelineErr != nil {
		return nil, s.pipelineErr
	}
	return &assistant.Result{Text: "ok"}, nil
}

type harness struct {
	cfg        *config.Config
	store      *testutil.MemStore
	invoker    *scriptInvoker
	signal     *FileSignal
	controller *RetryController
	loop       *Loop
	hasCommit  bool
}

func newHarness(t *testing.T, maxAttempts int) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New()
	cfg.MaxAttempts = maxAttempts
	cfg.DataDir = dir
	cfg.WorkingDir = dir
	cfg.Timeout = 5

	h := &harness{
		cfg:     cfg,
		store:   testutil.NewMemStore(),
		invoker: &scriptInvoker{verifyReply: passingReply},
		signal:  NewFileSignal(filepath.Join(dir, "stop")),
	}

	logger := zap.NewNop()
	quick := verify.NewQuickVerifier(h.store, dir, logger)
	quick.SetCommitChecker(func(ctx context.Context, workDir string, id domain.StoryID) (bool, error) {
		return h.hasCommit, nil
	})
	deep := verify.NewDeepVerifier(h.store, h.invoker, dir, time.Second, logger)
	engine := verify.NewEngine(quick, deep, logger)

	bus := events.NewBus()
	progress := NewProgressWriter(filepath.Join(dir, "progress.json"))
	pipeline := NewPipeline(cfg, h.store, h.invoker, bus, h.signal, logger)
	h.controller = NewRetryController(cfg, pipeline, engine, h.store, h.invoker, bus, h.signal, progress, logger)
	h.loop = NewLoop(h.controller, h.store, bus, h.signal, progress, logger)
	return h
}

var storyID = domain.StoryID{Epic: 5, Seq: 2}

// seedReadyStory stores a story whose tasks the (faked) dev step has
// already checked off, so the pipeline's record updates make quick
// verification pass.
func (h *harness) seedReadyStory() {
	h.store.Stories[storyID.String()] = &domain.Story{
		ID:         storyID,
		Key:        "5-2-user-auth",
		Status:     domain.StatusInProgress,
		Tasks:      []domain.Task{{Text: "Implement", Done: true}, {Text: "Test", Done: true}},
		FileExists: true,
		FilePath:   "/stories/5-2-user-auth.md",
	}
	h.store.Record.Set("5-2-user-auth", domain.StatusInProgress)
}

func TestProcessStorySucceedsFirstAttempt(t *testing.T) {
	h := newHarness(t, 3)
	h.seedReadyStory()
	h.hasCommit = true

	story, err := h.store.ReadStory(storyID)
	require.NoError(t, err)
	run, err := h.controller.ProcessStory(context.Background(), story)
	require.NoError(t, err)

	assert.Equal(t, domain.RunSucceeded, run.State)
	require.Len(t, run.Attempts, 1)

	verdict := run.Attempts[0].Verdict
	require.NotNil(t, verdict)
	assert.True(t, verdict.Passed)
	assert.Equal(t, domain.ModeQuick, verdict.Mode)
	assert.Equal(t, domain.RemediationNone, verdict.Remediation)
	// Quick pass means the deep verifier never ran.
	assert.Equal(t, 0, h.invoker.verifyCalls)

	// Existing story file skips the create-story step.
	assert.Equal(t, domain.StepSkipped, run.Attempts[0].Steps[1].Status)

	// Record updates came through the pipeline's local steps.
	status, ok := h.store.Record.Get("5-2-user-auth")
	require.True(t, ok)
	assert.Equal(t, domain.StatusDone, status)
}

func TestProcessStoryFixesStaleTracking(t *testing.T) {
	h := newHarness(t, 3)
	h.seedReadyStory()
	// No story commit exists, so quick fails even after the pipeline; the
	// deep pass finds the code and remediation repairs the records. The
	// reconcile commit makes the commit check pass on the next attempt.
	h.hasCommit = false
	h.invoker.pipelineHook = func(prompt string) {
		if strings.Contains(prompt, "reconcile tracking records") {
			h.hasCommit = true
		}
	}

	story, err := h.store.ReadStory(storyID)
	require.NoError(t, err)
	run, err := h.controller.ProcessStory(context.Background(), story)
	require.NoError(t, err)

	assert.Equal(t, domain.RunSucceeded, run.State)
	require.Len(t, run.Attempts, 2)

	first := run.Attempts[0].Verdict
	require.NotNil(t, first)
	assert.Equal(t, domain.RemediationFixTracking, first.Remediation)
	assert.Equal(t, 1, h.invoker.verifyCalls)

	// The second attempt is verification-only: every step skipped.
	for _, step := range run.Attempts[1].Steps {
		assert.Equal(t, domain.StepSkipped, step.Status)
	}
	assert.True(t, run.Attempts[1].Verdict.Passed)
}

func TestProcessStoryAbandonsAfterBudget(t *testing.T) {
	for _, max := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("max attempts %d", max), func(t *testing.T) {
			h := newHarness(t, max)
			h.invoker.verifyReply = absentReply
			h.hasCommit = false

			story, err := h.store.ReadStory(storyID)
			require.NoError(t, err)
			run, err := h.controller.ProcessStory(context.Background(), story)
			require.NoError(t, err)

			assert.Equal(t, domain.RunAbandoned, run.State)
			assert.Len(t, run.Attempts, max)
			require.NotNil(t, run.LastVerdict())
			assert.Equal(t, domain.RemediationAbandon, run.LastVerdict().Remediation)
			// Every attempt escalated to deep exactly once.
			assert.Equal(t, max, h.invoker.verifyCalls)
		})
	}
}

func TestProcessStoryStopSignal(t *testing.T) {
	h := newHarness(t, 3)
	h.seedReadyStory()
	require.NoError(t, h.signal.Request())

	story, err := h.store.ReadStory(storyID)
	require.NoError(t, err)
	run, err := h.controller.ProcessStory(context.Background(), story)

	require.ErrorIs(t, err, ErrStopRequested)
	assert.Empty(t, run.Attempts)
	assert.Equal(t, 0, h.invoker.pipelineCalls)
}

func TestProcessStoryFatalToolFailure(t *testing.T) {
	h := newHarness(t, 3)
	h.seedReadyStory()
	h.invoker.pipelineErr = errs.New(errs.EToolUnavailable, "claude not found")

	story, err := h.store.ReadStory(storyID)
	require.NoError(t, err)
	run, err := h.controller.ProcessStory(context.Background(), story)

	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.EToolUnavailable))
	require.Len(t, run.Attempts, 1)
	assert.True(t, run.Attempts[0].Fatal)
}

func TestFileSignal(t *testing.T) {
	sig := NewFileSignal(filepath.Join(t.TempDir(), "nested", "stop"))
	assert.False(t, sig.Requested())

	require.NoError(t, sig.Request())
	assert.True(t, sig.Requested())

	require.NoError(t, sig.Clear())
	assert.False(t, sig.Requested())
	require.NoError(t, sig.Clear())
}

func TestStopWatcherNotifiesOnSentinel(t *testing.T) {
	sig := NewFileSignal(filepath.Join(t.TempDir(), "stop"))
	watcher, err := NewStopWatcher(sig, zap.NewNop())
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, sig.Request())

	select {
	case <-watcher.Notify():
	case <-time.After(2 * time.Second):
		t.Fatal("no notification after sentinel was written")
	}
}

func TestSequencer(t *testing.T) {
	store := testutil.NewMemStore()
	store.Record.Set("epic-5", domain.StatusInProgress)
	store.Record.Set("5-1-setup", domain.StatusDone)
	store.Record.Set("5-2-user-auth", domain.StatusInProgress)
	store.Record.Set("5-3", domain.StatusBacklog)
	store.Record.Set("6-1-billing", domain.StatusBacklog)
	seq := NewSequencer(store)

	t.Run("single", func(t *testing.T) {
		ids, err := seq.Single(storyID)
		require.NoError(t, err)
		assert.Equal(t, []domain.StoryID{storyID}, ids)
	})

	t.Run("continuation is arithmetic", func(t *testing.T) {
		ids, err := seq.Continuation(domain.StoryID{Epic: 5, Seq: 10}, 35)
		require.NoError(t, err)
		require.Len(t, ids, 35)
		assert.Equal(t, domain.StoryID{Epic: 5, Seq: 10}, ids[0])
		assert.Equal(t, domain.StoryID{Epic: 5, Seq: 44}, ids[34])
	})

	t.Run("continuation rejects bad count", func(t *testing.T) {
		_, err := seq.Continuation(storyID, 0)
		require.Error(t, err)
		assert.True(t, errs.HasCode(err, errs.EUsage))
	})

	t.Run("epic selects every story in order, done included", func(t *testing.T) {
		ids, err := seq.Epic(5)
		require.NoError(t, err)
		assert.Equal(t, []domain.StoryID{
			{Epic: 5, Seq: 1}, {Epic: 5, Seq: 2}, {Epic: 5, Seq: 3},
		}, ids)
	})

	t.Run("empty epic reports exhausted backlog", func(t *testing.T) {
		_, err := seq.Epic(9)
		require.Error(t, err)
		assert.True(t, errs.HasCode(err, errs.EExhaustedBacklog))
	})

	t.Run("auto picks backlog in recorded order", func(t *testing.T) {
		ids, err := seq.Auto(2)
		require.NoError(t, err)
		assert.Equal(t, []domain.StoryID{{Epic: 5, Seq: 3}, {Epic: 6, Seq: 1}}, ids)
	})

	t.Run("auto shortfall returns what exists", func(t *testing.T) {
		ids, err := seq.Auto(5)
		require.Error(t, err)
		assert.True(t, errs.HasCode(err, errs.EExhaustedBacklog))
		assert.Len(t, ids, 2)
	})
}

func TestLoop(t *testing.T) {
	t.Run("processes batch and counts outcomes", func(t *testing.T) {
		h := newHarness(t, 3)
		h.seedReadyStory()
		h.hasCommit = true

		summary, err := h.loop.Run(context.Background(), []domain.StoryID{storyID})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Succeeded)
		assert.Equal(t, 0, summary.Abandoned)
		assert.False(t, summary.Stopped)
	})

	t.Run("abandoned stories surface as error without aborting batch", func(t *testing.T) {
		h := newHarness(t, 1)
		h.seedReadyStory()
		h.invoker.verifyReply = absentReply
		h.hasCommit = false

		ids := []domain.StoryID{storyID, {Epic: 5, Seq: 3}}
		summary, err := h.loop.Run(context.Background(), ids)

		require.Error(t, err)
		assert.True(t, errs.HasCode(err, errs.EStoriesAbandoned))
		assert.Len(t, summary.Runs, 2)
		assert.Equal(t, 2, summary.Abandoned)
	})

	t.Run("pre-requested stop processes nothing", func(t *testing.T) {
		h := newHarness(t, 3)
		h.seedReadyStory()
		require.NoError(t, h.signal.Request())

		summary, err := h.loop.Run(context.Background(), []domain.StoryID{storyID})
		require.NoError(t, err)
		assert.True(t, summary.Stopped)
		assert.Empty(t, summary.Runs)
	})
}

func TestProgressWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	w := NewProgressWriter(path)

	run := &domain.StoryRun{
		Story: domain.Story{ID: storyID, Key: "5-2-user-auth"},
		State: domain.RunAttempting,
	}
	attempt := domain.NewAttempt(1)
	attempt.Steps[0].Status = domain.StepSuccess
	w.Update(run, attempt, 3)

	p, err := ReadProgress(path)
	require.NoError(t, err)
	assert.Equal(t, "5-2", p.StoryID)
	assert.Equal(t, "attempting", p.State)
	assert.Equal(t, 1, p.Attempt)
	assert.Equal(t, string(domain.StepCreateStory), p.Step)
	assert.InDelta(t, 100.0/11, p.Percent, 0.01)

	w.Clear()
	_, err = ReadProgress(path)
	assert.Error(t, err)
}
