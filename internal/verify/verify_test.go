package verify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bmadloop/internal/assistant"
	"bmadloop/internal/domain"
	"bmadloop/internal/errs"
	"bmadloop/internal/tracking"
)

type fakeStore struct {
	stories map[string]*domain.Story
	rec     *tracking.SprintRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		stories: make(map[string]*domain.Story),
		rec:     tracking.NewSprintRecord(),
	}
}

func (f *fakeStore) ReadStory(id domain.StoryID) (*domain.Story, error) {
	if s, ok := f.stories[id.String()]; ok {
		return s, nil
	}
	return &domain.Story{ID: id, Key: id.String(), Status: domain.StatusBacklog}, nil
}

func (f *fakeStore) WriteStory(story *domain.Story) error {
	story.FileExists = true
	f.stories[story.ID.String()] = story
	return nil
}

func (f *fakeStore) ReadSprintRecord() (*tracking.SprintRecord, error) {
	return f.rec, nil
}

func (f *fakeStore) WriteSprintRecord(rec *tracking.SprintRecord) error {
	f.rec = rec
	return nil
}

type fakeInvoker struct {
	reply string
	err   error
	calls int
}

func (f *fakeInvoker) Invoke(ctx context.Context, req assistant.Request) (*assistant.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &assistant.Result{Text: f.reply}, nil
}

var testID = domain.StoryID{Epic: 5, Seq: 2}

func doneStory(store *fakeStore) {
	store.stories[testID.String()] = &domain.Story{
		ID:         testID,
		Key:        "5-2-user-auth",
		Status:     domain.StatusDone,
		Tasks:      []domain.Task{{Text: "Add login", Done: true}, {Text: "Add tests", Done: true}},
		FileExists: true,
		FilePath:   "/stories/5-2-user-auth.md",
	}
	store.rec.Set("5-2-user-auth", domain.StatusDone)
}

func newQuick(store *fakeStore, hasCommit bool) *QuickVerifier {
	q := NewQuickVerifier(store, "/repo", zap.NewNop())
	q.checkCommit = func(ctx context.Context, workDir string, id domain.StoryID) (bool, error) {
		return hasCommit, nil
	}
	return q
}

func TestQuickVerifier(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		store := newFakeStore()
		doneStory(store)

		v, err := newQuick(store, true).Verify(context.Background(), testID)
		require.NoError(t, err)

		assert.True(t, v.Passed)
		assert.Equal(t, domain.ModeQuick, v.Mode)
		assert.Equal(t, domain.RemediationNone, v.Remediation)
		assert.Len(t, v.Checks, len(domain.QuickCheckNames()))
	})

	t.Run("missing story file fails but still runs every check", func(t *testing.T) {
		store := newFakeStore()
		store.rec.Set("5-2", domain.StatusBacklog)

		v, err := newQuick(store, false).Verify(context.Background(), testID)
		require.NoError(t, err)

		assert.False(t, v.Passed)
		assert.Len(t, v.Checks, len(domain.QuickCheckNames()))
		assert.Len(t, v.FailedChecks(), 5)
	})

	t.Run("partial tasks fail with detail", func(t *testing.T) {
		store := newFakeStore()
		doneStory(store)
		store.stories[testID.String()].Tasks[1].Done = false

		v, err := newQuick(store, true).Verify(context.Background(), testID)
		require.NoError(t, err)

		assert.False(t, v.Passed)
		c, ok := v.Check(domain.CheckTasksDone)
		require.True(t, ok)
		assert.False(t, c.Passed)
		assert.Equal(t, "1/2 tasks done", c.Detail)
	})

	t.Run("missing sprint record still yields a verdict", func(t *testing.T) {
		dir := t.TempDir()
		store := tracking.NewFileStore(filepath.Join(dir, "sprint-status.yaml"), dir)
		q := NewQuickVerifier(store, dir, zap.NewNop())
		q.checkCommit = func(ctx context.Context, workDir string, id domain.StoryID) (bool, error) {
			return false, nil
		}

		v, err := q.Verify(context.Background(), testID)
		require.NoError(t, err)

		assert.False(t, v.Passed)
		assert.Len(t, v.Checks, len(domain.QuickCheckNames()))
		c, ok := v.Check(domain.CheckSprintDone)
		require.True(t, ok)
		assert.False(t, c.Passed)
		assert.Contains(t, c.Detail, "sprint record unreadable")
		assert.Equal(t, domain.RemediationReimplement, v.Remediation)
	})

	t.Run("commit lookup failure becomes a failed check", func(t *testing.T) {
		store := newFakeStore()
		doneStory(store)
		q := NewQuickVerifier(store, "/repo", zap.NewNop())
		q.checkCommit = func(ctx context.Context, workDir string, id domain.StoryID) (bool, error) {
			return false, errs.New(errs.EInternal, "git exited with status 128")
		}

		v, err := q.Verify(context.Background(), testID)
		require.NoError(t, err)

		assert.False(t, v.Passed)
		c, ok := v.Check(domain.CheckGitCommit)
		require.True(t, ok)
		assert.False(t, c.Passed)
		assert.Contains(t, c.Detail, "commit lookup failed")
	})

	t.Run("stale sprint record fails sprint check only", func(t *testing.T) {
		store := newFakeStore()
		doneStory(store)
		store.rec.Set("5-2-user-auth", domain.StatusInProgress)

		v, err := newQuick(store, true).Verify(context.Background(), testID)
		require.NoError(t, err)

		require.Len(t, v.FailedChecks(), 1)
		assert.Equal(t, domain.CheckSprintDone, v.FailedChecks()[0].Name)
	})
}

const passingReply = `{
  "overall_implemented": true,
  "summary": "Fully implemented.",
  "tasks": [{"task": "Add login", "implemented": true}],
  "files_found": ["internal/auth/auth.go"],
  "files_missing": [],
  "tests_found": true,
  "tests_pass": true,
  "matches_requirements": true
}`

func newDeep(store *fakeStore, inv assistant.Invoker) *DeepVerifier {
	return NewDeepVerifier(store, inv, "/repo", 120*time.Second, zap.NewNop())
}

func TestDeepVerifier(t *testing.T) {
	t.Run("clean report passes", func(t *testing.T) {
		store := newFakeStore()
		doneStory(store)

		v, err := newDeep(store, &fakeInvoker{reply: passingReply}).Verify(context.Background(), testID)
		require.NoError(t, err)

		assert.True(t, v.Passed)
		assert.Equal(t, domain.ModeDeep, v.Mode)
		require.NotNil(t, v.CodeImplemented)
		assert.True(t, *v.CodeImplemented)
		assert.Equal(t, domain.RemediationNone, v.Remediation)
		assert.Equal(t, "Fully implemented.", v.Summary)
	})

	t.Run("report wrapped in prose still parses", func(t *testing.T) {
		store := newFakeStore()
		reply := "Here is my assessment:\n```json\n" + passingReply + "\n```\nLet me know."

		v, err := newDeep(store, &fakeInvoker{reply: reply}).Verify(context.Background(), testID)
		require.NoError(t, err)
		assert.True(t, v.Passed)
	})

	t.Run("code absent yields re-implement", func(t *testing.T) {
		store := newFakeStore()
		reply := `{"overall_implemented": false, "summary": "Nothing found.",
			"tasks": [{"task": "Add login", "implemented": false}],
			"files_found": [], "files_missing": ["internal/auth/auth.go"],
			"tests_found": false, "tests_pass": false, "matches_requirements": false}`

		v, err := newDeep(store, &fakeInvoker{reply: reply}).Verify(context.Background(), testID)
		require.NoError(t, err)

		assert.False(t, v.Passed)
		require.NotNil(t, v.CodeImplemented)
		assert.False(t, *v.CodeImplemented)
		assert.Equal(t, domain.RemediationReimplement, v.Remediation)
	})

	t.Run("unparsable reply fails closed", func(t *testing.T) {
		store := newFakeStore()

		v, err := newDeep(store, &fakeInvoker{reply: "I could not determine the status."}).Verify(context.Background(), testID)
		require.NoError(t, err)

		assert.False(t, v.Passed)
		assert.Nil(t, v.CodeImplemented)
		assert.Equal(t, domain.RemediationReimplement, v.Remediation)
		c, ok := v.Check(domain.CheckResponse)
		require.True(t, ok)
		assert.False(t, c.Passed)
	})

	t.Run("missing overall_implemented fails closed", func(t *testing.T) {
		store := newFakeStore()

		v, err := newDeep(store, &fakeInvoker{reply: `{"summary": "looks fine"}`}).Verify(context.Background(), testID)
		require.NoError(t, err)
		assert.False(t, v.Passed)
		assert.Nil(t, v.CodeImplemented)
	})

	t.Run("timeout fails closed", func(t *testing.T) {
		store := newFakeStore()
		inv := &fakeInvoker{err: errs.New(errs.ETimeout, "assistant timed out after 2m0s")}

		v, err := newDeep(store, inv).Verify(context.Background(), testID)
		require.NoError(t, err)
		assert.False(t, v.Passed)
		assert.Equal(t, domain.RemediationReimplement, v.Remediation)
	})

	t.Run("unavailable assistant is a hard error", func(t *testing.T) {
		store := newFakeStore()
		inv := &fakeInvoker{err: errs.New(errs.EToolUnavailable, "claude not found")}

		_, err := newDeep(store, inv).Verify(context.Background(), testID)
		require.Error(t, err)
		assert.True(t, errs.HasCode(err, errs.EToolUnavailable))
	})
}

func TestDeriveRemediation(t *testing.T) {
	yes, no := true, false
	cases := []struct {
		name   string
		passed bool
		code   *bool
		want   domain.Remediation
	}{
		{"passed", true, nil, domain.RemediationNone},
		{"passed with code known", true, &yes, domain.RemediationNone},
		{"failed code exists", false, &yes, domain.RemediationFixTracking},
		{"failed code absent", false, &no, domain.RemediationReimplement},
		{"failed code unknown", false, nil, domain.RemediationReimplement},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveRemediation(tc.passed, tc.code))
		})
	}
}

func TestEngine(t *testing.T) {
	t.Run("quick pass skips deep", func(t *testing.T) {
		store := newFakeStore()
		doneStory(store)
		inv := &fakeInvoker{reply: passingReply}
		eng := NewEngine(newQuick(store, true), newDeep(store, inv), zap.NewNop())

		v, err := eng.Verify(context.Background(), testID)
		require.NoError(t, err)

		assert.True(t, v.Passed)
		assert.Equal(t, domain.ModeQuick, v.Mode)
		assert.Equal(t, 0, inv.calls)
	})

	t.Run("quick fail with clean code escalates to fix-tracking", func(t *testing.T) {
		store := newFakeStore()
		doneStory(store)
		// Tracking lags behind: sprint record still says in-progress.
		store.rec.Set("5-2-user-auth", domain.StatusInProgress)
		inv := &fakeInvoker{reply: passingReply}
		eng := NewEngine(newQuick(store, true), newDeep(store, inv), zap.NewNop())

		v, err := eng.Verify(context.Background(), testID)
		require.NoError(t, err)

		assert.False(t, v.Passed)
		assert.Equal(t, domain.ModeDeep, v.Mode)
		assert.Equal(t, domain.RemediationFixTracking, v.Remediation)
		assert.Equal(t, 1, inv.calls)
	})

	t.Run("quick fail with absent code escalates to re-implement", func(t *testing.T) {
		store := newFakeStore()
		store.rec.Set("5-2", domain.StatusBacklog)
		reply := `{"overall_implemented": false, "summary": "no code", "tasks": [],
			"files_found": [], "files_missing": [], "tests_found": false,
			"tests_pass": false, "matches_requirements": false}`
		eng := NewEngine(newQuick(store, false), newDeep(store, &fakeInvoker{reply: reply}), zap.NewNop())

		v, err := eng.Verify(context.Background(), testID)
		require.NoError(t, err)

		assert.False(t, v.Passed)
		assert.Equal(t, domain.RemediationReimplement, v.Remediation)
	})

	t.Run("escalated verdict keeps quick failures visible", func(t *testing.T) {
		store := newFakeStore()
		doneStory(store)
		store.rec.Set("5-2-user-auth", domain.StatusInProgress)
		eng := NewEngine(newQuick(store, true), newDeep(store, &fakeInvoker{reply: passingReply}), zap.NewNop())

		v, err := eng.Verify(context.Background(), testID)
		require.NoError(t, err)

		_, hasSprint := v.Check(domain.CheckSprintDone)
		_, hasImpl := v.Check(domain.CheckImplFiles)
		assert.True(t, hasSprint)
		assert.True(t, hasImpl)
	})
}
