package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bmadloop/internal/assistant"
	"bmadloop/internal/domain"
	"bmadloop/internal/errs"
	"bmadloop/internal/tracking"
)

// DeepVerifier asks the assistant to inspect the repository and report
// whether a story's code actually exists. Parsing is fail-closed: any
// transport error, timeout, or malformed reply yields a failed verdict
// rather than a crash or a pass.
type DeepVerifier struct {
	store   tracking.Store
	invoker assistant.Invoker
	workDir string
	timeout time.Duration
	logger  *zap.Logger
}

// NewDeepVerifier creates a deep verifier backed by the given invoker.
func NewDeepVerifier(store tracking.Store, invoker assistant.Invoker, workDir string, timeout time.Duration, logger *zap.Logger) *DeepVerifier {
	return &DeepVerifier{
		store:   store,
		invoker: invoker,
		workDir: workDir,
		timeout: timeout,
		logger:  logger,
	}
}

// report is the JSON document the assistant must reply with. Boolean
// fields missing from the reply read as false: absence of evidence is
// treated as failure.
type report struct {
	OverallImplemented  *bool        `json:"overall_implemented"`
	Summary             string       `json:"summary"`
	Tasks               []taskReport `json:"tasks"`
	FilesFound          []string     `json:"files_found"`
	FilesMissing        []string     `json:"files_missing"`
	TestsFound          bool         `json:"tests_found"`
	TestsPass           bool         `json:"tests_pass"`
	MatchesRequirements bool         `json:"matches_requirements"`
}

type taskReport struct {
	Task        string `json:"task"`
	Implemented bool   `json:"implemented"`
}

// Verify runs a deep verification pass for a story.
func (d *DeepVerifier) Verify(ctx context.Context, id domain.StoryID) (*domain.Verdict, error) {
	story, err := d.store.ReadStory(id)
	if err != nil {
		return nil, err
	}

	res, err := d.invoker.Invoke(ctx, assistant.Request{
		Kind:    assistant.KindVerify,
		Prompt:  buildVerifyPrompt(story),
		WorkDir: d.workDir,
		Timeout: d.timeout,
	})
	if err != nil {
		if errs.HasCode(err, errs.EToolUnavailable) {
			return nil, err
		}
		d.logger.Warn("deep verification invocation failed",
			zap.String("story", id.String()),
			zap.Error(err))
		return failClosed(id, fmt.Sprintf("assistant invocation failed: %v", err)), nil
	}

	rep, err := parseReport(res.Text)
	if err != nil {
		d.logger.Warn("deep verification reply unparsable",
			zap.String("story", id.String()),
			zap.Error(err))
		return failClosed(id, err.Error()), nil
	}

	verdict := verdictFromReport(id, rep)
	d.logger.Debug("deep verification complete",
		zap.String("story", id.String()),
		zap.Bool("passed", verdict.Passed),
		zap.Boolp("code_implemented", verdict.CodeImplemented))
	return verdict, nil
}

// buildVerifyPrompt composes the inspection prompt from the story's
// requirements and task list.
func buildVerifyPrompt(story *domain.Story) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Verify whether story %s is actually implemented in this repository.\n\n", story.Key)
	if story.Requirements != "" {
		b.WriteString("Requirements:\n")
		b.WriteString(story.Requirements)
		b.WriteString("\n\n")
	}
	if len(story.Tasks) > 0 {
		b.WriteString("Tasks:\n")
		for _, t := range story.Tasks {
			fmt.Fprintf(&b, "- %s\n", t.Text)
		}
		b.WriteString("\n")
	}
	b.WriteString("Inspect the code, do not trust the story file. ")
	b.WriteString("Reply with ONLY a JSON object, no prose, with these fields: ")
	b.WriteString(`"overall_implemented" (bool), "summary" (string), ` +
		`"tasks" (array of {"task", "implemented"}), ` +
		`"files_found" (array of paths), "files_missing" (array of paths), ` +
		`"tests_found" (bool), "tests_pass" (bool), "matches_requirements" (bool).`)
	return b.String()
}

// parseReport extracts the JSON object from assistant output. Assistants
// sometimes wrap the object in prose or a code fence, so the parse scans
// from the first brace to the last.
func parseReport(text string) (*report, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, errs.New(errs.EMalformedResponse, "no JSON object in assistant reply")
	}

	var rep report
	if err := json.Unmarshal([]byte(text[start:end+1]), &rep); err != nil {
		return nil, errs.Wrap(errs.EMalformedResponse, "decoding assistant reply", err)
	}
	if rep.OverallImplemented == nil {
		return nil, errs.New(errs.EMalformedResponse, "assistant reply missing overall_implemented")
	}
	return &rep, nil
}

// verdictFromReport maps a parsed report onto the deep checks.
func verdictFromReport(id domain.StoryID, rep *report) *domain.Verdict {
	implemented := *rep.OverallImplemented
	codeExists := implemented || len(rep.FilesFound) > 0

	var unimplemented []string
	for _, t := range rep.Tasks {
		if !t.Implemented {
			unimplemented = append(unimplemented, t.Task)
		}
	}

	checks := []domain.Check{
		{
			Name:   domain.CheckImplFiles,
			Passed: implemented && len(rep.FilesMissing) == 0 && len(unimplemented) == 0,
			Detail: implFilesDetail(rep, unimplemented),
		},
		{
			Name:   domain.CheckTestFiles,
			Passed: rep.TestsFound,
			Detail: boolDetail(rep.TestsFound, "test files present", "no test files found"),
		},
		{
			Name:   domain.CheckRequirements,
			Passed: rep.MatchesRequirements,
			Detail: boolDetail(rep.MatchesRequirements, "implementation matches requirements", "implementation diverges from requirements"),
		},
		{
			Name:   domain.CheckTestsPass,
			Passed: rep.TestsPass,
			Detail: boolDetail(rep.TestsPass, "tests pass", "tests fail or were not run"),
		},
	}

	verdict := &domain.Verdict{
		StoryID:         id,
		Mode:            domain.ModeDeep,
		Checks:          checks,
		CodeImplemented: &codeExists,
		Summary:         rep.Summary,
	}
	verdict.Passed = len(verdict.FailedChecks()) == 0
	verdict.Remediation = DeriveRemediation(verdict.Passed, verdict.CodeImplemented)
	return verdict
}

// failClosed builds the failed verdict used when deep verification could
// not produce a trustworthy answer.
func failClosed(id domain.StoryID, detail string) *domain.Verdict {
	v := &domain.Verdict{
		StoryID: id,
		Mode:    domain.ModeDeep,
		Passed:  false,
		Checks: []domain.Check{
			{Name: domain.CheckResponse, Passed: false, Detail: detail},
		},
	}
	v.Remediation = DeriveRemediation(false, nil)
	return v
}

func implFilesDetail(rep *report, unimplemented []string) string {
	if len(rep.FilesMissing) > 0 {
		return fmt.Sprintf("missing files: %s", strings.Join(rep.FilesMissing, ", "))
	}
	if len(unimplemented) > 0 {
		return fmt.Sprintf("unimplemented tasks: %s", strings.Join(unimplemented, "; "))
	}
	if len(rep.FilesFound) > 0 {
		return fmt.Sprintf("found %d implementation files", len(rep.FilesFound))
	}
	return "no implementation files reported"
}

func boolDetail(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
