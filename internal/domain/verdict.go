package domain

// VerifyMode selects between structural and assistant-mediated verification.
type VerifyMode string

const (
	ModeQuick VerifyMode = "quick"
	ModeDeep  VerifyMode = "deep"
)

// Remediation is the corrective action chosen after verification.
type Remediation string

const (
	RemediationNone        Remediation = "none"
	RemediationFixTracking Remediation = "fix-tracking"
	RemediationReimplement Remediation = "re-implement"
	RemediationAbandon     Remediation = "abandon"
)

// Quick check names, evaluated in this order.
const (
	CheckFileExists = "file-exists"
	CheckStatusDone = "status-done"
	CheckTasksDone  = "tasks-done"
	CheckGitCommit  = "git-commit"
	CheckSprintDone = "sprint-done"
)

// Deep check names, in the order the assistant reports them.
const (
	CheckImplFiles    = "impl-files"
	CheckTestFiles    = "test-files"
	CheckRequirements = "matches-requirements"
	CheckTestsPass    = "tests-pass"

	// CheckResponse records a deep verification transport or parse failure.
	CheckResponse = "response"
)

// Check is the result of a single verification predicate.
type Check struct {
	Name   string
	Passed bool
	Detail string
}

// Verdict is the immutable result of one verification pass.
type Verdict struct {
	StoryID     StoryID
	Mode        VerifyMode
	Passed      bool
	Checks      []Check
	Remediation Remediation

	// CodeImplemented is set by deep verification: true when implementation
	// files exist, false when they are confirmed absent, nil when unknown.
	CodeImplemented *bool

	// Summary is the assistant's one-line assessment in deep mode.
	Summary string
}

// Check returns the named check result, if present.
func (v *Verdict) Check(name string) (Check, bool) {
	for _, c := range v.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// FailedChecks returns the checks that did not pass.
func (v *Verdict) FailedChecks() []Check {
	var failed []Check
	for _, c := range v.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// QuickCheckNames returns the quick predicate names in evaluation order.
func QuickCheckNames() []string {
	return []string{CheckFileExists, CheckStatusDone, CheckTasksDone, CheckGitCommit, CheckSprintDone}
}

// DeepCheckNames returns the deep check names in report order.
func DeepCheckNames() []string {
	return []string{CheckImplFiles, CheckTestFiles, CheckRequirements, CheckTestsPass}
}
