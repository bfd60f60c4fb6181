// Package preflight verifies the environment before a run starts:
// assistant CLI on PATH, tracking files present, working tree in a git
// repository.
package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"bmadloop/internal/config"
	"bmadloop/internal/gitver"
)

// CheckResult represents the result of a single pre-flight check.
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
	Error   string
}

// Results holds all pre-flight check results.
type Results struct {
	Checks  []CheckResult
	AllPass bool
}

// RunAll executes all pre-flight checks. Demo mode skips the assistant
// CLI check since nothing real is invoked.
func RunAll(cfg *config.Config) *Results {
	results := &Results{AllPass: true}

	if !cfg.Demo {
		results.addCheck(checkAssistantCLI(cfg.AssistantCommand))
	}
	results.addCheck(checkSprintStatus(cfg))
	results.addCheck(checkStoryDir(cfg))
	results.addCheck(checkGitRepo(cfg))
	results.addCheck(checkGitClean(cfg))

	return results
}

// addCheck adds a check result and updates AllPass. A dirty working tree
// is a warning, not a blocker.
func (r *Results) addCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	if !check.Passed && check.Name != "Git Clean" {
		r.AllPass = false
	}
}

// PassedCount returns the number of passed checks.
func (r *Results) PassedCount() int {
	count := 0
	for _, check := range r.Checks {
		if check.Passed {
			count++
		}
	}
	return count
}

// FailedChecks returns only the failed checks.
func (r *Results) FailedChecks() []CheckResult {
	var failed []CheckResult
	for _, check := range r.Checks {
		if !check.Passed {
			failed = append(failed, check)
		}
	}
	return failed
}

// checkAssistantCLI verifies the assistant command is installed.
func checkAssistantCLI(command string) CheckResult {
	result := CheckResult{Name: "Assistant CLI"}

	path, err := exec.LookPath(command)
	if err != nil {
		result.Error = fmt.Sprintf("%q not found in PATH", command)
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Found at %s", path)

	versionCmd := exec.Command(command, "--version")
	if output, err := versionCmd.Output(); err == nil {
		result.Message = strings.TrimSpace(string(output))
	}
	return result
}

// checkSprintStatus verifies the sprint record file exists.
func checkSprintStatus(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Sprint Record"}

	if _, err := os.Stat(cfg.SprintStatusPath); os.IsNotExist(err) {
		result.Error = fmt.Sprintf("File not found: %s", cfg.SprintStatusPath)
		return result
	}
	result.Passed = true
	result.Message = "Found"
	return result
}

// checkStoryDir verifies the story directory exists.
func checkStoryDir(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Story Directory"}

	info, err := os.Stat(cfg.StoryDir)
	if os.IsNotExist(err) {
		result.Error = fmt.Sprintf("Directory not found: %s", cfg.StoryDir)
		return result
	}
	if err == nil && !info.IsDir() {
		result.Error = fmt.Sprintf("Not a directory: %s", cfg.StoryDir)
		return result
	}
	result.Passed = true
	result.Message = "Found"
	return result
}

// checkGitRepo verifies the working directory is a git repository.
func checkGitRepo(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Git Repository"}

	if !gitver.IsGitRepo(cfg.WorkingDir) {
		result.Error = "Not a git repository"
		return result
	}
	result.Passed = true
	result.Message = fmt.Sprintf("Branch: %s", gitver.Branch(cfg.WorkingDir))
	return result
}

// checkGitClean checks for uncommitted changes.
func checkGitClean(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Git Clean"}

	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = cfg.WorkingDir
	output, err := cmd.Output()
	if err != nil {
		result.Passed = true
		result.Message = "Unable to check"
		return result
	}

	if len(strings.TrimSpace(string(output))) > 0 {
		result.Error = "Uncommitted changes detected"
		return result
	}
	result.Passed = true
	result.Message = "Working tree clean"
	return result
}
