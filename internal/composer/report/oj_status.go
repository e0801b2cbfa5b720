package report

import "fmt"

// DefaultOJStatus is the getOJStatus implementation wired into Evaluate for
// custom reporter steps: it compares the run step's report against the
// compare step's report and reduces them to one of the conventional judge
// verdicts. Reporter scripts that need a different verdict policy can still
// compute their own from DATA directly; this callback only backs the
// getOJStatus global.
func DefaultOJStatus(runReport, compareReport any) (string, error) {
	run, ok := runReport.(map[string]any)
	if !ok {
		return "", fmt.Errorf("getOJStatus: run_report must be an object, got %T", runReport)
	}

	compare, ok := compareReport.(map[string]any)
	if !ok {
		return "", fmt.Errorf("getOJStatus: compare_report must be an object, got %T", compareReport)
	}

	if status, _ := run["status"].(string); status != "success" {
		return "runtime_error", nil
	}

	if status, _ := compare["status"].(string); status != "success" {
		return "wrong_answer", nil
	}

	return "accepted", nil
}
