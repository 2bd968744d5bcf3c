package aap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aapchat/aapchat/pkg/logger"
)

// Outcome classifies a finished polling loop.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
	// OutcomeOther covers terminal statuses like canceled or error;
	// treated as a warning, not a hard failure.
	OutcomeOther Outcome = "other"
)

// PollResult is the terminal state of one watched job.
type PollResult struct {
	Outcome Outcome
	Status  string
	Output  string
}

// jobAPI is the slice of the client the poller needs. Narrow on purpose so
// tests can substitute a scripted sequence of statuses.
type jobAPI interface {
	JobStatus(ctx context.Context, creds Credentials, jobID int) (string, map[string]any, error)
	JobStdout(ctx context.Context, creds Credentials, jobID int) (string, error)
}

// Poller watches a launched job until it reaches a terminal status or the
// attempt ceiling. The wait blocks only its calling tool execution; other
// conversations keep running.
type Poller struct {
	api         jobAPI
	interval    time.Duration
	maxAttempts int
}

func NewPoller(api jobAPI, interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	return &Poller{api: api, interval: interval, maxAttempts: maxAttempts}
}

func isRunning(status string) bool {
	switch status {
	case "pending", "running", "waiting":
		return true
	}
	return false
}

// Wait polls the job on a fixed interval until terminal or out of attempts.
// Timeout is classified distinctly from failure: the remote job may well
// still complete out-of-band.
func (p *Poller) Wait(ctx context.Context, creds Credentials, jobID int) PollResult {
	logger.InfoCF("poller", "monitoring job", map[string]any{"job_id": jobID})

	status := "running"
	var details map[string]any
	attempts := 0

	for isRunning(status) && attempts < p.maxAttempts {
		var err error
		status, details, err = p.api.JobStatus(ctx, creds, jobID)
		if err != nil {
			logger.WarnCF("poller", "status check failed", map[string]any{
				"job_id": jobID,
				"error":  err.Error(),
			})
		}
		attempts++

		select {
		case <-ctx.Done():
			return PollResult{
				Outcome: OutcomeTimeout,
				Status:  status,
				Output:  fmt.Sprintf("Job %d wait cancelled (Status: %s)", jobID, status),
			}
		case <-time.After(p.interval):
		}
	}

	if attempts >= p.maxAttempts && isRunning(status) {
		timeout := &JobTimeoutError{JobID: jobID, Attempts: p.maxAttempts, Status: status}
		logger.WarnCF("poller", "job timed out", map[string]any{
			"job_id":   jobID,
			"attempts": attempts,
			"status":   status,
		})
		return PollResult{Outcome: OutcomeTimeout, Status: status, Output: timeout.Error()}
	}

	stdout, err := p.api.JobStdout(ctx, creds, jobID)
	if err != nil {
		logger.WarnCF("poller", "stdout fetch failed", map[string]any{
			"job_id": jobID,
			"error":  err.Error(),
		})
		stdout = fmt.Sprintf("Error fetching job %d output\nDetails: %s", jobID, truncate(err.Error(), 100))
	}
	cleaned := ExtractAndCleanResult(stdout)

	switch status {
	case "failed":
		failure := &JobFailedError{JobID: jobID, Diagnostic: composeFailure(jobID, status, details, cleaned)}
		logger.WarnCF("poller", "job failed", map[string]any{"job_id": jobID})
		return PollResult{Outcome: OutcomeFailed, Status: status, Output: failure.Error()}

	case "successful":
		logger.InfoCF("poller", "job completed", map[string]any{"job_id": jobID})
		return PollResult{Outcome: OutcomeSuccess, Status: status, Output: cleaned}

	default:
		warning := fmt.Sprintf("Job %d finished with status: %s\n\nOutput:\n%s", jobID, status, cleaned)
		logger.WarnCF("poller", "job finished with unexpected status", map[string]any{
			"job_id": jobID,
			"status": status,
		})
		return PollResult{Outcome: OutcomeOther, Status: status, Output: warning}
	}
}

// composeFailure builds the human-readable diagnostic block for a failed
// job. Missing output is stated explicitly, never silently omitted.
func composeFailure(jobID int, status string, details map[string]any, output string) string {
	parts := []string{fmt.Sprintf("Job %d failed with status: %s", jobID, status)}

	if explanation, _ := details["job_explanation"].(string); explanation != "" {
		parts = append(parts, "Explanation: "+explanation)
	}
	if traceback, _ := details["result_traceback"].(string); traceback != "" {
		parts = append(parts, "Traceback: "+traceback)
	}

	if output != "" {
		parts = append(parts, "\nJob Output:\n"+output)
	} else {
		parts = append(parts, "No job output available")
	}
	return strings.Join(parts, "\n")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
