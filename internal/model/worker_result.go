package model

// Outcome is the three-way result of a pipeline invocation.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeSkip
)

// ExitCode maps the outcome onto the scheduler contract: 0, 1, 2.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess:
		return 0
	case OutcomeSkip:
		return 2
	default:
		return 1
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkip:
		return "skip"
	default:
		return "failure"
	}
}

// WorkerResult is what one invocation reports to its caller.
type WorkerResult struct {
	Outcome  Outcome
	Reason   string
	Metadata Metadata
	Pipeline *PipelineResult
}

// Succeeded wraps a pipeline result.
func Succeeded(p *PipelineResult, md Metadata) WorkerResult {
	return WorkerResult{Outcome: OutcomeSuccess, Pipeline: p, Metadata: ensure(md)}
}

// Failed reports a failure with its reason tag.
func Failed(reason string, md Metadata) WorkerResult {
	return WorkerResult{Outcome: OutcomeFailure, Reason: reason, Metadata: ensure(md)}
}

// Skipped reports a benign no-op.
func Skipped(reason string, md Metadata) WorkerResult {
	return WorkerResult{Outcome: OutcomeSkip, Reason: reason, Metadata: ensure(md)}
}

// ExitCode is a shorthand for r.Outcome.ExitCode().
func (r WorkerResult) ExitCode() int {
	return r.Outcome.ExitCode()
}
