package queue

import "context"

// OutcomeKind tags the result of a Handler's attempt at a job, per
// spec.md §9's design note: outcomes are values a caller must inspect,
// not exceptions a caller might forget to catch.
type OutcomeKind int

const (
	// OutcomeConfirmed means the job's side effects landed and the
	// order should move to CONFIRMED. Terminal, no retry.
	OutcomeConfirmed OutcomeKind = iota
	// OutcomeBusinessFailed means the job cannot succeed on retry (e.g.
	// insufficient stock). Terminal, no retry, order moves to FAILED
	// immediately regardless of remaining attempts.
	OutcomeBusinessFailed
	// OutcomeTransient means the failure may clear on retry (e.g. a
	// version conflict or a gateway timeout). Subject to backoff and
	// the queue's max-attempts ceiling.
	OutcomeTransient
)

// Outcome is the tagged result a Handler returns for one job attempt.
type Outcome struct {
	Kind   OutcomeKind
	Reason string // set when Kind == OutcomeBusinessFailed
	Err    error  // set when Kind == OutcomeTransient
}

func Confirmed() Outcome { return Outcome{Kind: OutcomeConfirmed} }

func BusinessFailed(reason string) Outcome {
	return Outcome{Kind: OutcomeBusinessFailed, Reason: reason}
}

func Transient(err error) Outcome {
	return Outcome{Kind: OutcomeTransient, Err: err}
}

// Handler processes exactly one job attempt and returns its Outcome.
// Implementations must not retry internally beyond the small,
// no-sleep CAS retry already performed by the stock store — retry
// scheduling across attempts is the queue's job, not the handler's.
type Handler interface {
	Handle(ctx context.Context, job *Job) Outcome
}
