package collector

import (
	"errors"
	"sync"
	"time"

	"github.com/yairfalse/saasmeter/internal/restclient"
)

// ErrPassInProgress is returned when RunPass is called while a pass is running.
var ErrPassInProgress = errors.New("collection pass already in progress")

// State is the scheduler state of a Collector.
type State int32

const (
	Idle State = iota
	FetchingTopLevel
	FanningOut
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FetchingTopLevel:
		return "fetching_top_level"
	case FanningOut:
		return "fanning_out"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// Step names used in logs, failures and telemetry.
const (
	StepGroups        = "groups"
	StepUsers         = "users"
	StepClusters      = "clusters"
	StepClusterStatus = "cluster_status"
	StepCharts        = "charts"
	StepDeployments   = "deployments"
	StepAdmission     = "admission"
)

// Pass outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomePartial  = "partial"
	OutcomeFatal    = "fatal"
	OutcomeCanceled = "canceled"
)

// StepFailure records one failed step. Project fields are empty for
// account-wide steps.
type StepFailure struct {
	Project   string
	ProjectID string
	Cluster   string
	Step      string
	Kind      restclient.ErrorKind
	Err       error
}

// PassResult summarizes a completed pass.
type PassResult struct {
	ID       string
	Started  time.Time
	Duration time.Duration
	Entities int
	Emitted  int64
	Failures []StepFailure
}

// Outcome classifies the pass for telemetry.
func (r *PassResult) Outcome() string {
	if len(r.Failures) == 0 {
		return OutcomeSuccess
	}
	return OutcomePartial
}

// FailedSteps returns how many failures were recorded for step.
func (r *PassResult) FailedSteps(step string) int {
	n := 0
	for _, f := range r.Failures {
		if f.Step == step {
			n++
		}
	}
	return n
}

type failureLog struct {
	mu       sync.Mutex
	failures []StepFailure
}

func (l *failureLog) add(f StepFailure) {
	l.mu.Lock()
	l.failures = append(l.failures, f)
	l.mu.Unlock()
}

func (l *failureLog) list() []StepFailure {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StepFailure, len(l.failures))
	copy(out, l.failures)
	return out
}
