package ops

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a pipeline step failed.
type FailureKind int

const (
	// FailurePrecondition covers missing devices, missing binaries, wrong
	// device types, mounted targets: fatal, reported before any mutation.
	FailurePrecondition FailureKind = iota
	// FailureDeclined is an operator-declined destructive confirmation.
	FailureDeclined
	// FailureExecution is a failure of the mutation itself.
	FailureExecution
)

func (k FailureKind) String() string {
	switch k {
	case FailurePrecondition:
		return "precondition"
	case FailureDeclined:
		return "declined"
	case FailureExecution:
		return "execution"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// StepError is the failure of a named pipeline step.
type StepError struct {
	Step string
	Kind FailureKind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %s failure: %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Step is one fallible unit of a sequential operation. BestEffort steps mirror
// the swept "disable if present" loops: their failure is logged and swallowed
// so the sequence continues. Non-best-effort steps halt the pipeline.
type Step struct {
	Name       string
	BestEffort bool
	Run        func() error
}

// Pipeline runs steps strictly in order.
type Pipeline struct {
	logger Logger
	steps  []Step
}

// NewPipeline creates a pipeline logging step outcomes to logger.
func NewPipeline(logger Logger, steps ...Step) *Pipeline {
	return &Pipeline{logger: logger, steps: steps}
}

// Add appends steps to the pipeline.
func (p *Pipeline) Add(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Run executes the steps in order. The first failure of a non-best-effort
// step halts the run and is returned as a *StepError. Best-effort failures
// are logged and swallowed. A declined gate surfaces as FailureDeclined.
func (p *Pipeline) Run() error {
	for _, s := range p.steps {
		err := s.Run()
		if err == nil {
			p.logger.Debug("step ok", "step", s.Name)
			continue
		}

		if s.BestEffort {
			p.logger.Warn("step failed, continuing", "step", s.Name, "error", err)
			continue
		}

		kind := FailureExecution
		if errors.Is(err, ErrDeclined) {
			kind = FailureDeclined
		}
		var se *StepError
		if errors.As(err, &se) {
			// Preserve the kind chosen closer to the failure.
			kind = se.Kind
		}
		p.logger.Error("step failed", "step", s.Name, "kind", kind.String(), "error", err)
		return &StepError{Step: s.Name, Kind: kind, Err: err}
	}
	return nil
}

// Precondition wraps err as a fatal precondition failure of the named step.
func Precondition(step string, err error) error {
	return &StepError{Step: step, Kind: FailurePrecondition, Err: err}
}
