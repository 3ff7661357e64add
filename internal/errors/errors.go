package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// StageFailure is the failure of one named pipeline branch.
type StageFailure struct {
	Stage string
	Err   error
}

// StageError reports every failed branch under a series or parallel node.
type StageError struct {
	Stage    string
	Failures []StageFailure
}

// Error implements the error interface.
func (se *StageError) Error() string {
	if len(se.Failures) == 1 {
		f := se.Failures[0]
		return fmt.Sprintf("stage %s failed: %v", f.Stage, f.Err)
	}
	names := se.FailedStages()
	return fmt.Sprintf("%s: %d stages failed (%s)", se.Stage, len(names), strings.Join(names, ", "))
}

// Unwrap exposes every branch error to errors.Is and errors.As.
func (se *StageError) Unwrap() []error {
	errs := make([]error, 0, len(se.Failures))
	for _, f := range se.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// FailedStages returns the sorted names of the failed branches, flattening
// nested stage errors down to their leaves.
func (se *StageError) FailedStages() []string {
	var names []string
	for _, f := range se.Failures {
		if nested, ok := f.Err.(*StageError); ok {
			names = append(names, nested.FailedStages()...)
			continue
		}
		names = append(names, f.Stage)
	}
	sort.Strings(names)
	return names
}

// StageCollector gathers branch failures from concurrently running stages.
type StageCollector struct {
	stage    string
	failures []StageFailure
	mutex    sync.Mutex
}

// NewStageCollector creates a collector for the node named stage.
func NewStageCollector(stage string) *StageCollector {
	return &StageCollector{stage: stage}
}

// Add records a failed branch. Nil errors are ignored.
func (c *StageCollector) Add(stage string, err error) {
	if err == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.failures = append(c.failures, StageFailure{Stage: stage, Err: err})
}

// HasErrors returns true if any branch failed.
func (c *StageCollector) HasErrors() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.failures) > 0
}

// Err returns a *StageError when any branch failed, nil otherwise.
// Failures are ordered by stage name so reports are stable.
func (c *StageCollector) Err() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.failures) == 0 {
		return nil
	}
	failures := make([]StageFailure, len(c.failures))
	copy(failures, c.failures)
	sort.Slice(failures, func(i, j int) bool { return failures[i].Stage < failures[j].Stage })
	return &StageError{Stage: c.stage, Failures: failures}
}

// ByStage splits err into the failures of individual leaf stages. Stage
// errors are flattened to their leaves, an *Error is keyed by its Stage
// and anything else is reported under fallback. A nil err gives an empty
// map.
func ByStage(err error, fallback string) map[string]error {
	out := make(map[string]error)
	collectStages(out, err, fallback)
	return out
}

func collectStages(out map[string]error, err error, fallback string) {
	if err == nil {
		return
	}
	var se *StageError
	if errors.As(err, &se) {
		for _, f := range se.Failures {
			if _, nested := f.Err.(*StageError); nested {
				collectStages(out, f.Err, fallback)
				continue
			}
			out[f.Stage] = f.Err
		}
		return
	}
	var e *Error
	if errors.As(err, &e) && e.Stage != "" {
		out[e.Stage] = err
		return
	}
	out[fallback] = err
}
