// Package pipeline composes build stages into a task graph and runs it.
//
// A Task is a named leaf function or a Series/Parallel node over child
// tasks. Series stops at the first failure. Parallel runs every child to
// completion and reports all failed branches in one StageError.
package pipeline

import (
	"context"
	"strings"
)

// Kind identifies how a task runs.
type Kind int

const (
	KindFunc Kind = iota
	KindSeries
	KindParallel
)

func (k Kind) String() string {
	switch k {
	case KindSeries:
		return "series"
	case KindParallel:
		return "parallel"
	default:
		return "func"
	}
}

// StageFunc is the body of a leaf task.
type StageFunc func(ctx context.Context) error

// Task is a node in the task graph.
type Task struct {
	Name     string
	Kind     Kind
	Fn       StageFunc
	Children []Task
}

// Func returns a leaf task.
func Func(name string, fn StageFunc) Task {
	return Task{Name: name, Kind: KindFunc, Fn: fn}
}

// Series returns a task that runs tasks in order.
func Series(name string, tasks ...Task) Task {
	return Task{Name: name, Kind: KindSeries, Children: tasks}
}

// Parallel returns a task that runs tasks concurrently.
func Parallel(name string, tasks ...Task) Task {
	return Task{Name: name, Kind: KindParallel, Children: tasks}
}

// Leaves returns the names of the leaf tasks in declaration order.
func (t Task) Leaves() []string {
	if t.Kind == KindFunc {
		return []string{t.Name}
	}
	var names []string
	for _, c := range t.Children {
		names = append(names, c.Leaves()...)
	}
	return names
}

// String renders the graph as series(a, parallel(b, c)).
func (t Task) String() string {
	if t.Kind == KindFunc {
		return t.Name
	}
	parts := make([]string, 0, len(t.Children))
	for _, c := range t.Children {
		parts = append(parts, c.String())
	}
	return t.Name + ":" + t.Kind.String() + "(" + strings.Join(parts, ", ") + ")"
}
