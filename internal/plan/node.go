// Package plan turns a task file into external tasks, orders them by their
// dependencies and runs them wave by wave.
package plan

import (
	"time"

	"github.com/aristath/taskcore/internal/result"
	"github.com/aristath/taskcore/internal/task"
)

// Status represents the current state of a node.
type Status int

const (
	StatusPending   Status = iota // Waiting for dependencies
	StatusRunning                 // Currently executing
	StatusSucceeded               // Finished successfully
	StatusFailed                  // Finished with a failure
	StatusSkipped                 // Never run because a dependency failed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// FailureMode determines how a node's failure affects dependents.
type FailureMode int

const (
	FailHard FailureMode = iota // Skip all dependents
	FailSoft                    // Dependents still run
)

// Node is one task of the plan.
type Node struct {
	ID        string
	DependsOn []string
	Resources []string // Resources held for the whole run of the task
	Mode      FailureMode
	Task      task.Task[*task.ExtTaskOutput]

	Status   Status
	Result   result.Result[*task.ExtTaskOutput]
	Duration time.Duration
	Reason   string // Why the node was skipped
}

func cloneNode(n *Node) *Node {
	if n == nil {
		return nil
	}

	cp := *n
	if n.DependsOn != nil {
		cp.DependsOn = append([]string(nil), n.DependsOn...)
	}
	if n.Resources != nil {
		cp.Resources = append([]string(nil), n.Resources...)
	}
	return &cp
}
