package task

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/aristath/taskcore/internal/result"
)

// WorkerEnvVar marks a process started as a worker. Its value is the name
// of the workload to serve.
const WorkerEnvVar = "TASKCORE_WORKER"

// Workload is a handle to a function registered with RegisterWorkload.
// The function receives the task's environment table and decides itself
// whether to apply it inside the worker process.
type Workload[T any] struct {
	name string
}

// Name returns the registered name.
func (w Workload[T]) Name() string { return w.name }

type workloadFunc func(env map[string]string) workerReply

var (
	workloadsMu sync.RWMutex
	workloads   = make(map[string]workloadFunc)
)

// RegisterWorkload makes fn runnable in a worker process under name.
// Registration must happen identically in the parent and the worker,
// which in practice means at package initialisation:
//
//	var resize = task.RegisterWorkload("resize", func(env map[string]string) result.Result[int] { ... })
//
// T must survive a JSON round trip. Registering a name twice panics.
func RegisterWorkload[T any](name string, fn func(env map[string]string) result.Result[T]) Workload[T] {
	workloadsMu.Lock()
	defer workloadsMu.Unlock()

	if _, exists := workloads[name]; exists {
		panic(fmt.Sprintf("task: workload %q registered twice", name))
	}

	workloads[name] = func(env map[string]string) workerReply {
		res := fn(env)
		if res.IsErr() {
			return workerReply{Failed: true, Error: res.Err().Error()}
		}
		data, err := json.Marshal(res.Value())
		if err != nil {
			return workerReply{Fault: fmt.Sprintf("marshalling result: %v", err)}
		}
		return workerReply{Value: data}
	}

	return Workload[T]{name: name}
}

func lookupWorkload(name string) (workloadFunc, bool) {
	workloadsMu.RLock()
	defer workloadsMu.RUnlock()
	fn, ok := workloads[name]
	return fn, ok
}

// workerRequest is written to the worker's stdin.
type workerRequest struct {
	Workload string            `json:"workload"`
	Env      map[string]string `json:"env"`
}

// workerReply is written to the worker's stdout. Failed carries a failure
// returned by the workload; Fault carries anything that went wrong around
// it (unknown workload, panic, unencodable result).
type workerReply struct {
	Value  json.RawMessage `json:"value,omitempty"`
	Failed bool            `json:"failed,omitempty"`
	Error  string          `json:"error,omitempty"`
	Fault  string          `json:"fault,omitempty"`
}

// WorkloadError is the failure returned by a workload, carried back from
// the worker process. Only the message survives the process boundary.
type WorkloadError struct {
	Workload string
	Message  string
}

func (e *WorkloadError) Error() string {
	return fmt.Sprintf("workload %s: %s", e.Workload, e.Message)
}

// ServeWorker turns the current process into a worker when it was started
// as one, and exits when the workload is done. Otherwise it returns false
// immediately. Call it first thing in main (or TestMain), after every
// workload has been registered.
func ServeWorker() bool {
	if os.Getenv(WorkerEnvVar) == "" {
		return false
	}
	os.Exit(serveWorker(os.Stdin, os.Stdout))
	return true
}

// serveWorker handles one request and returns the process exit code.
func serveWorker(r io.Reader, w io.Writer) int {
	var req workerRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		fmt.Fprintf(os.Stderr, "worker: decoding request: %v\n", err)
		return 2
	}

	var reply workerReply
	if fn, ok := lookupWorkload(req.Workload); ok {
		reply = callWorkload(fn, req.Env)
	} else {
		reply = workerReply{Fault: fmt.Sprintf("unknown workload %q", req.Workload)}
	}

	if err := json.NewEncoder(w).Encode(reply); err != nil {
		fmt.Fprintf(os.Stderr, "worker: encoding reply: %v\n", err)
		return 2
	}
	return 0
}

func callWorkload(fn workloadFunc, env map[string]string) (reply workerReply) {
	defer func() {
		if r := recover(); r != nil {
			reply = workerReply{Fault: fmt.Sprintf("workload panicked: %v", r)}
		}
	}()
	return fn(env)
}

// resultFromReply decodes a worker reply into a Result for the parent.
func resultFromReply[T any](t Describer, workload string, reply workerReply) result.Result[T] {
	switch {
	case reply.Fault != "":
		return result.Err[T](FromTaskAndError(t, fmt.Errorf("worker: %s", reply.Fault)))
	case reply.Failed:
		return result.Err[T](&WorkloadError{Workload: workload, Message: reply.Error})
	}

	var v T
	if len(reply.Value) == 0 {
		return result.Ok(v)
	}
	if err := json.Unmarshal(reply.Value, &v); err != nil {
		return result.Err[T](FromTaskAndError(t, fmt.Errorf("decoding worker result: %w", err)))
	}
	return result.Ok(v)
}
