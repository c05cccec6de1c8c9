// ABOUTME: Thread-safe registry of named orchestration operations.
// ABOUTME: Operations are invoked by name with JSON arguments and return JSON-encodable results.

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrOperationExists indicates an operation with the same name is already registered.
var ErrOperationExists = errors.New("operation already registered")

// ErrOperationNotFound indicates the named operation is not registered.
var ErrOperationNotFound = errors.New("operation not found")

// HandlerFunc executes one operation. Args is the raw JSON argument object;
// the returned value must be JSON-encodable.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Operation is a registered orchestration operation.
type Operation struct {
	Name        string
	Description string
	Handler     HandlerFunc
}

// Registry maintains the set of invokable operations.
type Registry struct {
	mu     sync.RWMutex
	ops    map[string]*Operation
	logger *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		ops:    make(map[string]*Operation),
		logger: logger.With("component", "orchestrator"),
	}
}

// Register adds an operation. Returns ErrOperationExists on name collision.
func (r *Registry) Register(op *Operation) error {
	if op == nil || op.Name == "" || op.Handler == nil {
		return fmt.Errorf("operation requires a name and a handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[op.Name]; exists {
		return fmt.Errorf("%w: %s", ErrOperationExists, op.Name)
	}
	r.ops[op.Name] = op

	r.logger.Debug("operation registered", "name", op.Name)
	return nil
}

// Get retrieves an operation by name.
func (r *Registry) Get(name string) (*Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	return op, ok
}

// List returns all registered operations sorted by name.
func (r *Registry) List() []*Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ops := make([]*Operation, 0, len(r.ops))
	for _, op := range r.ops {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Name < ops[j].Name })
	return ops
}

// Invoke runs the named operation. Handler errors come back classified as
// *OpError so callers map them to transport codes uniformly.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	op, ok := r.Get(name)
	if !ok {
		return nil, &OpError{Code: CodeNotFound, Message: fmt.Sprintf("unknown operation %q", name)}
	}

	result, err := op.Handler(ctx, args)
	if err != nil {
		opErr := classify(err)
		r.logger.Warn("operation failed",
			"name", name,
			"code", opErr.Code,
			"error", err)
		return nil, opErr
	}
	return result, nil
}
