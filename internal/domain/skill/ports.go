package skill

import "context"

// CheckpointStore is the persistence port for the Persistence Service's
// backing store. Concrete backends (SQL, object storage, a file) are out of
// scope; only this contract is specified — grounded on
// alex/internal/domain/kernel/store.go's interface-as-port convention.
type CheckpointStore interface {
	// SaveCheckpoint persists one agent step. Implementations must be safe
	// to retry (idempotent by (ThreadID, Step)).
	SaveCheckpoint(ctx context.Context, payload AgentStepPayload) error
}

// IndexStore is the persistence port for the Indexer's content-addressed
// snapshot (vector collection plus keyword index).
type IndexStore interface {
	Persist(ctx context.Context, path string) error
	Load(ctx context.Context, path string) error
}

// CommandInvoker is the port to a ToolCommand's actual implementation. The
// concrete code of individual skills is out of scope; the Executor depends
// only on this boundary, grounded on alex/internal/agent/ports.ToolExecutor's
// Execute(ctx, call) contract.
type CommandInvoker interface {
	Invoke(ctx context.Context, cmd ToolCommand, args map[string]any) (any, error)
}
