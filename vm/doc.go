// Package vm implements the Casm execution substrate.
//
// This package contains:
//   - Tagged memory addressing over one linear Global/Stack/Heap space
//   - A free-list heap allocator with best-fit search and coalescing
//   - A bump-allocated stack with frame checkpoints
//   - Green threads and a cooperative, budget-bounded scheduler
//   - Catch-label error propagation for bytecode faults
package vm
