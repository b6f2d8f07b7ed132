// Package memory contains the in-process memory collaborator. It implements
// core.MemoryProvider, rendering an agent's persona, remembered facts and the
// most recent notes of a dialogue into the read-only memory context that
// context synthesis prepends to every prompt.
//
// The orchestration core never inspects memory contents. Swap the store for
// a persistent backend by implementing core.MemoryProvider.
package memory
