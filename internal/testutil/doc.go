// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing exchanges, conversations and snapshots. The
// builders produce deterministic timestamps so snapshots compare equal across
// encode/decode cycles. They are not intended for production usage.
package testutil
