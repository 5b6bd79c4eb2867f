// Package memguard provides page-locked allocations for long-term private
// key material.
//
// A Region lives outside the Go heap in an anonymous mmap'd mapping that is
// mlock'd where the memory-lock limit allows (if mlock fails the region is
// used unlocked) and kept PROT_NONE while not in use. Access goes
// through scoped unlock calls that restore the no-access protection on every
// exit path. Destroying a region wipes it before the mapping is released.
//
// Regions are not safe for concurrent use; the protocol state that owns them
// is driven under exclusive ownership.
package memguard
