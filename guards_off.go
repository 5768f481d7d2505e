//go:build !refstore_debug

package refstore

// debugGuards enables bounds validation in EntryData. Off in release builds
// to keep the read path zero-overhead.
const debugGuards = false
