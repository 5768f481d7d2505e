//go:build refstore_debug

package refstore

// debugGuards enables bounds validation in EntryData. Build with
// -tags refstore_debug to catch stale or malformed refs during development.
const debugGuards = true
