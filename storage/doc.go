// Package storage defines how the crawl engine persists its state.
//
// Two stores exist side by side. The metadata store holds the engine's
// own documents: series, crawls, targets and execution tokens. The
// data store holds the harvested documents, one collection per
// document type, as opaque JSON.
//
// All metadata mutations are expressed as field-level operators
// (increment, push, set on a path) via the Update type, never as
// read-modify-write, so concurrent workers can write without locks.
// Paths use "__" as segment separator and pass through SanitizeKey;
// the MongoDB adapter translates them to dotted form.
//
// Implementations live in the mongostore and memstore subpackages.
package storage
