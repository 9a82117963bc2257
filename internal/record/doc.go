// Package record defines the data model shared by the local store and the
// sync engine: the record envelope with its engine-owned sync metadata, the
// durable sync action, and the closed set of syncable tables with their
// remote mappings.
package record
