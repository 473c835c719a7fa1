// Package types defines the core data types flowing through the pipeline.
//
// Key types:
//   - Value: A typed tag value (number, bool, text)
//   - Snapshot: One acquisition of every configured tag
//   - GridRow: The held tag set at one grid instant
//   - SecondBatch: One second of grid rows plus sink completion flags
package types
