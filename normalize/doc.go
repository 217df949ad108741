// Package normalize turns raw JSON objects into typed records.
//
// Normalization is a pure function of its input: both pipeline stages call it
// with identical semantics, so the rules for what a valid record looks like
// live only here. Rejections (unsupported kind, bad timestamp, bad field) are
// per-record; callers drop the record and keep going.
package normalize
