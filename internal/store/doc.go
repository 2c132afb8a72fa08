// Package store is the configuration store: categories, per-day template
// rows, variables with their option values, and attachment presets.
//
// It owns the SQLite file and its schema. The send ledger lives in
// package ledger but shares this file so the (date, row) uniqueness
// constraint is enforced in one place.
package store
