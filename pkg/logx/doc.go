// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so the rest of the codebase depends on a tiny, stable API
// (Logger + Field helpers) instead of zerolog directly, and so the zero
// value of Logger is always safe to use.
package logx
