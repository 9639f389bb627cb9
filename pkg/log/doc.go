// Package log wraps zerolog with the mirror server's conventions: one
// global Logger configured at startup by Init, and a handful of
// With*-constructors for tagging child loggers with the field names used
// throughout the adapters, fetcher, and sync scheduler.
package log
