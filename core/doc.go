// Package core contains the domain model for redtrace: operations,
// techniques, tools, targets, and the users that work on them.
//
// Types here are storage-agnostic. Encoding concerns (for example the
// nullable-boolean representation of engagement outcomes) live in the
// storage package.
package core
