// Package roles implements the role template registry: named permission
// bundles with optional single-parent inheritance.
//
// Effective permissions are resolved by walking the inheritance chain and
// unioning each ancestor's own permission set. Inheritance is additive
// only; a child never narrows what its parent grants. Cycles are rejected
// at write time and defended against again at resolution time, and the
// walk is bounded by a configurable depth.
//
// Role templates are read-mostly, so reads go through an in-memory
// expirable LRU with an optional Redis layer behind it. Every registry
// mutation invalidates both.
package roles
