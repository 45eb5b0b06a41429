// Package datasets registers the inventory import datasets with the core
// registry. Import it for its side effects.
package datasets

// Each dataset file uses init() to register its definition.
