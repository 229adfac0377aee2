// Package metadata provides metadata indexing and filtering for hybrid vector search.
//
// It uses Go 1.24's unique package to intern string keys and values, significantly
// reducing memory usage for repetitive metadata.
package metadata
