// Package services holds cross-cutting service plumbing: the error taxonomy
// shared by all pipeline stages and context helpers for correlation fields.
package services
