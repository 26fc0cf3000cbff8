// Package runid generates the per-run identifier a merge reports in its
// Result (trace events and the validation report do not carry it).
package runid

import "github.com/google/uuid"

// New returns a fresh run identifier, the same way the teacher mints a
// fresh UUID for every resource it creates.
func New() string {
	return uuid.New().String()
}
