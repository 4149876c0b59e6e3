// Package procrun runs one shell command in its own process group with a
// deadline, and on expiry kills the whole group (and any descendant that
// left it) so no child process outlives its job.
package procrun
