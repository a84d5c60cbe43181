// Package engine is the run controller. It loads a run record and everything
// it references, resolves the backend configuration, dispatches to one of the
// backends, and is the only writer of the run record while the backend works.
package engine
