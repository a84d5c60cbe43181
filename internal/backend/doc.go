// Package backend defines the lifecycle every test-run backend implements
// (validate, run, collect artifacts, cleanup), the closed set of backend
// kinds, and the shared base that reports status changes to the engine.
package backend
