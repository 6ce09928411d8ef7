// Package app wires storage, services, the HTTP API and the scheduler from
// configuration.
package app
