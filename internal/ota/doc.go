// Package ota watches the fleet-wide version marker and signals when this
// build is out of date.
//
// The marker is the retained message on transponder/global/version,
// either {"version":"v1.4.0-3-gabc123"} or the bare string. When it
// differs from the running version the Watcher closes RestartRequested
// once; the serve command then shuts down and exits with ExitRestart so
// the process supervisor can update and restart it.
package ota
