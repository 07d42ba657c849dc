// Package preflight provides readiness checks for the binaries, directories
// and services a transcoder stage depends on.
//
// The stage daemon runs CheckSystemDeps and the shared directory check before
// it starts consuming, and "transcoder doctor" runs everything, including
// reachability probes for the broker, progress store and blob store.
package preflight
