// Package preflight provides readiness checks for the filesystem paths,
// database and step handlers sfcfetch depends on.
//
// The CLI "sfcfetch doctor" command runs RunAll and prints each result;
// "sfcfetch status" uses CheckDaemon to report whether a daemon answers on
// the configured API address.
package preflight
