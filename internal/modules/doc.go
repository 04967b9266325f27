// Package modules contains the self-contained application features.
//
// Each subdirectory is a module implementing `module.Module`. The list of
// active modules is built in `internal/app` and booted by the server.
package modules
