// Package app loads configuration and wires application dependencies for
// the CLI.
//
// Configuration comes from <home>/config.yaml, <home>/.env and PINPOINT_*
// environment variables, in increasing precedence. Open builds the store,
// relay client and services from it and exposes them on App.
package app
