// Package command defines the iotmesh-device command line.
//
// The app takes <serverAddress[:port]> <dev-id> <user-id>, connects,
// logs in and hands the session to the interactive command loop in
// package repl.
package command
