// Package shutdown coordinates graceful termination of iotmesh-server.
//
// Components register named hooks as they start; on SIGINT or SIGTERM the
// hooks run newest first under one deadline, so the admin endpoint stops
// before the device listener, which stops before the sinks and storage.
package shutdown
