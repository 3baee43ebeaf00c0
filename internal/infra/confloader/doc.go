// Package confloader loads configuration with koanf.
//
// Sources, lowest priority first: the YAML file, an optional .env file
// and IOTMESH_* environment variables. A Watcher (fsnotify) reports edits
// to the configuration file so settings such as the log level can be
// reloaded at runtime.
package confloader
