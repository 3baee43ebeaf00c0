// Package output renders iotmesh-device results.
//
// Three formats are supported: an aligned table (default), indented JSON
// and YAML. Temperature maps are rendered with their device names sorted
// so repeated RT commands produce stable output.
package output
