// Package repl provides the interactive command loop of iotmesh-device.
//
// Authenticate runs the three-step login (user, device, program) and
// REPL turns the device commands into protocol requests:
//
//	CREATE <domain>        create a domain owned by the current user
//	ADD <user> <domain>    add a user to a domain
//	RD <domain>            register this device in a domain
//	ET <float>             send a temperature reading
//	EI <image-path>        send an image
//	RT <domain>            fetch the latest temperatures of a domain
//	RI <user>:<dev-id>     fetch the latest image of a device
//	EXIT                   log out
//
// RT writes domain_<domain>_temps.txt and RI writes the received image
// under its own file name, both in the configured output directory.
package repl
