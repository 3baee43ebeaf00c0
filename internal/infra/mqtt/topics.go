package mqtt

import (
	"strconv"
	"strings"
)

// Topics builds topic names under a common prefix.
type Topics struct {
	Prefix string
}

// Temperature is the topic of the latest temperature of a device.
func (t Topics) Temperature(owner string, devID int) string {
	return t.device(owner, devID, "temperature")
}

// Image is the topic of the latest image metadata of a device.
func (t Topics) Image(owner string, devID int) string {
	return t.device(owner, devID, "image")
}

// ServerStatus is the retained online/offline topic of the server.
func (t Topics) ServerStatus() string {
	return t.join("server", "status")
}

func (t Topics) device(owner string, devID int, kind string) string {
	return t.join("device", escapeLevel(owner), strconv.Itoa(devID), kind)
}

func (t Topics) join(levels ...string) string {
	prefix := strings.Trim(t.Prefix, "/")
	if prefix == "" {
		return strings.Join(levels, "/")
	}
	return prefix + "/" + strings.Join(levels, "/")
}

// escapeLevel keeps a user name inside one topic level. Wildcards and the
// level separator cannot appear in a published topic.
func escapeLevel(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
