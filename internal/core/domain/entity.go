package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// MaxNameLength bounds user and domain names.
const MaxNameLength = 64

// Entity is anything the registry persists when it changes.
type Entity interface {
	// EntityKey returns the unique name of the entity within its kind.
	EntityKey() string
}

// User is an account, created on its first successful authentication.
//
// Secret is the argon2id hash of the password and never changes.
type User struct {
	Name   string
	Secret string
}

// EntityKey implements Entity.
func (u *User) EntityKey() string { return u.Name }

// Device is a physical device owned by a user.
//
// Active is true while a live session holds the device. It is guarded by
// the registry lock and is never persisted.
type Device struct {
	Owner  string
	ID     int
	Active bool
}

// NewDevice creates an inactive device.
func NewDevice(owner string, id int) *Device {
	return &Device{Owner: owner, ID: id}
}

// Name returns the unique "<owner>:<devId>" device name.
func (d *Device) Name() string { return DeviceName(d.Owner, d.ID) }

// EntityKey implements Entity.
func (d *Device) EntityKey() string { return d.Name() }

// DeviceName builds the unique device name for owner and id.
func DeviceName(owner string, id int) string {
	return owner + ":" + strconv.Itoa(id)
}

// ParseDeviceName splits "<owner>:<devId>".
func ParseDeviceName(name string) (string, int, error) {
	owner, idStr, ok := strings.Cut(name, ":")
	if !ok || owner == "" || idStr == "" {
		return "", 0, ErrInvalidArgument.WithDetails(fmt.Sprintf("device name %q: want <user>:<dev-id>", name))
	}
	id, err := strconv.Atoi(idStr)
	if err != nil || id < 0 {
		return "", 0, ErrInvalidArgument.WithDetails(fmt.Sprintf("device name %q: dev-id must be a non-negative integer", name))
	}
	return owner, id, nil
}

// Domain is a named data-sharing group. Members and devices only grow.
type Domain struct {
	Name    string
	Owner   string
	members map[string]struct{}
	devices map[string]struct{}
}

// NewDomain creates a domain whose only member is its owner.
func NewDomain(name, owner string) *Domain {
	d := &Domain{
		Name:    name,
		Owner:   owner,
		members: make(map[string]struct{}),
		devices: make(map[string]struct{}),
	}
	d.members[owner] = struct{}{}
	return d
}

// EntityKey implements Entity.
func (d *Domain) EntityKey() string { return d.Name }

// HasMember reports whether user belongs to the domain namespace.
func (d *Domain) HasMember(user string) bool {
	_, ok := d.members[user]
	return ok
}

// AddMember adds user to the namespace. It returns false if already present.
func (d *Domain) AddMember(user string) bool {
	if d.HasMember(user) {
		return false
	}
	d.members[user] = struct{}{}
	return true
}

// HasDevice reports whether the named device is registered in the domain.
func (d *Domain) HasDevice(device string) bool {
	_, ok := d.devices[device]
	return ok
}

// AddDevice registers a device. It returns false if already present.
func (d *Domain) AddDevice(device string) bool {
	if d.HasDevice(device) {
		return false
	}
	d.devices[device] = struct{}{}
	return true
}

// Clone returns a deep copy of the domain.
func (d *Domain) Clone() *Domain {
	c := &Domain{
		Name:    d.Name,
		Owner:   d.Owner,
		members: make(map[string]struct{}, len(d.members)),
		devices: make(map[string]struct{}, len(d.devices)),
	}
	for k := range d.members {
		c.members[k] = struct{}{}
	}
	for k := range d.devices {
		c.devices[k] = struct{}{}
	}
	return c
}

// Members returns the sorted member names.
func (d *Domain) Members() []string { return sortedKeys(d.members) }

// Devices returns the sorted device names.
func (d *Domain) Devices() []string { return sortedKeys(d.devices) }

// Reading is the latest temperature reported by a device.
type Reading struct {
	Value float64
	At    time.Time
}

// Image is the latest image reported by a device.
type Image struct {
	Name string
	Data []byte
	At   time.Time
}

// Snapshot is the persisted registry state loaded at startup.
type Snapshot struct {
	Users   []*User
	Devices []*Device
	Domains []*Domain
}

// ValidateName checks a user or domain name.
func ValidateName(kind, name string) error {
	if name == "" {
		return ErrInvalidArgument.WithDetails(kind + " name is empty")
	}
	if len(name) > MaxNameLength {
		return ErrInvalidArgument.WithDetails(fmt.Sprintf("%s name longer than %d bytes", kind, MaxNameLength))
	}
	for _, r := range name {
		if r == ':' || r == '/' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrInvalidArgument.WithDetails(fmt.Sprintf("%s name %q contains %q", kind, name, r))
		}
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
