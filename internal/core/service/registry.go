package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
)

// ProgramIdentity is the expected client executable, checked by
// VALIDATE_PROGRAM.
type ProgramIdentity struct {
	Name string
	Size int64
}

// Configured reports whether a program identity has been set.
func (p ProgramIdentity) Configured() bool {
	return p.Name != "" && p.Size > 0
}

// Matches reports whether name and size equal the configured identity.
func (p ProgramIdentity) Matches(name string, size int64) bool {
	return p.Configured() && name == p.Name && size == p.Size
}

// RegistryConfig holds configuration for Registry.
type RegistryConfig struct {
	// Program is the client identity accepted by VALIDATE_PROGRAM.
	Program ProgramIdentity

	// MaxImageBytes bounds stored images (0 = unlimited).
	MaxImageBytes int64

	// Sinks receive every accepted temperature and image.
	Sinks []ReadingSink

	// LoginThrottle paces failed password attempts (nil = unthrottled).
	LoginThrottle *LoginThrottle

	Logger *slog.Logger
}

// RegistryStats is a point-in-time count of registry entities.
type RegistryStats struct {
	Users         int `json:"users" yaml:"users"`
	Devices       int `json:"devices" yaml:"devices"`
	ActiveDevices int `json:"active_devices" yaml:"active_devices"`
	Domains       int `json:"domains" yaml:"domains"`
}

// SessionInfo is a read-only view of a session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Remote    string    `json:"remote"`
	State     string    `json:"state"`
	User      string    `json:"user,omitempty"`
	Device    string    `json:"device,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry owns all users, devices and domains.
//
// A single lock guards the entity maps, every Device.Active flag and the
// auth fields of every Session, so check-then-act sequences such as user
// creation and device claims are atomic. Password hashing and payload
// storage run outside the lock.
type Registry struct {
	mu      sync.RWMutex
	users   map[string]*domain.User
	devices map[string]*domain.Device
	domains map[string]*domain.Domain

	store         Store
	sinks         []ReadingSink
	throttle      *LoginThrottle
	program       ProgramIdentity
	maxImageBytes int64
	logger        *slog.Logger
}

// NewRegistry creates a Registry and restores the persisted entities from
// store. References to unknown users or devices are dropped.
func NewRegistry(ctx context.Context, store Store, cfg RegistryConfig) (*Registry, error) {
	if store == nil {
		return nil, errors.New("registry: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		users:         make(map[string]*domain.User),
		devices:       make(map[string]*domain.Device),
		domains:       make(map[string]*domain.Domain),
		store:         store,
		sinks:         cfg.Sinks,
		throttle:      cfg.LoginThrottle,
		program:       cfg.Program,
		maxImageBytes: cfg.MaxImageBytes,
		logger:        logger,
	}

	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: load: %w", err)
	}
	r.restore(snap)

	if !r.program.Configured() {
		r.logger.Warn("no client program configured, VALIDATE_PROGRAM will always fail")
	}
	return r, nil
}

func (r *Registry) restore(snap *domain.Snapshot) {
	if snap == nil {
		return
	}

	for _, u := range snap.Users {
		if u == nil || u.Name == "" || u.Secret == "" {
			continue
		}
		r.users[u.Name] = u
	}

	for _, d := range snap.Devices {
		if d == nil {
			continue
		}
		if _, ok := r.users[d.Owner]; !ok {
			r.logger.Warn("dropping device with unknown owner", "device", d.Name())
			continue
		}
		d.Active = false
		r.devices[d.Name()] = d
	}

	for _, g := range snap.Domains {
		if g == nil {
			continue
		}
		if _, ok := r.users[g.Owner]; !ok {
			r.logger.Warn("dropping domain with unknown owner", "domain", g.Name, "owner", g.Owner)
			continue
		}
		clean := domain.NewDomain(g.Name, g.Owner)
		for _, m := range g.Members() {
			if _, ok := r.users[m]; ok {
				clean.AddMember(m)
			} else {
				r.logger.Warn("dropping unknown domain member", "domain", g.Name, "user", m)
			}
		}
		for _, dev := range g.Devices() {
			if _, ok := r.devices[dev]; ok {
				clean.AddDevice(dev)
			} else {
				r.logger.Warn("dropping unknown domain device", "domain", g.Name, "device", dev)
			}
		}
		r.domains[clean.Name] = clean
	}

	r.logger.Info("registry restored",
		"users", len(r.users),
		"devices", len(r.devices),
		"domains", len(r.domains),
	)
}

// ValidateUser authenticates the session as name, creating the user on
// first contact. It reports whether the user was created.
//
// A session that is already authenticated gets no re-check. Two sessions
// racing to create the same name both see one winner; the loser is then
// verified against the winner's password.
func (r *Registry) ValidateUser(ctx context.Context, s *domain.Session, name, password string) (bool, error) {
	r.mu.RLock()
	authed := s.State >= domain.AuthUser
	closed := s.Closed
	r.mu.RUnlock()
	if closed {
		return false, domain.ErrNotAuthenticated.WithDetails("session closed")
	}
	if authed {
		return false, nil
	}

	if err := domain.ValidateName("user", name); err != nil {
		return false, err
	}
	if password == "" {
		return false, domain.ErrInvalidArgument.WithDetails("password is empty")
	}

	for {
		r.mu.RLock()
		existing := r.users[name]
		r.mu.RUnlock()

		if existing != nil {
			if !VerifyPassword(password, existing.Secret) {
				if r.throttle != nil {
					_ = r.throttle.Wait(ctx, s.Remote)
				}
				return false, domain.ErrWrongPassword
			}
			r.mu.Lock()
			r.bindUser(s, existing)
			r.mu.Unlock()
			return false, nil
		}

		secret, err := HashPassword(password)
		if err != nil {
			return false, domain.ErrInternalServer.WithCause(err)
		}

		r.mu.Lock()
		if _, raced := r.users[name]; raced {
			r.mu.Unlock()
			continue
		}
		u := &domain.User{Name: name, Secret: secret}
		if err := r.persist(ctx, u); err != nil {
			r.mu.Unlock()
			return false, err
		}
		r.users[name] = u
		r.bindUser(s, u)
		r.mu.Unlock()

		r.logger.Info("user created", "user", name, "session_id", s.ID)
		return true, nil
	}
}

// bindUser must be called with r.mu held.
func (r *Registry) bindUser(s *domain.Session, u *domain.User) {
	if s.Closed {
		return
	}
	s.User = u
	s.Advance(domain.AuthUser)
}

// ClaimDevice binds device devID of the session's user to the session,
// creating the device if needed. A device is held by at most one live
// session.
//
// Whether a claim racing another session's close succeeds depends only on
// which of the two takes the lock first.
func (r *Registry) ClaimDevice(ctx context.Context, s *domain.Session, devID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case s.Closed || s.State < domain.AuthUser:
		return domain.ErrNotAuthenticated
	case s.State > domain.AuthUser:
		return nil
	}
	if devID < 0 {
		return domain.ErrInvalidArgument.WithDetails("dev-id must be non-negative")
	}

	name := domain.DeviceName(s.User.Name, devID)
	dev, ok := r.devices[name]
	if ok {
		if dev.Active {
			return domain.ErrDeviceBusy.WithDetails(name)
		}
	} else {
		dev = domain.NewDevice(s.User.Name, devID)
		if err := r.persist(ctx, dev); err != nil {
			return err
		}
		r.devices[name] = dev
		r.logger.Info("device created", "device", name, "session_id", s.ID)
	}

	dev.Active = true
	s.Device = dev
	s.Advance(domain.AuthUserDevice)
	return nil
}

// VerifyProgram checks the client executable identity and completes the
// handshake on success.
func (r *Registry) VerifyProgram(s *domain.Session, name string, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case s.Closed:
		return domain.ErrNotAuthenticated
	case s.State == domain.AuthComplete:
		return nil
	case s.State < domain.AuthUserDevice:
		return domain.ErrNotAuthenticated.WithDetails("device not validated")
	}

	if !r.program.Matches(name, size) {
		return domain.ErrProgramRejected.WithDetails(fmt.Sprintf("%s (%d bytes)", name, size))
	}
	s.Advance(domain.AuthComplete)
	return nil
}

// CloseSession releases the session's device. It is idempotent and reports
// whether a device was released.
func (r *Registry) CloseSession(s *domain.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Closed {
		return false
	}
	s.Closed = true
	if s.HoldsDevice() {
		s.Device.Active = false
		return true
	}
	return false
}

// requireComplete must be called with r.mu held.
func requireComplete(s *domain.Session) error {
	if s.Closed || s.State != domain.AuthComplete {
		return domain.ErrNotAuthenticated
	}
	return nil
}

// CreateDomain creates a domain owned by the session's user.
func (r *Registry) CreateDomain(ctx context.Context, s *domain.Session, name string) error {
	if err := domain.ValidateName("domain", name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := requireComplete(s); err != nil {
		return err
	}
	if _, ok := r.domains[name]; ok {
		return domain.ErrAlreadyExists.WithDetails("domain " + name)
	}

	g := domain.NewDomain(name, s.User.Name)
	if err := r.persist(ctx, g); err != nil {
		return err
	}
	r.domains[name] = g
	r.logger.Info("domain created", "domain", name, "owner", g.Owner)
	return nil
}

// AddUserToDomain adds target to a domain owned by the session's user.
func (r *Registry) AddUserToDomain(ctx context.Context, s *domain.Session, target, domainName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := requireComplete(s); err != nil {
		return err
	}
	g, ok := r.domains[domainName]
	if !ok {
		return domain.ErrDomainNotFound.WithDetails(domainName)
	}
	if _, ok := r.users[target]; !ok {
		return domain.ErrUserNotFound.WithDetails(target)
	}
	if g.Owner != s.User.Name {
		return domain.ErrPermissionDenied.WithDetails("only the owner can add users")
	}
	if g.HasMember(target) {
		return domain.ErrAlreadyExists.WithDetails(target + " in " + domainName)
	}

	next := g.Clone()
	next.AddMember(target)
	if err := r.persist(ctx, next); err != nil {
		return err
	}
	g.AddMember(target)
	return nil
}

// RegisterDeviceToDomain registers the session's device in a domain the
// session's user belongs to.
func (r *Registry) RegisterDeviceToDomain(ctx context.Context, s *domain.Session, domainName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := requireComplete(s); err != nil {
		return err
	}
	g, ok := r.domains[domainName]
	if !ok {
		return domain.ErrDomainNotFound.WithDetails(domainName)
	}
	if !g.HasMember(s.User.Name) {
		return domain.ErrPermissionDenied.WithDetails("not a member of " + domainName)
	}
	dev := s.Device.Name()
	if g.HasDevice(dev) {
		return domain.ErrAlreadyExists.WithDetails(dev + " in " + domainName)
	}

	next := g.Clone()
	next.AddDevice(dev)
	if err := r.persist(ctx, next); err != nil {
		return err
	}
	g.AddDevice(dev)
	return nil
}

// SendTemperature stores the latest temperature of the session's device.
func (r *Registry) SendTemperature(ctx context.Context, s *domain.Session, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return domain.ErrInvalidArgument.WithDetails("temperature is not a finite number")
	}

	dev, err := r.sessionDevice(s)
	if err != nil {
		return err
	}

	reading := domain.Reading{Value: value, At: time.Now()}
	if err := r.store.PutTemperature(ctx, dev.Name(), reading); err != nil {
		return domain.ErrStorage.WithCause(err)
	}
	for _, sink := range r.sinks {
		sink.OnTemperature(dev, reading)
	}
	return nil
}

// SendImage stores the latest image of the session's device. When
// 0 < size < len(data) the data is truncated to size bytes.
func (r *Registry) SendImage(ctx context.Context, s *domain.Session, name string, data []byte, size int64) error {
	name = imageBaseName(name)
	if name == "" {
		return domain.ErrInvalidArgument.WithDetails("image name is empty")
	}
	if len(data) == 0 {
		return domain.ErrInvalidArgument.WithDetails("image is empty")
	}
	if size > 0 && size < int64(len(data)) {
		data = data[:size]
	}
	if r.maxImageBytes > 0 && int64(len(data)) > r.maxImageBytes {
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("image larger than %d bytes", r.maxImageBytes))
	}

	dev, err := r.sessionDevice(s)
	if err != nil {
		return err
	}

	img := &domain.Image{Name: name, Data: append([]byte(nil), data...), At: time.Now()}
	if err := r.store.PutImage(ctx, dev.Name(), img); err != nil {
		return domain.ErrStorage.WithCause(err)
	}
	for _, sink := range r.sinks {
		sink.OnImage(dev, img)
	}
	return nil
}

func (r *Registry) sessionDevice(s *domain.Session) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := requireComplete(s); err != nil {
		return nil, err
	}
	return s.Device, nil
}

// imageBaseName strips any directory components from a client-supplied
// file name.
func imageBaseName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	switch name {
	case ".", "..", "/":
		return ""
	}
	return name
}

// TemperaturesInDomain returns the latest temperature of every device in a
// domain the session's user belongs to, keyed by device name. Devices that
// never reported are omitted.
func (r *Registry) TemperaturesInDomain(ctx context.Context, s *domain.Session, domainName string) (map[string]float64, error) {
	r.mu.RLock()
	if err := requireComplete(s); err != nil {
		r.mu.RUnlock()
		return nil, err
	}
	g, ok := r.domains[domainName]
	if !ok {
		r.mu.RUnlock()
		return nil, domain.ErrDomainNotFound.WithDetails(domainName)
	}
	if !g.HasMember(s.User.Name) {
		r.mu.RUnlock()
		return nil, domain.ErrPermissionDenied.WithDetails("not a member of " + domainName)
	}
	names := g.Devices()
	r.mu.RUnlock()

	temps := make(map[string]float64, len(names))
	for _, name := range names {
		reading, err := r.store.Temperature(ctx, name)
		if errors.Is(err, domain.ErrNoData) {
			continue
		}
		if err != nil {
			return nil, domain.ErrStorage.WithCause(err)
		}
		temps[name] = reading.Value
	}
	if len(temps) == 0 {
		return nil, domain.ErrNoData.WithDetails("no readings in " + domainName)
	}
	return temps, nil
}

// UserImage returns the latest image of device devID owned by target. The
// session's user and the device must share at least one domain.
func (r *Registry) UserImage(ctx context.Context, s *domain.Session, target string, devID int) (*domain.Image, error) {
	name := domain.DeviceName(target, devID)

	r.mu.RLock()
	if err := requireComplete(s); err != nil {
		r.mu.RUnlock()
		return nil, err
	}
	if _, ok := r.devices[name]; !ok {
		r.mu.RUnlock()
		return nil, domain.ErrDeviceNotFound.WithDetails(name)
	}
	shared := false
	for _, g := range r.domains {
		if g.HasDevice(name) && g.HasMember(s.User.Name) {
			shared = true
			break
		}
	}
	r.mu.RUnlock()

	if !shared {
		return nil, domain.ErrPermissionDenied.WithDetails("no shared domain with " + name)
	}

	img, err := r.store.Image(ctx, name)
	if errors.Is(err, domain.ErrNoData) {
		return nil, err
	}
	if err != nil {
		return nil, domain.ErrStorage.WithCause(err)
	}
	return img, nil
}

// Stats returns entity counts.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := RegistryStats{
		Users:   len(r.users),
		Devices: len(r.devices),
		Domains: len(r.domains),
	}
	for _, d := range r.devices {
		if d.Active {
			st.ActiveDevices++
		}
	}
	return st
}

// DescribeSession returns a consistent view of s.
func (r *Registry) DescribeSession(s *domain.Session) SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return SessionInfo{
		ID:        s.ID,
		Remote:    s.Remote,
		State:     s.State.String(),
		User:      s.UserName(),
		Device:    s.DeviceName(),
		CreatedAt: s.CreatedAt,
	}
}

// Domain returns a copy of the named domain.
func (r *Registry) Domain(name string) (*domain.Domain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.domains[name]
	if !ok {
		return nil, false
	}
	return g.Clone(), true
}

// persist must be called with r.mu held.
func (r *Registry) persist(ctx context.Context, e domain.Entity) error {
	if err := r.store.OnEntityChanged(ctx, e); err != nil {
		r.logger.Error("persist entity failed", "key", e.EntityKey(), "error", err)
		return domain.ErrStorage.WithDetails(e.EntityKey()).WithCause(err)
	}
	return nil
}
