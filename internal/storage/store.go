package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
)

// recordVersion is written into every record; readers reject newer versions.
const recordVersion = 1

// Key prefixes.
const (
	prefixUser        = "u/"
	prefixDevice      = "d/"
	prefixDomain      = "g/"
	prefixTemperature = "t/"
	prefixImage       = "i/"
)

var (
	recordEnc cbor.EncMode
	recordDec cbor.DecMode
)

func init() {
	var err error
	recordEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: cbor encoder: " + err.Error())
	}
	recordDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("storage: cbor decoder: " + err.Error())
	}
}

type userRecord struct {
	V      int    `cbor:"v"`
	Name   string `cbor:"name"`
	Secret string `cbor:"secret"`
}

type deviceRecord struct {
	V     int    `cbor:"v"`
	Owner string `cbor:"owner"`
	ID    int    `cbor:"id"`
}

type domainRecord struct {
	V       int      `cbor:"v"`
	Name    string   `cbor:"name"`
	Owner   string   `cbor:"owner"`
	Members []string `cbor:"members"`
	Devices []string `cbor:"devices"`
}

type readingRecord struct {
	V     int     `cbor:"v"`
	Value float64 `cbor:"value"`
	At    int64   `cbor:"at"`
}

type imageRecord struct {
	V    int    `cbor:"v"`
	Name string `cbor:"name"`
	Data []byte `cbor:"data"`
	At   int64  `cbor:"at"`
}

// KVStore persists the registry into a KVEngine.
type KVStore struct {
	kv     KVEngine
	logger *slog.Logger
}

// NewKVStore creates a KVStore over kv.
func NewKVStore(kv KVEngine, logger *slog.Logger) *KVStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{kv: kv, logger: logger}
}

// Engine returns the underlying KV engine.
func (s *KVStore) Engine() KVEngine { return s.kv }

// Close closes the underlying engine.
func (s *KVStore) Close() error { return s.kv.Close() }

// Load returns every persisted user, device and domain. Corrupt records
// are logged and skipped.
func (s *KVStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{}

	err := scanRecords(ctx, s, prefixUser, func(key string, rec *userRecord) {
		snap.Users = append(snap.Users, &domain.User{Name: rec.Name, Secret: rec.Secret})
	})
	if err != nil {
		return nil, err
	}

	err = scanRecords(ctx, s, prefixDevice, func(key string, rec *deviceRecord) {
		snap.Devices = append(snap.Devices, domain.NewDevice(rec.Owner, rec.ID))
	})
	if err != nil {
		return nil, err
	}

	err = scanRecords(ctx, s, prefixDomain, func(key string, rec *domainRecord) {
		g := domain.NewDomain(rec.Name, rec.Owner)
		for _, m := range rec.Members {
			g.AddMember(m)
		}
		for _, d := range rec.Devices {
			g.AddDevice(d)
		}
		snap.Domains = append(snap.Domains, g)
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

func scanRecords[T any](ctx context.Context, s *KVStore, prefix string, fn func(string, *T)) error {
	err := s.kv.Scan(ctx, []byte(prefix), func(key, value []byte) bool {
		rec := new(T)
		if err := decodeRecord(value, rec); err != nil {
			s.logger.Warn("skipping corrupt record", "key", string(key), "error", err)
			return true
		}
		fn(string(key), rec)
		return true
	})
	if err != nil {
		return fmt.Errorf("storage: scan %s: %w", prefix, err)
	}
	return nil
}

// OnEntityChanged persists a User, Device or Domain.
func (s *KVStore) OnEntityChanged(ctx context.Context, e domain.Entity) error {
	var (
		key string
		rec any
	)
	switch v := e.(type) {
	case *domain.User:
		key = prefixUser + v.Name
		rec = &userRecord{V: recordVersion, Name: v.Name, Secret: v.Secret}
	case *domain.Device:
		key = prefixDevice + v.Name()
		rec = &deviceRecord{V: recordVersion, Owner: v.Owner, ID: v.ID}
	case *domain.Domain:
		key = prefixDomain + v.Name
		rec = &domainRecord{
			V:       recordVersion,
			Name:    v.Name,
			Owner:   v.Owner,
			Members: v.Members(),
			Devices: v.Devices(),
		}
	default:
		return fmt.Errorf("storage: unsupported entity %T", e)
	}
	return s.put(ctx, key, rec)
}

// PutTemperature replaces the latest reading of device.
func (s *KVStore) PutTemperature(ctx context.Context, device string, r domain.Reading) error {
	return s.put(ctx, prefixTemperature+device, &readingRecord{
		V:     recordVersion,
		Value: r.Value,
		At:    r.At.UnixNano(),
	})
}

// Temperature returns the latest reading of device.
func (s *KVStore) Temperature(ctx context.Context, device string) (domain.Reading, error) {
	var rec readingRecord
	if err := s.get(ctx, prefixTemperature+device, &rec); err != nil {
		return domain.Reading{}, err
	}
	return domain.Reading{Value: rec.Value, At: time.Unix(0, rec.At)}, nil
}

// PutImage replaces the latest image of device.
func (s *KVStore) PutImage(ctx context.Context, device string, img *domain.Image) error {
	return s.put(ctx, prefixImage+device, &imageRecord{
		V:    recordVersion,
		Name: img.Name,
		Data: img.Data,
		At:   img.At.UnixNano(),
	})
}

// Image returns the latest image of device.
func (s *KVStore) Image(ctx context.Context, device string) (*domain.Image, error) {
	var rec imageRecord
	if err := s.get(ctx, prefixImage+device, &rec); err != nil {
		return nil, err
	}
	return &domain.Image{Name: rec.Name, Data: rec.Data, At: time.Unix(0, rec.At)}, nil
}

func (s *KVStore) put(ctx context.Context, key string, rec any) error {
	data, err := recordEnc.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, []byte(key), data); err != nil {
		return fmt.Errorf("storage: set %s: %w", key, err)
	}
	return nil
}

// get maps a missing key to domain.ErrNoData.
func (s *KVStore) get(ctx context.Context, key string, rec any) error {
	data, err := s.kv.Get(ctx, []byte(key))
	if errors.Is(err, ErrKeyNotFound) {
		return domain.ErrNoData
	}
	if err != nil {
		return fmt.Errorf("storage: get %s: %w", key, err)
	}
	if err := decodeRecord(data, rec); err != nil {
		return fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return nil
}

func decodeRecord(data []byte, rec any) error {
	var hdr struct {
		V int `cbor:"v"`
	}
	if err := recordDec.Unmarshal(data, &hdr); err != nil {
		return err
	}
	if hdr.V > recordVersion {
		return fmt.Errorf("record version %d newer than %d", hdr.V, recordVersion)
	}
	return recordDec.Unmarshal(data, rec)
}
