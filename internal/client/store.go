// Package client holds the device-side entitlement cache, the API client and the
// Controller that keeps the cache in step with the entitlement server.
package client

import (
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/growthledger/internal/model"
)

// Entitlement is the cached outcome of the last grant or verification.
type Entitlement struct {
	Token      string               `json:"token"`
	Snapshot   model.StatusSnapshot `json:"snapshot"`
	VerifiedAt time.Time            `json:"verifiedAt"`      // device clock at the last confirmation
	Stale      bool                 `json:"stale,omitempty"` // last check could not reach billing
}

// Store persists the entitlement and the device identifier.
type Store interface {
	// Get returns the cached entitlement; ok is false when nothing is cached.
	Get() (e Entitlement, ok bool, err error)
	// Set replaces the cached entitlement.
	Set(e Entitlement) error
	// Clear removes the cached entitlement. The device identifier survives.
	Clear() error
	// DeviceID returns the device identifier, creating it on first use.
	DeviceID() (string, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	ent      *Entitlement
	deviceID string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Get() (Entitlement, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ent == nil {
		return Entitlement{}, false, nil
	}
	return *m.ent, true, nil
}

func (m *MemoryStore) Set(e Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ent = &e
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ent = nil
	return nil
}

func (m *MemoryStore) DeviceID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deviceID == "" {
		id, err := newDeviceID()
		if err != nil {
			return "", err
		}
		m.deviceID = id
	}
	return m.deviceID, nil
}

func newDeviceID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
