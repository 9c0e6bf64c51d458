package profiles

import (
	"context"
	"errors"
	"sync"
)

// Profile is the display info the call subsystem needs about a user.
// Identity and profile storage belong to another service; this package only
// reads them.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Contact is a push channel for a user (e.g. an FCM registration token).
type Contact struct {
	Platform string `json:"platform"`
	Token    string `json:"token"`
}

var ErrNotFound = errors.New("profiles: not found")

type Directory interface {
	Lookup(ctx context.Context, userID string) (Profile, error)
	Contacts(ctx context.Context, userID string) ([]Contact, error)
}

// MemoryDirectory is used by tests and local runs.
type MemoryDirectory struct {
	mu       sync.Mutex
	profiles map[string]Profile
	contacts map[string][]Contact
}

func NewMemoryDirectory(ps ...Profile) *MemoryDirectory {
	d := &MemoryDirectory{profiles: map[string]Profile{}, contacts: map[string][]Contact{}}
	for _, p := range ps {
		d.profiles[p.ID] = p
	}
	return d
}

func (d *MemoryDirectory) Put(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
}

func (d *MemoryDirectory) AddContact(userID string, c Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[userID] = append(d.contacts[userID], c)
}

func (d *MemoryDirectory) Lookup(ctx context.Context, userID string) (Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (d *MemoryDirectory) Contacts(ctx context.Context, userID string) ([]Contact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.profiles[userID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Contact, len(d.contacts[userID]))
	copy(out, d.contacts[userID])
	return out, nil
}

var _ Directory = (*MemoryDirectory)(nil)
