package platform

import (
	"context"
	"sync"

	"bakery-system/internal/domain"
)

// Fake is an in-memory Gateway for tests. Zero value: nobody has
// capabilities and nobody is present anywhere.
type Fake struct {
	mu      sync.Mutex
	caps    map[string]domain.Capabilities
	present map[string]bool
	link    string
	sent    []string
}

func NewFake() *Fake {
	return &Fake{
		caps:    make(map[string]domain.Capabilities),
		present: make(map[string]bool),
		link:    "https://chat.example/invite/fake",
	}
}

func (f *Fake) SetCapabilities(identity string, caps domain.Capabilities) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps[identity] = caps
}

func (f *Fake) SetPresent(identity, communityID string, present bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[identity+"|"+communityID] = present
}

func (f *Fake) Capabilities(_ context.Context, identity string) (domain.Capabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps[identity], nil
}

func (f *Fake) PresentAt(_ context.Context, identity string, dest domain.Destination) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[identity+"|"+dest.CommunityID], nil
}

func (f *Fake) AccessLink(_ context.Context, _ domain.Destination) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.link, nil
}

func (f *Fake) Workforce(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id, caps := range f.caps {
		if caps.Staff() {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *Fake) SendDirect(_ context.Context, identity, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, identity+": "+text)
	return nil
}

// DirectMessages returns a copy of the messages sent through SendDirect.
func (f *Fake) DirectMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}
