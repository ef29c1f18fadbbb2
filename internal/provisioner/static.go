package provisioner

import (
	"context"
	"fmt"
	"sync"
)

// Static is an in-memory provisioner for local development and tests:
// deterministic channel ids, no network, injectable failures.
type Static struct {
	mu       sync.Mutex
	next     int
	channels map[string]staticChannel
	// FailCreate makes every CreatePrivateChannel call fail.
	FailCreate bool
	// KnownIdentities restricts ResolveIdentity when non-nil.
	KnownIdentities map[string]bool
}

type staticChannel struct {
	name     string
	writable []string
}

func NewStatic() *Static {
	return &Static{channels: map[string]staticChannel{}}
}

func (s *Static) ResolveIdentity(ctx context.Context, identity string) error {
	if identity == "" {
		return fmt.Errorf("empty identity")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.KnownIdentities != nil && !s.KnownIdentities[identity] {
		return fmt.Errorf("unknown identity %s", identity)
	}
	return nil
}

func (s *Static) CreatePrivateChannel(ctx context.Context, name string, visibleTo []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreate {
		return "", fmt.Errorf("static provisioner configured to fail")
	}
	s.next++
	id := fmt.Sprintf("static-%d", s.next)
	s.channels[id] = staticChannel{name: name, writable: append([]string(nil), visibleTo...)}
	return id, nil
}

func (s *Static) SetChannelName(ctx context.Context, channelID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return fmt.Errorf("no such channel %s", channelID)
	}
	ch.name = name
	s.channels[channelID] = ch
	return nil
}

func (s *Static) RestrictWrite(ctx context.Context, channelID string, allow []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return fmt.Errorf("no such channel %s", channelID)
	}
	ch.writable = append([]string(nil), allow...)
	s.channels[channelID] = ch
	return nil
}

func (s *Static) DeleteChannel(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channelID]; !ok {
		return fmt.Errorf("no such channel %s", channelID)
	}
	delete(s.channels, channelID)
	return nil
}

// ChannelName reports the current name of a channel, for tests.
func (s *Static) ChannelName(channelID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	return ch.name, ok
}

// Writable reports who may send to a channel, for tests.
func (s *Static) Writable(channelID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.channels[channelID].writable...)
}
