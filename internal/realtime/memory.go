package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Call is a call held by the in-memory backend.
type Call struct {
	ID      string
	Creator string
	Meta    CallMetadata
}

// Channel is a chat channel held by the in-memory backend.
type Channel struct {
	ID      string
	Name    string
	Creator string
	Members []string
}

// Memory is a process-local backend for development and tests.
// Failures can be queued per operation with FailNext.
type Memory struct {
	mu       sync.Mutex
	calls    map[string]*Call
	channels map[string]*Channel
	failures map[Op][]error
	counts   map[Op]int
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		calls:    make(map[string]*Call),
		channels: make(map[string]*Channel),
		failures: make(map[Op][]error),
		counts:   make(map[Op]int),
	}
}

// FailNext makes the next call to op return err.
func (m *Memory) FailNext(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// Calls reports how many times op was attempted.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[op]
}

// Call returns the live call for callID.
func (m *Memory) Call(callID string) (Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return Call{}, false
	}
	return *c, true
}

// Channel returns a copy of the live channel for callID.
func (m *Memory) Channel(callID string) (Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[callID]
	if !ok {
		return Channel{}, false
	}
	out := *ch
	out.Members = append([]string(nil), ch.Members...)
	return out, true
}

// Live reports the number of live calls and channels.
func (m *Memory) Live() (calls, channels int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls), len(m.channels)
}

// begin records an attempt and pops a queued failure. Callers hold m.mu.
func (m *Memory) begin(ctx context.Context, op Op) error {
	m.counts[op]++
	if err := ctx.Err(); err != nil {
		return &ProviderError{Op: op, Message: err.Error()}
	}
	if queued := m.failures[op]; len(queued) > 0 {
		m.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (m *Memory) CreateCall(ctx context.Context, callID, creator string, meta CallMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpCreateCall); err != nil {
		return err
	}
	if _, ok := m.calls[callID]; !ok {
		m.calls[callID] = &Call{ID: callID, Creator: creator, Meta: meta}
	}
	return nil
}

func (m *Memory) CreateChannel(ctx context.Context, callID, name, creator string, members []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpCreateChannel); err != nil {
		return err
	}
	if _, ok := m.channels[callID]; !ok {
		m.channels[callID] = &Channel{ID: callID, Name: name, Creator: creator, Members: append([]string(nil), members...)}
	}
	return nil
}

func (m *Memory) AddChannelMember(ctx context.Context, callID, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpAddChannelMember); err != nil {
		return err
	}
	ch, ok := m.channels[callID]
	if !ok {
		return &ProviderError{Op: OpAddChannelMember, StatusCode: 404, Message: fmt.Sprintf("channel %s not found", callID)}
	}
	for _, member := range ch.Members {
		if member == identity {
			return nil
		}
	}
	ch.Members = append(ch.Members, identity)
	sort.Strings(ch.Members)
	return nil
}

func (m *Memory) DeleteCall(ctx context.Context, callID string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpDeleteCall); err != nil {
		return err
	}
	delete(m.calls, callID)
	return nil
}

func (m *Memory) DeleteChannel(ctx context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpDeleteChannel); err != nil {
		return err
	}
	delete(m.channels, callID)
	return nil
}

// UserToken signs a development token with a fixed local key.
func (m *Memory) UserToken(identity string) (string, time.Time, error) {
	expires := time.Now().Add(time.Hour)
	claims := userClaims{
		UserID:           identity,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(expires)},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("memory"))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func (m *Memory) APIKey() string {
	return "memory"
}
