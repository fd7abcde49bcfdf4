package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"intervue/internal/config"
)

// CallMetadata is attached to a call when it is created.
type CallMetadata struct {
	Problem    string `json:"problem"`
	Difficulty string `json:"difficulty"`
	SessionID  string `json:"sessionId"`
}

// Provisioner creates and destroys the call and chat channel behind a session.
// Both resources are keyed by the session's call id. Implementations do not retry.
type Provisioner interface {
	CreateCall(ctx context.Context, callID, creator string, meta CallMetadata) error
	CreateChannel(ctx context.Context, callID, name, creator string, members []string) error
	AddChannelMember(ctx context.Context, callID, identity string) error
	// DeleteCall and DeleteChannel succeed when the resource is already gone.
	DeleteCall(ctx context.Context, callID string, hard bool) error
	DeleteChannel(ctx context.Context, callID string) error
}

// TokenIssuer mints tokens that let a browser client connect as identity.
type TokenIssuer interface {
	UserToken(identity string) (string, time.Time, error)
	APIKey() string
}

// Backend is a provisioner that can also issue client tokens.
type Backend interface {
	Provisioner
	TokenIssuer
}

// Op names a provisioner operation in errors and logs.
type Op string

const (
	OpCreateCall       Op = "create_call"
	OpCreateChannel    Op = "create_channel"
	OpAddChannelMember Op = "add_channel_member"
	OpDeleteCall       Op = "delete_call"
	OpDeleteChannel    Op = "delete_channel"
)

// ProviderError reports a failed provider request.
type ProviderError struct {
	Op         Op
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("realtime %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("realtime %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// New builds the backend selected by cfg.Realtime.Driver.
func New(cfg *config.Config) (Backend, error) {
	switch strings.ToLower(cfg.Realtime.Driver) {
	case "memory":
		return NewMemory(), nil
	case "http", "":
		return NewClient(cfg.Realtime)
	default:
		return nil, fmt.Errorf("unsupported realtime driver: %s", cfg.Realtime.Driver)
	}
}
