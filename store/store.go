// Package store provides persistence for chat message history,
// keyed by the tenant and chat IDs carried in the request context.
package store

import (
	"context"
	"time"

	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/biomcp", "store")

// MessageStore keeps the message history of a chat.
type MessageStore interface {
	// Messages returns the messages of the chat identified by the context.
	Messages(ctx context.Context) []llms.Message
	// Add appends messages to the chat identified by the context.
	Add(ctx context.Context, msgs ...llms.Message) error
	// Reset removes the chat identified by the context.
	Reset(ctx context.Context) error
}

// ChatInfo describes a stored chat.
type ChatInfo struct {
	TenantID  string         `json:"tenant_id"`
	ChatID    string         `json:"chat_id"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Messages  []llms.Message `json:"messages,omitempty"`
}

// MessageStoreManager manages stored chats in addition to messages.
type MessageStoreManager interface {
	MessageStore

	// UpdateChat creates or updates the chat title and metadata,
	// and returns the updated chat.
	UpdateChat(ctx context.Context, title string, metadata map[string]any) (*ChatInfo, error)
	// ListChats returns the chat IDs of the tenant identified by the context.
	ListChats(ctx context.Context) ([]string, error)
	// GetChatInfo returns the chat with its messages.
	// If id is empty, the chat ID from the context is used.
	GetChatInfo(ctx context.Context, id string) (*ChatInfo, error)
	// GetChatTitle returns the chat title, or empty if the chat is not persisted.
	GetChatTitle(ctx context.Context, id string) (string, error)
	// ListTenants returns all tenant IDs present in the store.
	ListTenants(ctx context.Context) ([]string, error)
	// Cleanup deletes the tenant's chats not updated within olderThan.
	Cleanup(ctx context.Context, tenantID string, olderThan time.Duration) (uint32, error)
}
