package chatmodel

import (
	"context"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xdb/pkg/flake"
)

// ErrInvalidChatContext is returned when the context does not carry a ChatContext.
var ErrInvalidChatContext = errors.New("invalid chat context")

// ChatContext is the context for the chat agent.
// It carries the tenant ID, chat ID and the ID of the current run.
type ChatContext interface {
	GetTenantID() string
	GetChatID() string
	// RunID identifies a single agent run within the chat.
	RunID() string
	// SetChatID overrides the chat ID, e.g. when a client provides its own.
	SetChatID(chatID string)
	// AppData returns immutable app data
	AppData() any
	// GetMetadata retrieves metadata by key
	GetMetadata(key string) (value any, ok bool)
	// SetMetadata sets metadata by key
	SetMetadata(key string, value any)
}

type chatContext struct {
	tenantID string
	chatID   string
	runID    string
	metadata sync.Map
	appData  any
}

func (c *chatContext) GetTenantID() string {
	return c.tenantID
}

func (c *chatContext) GetChatID() string {
	return c.chatID
}

func (c *chatContext) RunID() string {
	return c.runID
}

func (c *chatContext) SetChatID(chatID string) {
	c.chatID = chatID
}

func (c *chatContext) AppData() any {
	return c.appData
}

func (c *chatContext) GetMetadata(key string) (value any, ok bool) {
	return c.metadata.Load(key)
}

func (c *chatContext) SetMetadata(key string, value any) {
	c.metadata.Store(key, value)
}

func NewChatContext(tenantID, chatID string, appData any) ChatContext {
	return &chatContext{
		tenantID: values.StringsCoalesce(tenantID, NewChatID()),
		chatID:   values.StringsCoalesce(chatID, NewChatID()),
		runID:    NewChatID(),
		appData:  appData,
		metadata: sync.Map{},
	}
}

type contextKey int

const (
	keyContext contextKey = iota
)

// WithChatContext returns a new context with ChatContext value
func WithChatContext(ctx context.Context, chatCtx ChatContext) context.Context {
	return context.WithValue(ctx, keyContext, chatCtx)
}

// GetChatContext retrieves the ChatContext from the context
func GetChatContext(ctx context.Context) ChatContext {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v
	}
	return nil
}

// GetChatID retrieves the chat ID from the provided context.
// If the context does not contain a ChatContext, it returns an empty string.
func GetChatID(ctx context.Context) string {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v.GetChatID()
	}
	return ""
}

// SetChatID overrides the chat ID on the ChatContext carried by ctx.
func SetChatID(ctx context.Context, chatID string) (context.Context, error) {
	chatCtx := GetChatContext(ctx)
	if chatCtx == nil {
		return nil, errors.WithStack(ErrInvalidChatContext)
	}
	chatCtx.SetChatID(chatID)
	return ctx, nil
}

// GetTenantAndChatID returns the tenant and chat IDs from the context.
func GetTenantAndChatID(ctx context.Context) (string, string, error) {
	chatCtx := GetChatContext(ctx)
	if chatCtx == nil {
		return "", "", errors.WithStack(ErrInvalidChatContext)
	}
	return chatCtx.GetTenantID(), chatCtx.GetChatID(), nil
}

// NewFromContext returns a new background context preserving the ChatContext,
// for work that must outlive the request context.
func NewFromContext(ctx context.Context) context.Context {
	newCtx := context.Background()
	if chatCtx := GetChatContext(ctx); chatCtx != nil {
		newCtx = WithChatContext(newCtx, chatCtx)
	}
	return newCtx
}

// NewChatID generates a new chat ID using the flake ID generator.
func NewChatID() string {
	return strconv.FormatUint(flake.DefaultIDGenerator.NextID(), 10)
}
