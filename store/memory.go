package store

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/effective-security/biomcp/chatmodel"
	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/xlog"
)

type inMemory struct {
	mu      sync.RWMutex
	storage map[string][]llms.Message
	chats   map[string]*ChatInfo
}

func NewMemoryStore() MessageStoreManager {
	return &inMemory{}
}

func chatKey(tenantID, chatID string) string {
	return path.Join(tenantID, chatID)
}

func (m *inMemory) Messages(ctx context.Context) []llms.Message {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "reason", "GetTenantAndChatID", "err", err.Error())
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.storage == nil {
		return nil
	}
	return m.storage[chatKey(tenantID, chatID)]
}

func (m *inMemory) Add(ctx context.Context, msgs ...llms.Message) error {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storage == nil {
		// create on first use
		m.storage = make(map[string][]llms.Message)
	}
	key := chatKey(tenantID, chatID)
	m.storage[key] = append(m.storage[key], msgs...)
	m.touchChat(tenantID, chatID, "", nil)
	return nil
}

func (m *inMemory) Reset(ctx context.Context) error {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := chatKey(tenantID, chatID)
	if m.storage != nil {
		delete(m.storage, key)
	}
	if m.chats != nil {
		delete(m.chats, key)
	}
	return nil
}

// touchChat must be called with the lock held.
func (m *inMemory) touchChat(tenantID, chatID, title string, metadata map[string]any) *ChatInfo {
	if m.chats == nil {
		m.chats = make(map[string]*ChatInfo)
	}
	key := chatKey(tenantID, chatID)
	chat := m.chats[key]
	if chat == nil {
		chat = &ChatInfo{
			TenantID:  tenantID,
			ChatID:    chatID,
			Title:     "New Chat",
			CreatedAt: time.Now(),
			Metadata:  make(map[string]any),
		}
		m.chats[key] = chat
	}
	if title != "" {
		chat.Title = title
	}
	for k, v := range metadata {
		chat.Metadata[k] = v
	}
	chat.UpdatedAt = time.Now()
	return chat
}

func (m *inMemory) UpdateChat(ctx context.Context, title string, metadata map[string]any) (*ChatInfo, error) {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	chat := m.touchChat(tenantID, chatID, title, metadata)
	cp := *chat
	return &cp, nil
}

func (m *inMemory) ListChats(ctx context.Context) ([]string, error) {
	tenantID, _, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for key := range m.chats {
		if strings.HasPrefix(key, tenantID+"/") {
			ids = append(ids, strings.TrimPrefix(key, tenantID+"/"))
		}
	}
	return ids, nil
}

func (m *inMemory) GetChatInfo(ctx context.Context, id string) (*ChatInfo, error) {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = chatID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	chat := m.chats[chatKey(tenantID, id)]
	if chat == nil {
		return &ChatInfo{
			TenantID: tenantID,
			ChatID:   id,
		}, nil
	}
	cp := *chat
	cp.Messages = m.storage[chatKey(tenantID, id)]
	return &cp, nil
}

func (m *inMemory) GetChatTitle(ctx context.Context, id string) (string, error) {
	tenantID, chatID, err := chatmodel.GetTenantAndChatID(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = chatID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if chat := m.chats[chatKey(tenantID, id)]; chat != nil {
		return chat.Title, nil
	}
	return "", nil
}

func (m *inMemory) ListTenants(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tenants := make(map[string]struct{})
	for key := range m.chats {
		if tenant, _, ok := strings.Cut(key, "/"); ok {
			tenants[tenant] = struct{}{}
		}
	}
	result := make([]string, 0, len(tenants))
	for tenant := range tenants {
		result = append(result, tenant)
	}
	return result, nil
}

func (m *inMemory) Cleanup(_ context.Context, tenantID string, olderThan time.Duration) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	deleted := uint32(0)
	for key, chat := range m.chats {
		if chat.TenantID == tenantID && chat.UpdatedAt.Before(cutoff) {
			delete(m.chats, key)
			delete(m.storage, key)
			deleted++
		}
	}
	return deleted, nil
}
