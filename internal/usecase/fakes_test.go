package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"channel-assistant/internal/domain"
)

type memFlags struct {
	mu     sync.Mutex
	vals   map[string]string
	getErr error
	setErr error
}

func newMemFlags() *memFlags {
	return &memFlags{vals: map[string]string{}}
}

func (m *memFlags) GetValue(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *memFlags) SetValue(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.vals[key] = value
	return nil
}

type mockEmbedder struct {
	vector   []float32
	err      error
	calls    int
	lastText string
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.calls++
	m.lastText = text
	return m.vector, m.err
}

type mockIndex struct {
	passages       []domain.Passage
	err            error
	calls          int
	lastCollection string
	lastLimit      int
}

func (m *mockIndex) Search(_ context.Context, collection string, _ []float32, limit int) ([]domain.Passage, error) {
	m.calls++
	m.lastCollection = collection
	m.lastLimit = limit
	return m.passages, m.err
}

type sentMessage struct {
	channelID string
	messageID string
	content   string
	edit      bool
}

type fakeTransport struct {
	sent    []sentMessage
	sendErr error
	editErr error
	nextID  int
}

func (f *fakeTransport) Send(_ context.Context, channelID, content string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	id := fmt.Sprintf("msg-%d", f.nextID)
	f.sent = append(f.sent, sentMessage{channelID: channelID, messageID: id, content: content})
	return id, nil
}

func (f *fakeTransport) Edit(_ context.Context, channelID, messageID, content string) error {
	if f.editErr != nil {
		return f.editErr
	}
	f.sent = append(f.sent, sentMessage{channelID: channelID, messageID: messageID, content: content, edit: true})
	return nil
}

type mockHistory struct {
	turns     []domain.Message
	err       error
	calls     int
	lastLimit int
}

func (m *mockHistory) GetHistory(_ context.Context, _ string, limit int) ([]domain.Message, error) {
	m.calls++
	m.lastLimit = limit
	return m.turns, m.err
}

type mockCompleter struct {
	reply    string
	err      error
	calls    int
	lastID   string
	lastText string
	lastOpts domain.ChatOptions
}

func (m *mockCompleter) Complete(_ context.Context, conversationID, text string, opts domain.ChatOptions) (string, error) {
	m.calls++
	m.lastID = conversationID
	m.lastText = text
	m.lastOpts = opts
	return m.reply, m.err
}

var errBoom = errors.New("boom")
