package renamebot

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockTransport is a mock implementation of Transport interface using testify/mock
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Download(ctx context.Context, file Attachment, dst string) error {
	args := m.Called(ctx, file, dst)
	return args.Error(0)
}

func (m *MockTransport) Send(ctx context.Context, chatID int64, text string) error {
	args := m.Called(ctx, chatID, text)
	return args.Error(0)
}

func (m *MockTransport) SendDocument(ctx context.Context, chatID int64, doc Document) error {
	args := m.Called(ctx, chatID, doc)
	return args.Error(0)
}

// writeDst is a Run function for Download that creates the destination file.
func writeDst(args mock.Arguments) {
	if err := os.WriteFile(args.String(2), []byte("content"), 0o600); err != nil {
		panic(err)
	}
}

// MockUsersStorage is a mock implementation of UsersStorage interface using testify/mock
type MockUsersStorage struct {
	mock.Mock
}

func (m *MockUsersStorage) EnsureUser(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockUsersStorage) ResetCount(ctx context.Context, userID int64) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockUsersStorage) IncrementCount(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUsersStorage) Find(ctx context.Context, userID int64) (UserRecord, bool, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(UserRecord), args.Bool(1), args.Error(2)
}

// stubThumbnailer writes a fake thumbnail or returns err, it remembers paths of calls.
// errs are returned one per call before falling back to err.
type stubThumbnailer struct {
	err   error
	errs  []error
	calls [][2]string
	mu    sync.Mutex
}

func (s *stubThumbnailer) Generate(_ context.Context, src, dst string) error {
	s.mu.Lock()
	s.calls = append(s.calls, [2]string{src, dst})
	err := s.err
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	s.mu.Unlock()

	if err != nil {
		// ffmpeg may leave a partial file
		_ = os.WriteFile(dst, []byte("partial"), 0o600)
		return err
	}
	return os.WriteFile(dst, []byte("jpeg"), 0o600)
}

func (s *stubThumbnailer) lastCall() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return "", ""
	}
	c := s.calls[len(s.calls)-1]
	return c[0], c[1]
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
