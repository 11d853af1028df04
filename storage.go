package renamebot

import (
	"context"
	"sync"

	"github.com/maxbolgarin/errm"
	"github.com/maypok86/otter"
)

const (
	defaultInMemoryCapacity = 10000

	userIDField = "user_id"
	countField  = "count"
)

// UserRecord is a persisted state of a user.
type UserRecord struct {
	// UserID is Telegram ID of the user, it is unique in the storage.
	UserID int64 `bson:"user_id"`
	// Count is a number of processed files since the last clear.
	Count int64 `bson:"count"`
}

// UsersStorage is a storage for user records.
// All methods must be safe for concurrent use.
type UsersStorage interface {
	// EnsureUser creates a record with zero count if it doesn't exist.
	// It returns true if a new record was created.
	EnsureUser(ctx context.Context, userID int64) (bool, error)
	// ResetCount sets count of an existing record to zero. It is a no-op if there is no record.
	ResetCount(ctx context.Context, userID int64) error
	// IncrementCount atomically increments count and returns the new value.
	// It creates a record if it doesn't exist, so the first call returns 1.
	IncrementCount(ctx context.Context, userID int64) (int64, error)
	// Find returns a record and true if it exists.
	Find(ctx context.Context, userID int64) (UserRecord, bool, error)
}

// NewMongoUsersStorage creates a storage that keeps records in the provided MongoDB collection.
// It creates a unique index on user_id.
func NewMongoUsersStorage(ctx context.Context, coll *Collection) (UsersStorage, error) {
	if err := coll.CreateUniqueIndex(ctx, userIDField); err != nil {
		return nil, errm.Wrap(err, "create unique index", "collection", coll.Name())
	}
	return &mongoUsersStorage{coll: coll}, nil
}

type mongoUsersStorage struct {
	coll *Collection
}

func (s *mongoUsersStorage) EnsureUser(ctx context.Context, userID int64) (bool, error) {
	created, err := s.coll.SetOnInsert(ctx, NewFilter(userIDField, userID), NewUpdates(countField, int64(0)))
	if err != nil {
		return false, errm.Wrap(err, "set on insert", "user_id", userID)
	}
	return created, nil
}

func (s *mongoUsersStorage) ResetCount(ctx context.Context, userID int64) error {
	err := s.coll.SetFields(ctx, NewFilter(userIDField, userID), NewUpdates(countField, int64(0)))
	switch {
	case errm.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return errm.Wrap(err, "set fields", "user_id", userID)
	}
	return nil
}

func (s *mongoUsersStorage) IncrementCount(ctx context.Context, userID int64) (int64, error) {
	var rec UserRecord
	err := s.coll.Increment(ctx, &rec, NewFilter(userIDField, userID), NewUpdates(countField, int64(1)))
	if err != nil {
		return 0, errm.Wrap(err, "increment", "user_id", userID)
	}
	return rec.Count, nil
}

func (s *mongoUsersStorage) Find(ctx context.Context, userID int64) (UserRecord, bool, error) {
	var rec UserRecord
	err := s.coll.FindOne(ctx, &rec, NewFilter(userIDField, userID))
	switch {
	case errm.Is(err, ErrNotFound):
		return UserRecord{}, false, nil
	case err != nil:
		return UserRecord{}, false, errm.Wrap(err, "find one", "user_id", userID)
	}
	return rec, true, nil
}

// NewInMemoryUsersStorage creates a storage that keeps records in memory.
// Records are lost on restart and the least used ones are evicted when capacity is exceeded.
func NewInMemoryUsersStorage(capacity int) (UsersStorage, error) {
	c, err := otter.MustBuilder[int64, UserRecord](capacity).Build()
	if err != nil {
		return nil, errm.Wrap(err, "build cache", "capacity", capacity)
	}
	return &inMemoryUserStorage{cache: c}, nil
}

type inMemoryUserStorage struct {
	cache otter.Cache[int64, UserRecord]
	// otter is safe for concurrent use, mutex makes read-modify-write atomic
	mu sync.Mutex
}

func (m *inMemoryUserStorage) EnsureUser(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.cache.Get(userID); found {
		return false, nil
	}
	if !m.cache.Set(userID, UserRecord{UserID: userID}) {
		return false, errm.New("cache rejected insertion", "user_id", userID)
	}
	return true, nil
}

func (m *inMemoryUserStorage) ResetCount(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, found := m.cache.Get(userID)
	if !found {
		return nil
	}
	rec.Count = 0
	m.cache.Set(userID, rec)

	return nil
}

func (m *inMemoryUserStorage) IncrementCount(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, found := m.cache.Get(userID)
	if !found {
		rec = UserRecord{UserID: userID}
	}
	rec.Count++

	if !m.cache.Set(userID, rec) {
		return 0, errm.New("cache rejected update", "user_id", userID)
	}
	return rec.Count, nil
}

func (m *inMemoryUserStorage) Find(_ context.Context, userID int64) (UserRecord, bool, error) {
	rec, found := m.cache.Get(userID)
	return rec, found, nil
}
