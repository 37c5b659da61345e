// ABOUTME: Tests for conversation and message store operations
// ABOUTME: Covers uniqueness under race, append ordering, recency, and unread counts

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func mustCreateDirect(t *testing.T, s *SQLiteStore, userA, userB string) *Conversation {
	t.Helper()
	conv := NewDirectConversation(uuid.New().String(), userA, userB, time.Now())
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conv
}

func TestDirectPairKey_Unordered(t *testing.T) {
	assert.Equal(t, DirectPairKey("1", "2"), DirectPairKey("2", "1"))
	assert.Equal(t, "1|2", DirectPairKey("2", "1"))
}

func TestStore_CreateConversation_Direct(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := mustCreateDirect(t, store, "2", "1")

	retrieved, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, KindDirect, retrieved.Kind)
	assert.Equal(t, "1", retrieved.ParticipantA, "participants should be stored sorted")
	assert.Equal(t, "2", retrieved.ParticipantB)
	assert.Equal(t, "1|2", retrieved.PairKey)
}

func TestStore_CreateConversation_DuplicatePair(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mustCreateDirect(t, store, "1", "2")

	// Same pair in the opposite order must hit the unique index
	dup := NewDirectConversation(uuid.New().String(), "2", "1", time.Now())
	err := store.CreateConversation(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateConversation)
}

func TestStore_CreateConversation_DuplicateGroupName(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := NewGroupConversation(uuid.New().String(), "evaluators", time.Now())
	require.NoError(t, store.CreateConversation(ctx, conv))

	dup := NewGroupConversation(uuid.New().String(), "evaluators", time.Now())
	err := store.CreateConversation(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateConversation)
}

func TestStore_CreateConversation_GroupsDontCollideAcrossNames(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, NewGroupConversation(uuid.New().String(), "evaluators", time.Now())))
	require.NoError(t, store.CreateConversation(ctx, NewGroupConversation(uuid.New().String(), "schools", time.Now())))

	// Multiple direct conversations alongside groups: NULL columns must not
	// trip either unique index
	mustCreateDirect(t, store, "1", "2")
	mustCreateDirect(t, store, "1", "3")
}

func TestStore_CreateConversation_Invalid(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	self := NewDirectConversation(uuid.New().String(), "1", "1", time.Now())
	assert.Error(t, store.CreateConversation(ctx, self), "self-conversation should be rejected")

	noName := NewGroupConversation(uuid.New().String(), "", time.Now())
	assert.Error(t, store.CreateConversation(ctx, noName))
}

func TestStore_GetConversation_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetConversation(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetDirectConversation(context.Background(), "1|2")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetGroupConversation(context.Background(), "ghosts")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetByNaturalKeys(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	direct := mustCreateDirect(t, store, "1", "2")
	group := NewGroupConversation(uuid.New().String(), "trainers", time.Now())
	require.NoError(t, store.CreateConversation(ctx, group))

	byPair, err := store.GetDirectConversation(ctx, DirectPairKey("2", "1"))
	require.NoError(t, err)
	assert.Equal(t, direct.ID, byPair.ID)

	byName, err := store.GetGroupConversation(ctx, "trainers")
	require.NoError(t, err)
	assert.Equal(t, group.ID, byName.ID)
}

func TestStore_ConcurrentCreate_ExactlyOneWinner(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	duplicates := 0

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv := NewDirectConversation(uuid.New().String(), "7", "9", time.Now())
			err := store.CreateConversation(ctx, conv)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case err == ErrDuplicateConversation:
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created, "exactly one racer should create the conversation")
	assert.Equal(t, racers-1, duplicates)

	// And the winner is discoverable by its natural key
	_, err := store.GetDirectConversation(ctx, "7|9")
	require.NoError(t, err)
}

func TestStore_AppendMessage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := mustCreateDirect(t, store, "1", "2")

	msg, err := store.AppendMessage(ctx, conv.ID, "1", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())

	messages, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Body)
	assert.Equal(t, "1", messages[0].SenderID)
}

func TestStore_AppendMessage_UnknownConversation(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.AppendMessage(context.Background(), "nonexistent", "1", "hello")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListMessages_UnknownConversation(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.ListMessages(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListMessages_AppendOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := mustCreateDirect(t, store, "1", "2")

	for i := 0; i < 10; i++ {
		_, err := store.AppendMessage(ctx, conv.ID, "1", fmt.Sprintf("msg-%d", i))
		require.NoError(t, err)
	}

	messages, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 10)

	for i, msg := range messages {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), msg.Body)
		if i > 0 {
			assert.False(t, msg.CreatedAt.Before(messages[i-1].CreatedAt),
				"message %d createdAt went backwards", i)
		}
	}
}

func TestStore_ListMessages_ConcurrentAppendsStayOrdered(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := mustCreateDirect(t, store, "1", "2")

	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		sender := fmt.Sprintf("%d", s)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := store.AppendMessage(ctx, conv.ID, sender, "from "+sender)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	messages, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 40)

	for i := 1; i < len(messages); i++ {
		assert.False(t, messages[i].CreatedAt.Before(messages[i-1].CreatedAt),
			"createdAt must be non-decreasing across concurrent appends")
	}
}

func TestStore_TouchConversation_UpdatesRecency(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := mustCreateDirect(t, store, "1", "2")

	ts := time.Now().Add(time.Minute)
	require.NoError(t, store.TouchConversation(ctx, conv.ID, "latest words", ts))

	retrieved, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "latest words", retrieved.LastMessagePreview)
	assert.Equal(t, ts.UTC().Truncate(time.Nanosecond).Format(timeLayout), retrieved.UpdatedAt.Format(timeLayout))
}

func TestStore_TouchConversation_StaleTouchIsNoOp(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := mustCreateDirect(t, store, "1", "2")

	newer := time.Now().Add(time.Minute)
	older := time.Now().Add(-time.Minute)

	require.NoError(t, store.TouchConversation(ctx, conv.ID, "newer", newer))
	require.NoError(t, store.TouchConversation(ctx, conv.ID, "older", older))

	retrieved, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "newer", retrieved.LastMessagePreview, "stale touch must not overwrite newer state")
}

func TestStore_TouchConversation_NotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.TouchConversation(context.Background(), "nonexistent", "p", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListConversationsForUser_RecencyOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := mustCreateDirect(t, store, "1", "2")
	second := mustCreateDirect(t, store, "1", "3")
	group := NewGroupConversation(uuid.New().String(), "evaluators", time.Now())
	require.NoError(t, store.CreateConversation(ctx, group))

	base := time.Now()
	require.NoError(t, store.TouchConversation(ctx, first.ID, "a", base.Add(1*time.Second)))
	require.NoError(t, store.TouchConversation(ctx, group.ID, "b", base.Add(2*time.Second)))
	require.NoError(t, store.TouchConversation(ctx, second.ID, "c", base.Add(3*time.Second)))

	list, err := store.ListConversationsForUser(ctx, "1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, group.ID, list[1].ID)
	assert.Equal(t, first.ID, list[2].ID)
}

func TestStore_ListConversationsForUser_FiltersOtherPairs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mine := mustCreateDirect(t, store, "1", "2")
	mustCreateDirect(t, store, "2", "3") // not user 1's

	list, err := store.ListConversationsForUser(ctx, "1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)
}

func TestStore_ListConversationsForUser_IncludesAllGroups(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	group := NewGroupConversation(uuid.New().String(), "schools", time.Now())
	require.NoError(t, store.CreateConversation(ctx, group))

	// A user with no direct conversations still sees group threads
	list, err := store.ListConversationsForUser(ctx, "50")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "schools", list[0].GroupName)
}

func TestStore_UnreadCounts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv := mustCreateDirect(t, store, "1", "2")

	_, err := store.AppendMessage(ctx, conv.ID, "1", "one")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, "1", "two")
	require.NoError(t, err)

	// Recipient sees 2 unread, sender sees 0 (own messages don't count)
	list, err := store.ListConversationsForUser(ctx, "2")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].UnreadCount)

	list, err = store.ListConversationsForUser(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 0, list[0].UnreadCount)

	// Marking read clears the count
	require.NoError(t, store.MarkRead(ctx, "2", conv.ID, time.Now()))
	list, err = store.ListConversationsForUser(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, 0, list[0].UnreadCount)

	// New messages after the marker count again
	_, err = store.AppendMessage(ctx, conv.ID, "1", "three")
	require.NoError(t, err)
	list, err = store.ListConversationsForUser(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, 1, list[0].UnreadCount)
}

func TestStore_MarkRead_NotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.MarkRead(context.Background(), "1", "nonexistent", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessage_OrderHoldsAcrossRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	ctx := context.Background()
	conv := NewDirectConversation(uuid.New().String(), "1", "2", time.Now())
	require.NoError(t, st.CreateConversation(ctx, conv))

	// A message stamped ahead of the wall clock stands in for a clock that
	// stepped backwards between runs.
	future := time.Now().UTC().Add(time.Hour)
	_, err = st.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), conv.ID, "1", "stamped ahead", future.Format(timeLayout))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	msg, err := reopened.AppendMessage(ctx, conv.ID, "2", "after restart")
	require.NoError(t, err)
	assert.False(t, msg.CreatedAt.Before(future), "createdAt %v must not precede %v", msg.CreatedAt, future)

	messages, err := reopened.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "stamped ahead", messages[0].Body)
	assert.Equal(t, "after restart", messages[1].Body)
}
