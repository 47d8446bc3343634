package chat

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roomMessage(room, sender, body string) Message {
	return Message{SenderID: sender, SenderDisplayName: "user-" + sender, Room: room, Body: body}
}

func TestStoreAppendInitializesMessage(t *testing.T) {
	store := NewStore()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	in := roomMessage("general", "a", "hello")
	in.Reactions = map[string][]string{"like": {"mallory"}}
	in.ReadBy = []string{"x", "y"}

	msg, err := store.Append(in)
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, fixed, msg.Timestamp)
	assert.Empty(t, msg.Reactions)
	assert.NotNil(t, msg.Reactions)
	assert.Equal(t, []string{"a"}, msg.ReadBy)

	found, room, err := store.FindByID(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "general", room)
	assert.Equal(t, "hello", found.Body)
}

func TestStoreAppendKeepsGivenID(t *testing.T) {
	store := NewStore()
	in := roomMessage("general", "a", "hi")
	in.ID = "fixed-id"

	msg, err := store.Append(in)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", msg.ID)
}

func TestStoreAppendRequiresTarget(t *testing.T) {
	store := NewStore()

	_, err := store.Append(Message{SenderID: "a", Body: "x"})
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = store.Append(Message{SenderID: "a", Body: "x", IsPrivate: true})
	assert.ErrorIs(t, err, ErrRecipientNotFound)
}

func TestStoreRecentPreservesSendOrder(t *testing.T) {
	store := NewStore()
	for i := 0; i < 80; i++ {
		_, err := store.Append(roomMessage("general", "a", strconv.Itoa(i)))
		require.NoError(t, err)
	}

	recent := store.Recent("general", 0)
	require.Len(t, recent, DefaultRecentLimit)
	for i, m := range recent {
		assert.Equal(t, strconv.Itoa(30+i), m.Body)
	}

	all := store.Recent("general", 80)
	require.Len(t, all, 80)
	assert.Equal(t, "0", all[0].Body)

	assert.Empty(t, store.Recent("nowhere", 10))
}

func TestStoreCompaction(t *testing.T) {
	store := NewStore()
	var first Message
	for i := 0; i < HistoryCompactAt; i++ {
		m, err := store.Append(roomMessage("general", "a", strconv.Itoa(i)))
		require.NoError(t, err)
		if i == 0 {
			first = m
		}
	}
	require.Equal(t, HistoryCompactAt, store.Len("general"))
	assert.Zero(t, store.Compactions())

	_, err := store.Append(roomMessage("general", "a", strconv.Itoa(HistoryCompactAt)))
	require.NoError(t, err)

	assert.Equal(t, HistoryKeep, store.Len("general"))
	assert.Equal(t, 1, store.Compactions())

	kept := store.Recent("general", HistoryKeep)
	assert.Equal(t, strconv.Itoa(HistoryCompactAt+1-HistoryKeep), kept[0].Body)
	assert.Equal(t, strconv.Itoa(HistoryCompactAt), kept[len(kept)-1].Body)

	_, _, err = store.FindByID(first.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound, "compacted messages leave the index")
}

func TestStoreToggleReaction(t *testing.T) {
	store := NewStore()
	msg, err := store.Append(roomMessage("general", "a", "hello"))
	require.NoError(t, err)

	reactions, room, err := store.ToggleReaction(msg.ID, "like", "alice")
	require.NoError(t, err)
	assert.Equal(t, "general", room)
	assert.Equal(t, map[string][]string{"like": {"alice"}}, reactions)

	reactions, _, err = store.ToggleReaction(msg.ID, "like", "bob")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, reactions["like"])

	reactions, _, err = store.ToggleReaction(msg.ID, "like", "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"like": {"bob"}}, reactions)

	reactions, _, err = store.ToggleReaction(msg.ID, "like", "bob")
	require.NoError(t, err)
	assert.Empty(t, reactions, "an emptied kind is removed")

	_, _, err = store.ToggleReaction("missing", "like", "alice")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestStoreTogglePairRestoresState(t *testing.T) {
	store := NewStore()
	msg, err := store.Append(roomMessage("general", "a", "hello"))
	require.NoError(t, err)
	_, _, err = store.ToggleReaction(msg.ID, "heart", "carol")
	require.NoError(t, err)

	before, _, err := store.FindByID(msg.ID)
	require.NoError(t, err)

	_, _, err = store.ToggleReaction(msg.ID, "like", "alice")
	require.NoError(t, err)
	after, _, err := store.ToggleReaction(msg.ID, "like", "alice")
	require.NoError(t, err)

	assert.Equal(t, before.Reactions, after)
}

func TestStoreConcurrentToggles(t *testing.T) {
	store := NewStore()
	msg, err := store.Append(roomMessage("general", "a", "hello"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _ = store.ToggleReaction(msg.ID, "like", fmt.Sprintf("user-%d", i))
		}(i)
	}
	wg.Wait()

	found, _, err := store.FindByID(msg.ID)
	require.NoError(t, err)
	assert.Len(t, found.Reactions["like"], 50)
}

func TestStoreMarkRead(t *testing.T) {
	store := NewStore()
	msg, err := store.Append(roomMessage("general", "a", "hello"))
	require.NoError(t, err)

	count, err := store.MarkRead(msg.ID, "general", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.MarkRead(msg.ID, "general", "b")
	assert.ErrorIs(t, err, ErrAlreadyRead)
	assert.Equal(t, 2, count)

	_, err = store.MarkRead(msg.ID, "general", "a")
	assert.ErrorIs(t, err, ErrAlreadyRead, "the sender has read its own message")

	_, err = store.MarkRead(msg.ID, "tech", "c")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	found, _, err := store.FindByID(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, found.ReadBy)
}

func TestStorePage(t *testing.T) {
	store := NewStore()
	for i := 0; i < 120; i++ {
		_, err := store.Append(roomMessage("general", "a", strconv.Itoa(i)))
		require.NoError(t, err)
	}

	tests := []struct {
		name      string
		page      int
		size      int
		wantCount int
		wantFirst string
		wantPage  int
		wantPages int
	}{
		{name: "first page", page: 1, size: 50, wantCount: 50, wantFirst: "0", wantPage: 1, wantPages: 3},
		{name: "last partial page", page: 3, size: 50, wantCount: 20, wantFirst: "100", wantPage: 3, wantPages: 3},
		{name: "past the end", page: 4, size: 50, wantCount: 0, wantPage: 4, wantPages: 3},
		{name: "page zero is page one", page: 0, size: 10, wantCount: 10, wantFirst: "0", wantPage: 1, wantPages: 12},
		{name: "default size", page: 2, size: 0, wantCount: 50, wantFirst: "50", wantPage: 2, wantPages: 3},
		{name: "huge page", page: math.MaxInt, size: 50, wantCount: 0, wantPage: math.MaxInt, wantPages: 3},
		{name: "page whose offset overflows", page: math.MaxInt64/50 + 2, size: 50, wantCount: 0, wantPage: math.MaxInt64/50 + 2, wantPages: 3},
		{name: "huge size", page: 1, size: math.MaxInt, wantCount: 120, wantFirst: "0", wantPage: 1, wantPages: 1},
		{name: "huge page and size", page: math.MaxInt, size: math.MaxInt, wantCount: 0, wantPage: math.MaxInt, wantPages: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := store.Page("general", tt.page, tt.size)
			assert.Len(t, page.Items, tt.wantCount)
			assert.Equal(t, 120, page.Total)
			assert.Equal(t, tt.wantPage, page.Page)
			assert.Equal(t, tt.wantPages, page.TotalPages)
			if tt.wantFirst != "" {
				assert.Equal(t, tt.wantFirst, page.Items[0].Body)
			}
		})
	}

	empty := store.Page("nowhere", 1, 50)
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.TotalPages)
	assert.Empty(t, empty.Items)
}

func TestStorePrivateMessagesAreNotIndexed(t *testing.T) {
	store := NewStore()
	msg, err := store.Append(Message{SenderID: "a", RecipientID: "b", IsPrivate: true, Body: "psst", Room: "general"})
	require.NoError(t, err)
	assert.Empty(t, msg.Room)

	_, _, err = store.FindByID(msg.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, _, err = store.ToggleReaction(msg.ID, "like", "alice")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	conv := store.Conversation("b", "a", 10)
	require.Len(t, conv, 1)
	assert.Equal(t, "psst", conv[0].Body)
	assert.Empty(t, store.Conversation("a", "c", 10))
	assert.Zero(t, store.Len("general"))
}

func TestStoreReturnsCopies(t *testing.T) {
	store := NewStore()
	msg, err := store.Append(roomMessage("general", "a", "hello"))
	require.NoError(t, err)

	msg.ReadBy = append(msg.ReadBy, "intruder")
	msg.Reactions["like"] = []string{"intruder"}

	found, _, err := store.FindByID(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, found.ReadBy)
	assert.Empty(t, found.Reactions)
}
