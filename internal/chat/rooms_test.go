package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDirectory(t *testing.T, ids ...string) (*Registry, *Directory) {
	t.Helper()
	reg := NewRegistry()
	for _, id := range ids {
		_, err := reg.Register(id, "user-"+id)
		require.NoError(t, err)
	}
	return reg, NewDirectory(reg, "random", "tech")
}

func TestDirectoryBootstrap(t *testing.T) {
	reg := NewRegistry()
	dir := NewDirectory(reg, "random", "general", "", "tech", "random")

	assert.Equal(t, []string{"general", "random", "tech"}, dir.ListRooms())
	assert.True(t, dir.Exists("general"))
	assert.False(t, dir.Exists("General"), "room names are case-sensitive")
}

func TestDirectoryCreateRoomIsIdempotent(t *testing.T) {
	_, dir := newTestDirectory(t)

	require.NoError(t, dir.CreateRoom("ops"))
	assert.ErrorIs(t, dir.CreateRoom("ops"), ErrDuplicateRoom)
	assert.ErrorIs(t, dir.CreateRoom("general"), ErrDuplicateRoom)

	assert.Equal(t, []string{"general", "random", "tech", "ops"}, dir.ListRooms())
}

func TestDirectoryJoin(t *testing.T) {
	_, dir := newTestDirectory(t, "a", "b")

	tests := []struct {
		name     string
		conn     string
		room     string
		wantPrev string
		wantErr  error
	}{
		{name: "first join", conn: "a", room: "general", wantPrev: ""},
		{name: "switch room", conn: "a", room: "tech", wantPrev: "general"},
		{name: "rejoin same room", conn: "a", room: "tech", wantPrev: "tech"},
		{name: "unknown room", conn: "a", room: "nope", wantErr: ErrRoomNotFound},
		{name: "unregistered connection", conn: "ghost", room: "general", wantErr: ErrNotRegistered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev, err := dir.Join(tt.conn, tt.room)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrev, prev)
		})
	}

	room, ok := dir.CurrentRoomOf("a")
	require.True(t, ok)
	assert.Equal(t, "tech", room)
	assert.Empty(t, dir.MembersOf("general"))
	assert.Equal(t, []string{"a"}, dir.MembersOf("tech"))
	_, ok = dir.CurrentRoomOf("ghost")
	assert.False(t, ok)
}

func TestDirectoryLeave(t *testing.T) {
	_, dir := newTestDirectory(t, "a")
	_, err := dir.Join("a", "random")
	require.NoError(t, err)

	room, ok := dir.Leave("a")
	assert.True(t, ok)
	assert.Equal(t, "random", room)
	assert.Empty(t, dir.MembersOf("random"))

	_, ok = dir.Leave("a")
	assert.False(t, ok)
}

func TestDirectoryConcurrentJoinsKeepSingleMembership(t *testing.T) {
	_, dir := newTestDirectory(t, "a")
	for i := 0; i < 10; i++ {
		require.NoError(t, dir.CreateRoom(fmt.Sprintf("room-%d", i)))
	}
	rooms := dir.ListRooms()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, _ = dir.Join("a", rooms[(w+i)%len(rooms)])
			}
		}(w)
	}
	wg.Wait()

	memberships := 0
	for _, room := range rooms {
		memberships += len(dir.MembersOf(room))
	}
	assert.Equal(t, 1, memberships)

	current, ok := dir.CurrentRoomOf("a")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, dir.MembersOf(current))
}
