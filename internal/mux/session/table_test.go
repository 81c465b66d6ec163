package session

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "kq-tunnel/internal/core/errors"
)

func fakeStream(id uint32) *Stream {
	return &Stream{id: id, done: make(chan struct{})}
}

func TestStreamTable_AllocateParity(t *testing.T) {
	client := newStreamTable(RoleClient, time.Minute, 16)
	server := newStreamTable(RoleServer, time.Minute, 16)

	for i := 0; i < 3; i++ {
		id, err := client.allocate()
		require.NoError(t, err)
		assert.Equal(t, uint32(1), id%2)

		id, err = server.allocate()
		require.NoError(t, err)
		assert.Equal(t, uint32(0), id%2)
		assert.NotZero(t, id)
	}
}

func TestStreamTable_AllocateExhausted(t *testing.T) {
	cases := []struct {
		role Role
		from uint32
		last uint32
	}{
		{RoleClient, math.MaxUint32 - 2, math.MaxUint32},
		{RoleServer, math.MaxUint32 - 3, math.MaxUint32 - 1},
	}
	for _, tc := range cases {
		t.Run(tc.role.String(), func(t *testing.T) {
			tbl := newStreamTable(tc.role, time.Minute, 16)
			tbl.nextLocal = tc.from

			id, err := tbl.allocate()
			require.NoError(t, err)
			assert.Equal(t, tc.from, id)

			id, err = tbl.allocate()
			require.NoError(t, err)
			assert.Equal(t, tc.last, id, "largest id of this parity is usable")

			_, err = tbl.allocate()
			assert.ErrorIs(t, err, coreerrors.ErrStreamIDsExhausted)
			_, err = tbl.allocate()
			assert.ErrorIs(t, err, coreerrors.ErrStreamIDsExhausted, "ids never wrap")
		})
	}
}

func TestStreamTable_AcceptRemote(t *testing.T) {
	tbl := newStreamTable(RoleServer, time.Minute, 16)

	require.NoError(t, tbl.acceptRemote(fakeStream(1)))
	require.NoError(t, tbl.acceptRemote(fakeStream(5)))

	cases := map[string]uint32{
		"wrong parity": 6,
		"duplicate":    5,
		"not above":    3,
		"zero":         0,
	}
	for name, id := range cases {
		t.Run(name, func(t *testing.T) {
			err := tbl.acceptRemote(fakeStream(id))
			assert.True(t, coreerrors.IsCode(err, coreerrors.CodeStreamRefused), "got %v", err)
		})
	}
	assert.Equal(t, 2, tbl.len())
}

func TestStreamTable_RemoveLeavesTombstone(t *testing.T) {
	tbl := newStreamTable(RoleClient, time.Minute, 16)
	tbl.insertLocal(fakeStream(1))
	tbl.insertLocal(fakeStream(3))

	assert.True(t, tbl.remove(1, tombResetByPeer))
	assert.False(t, tbl.remove(1, tombClosed), "second remove is a no-op")
	assert.Nil(t, tbl.get(1))

	reason, ok := tbl.tombstone(1)
	require.True(t, ok)
	assert.Equal(t, tombResetByPeer, reason)

	tbl.refuse(8)
	reason, ok = tbl.tombstone(8)
	require.True(t, ok)
	assert.Equal(t, tombResetLocal, reason)

	streams := tbl.drain()
	assert.Len(t, streams, 1)
	assert.Zero(t, tbl.len())
}

func TestStreamTable_TombstoneExpires(t *testing.T) {
	tbl := newStreamTable(RoleClient, 20*time.Millisecond, 16)
	tbl.insertLocal(fakeStream(1))
	tbl.remove(1, tombClosed)

	_, ok := tbl.tombstone(1)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := tbl.tombstone(1)
		return !ok
	}, time.Second, 10*time.Millisecond)
	assert.Zero(t, tbl.tombs.Len(), "expired tombstone is dropped on lookup")
}

func TestStreamTable_TombstoneCapacity(t *testing.T) {
	tbl := newStreamTable(RoleClient, time.Minute, 2)
	for _, id := range []uint32{1, 3, 5} {
		tbl.insertLocal(fakeStream(id))
		tbl.remove(id, tombClosed)
	}
	assert.Equal(t, 2, tbl.tombs.Len())
	_, ok := tbl.tombstone(1)
	assert.False(t, ok, "oldest tombstone evicted")
	_, ok = tbl.tombstone(5)
	assert.True(t, ok)
}
