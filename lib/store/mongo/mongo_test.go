package mongo

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openimpact/dtrack/lib/store"
)

// These tests require a reachable MongoDB. Set DTRACK_TEST_MONGO to its uri to enable them, for example
// mongodb://localhost:27017.
func testMongo(t *testing.T) *Mongo {
	t.Helper()

	uri := os.Getenv("DTRACK_TEST_MONGO")
	if uri == "" {
		t.Skip("DTRACK_TEST_MONGO not set")
	}

	m, err := New(uri)
	require.NoError(t, err)
	t.Cleanup(func() { m.CloseMongo() })

	return m
}

func TestWatchLifecycle(t *testing.T) {
	m := testMongo(t)
	const net = "testnet"
	w := store.Watch{Label: "water fund", Wallet: "0xaaa1"}

	id, err := m.AddWatch(w, net)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// adding the same wallet again returns the existing identifier
	again, err := m.AddWatch(w, net)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	watches, err := m.GetWatches([]string{net})
	require.NoError(t, err)
	require.Len(t, watches, 1)
	require.Len(t, watches[0].Orgs, 1)
	assert.Equal(t, w.Wallet, watches[0].Orgs[0].Wallet)

	require.NoError(t, m.RemoveWatch(w, net))
	assert.ErrorIs(t, m.RemoveWatch(w, net), store.ErrWatchNotFound)
}

func TestCursorLifecycle(t *testing.T) {
	m := testMongo(t)
	const net = "testnet"

	_, err := m.LoadCursor(net)
	assert.ErrorIs(t, err, store.ErrDataNotFound)

	cur := store.Cursor{Block: 42, Hashes: []string{"0x01", "0x02"}, Idx: 1, Orgs: map[string]interface{}{"0xaaa1": "water fund"}}
	require.NoError(t, m.SaveCursor(net, cur))

	got, err := m.LoadCursor(net)
	require.NoError(t, err)
	assert.Equal(t, cur.Block, got.Block)
	assert.Equal(t, cur.Hashes, got.Hashes)
	assert.Equal(t, cur.Idx, got.Idx)

	require.NoError(t, m.DeleteCursor(net))
	_, err = m.LoadCursor(net)
	assert.ErrorIs(t, err, store.ErrDataNotFound)
}
