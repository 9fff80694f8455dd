package watcher

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openimpact/dtrack/lib/chain"
	"github.com/openimpact/dtrack/lib/chain/types"
	"github.com/openimpact/dtrack/lib/msg"
	"github.com/openimpact/dtrack/lib/registry"
	"github.com/openimpact/dtrack/lib/store"
)

const (
	contractAddr = "0x1b60e1c2f0758bb4bb0a4e93f1a902452a2c293a"
	orgWallet    = "0x357945fcde75a7c6e99cd52d1b10d3ff1b906f66"
	donorWallet  = "0x5d44c2372b54851436ec278165268f4dcbbc2a5f"
)

// memDB is an in-memory store.DB for tests.
type memDB struct {
	mu      sync.Mutex
	cursors map[string]store.Cursor
	watches map[string][]store.Watch
}

func newMemDB() *memDB {
	return &memDB{cursors: map[string]store.Cursor{}, watches: map[string][]store.Watch{}}
}

func (m *memDB) AddWatch(w store.Watch, net string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watches[net] = append(m.watches[net], w)
	return []byte{1}, nil
}

func (m *memDB) RemoveWatch(w store.Watch, net string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.watches[net]
	for i, v := range ws {
		if v.Wallet == w.Wallet {
			m.watches[net] = append(ws[:i], ws[i+1:]...)
			return nil
		}
	}
	return store.ErrWatchNotFound
}

func (m *memDB) GetWatches(nets []string) ([]store.WatchedOrgs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.WatchedOrgs
	for _, n := range nets {
		if ws, ok := m.watches[n]; ok {
			out = append(out, store.WatchedOrgs{Net: n, Orgs: ws})
		}
	}
	return out, nil
}

func (m *memDB) LoadCursor(net string) (store.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.cursors[net]
	if !ok {
		return store.Cursor{}, store.ErrDataNotFound
	}
	return cur, nil
}

func (m *memDB) SaveCursor(net string, cur store.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[net] = cur
	return nil
}

func (m *memDB) DeleteCursor(net string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, net)
	return nil
}

// fakeChain serves a fixed sequence of block headers and logs.
type fakeChain struct {
	mu      sync.Mutex
	headers map[uint64]types.Header
	logs    map[uint64][]types.Log
}

func (f *fakeChain) Header(_ context.Context, n uint64) (types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.headers[n]
	if !ok {
		return types.Header{}, types.ErrNoBlock
	}
	return h, nil
}

func (f *fakeChain) Logs(_ context.Context, _ string, from, _ uint64) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs[from], nil
}

func (f *fakeChain) ChainID(context.Context) (string, error)     { return "0x13882", nil }
func (f *fakeChain) BlockNumber(context.Context) (uint64, error) { return 0, nil }
func (f *fakeChain) Balance(context.Context, string) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeChain) Call(context.Context, string, []byte) ([]byte, error) { return nil, nil }
func (f *fakeChain) Send(context.Context, string, string, *ecdsa.PrivateKey, *big.Int, []byte) (string, error) {
	return "", nil
}
func (f *fakeChain) WaitMined(context.Context, string) error { return nil }
func (f *fakeChain) Close()                                  {}

// fakeBroker records published events and hands out request channels.
type fakeBroker struct {
	mu     sync.Mutex
	events []msg.Event
	reqCh  chan msg.WatchReq
	errCh  chan error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{reqCh: make(chan msg.WatchReq), errCh: make(chan error)}
}

func (b *fakeBroker) Setup(interface{}) error { return nil }
func (b *fakeBroker) Close() error            { return nil }

func (b *fakeBroker) SendWatchReq(string, msg.WatchReq) error { return nil }

func (b *fakeBroker) GetEvents(string, *sync.Mutex) (<-chan msg.Event, <-chan error, error) {
	return nil, nil, nil
}

// GetWatchReqs forwards requests and re-locks the mutex after each delivery, matching the broker's ack handshake.
func (b *fakeBroker) GetWatchReqs(_ string, mut *sync.Mutex) (<-chan msg.WatchReq, <-chan error, error) {
	out := make(chan msg.WatchReq)
	go func() {
		for r := range b.reqCh {
			out <- r
			mut.Lock()
		}
		close(out)
	}()
	return out, b.errCh, nil
}

func (b *fakeBroker) SendEvents(_ string, evs []msg.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evs...)
	return nil
}

func chainMap(fc *fakeChain) map[string]chain.Chain {
	return map[string]chain.Chain{"amoy": fc}
}

func donationLog(t *testing.T, block uint64) types.Log {
	t.Helper()

	uintTy, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	strTy, err := abi.NewType("string", "", nil)
	require.NoError(t, err)

	data, err := abi.Arguments{{Type: uintTy}, {Type: strTy}}.Pack(big.NewInt(250), "thank you")
	require.NoError(t, err)

	return types.Log{
		Address: contractAddr,
		Topics: []string{
			crypto.Keccak256Hash([]byte("DonationMade(uint256,address,address,uint256,string)")).Hex(),
			common.BigToHash(big.NewInt(7)).Hex(),
			common.BytesToHash(common.LeftPadBytes(common.HexToAddress(donorWallet).Bytes(), 32)).Hex(),
			common.BytesToHash(common.LeftPadBytes(common.HexToAddress(orgWallet).Bytes(), 32)).Hex(),
		},
		Data:   hexutil.Encode(data),
		Block:  block,
		TxHash: "0xfeed01",
	}
}

func TestWatchChainPublishesWatchedEvents(t *testing.T) {
	db := newMemDB()
	db.watches["amoy"] = []store.Watch{{Label: "water fund", Wallet: orgWallet}}

	fc := &fakeChain{
		headers: map[uint64]types.Header{
			1: {Hash: "0x01", PHash: "0x00", Number: 1},
			2: {Hash: "0x02", PHash: "0x01", Number: 2},
		},
		logs: map[uint64][]types.Log{1: {donationLog(t, 1)}},
	}
	fb := newFakeBroker()

	w := New("mem", db, fb, chainMap(fc), contractAddr, zerolog.Nop())
	done := w.Watch()

	// let the scanner pass both blocks and hit the chain head
	deadline := time.After(10 * time.Second)
	for {
		fb.mu.Lock()
		n := len(fb.events)
		fb.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for published event")
		case <-time.After(100 * time.Millisecond):
		}
	}

	w.StopWatcher()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for watcher to stop")
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.NotEmpty(t, fb.events)
	ev := fb.events[0]
	assert.Equal(t, "amoy", ev.Net)
	assert.Equal(t, registry.EventDonationMade, ev.Kind)
	assert.Equal(t, orgWallet, ev.NGO)
	assert.Equal(t, donorWallet, ev.Donor)
	assert.Equal(t, uint64(7), ev.DonationID)
	assert.Equal(t, "250", ev.Amount.String())

	// the cursor was persisted past the scanned block
	cur, err := db.LoadCursor("amoy")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cur.Block, uint64(1))
}

func TestManageWatchRequests(t *testing.T) {
	db := newMemDB()
	db.watches["amoy"] = []store.Watch{{Label: "water fund", Wallet: orgWallet}}

	fc := &fakeChain{headers: map[uint64]types.Header{}}
	fb := newFakeBroker()

	w := New("mem", db, fb, chainMap(fc), contractAddr, zerolog.Nop())
	done := w.Watch()

	fb.reqCh <- msg.WatchReq{Net: "amoy", Wallet: "0xbbb2", Label: "food relief", Act: msg.LISTEN}

	require.Eventually(t, func() bool {
		ws, _ := db.GetWatches([]string{"amoy"})
		return len(ws) == 1 && len(ws[0].Orgs) == 2
	}, 5*time.Second, 50*time.Millisecond)

	fb.reqCh <- msg.WatchReq{Net: "amoy", Wallet: "0xbbb2", Act: msg.UNLISTEN}

	require.Eventually(t, func() bool {
		ws, _ := db.GetWatches([]string{"amoy"})
		return len(ws) == 1 && len(ws[0].Orgs) == 1
	}, 5*time.Second, 50*time.Millisecond)

	w.StopWatcher()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for watcher to stop")
	}
}

// lockedBuf is a goroutine-safe log sink.
type lockedBuf struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuf) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuf) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchRequestReaderStopsWhenBrokerCloses(t *testing.T) {
	db := newMemDB()
	db.watches["amoy"] = []store.Watch{{Label: "water fund", Wallet: orgWallet}}

	fc := &fakeChain{headers: map[uint64]types.Header{}}
	fb := newFakeBroker()
	sink := &lockedBuf{}

	w := New("mem", db, fb, chainMap(fc), contractAddr, zerolog.New(sink))
	done := w.Watch()

	const stopped = "stop listening to watch request channel"

	close(fb.reqCh)

	require.Eventually(t, func() bool {
		return strings.Contains(sink.String(), stopped)
	}, 5*time.Second, 50*time.Millisecond)

	// the reader must exit on the closed channel, not keep re-reading it
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, strings.Count(sink.String(), stopped))

	w.StopWatcher()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for watcher to stop")
	}
}
