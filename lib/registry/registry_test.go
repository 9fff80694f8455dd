package registry

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openimpact/dtrack/lib/chain/types"
)

const (
	contractAddr = "0x1b60e1c2f0758bb4bb0a4e93f1a902452a2c293a"
	aliceAddr    = "0x5d44c2372b54851436ec278165268f4dcbbc2a5f"
	bobAddr      = "0x357945fcde75a7c6e99cd52d1b10d3ff1b906f66"
	carolAddr    = "0x9a12f5c93d1e1c2909b34132e4c0f3171bde40c6"
)

var sess = types.Session{Account: aliceAddr, ChainID: "0x13882"}

// fakeChain answers contract calls by dispatching on the 4-byte method selector and records submissions.
type fakeChain struct {
	handlers map[string]func(data []byte) ([]byte, error)
	sent     []sentTx
	sendErr  error
	mineErr  error
}

type sentTx struct {
	to    string
	value *big.Int
	data  []byte
}

func newFakeChain() *fakeChain {
	return &fakeChain{handlers: make(map[string]func([]byte) ([]byte, error))}
}

func (f *fakeChain) on(method string, h func(data []byte) ([]byte, error)) {
	f.handlers[hex.EncodeToString(registryABI.Methods[method].ID)] = h
}

// returns registers a fixed packed response for a method.
func (f *fakeChain) returns(t *testing.T, method string, out ...interface{}) {
	t.Helper()
	b, err := registryABI.Methods[method].Outputs.Pack(out...)
	require.NoError(t, err)
	f.on(method, func([]byte) ([]byte, error) { return b, nil })
}

func (f *fakeChain) Call(_ context.Context, to string, data []byte) ([]byte, error) {
	h, ok := f.handlers[hex.EncodeToString(data[:4])]
	if !ok {
		return nil, errors.New("unexpected call to " + to)
	}
	return h(data)
}

func (f *fakeChain) Send(_ context.Context, _, to string, _ *ecdsa.PrivateKey, value *big.Int, data []byte) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, sentTx{to: to, value: value, data: data})
	return "0xabc123", nil
}

func (f *fakeChain) WaitMined(context.Context, string) error { return f.mineErr }

func (f *fakeChain) ChainID(context.Context) (string, error)         { return "0x13882", nil }
func (f *fakeChain) BlockNumber(context.Context) (uint64, error)     { return 0, nil }
func (f *fakeChain) Header(context.Context, uint64) (types.Header, error) {
	return types.Header{}, types.ErrNoBlock
}
func (f *fakeChain) Balance(context.Context, string) (*big.Int, error) { return big.NewInt(0), nil }
func (f *fakeChain) Logs(context.Context, string, uint64, uint64) ([]types.Log, error) {
	return nil, nil
}
func (f *fakeChain) Close() {}

type fakeSigner struct {
	key    *ecdsa.PrivateKey
	denied bool
}

func (s fakeSigner) Key(string) (*ecdsa.PrivateKey, error) {
	if s.denied {
		return nil, types.ErrSigningDenied
	}
	return s.key, nil
}

func newTestRegistry(t *testing.T, f *fakeChain, signer Signer) *Registry {
	t.Helper()
	if signer == nil {
		key, err := ethcrypto.GenerateKey()
		require.NoError(t, err)
		signer = fakeSigner{key: key}
	}
	return New(f, signer, contractAddr, zerolog.Nop())
}

func ngoTuple(wallet string, name string, approved bool, received, withdrawn int64) rawNGO {
	return rawNGO{
		Wallet:         common.HexToAddress(wallet),
		Name:           name,
		MetadataCID:    "QmMeta" + name,
		Approved:       approved,
		TotalReceived:  big.NewInt(received),
		TotalWithdrawn: big.NewInt(withdrawn),
	}
}

func TestListNGOsDeduplicates(t *testing.T) {
	f := newFakeChain()
	// the same wallet appears twice with differing hex case
	f.returns(t, "getAllNGOs", []common.Address{
		common.HexToAddress(bobAddr),
		common.HexToAddress("0x357945FCDE75A7C6E99CD52D1B10D3FF1B906F66"),
		common.HexToAddress(carolAddr),
	})
	f.on("getNGO", func(data []byte) ([]byte, error) {
		in, err := registryABI.Methods["getNGO"].Inputs.Unpack(data[4:])
		require.NoError(t, err)
		addr := in[0].(common.Address)
		return registryABI.Methods["getNGO"].Outputs.Pack(ngoTuple(addr.Hex(), "org", true, 100, 10))
	})

	r := newTestRegistry(t, f, nil)
	ngos, skipped, err := r.ListNGOs(context.Background(), sess)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, ngos, 2)
	assert.Equal(t, bobAddr, ngos[0].Wallet)
	assert.Equal(t, carolAddr, ngos[1].Wallet)
	assert.Equal(t, "100", ngos[0].TotalReceived.String())
}

func TestListNGOsSkipsUnreadable(t *testing.T) {
	f := newFakeChain()
	f.returns(t, "getAllNGOs", []common.Address{common.HexToAddress(bobAddr), common.HexToAddress(carolAddr)})
	f.on("getNGO", func(data []byte) ([]byte, error) {
		in, err := registryABI.Methods["getNGO"].Inputs.Unpack(data[4:])
		require.NoError(t, err)
		if in[0].(common.Address) == common.HexToAddress(bobAddr) {
			return nil, &types.RevertError{Reason: "corrupt record"}
		}
		return registryABI.Methods["getNGO"].Outputs.Pack(ngoTuple(carolAddr, "carol", true, 5, 0))
	})

	r := newTestRegistry(t, f, nil)
	ngos, skipped, err := r.ListNGOs(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, ngos, 1)
	assert.Equal(t, carolAddr, ngos[0].Wallet)
	assert.Equal(t, []string{bobAddr}, skipped)
}

func TestListNGOsNotConnected(t *testing.T) {
	r := newTestRegistry(t, newFakeChain(), nil)
	_, _, err := r.ListNGOs(context.Background(), types.Session{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestListNGOsRemoteUnavailable(t *testing.T) {
	f := newFakeChain()
	f.on("getAllNGOs", func([]byte) ([]byte, error) { return nil, errors.New("connection refused") })
	r := newTestRegistry(t, f, nil)
	_, _, err := r.ListNGOs(context.Background(), sess)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
}

func donationTuple(id int64, donor, ngo string, amount, ts int64) rawDonation {
	return rawDonation{
		Id:        big.NewInt(id),
		Donor:     common.HexToAddress(donor),
		Ngo:       common.HexToAddress(ngo),
		Amount:    big.NewInt(amount),
		Timestamp: big.NewInt(ts),
	}
}

func TestListDonationsSortedNewestFirst(t *testing.T) {
	f := newFakeChain()
	f.returns(t, "getAllDonations", []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4)})
	tuples := map[int64]rawDonation{
		1: donationTuple(1, aliceAddr, bobAddr, 10, 100),
		2: donationTuple(2, aliceAddr, bobAddr, 20, 300),
		3: donationTuple(3, aliceAddr, carolAddr, 30, 200),
		4: donationTuple(4, aliceAddr, carolAddr, 40, 300),
	}
	f.on("getDonation", func(data []byte) ([]byte, error) {
		in, err := registryABI.Methods["getDonation"].Inputs.Unpack(data[4:])
		require.NoError(t, err)
		return registryABI.Methods["getDonation"].Outputs.Pack(tuples[in[0].(*big.Int).Int64()])
	})

	r := newTestRegistry(t, f, nil)
	ds, skipped, err := r.ListDonations(context.Background(), sess)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, ds, 4)
	// ties at timestamp 300 keep record order
	assert.Equal(t, []uint64{2, 4, 3, 1}, []uint64{ds[0].ID, ds[1].ID, ds[2].ID, ds[3].ID})
}

func TestListDonationsSkipsUnreadable(t *testing.T) {
	f := newFakeChain()
	f.returns(t, "getAllDonations", []*big.Int{big.NewInt(1), big.NewInt(2)})
	f.on("getDonation", func(data []byte) ([]byte, error) {
		in, err := registryABI.Methods["getDonation"].Inputs.Unpack(data[4:])
		require.NoError(t, err)
		if in[0].(*big.Int).Int64() == 1 {
			return nil, errors.New("pruned")
		}
		return registryABI.Methods["getDonation"].Outputs.Pack(donationTuple(2, aliceAddr, bobAddr, 20, 300))
	})

	r := newTestRegistry(t, f, nil)
	ds, skipped, err := r.ListDonations(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, uint64(2), ds[0].ID)
	assert.Equal(t, []uint64{1}, skipped)
}

func TestPendingWithdrawals(t *testing.T) {
	f := newFakeChain()
	f.returns(t, "getAllNGOs", []common.Address{
		common.HexToAddress(bobAddr),   // approved, has balance
		common.HexToAddress(carolAddr), // approved, zero balance
		common.HexToAddress(aliceAddr), // not approved
	})
	f.on("getNGO", func(data []byte) ([]byte, error) {
		in, err := registryABI.Methods["getNGO"].Inputs.Unpack(data[4:])
		require.NoError(t, err)
		addr := in[0].(common.Address)
		approved := addr != common.HexToAddress(aliceAddr)
		return registryABI.Methods["getNGO"].Outputs.Pack(ngoTuple(addr.Hex(), "org", approved, 100, 0))
	})
	f.on("getPendingWithdrawal", func(data []byte) ([]byte, error) {
		in, err := registryABI.Methods["getPendingWithdrawal"].Inputs.Unpack(data[4:])
		require.NoError(t, err)
		amt := big.NewInt(0)
		if in[0].(common.Address) == common.HexToAddress(bobAddr) {
			amt = big.NewInt(75)
		}
		return registryABI.Methods["getPendingWithdrawal"].Outputs.Pack(amt)
	})

	r := newTestRegistry(t, f, nil)
	pending, err := r.PendingWithdrawals(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "75", pending[bobAddr].String())
}

func TestIsOwner(t *testing.T) {
	f := newFakeChain()
	f.returns(t, "owner", common.HexToAddress(aliceAddr))
	r := newTestRegistry(t, f, nil)

	assert.True(t, r.IsOwner(context.Background(), sess))
	assert.False(t, r.IsOwner(context.Background(), types.Session{Account: bobAddr, ChainID: "0x13882"}))
	assert.False(t, r.IsOwner(context.Background(), types.Session{}))

	// any failure reads as not owner
	f.on("owner", func([]byte) ([]byte, error) { return nil, errors.New("timeout") })
	assert.False(t, r.IsOwner(context.Background(), sess))
}

func TestDonateSubmitsValueAndCalldata(t *testing.T) {
	f := newFakeChain()
	r := newTestRegistry(t, f, nil)

	err := r.Donate(context.Background(), sess, bobAddr, "0.25", "keep it up")
	require.NoError(t, err)
	require.Len(t, f.sent, 1)
	assert.Equal(t, contractAddr, f.sent[0].to)
	assert.Equal(t, "250000000000000000", f.sent[0].value.String())

	in, err := registryABI.Methods["donate"].Inputs.Unpack(f.sent[0].data[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(bobAddr), in[0].(common.Address))
	assert.Equal(t, "keep it up", in[1].(string))
}

func TestDonateBadAmount(t *testing.T) {
	r := newTestRegistry(t, newFakeChain(), nil)
	for _, amt := range []string{"", "1.2.3", "-5", "abc", "0.1234567890123456789"} {
		err := r.Donate(context.Background(), sess, bobAddr, amt, "")
		assert.ErrorIs(t, err, ErrBadAmount, "amount %q", amt)
	}
}

func TestDonateInsufficientFunds(t *testing.T) {
	f := newFakeChain()
	f.sendErr = types.ErrInsufficientFunds
	r := newTestRegistry(t, f, nil)
	err := r.Donate(context.Background(), sess, bobAddr, "1", "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestWriteSigningDenied(t *testing.T) {
	r := newTestRegistry(t, newFakeChain(), fakeSigner{denied: true})
	err := r.RegisterNGO(context.Background(), sess, "org", "QmMeta", "", "", "")
	assert.ErrorIs(t, err, ErrUserRejected)
	assert.NotErrorIs(t, err, ErrRemoteRejected)
}

func TestWriteRevertCarriesReason(t *testing.T) {
	f := newFakeChain()
	f.mineErr = &types.RevertError{Reason: "NGO not approved"}
	r := newTestRegistry(t, f, nil)

	err := r.Withdraw(context.Background(), sess, "0.5")
	assert.ErrorIs(t, err, ErrRemoteRejected)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "NGO not approved", remote.Reason)
}

func TestWriteNotConnected(t *testing.T) {
	r := newTestRegistry(t, newFakeChain(), nil)
	none := types.Session{}
	assert.ErrorIs(t, r.RegisterNGO(context.Background(), none, "o", "m", "", "", ""), ErrNotConnected)
	assert.ErrorIs(t, r.Donate(context.Background(), none, bobAddr, "1", ""), ErrNotConnected)
	assert.ErrorIs(t, r.Withdraw(context.Background(), none, "1"), ErrNotConnected)
	assert.ErrorIs(t, r.AddProof(context.Background(), none, 1, "QmProof"), ErrNotConnected)
}

func TestApproveNGOCalldata(t *testing.T) {
	f := newFakeChain()
	r := newTestRegistry(t, f, nil)
	require.NoError(t, r.ApproveNGO(context.Background(), sess, carolAddr, true))
	require.Len(t, f.sent, 1)
	in, err := registryABI.Methods["approveNGO"].Inputs.Unpack(f.sent[0].data[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(carolAddr), in[0].(common.Address))
	assert.Equal(t, true, in[1].(bool))
}
