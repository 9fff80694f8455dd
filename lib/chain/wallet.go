package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tarancss/hd"

	"github.com/openimpact/dtrack/lib/chain/types"
	"github.com/openimpact/dtrack/lib/config"
	"github.com/openimpact/dtrack/lib/util"
)

// Wallet is the capability a connector needs from an account provider: authorized accounts, a signing key per
// account, and the chain registry used for network switching. A provider may refuse to hand out a key
// (types.ErrSigningDenied); that refusal is how a declined action surfaces.
type Wallet interface {
	Accounts(ctx context.Context) ([]string, error)
	Key(account string) (*ecdsa.PrivateKey, error)
	SwitchChain(ctx context.Context, chainID string) error
	AddChain(ctx context.Context, net config.NetworkConfig) error
}

// HDWallet implements Wallet over a hierarchical deterministic wallet. Accounts are derived from the configured seed
// at external indexes 0..n-1. Individual accounts can be locked, making signing requests fail as denied.
type HDWallet struct {
	mu       sync.Mutex
	accounts []string
	keys     map[string]*ecdsa.PrivateKey
	locked   map[string]bool
	known    map[string]config.NetworkConfig // chainID -> descriptor
	active   string                          // active chainID
}

// NewHDWallet derives n accounts from the hex seed and registers the given network descriptors, activating the first.
func NewHDWallet(seedHex string, n int, nets []config.NetworkConfig) (*HDWallet, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("cannot decode seed: %w", err)
	}
	hdw, err := hd.Init(seed)
	if err != nil {
		return nil, fmt.Errorf("cannot init HD wallet: %w", err)
	}

	w := &HDWallet{
		keys:   make(map[string]*ecdsa.PrivateKey, n),
		locked: make(map[string]bool),
		known:  make(map[string]config.NetworkConfig, len(nets)),
	}
	for i := 0; i < n; i++ {
		addr, key, _, err := hdw.Address(0, hd.External, uint32(i))
		if err != nil {
			return nil, fmt.Errorf("cannot derive account %d: %w", i, err)
		}
		pk, err := ethcrypto.ToECDSA(key)
		if err != nil {
			return nil, fmt.Errorf("cannot load key for account %d: %w", i, err)
		}
		a := util.LowerAddr("0x" + hex.EncodeToString(addr))
		w.accounts = append(w.accounts, a)
		w.keys[a] = pk
	}
	for i, net := range nets {
		w.known[net.ChainID] = net
		if i == 0 {
			w.active = net.ChainID
		}
	}
	return w, nil
}

// Accounts returns the authorized account addresses.
func (w *HDWallet) Accounts(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.accounts))
	copy(out, w.accounts)
	return out, nil
}

// Key returns the signing key for the account, or types.ErrSigningDenied when the account is locked.
func (w *HDWallet) Key(account string) (*ecdsa.PrivateKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a := util.LowerAddr(account)
	if w.locked[a] {
		return nil, types.ErrSigningDenied
	}
	k, ok := w.keys[a]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", types.ErrSigningDenied, a)
	}
	return k, nil
}

// SwitchChain activates a registered chain, or types.ErrUnknownChain when the descriptor was never added.
func (w *HDWallet) SwitchChain(ctx context.Context, chainID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.known[chainID]; !ok {
		return types.ErrUnknownChain
	}
	w.active = chainID
	return nil
}

// AddChain registers a network descriptor with the wallet.
func (w *HDWallet) AddChain(ctx context.Context, net config.NetworkConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.known[net.ChainID] = net
	return nil
}

// ActiveChain returns the chain id the wallet currently points at.
func (w *HDWallet) ActiveChain() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Lock marks an account as refusing to sign; Unlock reverses it.
func (w *HDWallet) Lock(account string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.locked[util.LowerAddr(account)] = true
}

// Unlock re-enables signing for an account.
func (w *HDWallet) Unlock(account string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.locked, util.LowerAddr(account))
}
