package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openimpact/dtrack/lib/chain/types"
	"github.com/openimpact/dtrack/lib/config"
	"github.com/openimpact/dtrack/lib/util"
)

// OwnerFunc reports whether the session account is the registry administrator. It is injected so the connector does
// not depend on the registry layer.
type OwnerFunc func(ctx context.Context, s types.Session) bool

// Connector manages the wallet session: it requests account authorization, verifies or switches the active network,
// and exposes the connect/disconnect lifecycle plus account-change and network-change subscriptions. The session is
// process-wide singleton state; only the connector mutates it.
type Connector struct {
	mu       sync.Mutex
	wallet   Wallet
	target   config.NetworkConfig
	c        Chain
	isOwner  OwnerFunc
	sess     types.Session
	acctSubs map[int]func(string)
	netSubs  map[int]func(string)
	nextSub  int
	log      zerolog.Logger
}

// NewConnector returns a connector over the given wallet and chain client targeting the configured network. The
// wallet may be nil, in which case Connect fails with types.ErrNoWallet. ownerFn may be nil.
func NewConnector(w Wallet, c Chain, target config.NetworkConfig, ownerFn OwnerFunc, lg zerolog.Logger) *Connector {
	return &Connector{
		wallet:   w,
		target:   target,
		c:        c,
		isOwner:  ownerFn,
		acctSubs: make(map[int]func(string)),
		netSubs:  make(map[int]func(string)),
		log:      lg,
	}
}

// Connect requests account authorization from the wallet, verifies the active network (switching or registering the
// target when needed) and establishes the session. It returns the new session or the typed failure.
func (cn *Connector) Connect(ctx context.Context) (types.Session, error) {
	cn.mu.Lock()
	wallet := cn.wallet
	cn.mu.Unlock()

	if wallet == nil {
		return types.Session{}, types.ErrNoWallet
	}
	accts, err := wallet.Accounts(ctx)
	if err != nil {
		return types.Session{}, fmt.Errorf("cannot authorize accounts: %w", err)
	}
	if len(accts) == 0 {
		return types.Session{}, types.ErrNoAccounts
	}

	// check the wallet points at the target network
	id, err := cn.c.ChainID(ctx)
	if err != nil {
		return types.Session{}, fmt.Errorf("cannot read active network: %w", err)
	}
	if id != cn.target.ChainID {
		if err = cn.switchNetwork(ctx, wallet); err != nil {
			return types.Session{}, err
		}
	}

	sess := types.Session{Account: util.LowerAddr(accts[0]), ChainID: cn.target.ChainID}
	if cn.isOwner != nil {
		sess.Owner = cn.isOwner(ctx, sess)
	}

	cn.mu.Lock()
	cn.sess = sess
	cn.mu.Unlock()
	cn.log.Info().Str("account", sess.Account).Str("chain", sess.ChainID).Bool("owner", sess.Owner).
		Msg("wallet connected")
	return sess, nil
}

// switchNetwork asks the wallet to move to the target chain, registering the descriptor first when the wallet does
// not know it.
func (cn *Connector) switchNetwork(ctx context.Context, wallet Wallet) error {
	err := wallet.SwitchChain(ctx, cn.target.ChainID)
	if errors.Is(err, types.ErrUnknownChain) {
		if err = wallet.AddChain(ctx, cn.target); err != nil {
			return fmt.Errorf("%w: cannot register %s: %v", types.ErrSwitchFailed, cn.target.ChainName, err)
		}
		err = wallet.SwitchChain(ctx, cn.target.ChainID)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrSwitchFailed, err)
	}
	return nil
}

// Disconnect clears the session. It is idempotent and never fails.
func (cn *Connector) Disconnect() {
	cn.mu.Lock()
	was := cn.sess.Account
	cn.sess = types.Session{}
	cn.mu.Unlock()
	if was != "" {
		cn.log.Info().Str("account", was).Msg("wallet disconnected")
	}
}

// Session returns the current session value.
func (cn *Connector) Session() types.Session {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.sess
}

// OnAccountChanged subscribes h to account changes; the returned function unsubscribes. The handler receives the new
// active account, or the empty string on a forced disconnect.
func (cn *Connector) OnAccountChanged(h func(account string)) (unsubscribe func()) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	id := cn.nextSub
	cn.nextSub++
	cn.acctSubs[id] = h
	return func() {
		cn.mu.Lock()
		delete(cn.acctSubs, id)
		cn.mu.Unlock()
	}
}

// OnNetworkChanged subscribes h to chain changes; the returned function unsubscribes. A chain change always destroys
// the session: the host is expected to re-initialize rather than repair in place, since the registry contract address
// is network-specific.
func (cn *Connector) OnNetworkChanged(h func(chainID string)) (unsubscribe func()) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	id := cn.nextSub
	cn.nextSub++
	cn.netSubs[id] = h
	return func() {
		cn.mu.Lock()
		delete(cn.netSubs, id)
		cn.mu.Unlock()
	}
}

// AccountsChanged is the wallet's report of a changed account set. An empty set forces disconnect; otherwise the
// first account becomes active. Subscribers are notified either way.
func (cn *Connector) AccountsChanged(accounts []string) {
	var active string
	cn.mu.Lock()
	if len(accounts) == 0 {
		cn.sess = types.Session{}
	} else if cn.sess.Connected() {
		active = util.LowerAddr(accounts[0])
		cn.sess.Account = active
	}
	subs := make([]func(string), 0, len(cn.acctSubs))
	for _, h := range cn.acctSubs {
		subs = append(subs, h)
	}
	cn.mu.Unlock()

	cn.log.Info().Str("account", active).Msg("wallet accounts changed")
	for _, h := range subs {
		h(active)
	}
}

// NetworkChanged is the wallet's report of a chain change. The session is destroyed and subscribers notified with the
// new chain id.
func (cn *Connector) NetworkChanged(chainID string) {
	cn.mu.Lock()
	cn.sess = types.Session{}
	subs := make([]func(string), 0, len(cn.netSubs))
	for _, h := range cn.netSubs {
		subs = append(subs, h)
	}
	cn.mu.Unlock()

	cn.log.Warn().Str("chain", chainID).Msg("network changed, session dropped")
	for _, h := range subs {
		h(chainID)
	}
}
