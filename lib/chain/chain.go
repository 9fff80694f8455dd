// Package chain defines the interface required for all blockchain or network connections, plus the wallet session
// connector built on top of them.
package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/openimpact/dtrack/lib/chain/ethereum"
	"github.com/openimpact/dtrack/lib/chain/types"
	"github.com/openimpact/dtrack/lib/config"
)

// Chain is an interface that contains the required methods against a remote ledger. It has been designed to be as
// much standard as possible, however, there may be specific networks that would require different types or more
// methods.
type Chain interface {
	ChainID(ctx context.Context) (string, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Header(ctx context.Context, number uint64) (types.Header, error)
	Balance(ctx context.Context, account string) (*big.Int, error)
	Call(ctx context.Context, to string, data []byte) ([]byte, error)
	Send(ctx context.Context, from, to string, key *ecdsa.PrivateKey, value *big.Int, data []byte) (string, error)
	WaitMined(ctx context.Context, hash string) error
	Logs(ctx context.Context, contract string, from, to uint64) ([]types.Log, error)
	Close()
}

// Dial connects a client to the network described by the descriptor.
func Dial(net config.NetworkConfig) (Chain, error) {
	return ethereum.Init(net.Node())
}
