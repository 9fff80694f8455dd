// Package ethereum implements the chain interface for ethereum networks using the go-ethereum client.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/openimpact/dtrack/lib/chain/types"
)

// receiptPoll is how often a pending transaction is re-checked for its receipt.
const receiptPoll = 2 * time.Second

// Ethereum implements a connection to an ethereum-type chain.
type Ethereum struct {
	c  *ethclient.Client
	id *big.Int // cached chain id
}

// Init returns a connection to an ethereum node.
func Init(node string) (*Ethereum, error) {
	c, err := ethclient.Dial(node)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to ethereum node %s: %w", node, err)
	}
	return &Ethereum{c: c}, nil
}

// Close ends the connection.
func (e *Ethereum) Close() {
	e.c.Close()
}

// ChainID returns the hex-encoded chain identifier of the connected network.
func (e *Ethereum) ChainID(ctx context.Context) (string, error) {
	id, err := e.chainID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("0x%x", id), nil
}

func (e *Ethereum) chainID(ctx context.Context) (*big.Int, error) {
	if e.id != nil {
		return e.id, nil
	}
	id, err := e.c.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot get chain id: %w", err)
	}
	e.id = id
	return id, nil
}

// BlockNumber returns the number of the latest mined block.
func (e *Ethereum) BlockNumber(ctx context.Context) (uint64, error) {
	return e.c.BlockNumber(ctx)
}

// Header returns the header of the requested block number.
func (e *Ethereum) Header(ctx context.Context, number uint64) (types.Header, error) {
	h, err := e.c.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		if errors.Is(err, geth.NotFound) {
			return types.Header{}, types.ErrNoBlock
		}
		return types.Header{}, err
	}
	return types.Header{
		Hash:   h.Hash().Hex(),
		PHash:  h.ParentHash.Hex(),
		Number: h.Number.Uint64(),
		TS:     h.Time,
	}, nil
}

// Balance returns the native-currency balance of the account in smallest units.
func (e *Ethereum) Balance(ctx context.Context, account string) (*big.Int, error) {
	return e.c.BalanceAt(ctx, common.HexToAddress(account), nil)
}

// Call executes a read-only contract call and returns the raw ABI-encoded result.
func (e *Ethereum) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	addr := common.HexToAddress(to)
	out, err := e.c.CallContract(ctx, geth.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, normalize(err)
	}
	return out, nil
}

// Send signs and submits a state-changing transaction with the given key, returning the transaction hash. The value,
// when non-nil, is attached in smallest units. Gas price and limit are taken from the node.
func (e *Ethereum) Send(ctx context.Context, from, to string, key *ecdsa.PrivateKey, value *big.Int,
	data []byte) (string, error) {
	fromAddr := common.HexToAddress(from)
	toAddr := common.HexToAddress(to)

	nonce, err := e.c.PendingNonceAt(ctx, fromAddr)
	if err != nil {
		return "", fmt.Errorf("cannot get nonce: %w", err)
	}
	price, err := e.c.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("cannot get gas price: %w", err)
	}
	gas, err := e.c.EstimateGas(ctx, geth.CallMsg{From: fromAddr, To: &toAddr, Value: value, Data: data})
	if err != nil {
		return "", normalize(err)
	}

	id, err := e.chainID(ctx)
	if err != nil {
		return "", err
	}
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      gas,
		To:       &toAddr,
		Value:    value,
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(id), key)
	if err != nil {
		return "", fmt.Errorf("cannot sign transaction: %w", err)
	}
	if err = e.c.SendTransaction(ctx, signed); err != nil {
		return "", normalize(err)
	}
	return signed.Hash().Hex(), nil
}

// WaitMined blocks until the transaction is confirmed or ctx ends. A transaction mined with a failed status returns
// types.ErrReverted.
func (e *Ethereum) WaitMined(ctx context.Context, hash string) error {
	h := common.HexToHash(hash)
	t := time.NewTicker(receiptPoll)
	defer t.Stop()
	for {
		rcpt, err := e.c.TransactionReceipt(ctx, h)
		if err == nil {
			if rcpt.Status == ethtypes.ReceiptStatusFailed {
				return types.ErrReverted
			}
			return nil
		}
		if !errors.Is(err, geth.NotFound) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Logs returns the logs emitted by the contract in the block range [from, to], both inclusive.
func (e *Ethereum) Logs(ctx context.Context, contract string, from, to uint64) ([]types.Log, error) {
	raw, err := e.c.FilterLogs(ctx, geth.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{common.HexToAddress(contract)},
	})
	if err != nil {
		return nil, err
	}
	logs := make([]types.Log, 0, len(raw))
	for _, lg := range raw {
		topics := make([]string, len(lg.Topics))
		for i, tp := range lg.Topics {
			topics[i] = tp.Hex()
		}
		logs = append(logs, types.Log{
			Address: strings.ToLower(lg.Address.Hex()),
			Topics:  topics,
			Data:    hexutil.Encode(lg.Data),
			Block:   lg.BlockNumber,
			TxHash:  lg.TxHash.Hex(),
			Index:   lg.Index,
			Removed: lg.Removed,
		})
	}
	return logs, nil
}

// PubKeyAddress derives the hex address of an ECDSA private key.
func PubKeyAddress(key *ecdsa.PrivateKey) string {
	return strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
}

// normalize maps the node's error text onto the chain error taxonomy so callers do not have to string-match.
func normalize(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "insufficient funds") {
		return fmt.Errorf("%w: %s", types.ErrInsufficientFunds, msg)
	}
	if i := strings.Index(msg, "execution reverted"); i >= 0 {
		reason := strings.TrimPrefix(msg[i:], "execution reverted")
		reason = strings.TrimLeft(reason, ": ")
		return &types.RevertError{Reason: reason}
	}
	return err
}
