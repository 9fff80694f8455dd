// Package types common chain types.
package types

import (
	"errors"
	"fmt"
)

// Header contains a simplified list of block header fields.
type Header struct {
	Hash   string `json:"hash"`
	PHash  string `json:"parentHash"`
	Number uint64 `json:"number"`
	TS     uint64 `json:"timestamp"`
}

// Log is an entry emitted by a contract. Topics and Data keep the raw encoded
// form so the registry layer can decode them against its ABI.
type Log struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"` // hex-encoded, 0x-prefixed
	Block   uint64   `json:"block"`
	TxHash  string   `json:"txHash"`
	Index   uint     `json:"index"`
	Removed bool     `json:"removed"`
}

// Session is the ephemeral authenticated-account context established by connecting a wallet. The zero value is the
// disconnected session. Sessions are immutable values: only the connector produces them, everyone else receives them
// read-only at call time.
type Session struct {
	Account string `json:"account"` // canonical lowercase address, empty when disconnected
	ChainID string `json:"chainId"` // hex chain identifier of the active network
	Owner   bool   `json:"owner"`   // true when the account is the registry administrator
}

// Connected reports whether the session holds an authenticated account.
func (s Session) Connected() bool {
	return s.Account != ""
}

// Error codes.
var (
	ErrNoBlock           = errors.New("block not available yet")
	ErrNoWallet          = errors.New("no wallet detected")
	ErrNoAccounts        = errors.New("wallet authorized zero accounts")
	ErrUnknownChain      = errors.New("chain not registered with wallet")
	ErrSwitchFailed      = errors.New("network switch failed")
	ErrSigningDenied     = errors.New("signing denied by wallet")
	ErrInsufficientFunds = errors.New("insufficient funds for transaction")
	ErrReverted          = errors.New("transaction reverted")
)

// RevertError carries the reason the remote node gave for rejecting a call, when it gave one.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return fmt.Sprintf("execution reverted: %s", e.Reason)
}

// Is lets callers match any RevertError against ErrReverted.
func (e *RevertError) Is(target error) bool {
	return target == ErrReverted
}
