// Package registry reads and writes the donation registry contract on behalf of a connected wallet session. Reads
// fold per-record failures into a skipped list so one bad record never hides the rest; writes normalize every
// failure into the session, funds or rejection errors defined in this package.
package registry

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/openimpact/dtrack/lib/chain"
	"github.com/openimpact/dtrack/lib/chain/types"
	"github.com/openimpact/dtrack/lib/util"
)

// Signer hands out the private key for a session account. A locked or unknown account yields
// types.ErrSigningDenied.
type Signer interface {
	Key(account string) (*ecdsa.PrivateKey, error)
}

// Registry is the contract client. All operations take the caller's session; reads and writes alike refuse a
// disconnected session with ErrNotConnected.
type Registry struct {
	c        chain.Chain
	signer   Signer
	contract string
	log      zerolog.Logger
}

// New builds a Registry against the given chain client and contract address.
func New(c chain.Chain, signer Signer, contract string, lg zerolog.Logger) *Registry {
	return &Registry{c: c, signer: signer, contract: util.LowerAddr(contract), log: lg.With().Str("contract", util.LowerAddr(contract)).Logger()}
}

// Contract returns the registry contract address.
func (r *Registry) Contract() string {
	return r.contract
}

func (r *Registry) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := registryABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := r.c.Call(ctx, r.contract, data)
	if err != nil {
		return nil, err
	}
	res, err := registryABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return res, nil
}

func (r *Registry) getNGO(ctx context.Context, addr common.Address) (NGO, error) {
	out, err := r.call(ctx, "getNGO", addr)
	if err != nil {
		return NGO{}, err
	}
	raw := *abiConvert(out[0], new(rawNGO))
	return NGO{
		Wallet:         util.LowerAddr(raw.Wallet.Hex()),
		Name:           raw.Name,
		MetadataCID:    raw.MetadataCID,
		Approved:       raw.Approved,
		TotalReceived:  NewUnits(raw.TotalReceived),
		TotalWithdrawn: NewUnits(raw.TotalWithdrawn),
		Description:    raw.Description,
		Website:        raw.Website,
		Contact:        raw.Contact,
	}, nil
}

func (r *Registry) getDonation(ctx context.Context, id *big.Int) (Donation, error) {
	out, err := r.call(ctx, "getDonation", id)
	if err != nil {
		return Donation{}, err
	}
	raw := *abiConvert(out[0], new(rawDonation))
	return Donation{
		ID:        raw.Id.Uint64(),
		Donor:     util.LowerAddr(raw.Donor.Hex()),
		NGO:       util.LowerAddr(raw.Ngo.Hex()),
		Amount:    NewUnits(raw.Amount),
		Timestamp: raw.Timestamp.Int64(),
		Message:   raw.Message,
		ProofCID:  raw.ProofCID,
	}, nil
}

// ListNGOs returns all registered organizations, deduplicated by wallet address case-insensitively. Organizations
// whose record cannot be fetched are skipped and their wallet addresses returned alongside the results.
func (r *Registry) ListNGOs(ctx context.Context, s types.Session) ([]NGO, []string, error) {
	if !s.Connected() {
		return nil, nil, ErrNotConnected
	}
	out, err := r.call(ctx, "getAllNGOs")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	addrs := out[0].([]common.Address)
	ngos := make([]NGO, 0, len(addrs))
	var skipped []string
	seen := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		w := util.LowerAddr(a.Hex())
		if seen[w] {
			continue
		}
		seen[w] = true
		n, err := r.getNGO(ctx, a)
		if err != nil {
			r.log.Warn().Str("wallet", w).Err(err).Msg("skipping unreadable organization record")
			skipped = append(skipped, w)
			continue
		}
		ngos = append(ngos, n)
	}
	return ngos, skipped, nil
}

// ListDonations returns all donations, newest first with ties kept in record order. Donations whose record cannot
// be fetched are skipped and their identifiers returned alongside the results.
func (r *Registry) ListDonations(ctx context.Context, s types.Session) ([]Donation, []uint64, error) {
	if !s.Connected() {
		return nil, nil, ErrNotConnected
	}
	out, err := r.call(ctx, "getAllDonations")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return r.fetchDonations(ctx, out[0].([]*big.Int))
}

// DonationsByNGO returns the donations made to one organization, newest first.
func (r *Registry) DonationsByNGO(ctx context.Context, s types.Session, wallet string) ([]Donation, []uint64, error) {
	if !s.Connected() {
		return nil, nil, ErrNotConnected
	}
	out, err := r.call(ctx, "getDonationsByNGO", common.HexToAddress(wallet))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return r.fetchDonations(ctx, out[0].([]*big.Int))
}

func (r *Registry) fetchDonations(ctx context.Context, ids []*big.Int) ([]Donation, []uint64, error) {
	ds := make([]Donation, 0, len(ids))
	var skipped []uint64
	for _, id := range ids {
		d, err := r.getDonation(ctx, id)
		if err != nil {
			r.log.Warn().Uint64("donation", id.Uint64()).Err(err).Msg("skipping unreadable donation record")
			skipped = append(skipped, id.Uint64())
			continue
		}
		ds = append(ds, d)
	}
	sort.SliceStable(ds, func(i, j int) bool { return ds[i].Timestamp > ds[j].Timestamp })
	return ds, skipped, nil
}

// PendingWithdrawals returns the withdrawable balance per approved organization wallet. Organizations whose
// balance cannot be fetched, or is zero, are omitted.
func (r *Registry) PendingWithdrawals(ctx context.Context, s types.Session) (map[string]*Units, error) {
	ngos, _, err := r.ListNGOs(ctx, s)
	if err != nil {
		return nil, err
	}
	pending := make(map[string]*Units)
	for _, n := range ngos {
		if !n.Approved {
			continue
		}
		out, err := r.call(ctx, "getPendingWithdrawal", common.HexToAddress(n.Wallet))
		if err != nil {
			r.log.Warn().Str("wallet", n.Wallet).Err(err).Msg("skipping unreadable pending withdrawal")
			continue
		}
		amt := out[0].(*big.Int)
		if amt.Sign() == 0 {
			continue
		}
		pending[n.Wallet] = NewUnits(amt)
	}
	return pending, nil
}

// Owner returns the contract owner address.
func (r *Registry) Owner(ctx context.Context) (string, error) {
	out, err := r.call(ctx, "owner")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return util.LowerAddr(out[0].(common.Address).Hex()), nil
}

// IsOwner reports whether the session account is the contract owner. Any failure reads as false.
func (r *Registry) IsOwner(ctx context.Context, s types.Session) bool {
	if !s.Connected() {
		return false
	}
	owner, err := r.Owner(ctx)
	if err != nil {
		return false
	}
	return util.SameAddr(owner, s.Account)
}

// RegisterNGO submits a registration for the session account's organization. The record starts unapproved.
func (r *Registry) RegisterNGO(ctx context.Context, s types.Session, name, metadataCID, description, website, contact string) error {
	return r.send(ctx, s, nil, false, "registerNGO", name, metadataCID, description, website, contact)
}

// ApproveNGO sets an organization's approval flag. Only the contract owner may call it; the ledger rejects
// anyone else.
func (r *Registry) ApproveNGO(ctx context.Context, s types.Session, wallet string, approved bool) error {
	return r.send(ctx, s, nil, false, "approveNGO", common.HexToAddress(wallet), approved)
}

// Donate transfers the display-unit amount to an organization with an optional message. The recipient is not
// checked locally; an unknown or unapproved recipient is the ledger's call to reject.
func (r *Registry) Donate(ctx context.Context, s types.Session, wallet, amount, message string) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	wei, err := ToWei(amount)
	if err != nil {
		return err
	}
	return r.send(ctx, s, wei, true, "donate", common.HexToAddress(wallet), message)
}

// AddProof attaches a content identifier to a donation. The contract rejects a second proof for the same
// donation.
func (r *Registry) AddProof(ctx context.Context, s types.Session, donationID uint64, cid string) error {
	return r.send(ctx, s, nil, false, "addProof", new(big.Int).SetUint64(donationID), cid)
}

// Withdraw moves the display-unit amount of the session organization's pending balance to its wallet.
func (r *Registry) Withdraw(ctx context.Context, s types.Session, amount string) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	wei, err := ToWei(amount)
	if err != nil {
		return err
	}
	return r.send(ctx, s, nil, false, "withdraw", wei)
}

// TransferOwnership hands the contract to a new owner address.
func (r *Registry) TransferOwnership(ctx context.Context, s types.Session, newOwner string) error {
	return r.send(ctx, s, nil, false, "transferOwnership", common.HexToAddress(newOwner))
}

func (r *Registry) send(ctx context.Context, s types.Session, value *big.Int, funded bool, method string, args ...interface{}) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	key, err := r.signer.Key(s.Account)
	if err != nil {
		return normalizeWrite(err, funded)
	}
	data, err := registryABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	hash, err := r.c.Send(ctx, s.Account, r.contract, key, value, data)
	if err != nil {
		return normalizeWrite(err, funded)
	}
	if err := r.c.WaitMined(ctx, hash); err != nil {
		return normalizeWrite(err, funded)
	}
	r.log.Info().Str("method", method).Str("tx", hash).Str("from", s.Account).Msg("submission mined")
	return nil
}

// normalizeWrite folds every submission failure into the error taxonomy callers handle: a declined signature, a
// funds shortfall on funded calls, or a ledger rejection carrying the stated reason when one exists.
func normalizeWrite(err error, funded bool) error {
	switch {
	case errors.Is(err, types.ErrSigningDenied):
		return fmt.Errorf("%w: %v", ErrUserRejected, err)
	case funded && errors.Is(err, types.ErrInsufficientFunds):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	var rev *types.RevertError
	if errors.As(err, &rev) {
		return &RemoteError{Reason: rev.Reason}
	}
	if errors.Is(err, types.ErrReverted) {
		return &RemoteError{}
	}
	return &RemoteError{Reason: err.Error()}
}
