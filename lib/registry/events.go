package registry

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openimpact/dtrack/lib/chain/types"
	"github.com/openimpact/dtrack/lib/util"
)

// EventKind names a registry contract event.
type EventKind string

const (
	EventNGORegistered  EventKind = "ngo_registered"
	EventNGOApproved    EventKind = "ngo_approved"
	EventDonationMade   EventKind = "donation_made"
	EventProofAdded     EventKind = "proof_added"
	EventWithdrawalMade EventKind = "withdrawal_made"
)

// Event is a decoded registry contract event. Fields beyond Kind, Block and TxHash are populated per kind.
type Event struct {
	Kind       EventKind `json:"kind"`
	Block      uint64    `json:"block"`
	TxHash     string    `json:"txHash"`
	NGO        string    `json:"ngo,omitempty"`
	Donor      string    `json:"donor,omitempty"`
	DonationID uint64    `json:"donationId,omitempty"`
	Amount     *Units    `json:"amount,omitempty"`
	Name       string    `json:"name,omitempty"`
	Message    string    `json:"message,omitempty"`
	CID        string    `json:"cid,omitempty"`
	Approved   bool      `json:"approved,omitempty"`
}

// ParseEvent decodes a chain log emitted by the registry contract. It reports false for logs from other
// contracts or with unknown signatures.
func ParseEvent(lg types.Log) (Event, bool) {
	if len(lg.Topics) == 0 {
		return Event{}, false
	}
	ev := Event{Block: lg.Block, TxHash: lg.TxHash}
	data := common.FromHex(lg.Data)
	switch lg.Topics[0] {
	case registryABI.Events["NGORegistered"].ID.Hex():
		if len(lg.Topics) < 2 {
			return Event{}, false
		}
		ev.Kind = EventNGORegistered
		ev.NGO = topicAddr(lg.Topics[1])
		m := make(map[string]interface{})
		if err := registryABI.UnpackIntoMap(m, "NGORegistered", data); err != nil {
			return Event{}, false
		}
		ev.Name, _ = m["name"].(string)
	case registryABI.Events["NGOApproved"].ID.Hex():
		if len(lg.Topics) < 2 {
			return Event{}, false
		}
		ev.Kind = EventNGOApproved
		ev.NGO = topicAddr(lg.Topics[1])
		m := make(map[string]interface{})
		if err := registryABI.UnpackIntoMap(m, "NGOApproved", data); err != nil {
			return Event{}, false
		}
		ev.Approved, _ = m["approved"].(bool)
	case registryABI.Events["DonationMade"].ID.Hex():
		if len(lg.Topics) < 4 {
			return Event{}, false
		}
		ev.Kind = EventDonationMade
		ev.DonationID = topicUint(lg.Topics[1])
		ev.Donor = topicAddr(lg.Topics[2])
		ev.NGO = topicAddr(lg.Topics[3])
		m := make(map[string]interface{})
		if err := registryABI.UnpackIntoMap(m, "DonationMade", data); err != nil {
			return Event{}, false
		}
		if amt, ok := m["amount"].(*big.Int); ok {
			ev.Amount = NewUnits(amt)
		}
		ev.Message, _ = m["message"].(string)
	case registryABI.Events["ProofAdded"].ID.Hex():
		if len(lg.Topics) < 2 {
			return Event{}, false
		}
		ev.Kind = EventProofAdded
		ev.DonationID = topicUint(lg.Topics[1])
		m := make(map[string]interface{})
		if err := registryABI.UnpackIntoMap(m, "ProofAdded", data); err != nil {
			return Event{}, false
		}
		ev.CID, _ = m["cid"].(string)
	case registryABI.Events["WithdrawalMade"].ID.Hex():
		if len(lg.Topics) < 2 {
			return Event{}, false
		}
		ev.Kind = EventWithdrawalMade
		ev.NGO = topicAddr(lg.Topics[1])
		m := make(map[string]interface{})
		if err := registryABI.UnpackIntoMap(m, "WithdrawalMade", data); err != nil {
			return Event{}, false
		}
		if amt, ok := m["amount"].(*big.Int); ok {
			ev.Amount = NewUnits(amt)
		}
	default:
		return Event{}, false
	}
	return ev, true
}

func topicAddr(topic string) string {
	return util.LowerAddr(common.HexToAddress(topic).Hex())
}

func topicUint(topic string) uint64 {
	return new(big.Int).SetBytes(common.FromHex(topic)).Uint64()
}
