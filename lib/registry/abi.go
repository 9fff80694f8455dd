package registry

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// registryABIJSON mirrors the donation registry contract interface.
const registryABIJSON = `[
{"type":"function","name":"registerNGO","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"},{"name":"metadataCID","type":"string"},{"name":"description","type":"string"},{"name":"website","type":"string"},{"name":"contact","type":"string"}],"outputs":[]},
{"type":"function","name":"approveNGO","stateMutability":"nonpayable","inputs":[{"name":"ngoWallet","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
{"type":"function","name":"getNGO","stateMutability":"view","inputs":[{"name":"ngoWallet","type":"address"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"wallet","type":"address"},{"name":"name","type":"string"},{"name":"metadataCID","type":"string"},{"name":"approved","type":"bool"},{"name":"totalReceived","type":"uint256"},{"name":"totalWithdrawn","type":"uint256"},{"name":"description","type":"string"},{"name":"website","type":"string"},{"name":"contact","type":"string"}]}]},
{"type":"function","name":"getAllNGOs","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
{"type":"function","name":"donate","stateMutability":"payable","inputs":[{"name":"ngoWallet","type":"address"},{"name":"message","type":"string"}],"outputs":[]},
{"type":"function","name":"getDonation","stateMutability":"view","inputs":[{"name":"donationId","type":"uint256"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"id","type":"uint256"},{"name":"donor","type":"address"},{"name":"ngo","type":"address"},{"name":"amount","type":"uint256"},{"name":"timestamp","type":"uint256"},{"name":"message","type":"string"},{"name":"proofCID","type":"string"}]}]},
{"type":"function","name":"getDonationsByNGO","stateMutability":"view","inputs":[{"name":"ngoWallet","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
{"type":"function","name":"getAllDonations","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},
{"type":"function","name":"addProof","stateMutability":"nonpayable","inputs":[{"name":"donationId","type":"uint256"},{"name":"cid","type":"string"}],"outputs":[]},
{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"getPendingWithdrawal","stateMutability":"view","inputs":[{"name":"ngoWallet","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"transferOwnership","stateMutability":"nonpayable","inputs":[{"name":"newOwner","type":"address"}],"outputs":[]},
{"type":"event","name":"NGORegistered","inputs":[{"name":"ngoWallet","type":"address","indexed":true},{"name":"name","type":"string","indexed":false}]},
{"type":"event","name":"NGOApproved","inputs":[{"name":"ngoWallet","type":"address","indexed":true},{"name":"approved","type":"bool","indexed":false}]},
{"type":"event","name":"DonationMade","inputs":[{"name":"donationId","type":"uint256","indexed":true},{"name":"donor","type":"address","indexed":true},{"name":"ngo","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"message","type":"string","indexed":false}]},
{"type":"event","name":"ProofAdded","inputs":[{"name":"donationId","type":"uint256","indexed":true},{"name":"cid","type":"string","indexed":false}]},
{"type":"event","name":"WithdrawalMade","inputs":[{"name":"ngo","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

var registryABI = mustABI(registryABIJSON)

// abiConvert narrows an unpacked anonymous tuple into its typed mirror.
func abiConvert[T any](in interface{}, proto *T) *T {
	return abi.ConvertType(in, proto).(*T)
}

func mustABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("registry: bad contract ABI: " + err.Error())
	}
	return a
}

// rawNGO matches the getNGO return tuple field for field.
type rawNGO struct {
	Wallet         common.Address
	Name           string
	MetadataCID    string
	Approved       bool
	TotalReceived  *big.Int
	TotalWithdrawn *big.Int
	Description    string
	Website        string
	Contact        string
}

// rawDonation matches the getDonation return tuple field for field.
type rawDonation struct {
	Id        *big.Int
	Donor     common.Address
	Ngo       common.Address
	Amount    *big.Int
	Timestamp *big.Int
	Message   string
	ProofCID  string
}
