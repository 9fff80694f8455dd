package registry

import (
	"errors"
	"math/big"
	"strings"
)

// Units is a monetary value in the ledger's smallest integer unit (10^18 units equal one display unit). It can exceed
// the safe integer range of JSON consumers, so it marshals as a decimal string.
type Units big.Int

// NewUnits wraps a big.Int as Units. The value is shared, not copied.
func NewUnits(i *big.Int) *Units {
	return (*Units)(i)
}

// Big returns the underlying big.Int.
func (u *Units) Big() *big.Int {
	return (*big.Int)(u)
}

// String renders the smallest-unit amount as a decimal integer string.
func (u *Units) String() string {
	if u == nil {
		return "0"
	}
	return u.Big().String()
}

// MarshalJSON renders the amount as a quoted decimal string.
func (u *Units) MarshalJSON() ([]byte, error) {
	return []byte(`"` + u.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted or bare decimal integer.
func (u *Units) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if _, ok := u.Big().SetString(s, 10); !ok {
		return errors.New("units: invalid decimal integer " + s)
	}
	return nil
}

// NGO is a registered recipient organization. Wallet is stored in canonical lowercase form; the invariant
// TotalWithdrawn <= TotalReceived is maintained by the contract.
type NGO struct {
	Wallet         string `json:"wallet"`
	Name           string `json:"name"`
	MetadataCID    string `json:"metadataCID"`
	Approved       bool   `json:"approved"`
	TotalReceived  *Units `json:"totalReceived"`
	TotalWithdrawn *Units `json:"totalWithdrawn"`
	Description    string `json:"description,omitempty"`
	Website        string `json:"website,omitempty"`
	Contact        string `json:"contact,omitempty"`
}

// Donation is an immutable record of a value transfer to an organization. Only ProofCID may change after creation,
// once, from empty to a content identifier; the contract enforces that.
type Donation struct {
	ID        uint64 `json:"id"`
	Donor     string `json:"donor"`
	NGO       string `json:"ngo"`
	Amount    *Units `json:"amount"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message,omitempty"`
	ProofCID  string `json:"proofCID,omitempty"`
}
