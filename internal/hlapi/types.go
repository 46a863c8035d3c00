package hlapi

import (
	"encoding/json"
	"strings"
)

// ValidatorSummary is one record of the validatorSummaries response.
// Stake is kept as json.Number end to end: amounts are integer wei-style
// values that must never round-trip through float64.
type ValidatorSummary struct {
	Validator       string      `json:"validator"`
	Signer          string      `json:"signer,omitempty"`
	Name            string      `json:"name"`
	Description     string      `json:"description,omitempty"`
	IsJailed        bool        `json:"isJailed"`
	IsActive        bool        `json:"isActive"`
	Stake           json.Number `json:"stake"`
	NRecentBlocks   int         `json:"nRecentBlocks"`
	UnjailableAfter int64       `json:"unjailableAfter,omitempty"` // epoch millis, 0 when absent
}

// Roster is one point-in-time snapshot of every validator on the network.
// It is immutable once fetched; the next fetch supersedes it wholesale.
type Roster struct {
	Validators []ValidatorSummary
	byAddress  map[string]int
}

func NewRoster(validators []ValidatorSummary) *Roster {
	r := &Roster{
		Validators: validators,
		byAddress:  make(map[string]int, len(validators)),
	}
	for i, v := range validators {
		r.byAddress[NormalizeAddress(v.Validator)] = i
	}
	return r
}

// Find looks up a validator by address, case-insensitively.
func (r *Roster) Find(address string) (ValidatorSummary, bool) {
	if r == nil {
		return ValidatorSummary{}, false
	}
	i, ok := r.byAddress[NormalizeAddress(address)]
	if !ok {
		return ValidatorSummary{}, false
	}
	return r.Validators[i], true
}

// Jailed returns the jailed subset in roster order.
func (r *Roster) Jailed() []ValidatorSummary {
	var jailed []ValidatorSummary
	for _, v := range r.Validators {
		if v.IsJailed {
			jailed = append(jailed, v)
		}
	}
	return jailed
}

// NormalizeAddress lowercases an address and guarantees the 0x prefix,
// matching how the API reports validator fields.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return ""
	}
	if !strings.HasPrefix(addr, "0x") {
		addr = "0x" + addr
	}
	return addr
}
