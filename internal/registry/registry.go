package registry

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ygarg25/hyperliquid-exporter/internal/hlapi"
	"github.com/ygarg25/hyperliquid-exporter/internal/logger"
)

// Record maps a short identifier to the full entity it names.
type Record struct {
	Address string
	Name    string
}

// Registry holds the shortId -> Record mapping for everything on the
// roster. The map is rebuilt wholesale on each Refresh so entries for
// validators that left the roster disappear with it; there is no merge.
type Registry struct {
	mu        sync.RWMutex
	byAddress map[string]Record
	byName    map[string]Record
}

func New() *Registry {
	return &Registry{
		byAddress: make(map[string]Record),
		byName:    make(map[string]Record),
	}
}

// Refresh replaces the whole mapping from a roster snapshot.
func (r *Registry) Refresh(roster *hlapi.Roster) {
	byAddress := make(map[string]Record, len(roster.Validators))
	byName := make(map[string]Record, len(roster.Validators))
	for _, v := range roster.Validators {
		rec := Record{
			Address: NormalizeAddress(v.Validator),
			Name:    v.Name,
		}
		byAddress[rec.Address] = rec
		if v.Name != "" {
			byName[strings.ToLower(v.Name)] = rec
		}
	}

	r.mu.Lock()
	r.byAddress = byAddress
	r.byName = byName
	r.mu.Unlock()

	logger.Info("REGISTRY", "Mapping %d validators", len(byAddress))
}

// Resolve looks up a short identifier - an address or a display name.
// ok=false means the id is unknown; callers fall back to the id itself.
func (r *Registry) Resolve(shortID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rec, ok := r.byAddress[NormalizeAddress(shortID)]; ok {
		return rec, true
	}
	if rec, ok := r.byName[strings.ToLower(shortID)]; ok {
		return rec, true
	}
	return Record{}, false
}

// DisplayName resolves an address to its moniker, falling back to a
// truncated address for unknown entries.
func (r *Registry) DisplayName(address string) string {
	if rec, ok := r.Resolve(address); ok && rec.Name != "" {
		return rec.Name
	}
	logger.Debug("REGISTRY", "Unknown validator %s, using address as name", address)
	return Truncate(address)
}

// Len returns the number of mapped validators.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddress)
}

// NormalizeAddress canonicalizes an EVM-style address through
// common.Address when it parses, so mixed-case config values and API
// values key identically.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if common.IsHexAddress(addr) {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return hlapi.NormalizeAddress(addr)
}

// Truncate shortens an address for display: 0xd412..b3f0 style.
func Truncate(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:6] + ".." + id[len(id)-4:]
}
