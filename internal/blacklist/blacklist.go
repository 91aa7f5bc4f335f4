package blacklist

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ipreputation/internal/models"

	"github.com/bits-and-blooms/bloom/v3"
	zlog "github.com/rs/zerolog/log"
)

const bloomEstimate = 1000000

// Index answers blacklist membership queries. It layers two subsystems
// on the same membership primitive: a bulk-uploaded feed (single IPs +
// CIDR networks, replaced wholesale on upload) and manual per-IP entries
// with reasons and lazy read-time expiry.
type Index struct {
	mu         sync.RWMutex
	singles    map[string]struct{}
	networks   []netip.Prefix
	entries    map[string]*models.BlacklistEntry
	entryNets  map[string]netip.Prefix
	lastUpload string

	// Fast negative check over exact-address members. Networks are
	// always scanned; the filter only fronts the two single-IP sets.
	bloom *bloom.BloomFilter
}

func New() *Index {
	return &Index{
		singles:   make(map[string]struct{}),
		networks:  []netip.Prefix{},
		entries:   make(map[string]*models.BlacklistEntry),
		entryNets: make(map[string]netip.Prefix),
		bloom:     bloom.NewWithEstimates(bloomEstimate, 0.01),
	}
}

// parseEntry parses raw as a single address or a network in permissive
// mode: host bits set within a network are masked, not rejected. A
// network covering exactly one address is normalized to that address.
func parseEntry(raw string) (addr netip.Addr, prefix netip.Prefix, isSingle bool, err error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "/") {
		addr, err = netip.ParseAddr(raw)
		if err != nil {
			return netip.Addr{}, netip.Prefix{}, false, fmt.Errorf("%w: %q", models.ErrInvalidAddress, raw)
		}
		return addr.Unmap(), netip.Prefix{}, true, nil
	}

	prefix, err = netip.ParsePrefix(raw)
	if err != nil {
		return netip.Addr{}, netip.Prefix{}, false, fmt.Errorf("%w: %q", models.ErrInvalidAddress, raw)
	}
	prefix = prefix.Masked()
	if prefix.IsSingleIP() {
		return prefix.Addr().Unmap(), netip.Prefix{}, true, nil
	}
	return netip.Addr{}, prefix, false, nil
}

// IsValidAddress reports whether raw parses as a plain IP address.
func IsValidAddress(raw string) bool {
	_, err := netip.ParseAddr(strings.TrimSpace(raw))
	return err == nil
}

// Add inserts a single feed entry, IP or CIDR.
func (x *Index) Add(raw string) error {
	addr, prefix, isSingle, err := parseEntry(raw)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if isSingle {
		x.singles[addr.String()] = struct{}{}
		x.bloom.AddString(addr.String())
		return nil
	}
	for _, p := range x.networks {
		if p == prefix {
			return nil
		}
	}
	x.networks = append(x.networks, prefix)
	return nil
}

// AddEntry records a manual blacklist entry. The entry's address is
// validated and canonicalized; an expiry, when set, must be after the
// added-at time.
func (x *Index) AddEntry(e models.BlacklistEntry) error {
	addr, prefix, isSingle, err := parseEntry(e.IP)
	if err != nil {
		return err
	}
	if !models.ValidReason(e.Reason) {
		return fmt.Errorf("%w: unknown blacklist reason %q", models.ErrValidation, e.Reason)
	}
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now().UTC()
	}
	if e.ExpiresAt != nil && !e.ExpiresAt.After(e.AddedAt) {
		return fmt.Errorf("%w: expires_at must be after added_at", models.ErrValidation)
	}

	key := addr.String()
	if !isSingle {
		key = prefix.String()
	}
	e.IP = key

	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[key] = &e
	if isSingle {
		x.bloom.AddString(key)
	} else {
		x.entryNets[key] = prefix
	}
	return nil
}

// Remove deletes ip from all member sets. Removing an absent IP is a
// no-op. The Bloom filter is rebuilt because it does not support removal.
func (x *Index) Remove(raw string) {
	addr, prefix, isSingle, err := parseEntry(raw)
	if err != nil {
		return
	}
	key := addr.String()
	if !isSingle {
		key = prefix.String()
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.singles, key)
	delete(x.entries, key)
	delete(x.entryNets, key)
	if !isSingle {
		for i, p := range x.networks {
			if p == prefix {
				x.networks = append(x.networks[:i], x.networks[i+1:]...)
				break
			}
		}
	}
	x.rebuildBloomLocked()
}

// Lookup returns the manual entry covering ip, if any. Entries whose
// expiry has passed are evicted on observation and reported absent.
func (x *Index) Lookup(raw string) (*models.BlacklistEntry, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidAddress, raw)
	}
	addr = addr.Unmap()
	key := addr.String()
	now := time.Now().UTC()

	x.mu.RLock()
	entry, ok := x.entries[key]
	x.mu.RUnlock()
	if ok {
		if entry.Expired(now) {
			x.evict(key)
			return nil, nil
		}
		return entry, nil
	}

	// Network-scoped manual entries need a scan.
	x.mu.RLock()
	var hitKey string
	var hit *models.BlacklistEntry
	for k, p := range x.entryNets {
		if p.Contains(addr) {
			hitKey, hit = k, x.entries[k]
			break
		}
	}
	x.mu.RUnlock()
	if hit == nil {
		return nil, nil
	}
	if hit.Expired(now) {
		x.evict(hitKey)
		return nil, nil
	}
	return hit, nil
}

func (x *Index) evict(key string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if e, ok := x.entries[key]; ok && e.Expired(time.Now().UTC()) {
		delete(x.entries, key)
		delete(x.entryNets, key)
		x.rebuildBloomLocked()
		zlog.Debug().Str("ip", key).Msg("Blacklist: evicted expired entry")
	}
}

// Contains reports whether ip is blacklisted by either subsystem.
func (x *Index) Contains(raw string) (bool, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("%w: %q", models.ErrInvalidAddress, raw)
	}
	addr = addr.Unmap()
	key := addr.String()

	x.mu.RLock()
	negative := !x.bloom.TestString(key)
	if !negative {
		if _, ok := x.singles[key]; ok {
			x.mu.RUnlock()
			return true, nil
		}
	}
	for _, p := range x.networks {
		if p.Contains(addr) {
			x.mu.RUnlock()
			return true, nil
		}
	}
	x.mu.RUnlock()

	entry, err := x.Lookup(key)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// BulkReplace validates every feed entry independently and, on
// completion, swaps the entire feed set atomically. Readers observe the
// fully-old or fully-new set, never a mix. Manual entries are untouched.
func (x *Index) BulkReplace(raws []string) models.UploadResult {
	newSingles := make(map[string]struct{})
	newNetworks := []netip.Prefix{}
	valid, invalid := 0, 0

	for _, raw := range raws {
		addr, prefix, isSingle, err := parseEntry(raw)
		if err != nil {
			invalid++
			continue
		}
		if isSingle {
			newSingles[addr.String()] = struct{}{}
		} else {
			newNetworks = append(newNetworks, prefix)
		}
		valid++
	}

	x.mu.Lock()
	x.singles = newSingles
	x.networks = newNetworks
	x.lastUpload = time.Now().UTC().Format(time.RFC3339)
	x.rebuildBloomLocked()
	x.mu.Unlock()

	zlog.Info().Int("valid", valid).Int("invalid", invalid).Msg("Blacklist: feed replaced")
	return models.UploadResult{
		Success:        true,
		TotalProcessed: len(raws),
		ValidEntries:   valid,
		InvalidEntries: invalid,
	}
}

func (x *Index) rebuildBloomLocked() {
	bf := bloom.NewWithEstimates(bloomEstimate, 0.01)
	for ip := range x.singles {
		bf.AddString(ip)
	}
	for ip, e := range x.entries {
		if _, wide := x.entryNets[ip]; !wide {
			bf.AddString(e.IP)
		}
	}
	x.bloom = bf
}

// Status returns a read-only snapshot with small samples of each set.
func (x *Index) Status() models.BlacklistStatus {
	x.mu.RLock()
	defer x.mu.RUnlock()

	sampleIPs := make([]string, 0, 5)
	for ip := range x.singles {
		sampleIPs = append(sampleIPs, ip)
		if len(sampleIPs) == 5 {
			break
		}
	}
	sort.Strings(sampleIPs)

	sampleNets := make([]string, 0, 5)
	for _, p := range x.networks {
		sampleNets = append(sampleNets, p.String())
		if len(sampleNets) == 5 {
			break
		}
	}

	return models.BlacklistStatus{
		TotalSingleIPs: len(x.singles),
		TotalNetworks:  len(x.networks),
		TotalEntries:   len(x.entries),
		LastUploadTime: x.lastUpload,
		SampleIPs:      sampleIPs,
		SampleNetworks: sampleNets,
	}
}

type feedDocument struct {
	SingleIPs      []string `json:"single_ips"`
	Networks       []string `json:"networks"`
	LastUploadTime string   `json:"last_upload_time,omitempty"`
}

// Save writes the feed document to path.
func (x *Index) Save(path string) error {
	x.mu.RLock()
	doc := feedDocument{
		SingleIPs:      make([]string, 0, len(x.singles)),
		Networks:       make([]string, 0, len(x.networks)),
		LastUploadTime: x.lastUpload,
	}
	for ip := range x.singles {
		doc.SingleIPs = append(doc.SingleIPs, ip)
	}
	for _, p := range x.networks {
		doc.Networks = append(doc.Networks, p.String())
	}
	x.mu.RUnlock()
	sort.Strings(doc.SingleIPs)

	return writeJSON(path, doc)
}

// Load reads the feed document from path. A missing file means start
// empty, not an error.
func (x *Index) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", models.ErrPersistence, path, err)
	}

	var doc feedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: parse %s: %v", models.ErrPersistence, path, err)
	}

	newSingles := make(map[string]struct{})
	newNetworks := []netip.Prefix{}
	for _, raw := range doc.SingleIPs {
		if addr, _, single, err := parseEntry(raw); err == nil && single {
			newSingles[addr.String()] = struct{}{}
		}
	}
	for _, raw := range doc.Networks {
		if _, prefix, single, err := parseEntry(raw); err == nil && !single {
			newNetworks = append(newNetworks, prefix)
		}
	}

	x.mu.Lock()
	x.singles = newSingles
	x.networks = newNetworks
	x.lastUpload = doc.LastUploadTime
	x.rebuildBloomLocked()
	x.mu.Unlock()
	return nil
}

// SaveEntries writes the manual entry document ({ip: entry}) to path.
func (x *Index) SaveEntries(path string) error {
	x.mu.RLock()
	doc := make(map[string]*models.BlacklistEntry, len(x.entries))
	for k, v := range x.entries {
		doc[k] = v
	}
	x.mu.RUnlock()

	return writeJSON(path, doc)
}

// LoadEntries reads the manual entry document from path. Missing file
// means start empty.
func (x *Index) LoadEntries(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", models.ErrPersistence, path, err)
	}

	var doc map[string]models.BlacklistEntry
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: parse %s: %v", models.ErrPersistence, path, err)
	}

	for _, e := range doc {
		if err := x.AddEntry(e); err != nil {
			zlog.Warn().Err(err).Str("ip", e.IP).Msg("Blacklist: skipping invalid persisted entry")
		}
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", models.ErrPersistence, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: mkdir %s: %v", models.ErrPersistence, dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", models.ErrPersistence, path, err)
	}
	return nil
}
