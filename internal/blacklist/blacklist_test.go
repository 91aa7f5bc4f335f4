package blacklist

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ipreputation/internal/models"
)

func TestIndex_AddContainsRemove(t *testing.T) {
	idx := New()

	if err := idx.Add("192.0.2.7"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if ok, _ := idx.Contains("192.0.2.7"); !ok {
		t.Error("expected 192.0.2.7 to be blacklisted after Add")
	}

	idx.Remove("192.0.2.7")
	if ok, _ := idx.Contains("192.0.2.7"); ok {
		t.Error("expected 192.0.2.7 to be gone after Remove")
	}

	// Removing an absent IP is a no-op, not an error
	idx.Remove("192.0.2.7")
}

func TestIndex_NetworkMembership(t *testing.T) {
	idx := New()

	if err := idx.Add("10.0.0.0/24"); err != nil {
		t.Fatalf("Add network failed: %v", err)
	}

	for _, ip := range []string{"10.0.0.1", "10.0.0.5", "10.0.0.254"} {
		if ok, _ := idx.Contains(ip); !ok {
			t.Errorf("expected %s to fall inside 10.0.0.0/24", ip)
		}
	}
	if ok, _ := idx.Contains("10.0.1.1"); ok {
		t.Error("10.0.1.1 should be outside 10.0.0.0/24")
	}
}

func TestIndex_PermissiveCIDRParse(t *testing.T) {
	idx := New()

	// Host bits set within the network are masked, not rejected
	if err := idx.Add("10.0.0.15/24"); err != nil {
		t.Fatalf("permissive parse should tolerate host bits: %v", err)
	}
	if ok, _ := idx.Contains("10.0.0.200"); !ok {
		t.Error("expected membership after masked network add")
	}

	// A /32 network normalizes into the single-address set
	if err := idx.Add("8.8.8.8/32"); err != nil {
		t.Fatalf("Add /32 failed: %v", err)
	}
	st := idx.Status()
	if st.TotalSingleIPs != 1 {
		t.Errorf("expected /32 stored as single IP, got %d singles", st.TotalSingleIPs)
	}
}

func TestIndex_InvalidInput(t *testing.T) {
	idx := New()

	if err := idx.Add("not-an-ip"); !errors.Is(err, models.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
	if _, err := idx.Contains("999.999.1.1"); !errors.Is(err, models.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress from Contains, got %v", err)
	}
}

func TestIndex_BulkReplace(t *testing.T) {
	idx := New()
	_ = idx.Add("203.0.113.99")

	res := idx.BulkReplace([]string{"10.0.0.0/24", "not-an-ip", "8.8.8.8"})
	if res.TotalProcessed != 3 || res.ValidEntries != 2 || res.InvalidEntries != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if ok, _ := idx.Contains("10.0.0.5"); !ok {
		t.Error("expected 10.0.0.5 blacklisted after replace")
	}
	if ok, _ := idx.Contains("8.8.8.8"); !ok {
		t.Error("expected 8.8.8.8 blacklisted after replace")
	}
	// Replace semantics: the previous feed is gone
	if ok, _ := idx.Contains("203.0.113.99"); ok {
		t.Error("old feed member survived bulk replace")
	}
}

func TestIndex_BulkReplaceKeepsManualEntries(t *testing.T) {
	idx := New()
	err := idx.AddEntry(models.BlacklistEntry{IP: "203.0.113.5", Reason: models.ReasonAbuse})
	if err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}

	idx.BulkReplace([]string{"10.0.0.0/24"})

	if ok, _ := idx.Contains("203.0.113.5"); !ok {
		t.Error("manual entry must survive feed replacement")
	}
}

func TestIndex_BulkReplaceAtomic(t *testing.T) {
	idx := New()
	idx.BulkReplace([]string{"192.0.2.1", "192.0.2.2"})

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Alternate between a singles-only feed and a networks-only feed.
	// Every snapshot must be fully one or fully the other; a mixed
	// snapshot means the swap was observable mid-flight.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			st := idx.Status()
			if !(st.TotalSingleIPs == 2 && st.TotalNetworks == 0) &&
				!(st.TotalSingleIPs == 0 && st.TotalNetworks == 2) {
				t.Errorf("observed mixed old/new blacklist state: %+v", st)
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		idx.BulkReplace([]string{"10.0.0.0/24", "10.1.0.0/24"})
		idx.BulkReplace([]string{"192.0.2.1", "192.0.2.2"})
	}
	close(stop)
	wg.Wait()
}

func TestIndex_EntryExpiry(t *testing.T) {
	idx := New()

	past := time.Now().UTC().Add(-time.Hour)
	added := past.Add(-time.Hour)
	err := idx.AddEntry(models.BlacklistEntry{
		IP:        "203.0.113.5",
		Reason:    models.ReasonAbuse,
		AddedAt:   added,
		ExpiresAt: &past,
	})
	if err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}

	// Expired entry reports not blacklisted and is evicted on observation
	entry, err := idx.Lookup("203.0.113.5")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if entry != nil {
		t.Error("expired entry should not match")
	}
	if idx.Status().TotalEntries != 0 {
		t.Error("expired entry should have been evicted")
	}
}

func TestIndex_EntryValidation(t *testing.T) {
	idx := New()

	err := idx.AddEntry(models.BlacklistEntry{IP: "bogus", Reason: models.ReasonSpam})
	if !errors.Is(err, models.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}

	err = idx.AddEntry(models.BlacklistEntry{IP: "1.2.3.4", Reason: "Whatever"})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown reason, got %v", err)
	}

	added := time.Now().UTC()
	before := added.Add(-time.Minute)
	err = idx.AddEntry(models.BlacklistEntry{
		IP:        "1.2.3.4",
		Reason:    models.ReasonManual,
		AddedAt:   added,
		ExpiresAt: &before,
	})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation for expiry before added_at, got %v", err)
	}
}

func TestIndex_NetworkScopedEntry(t *testing.T) {
	idx := New()

	err := idx.AddEntry(models.BlacklistEntry{IP: "198.51.100.0/24", Reason: models.ReasonBotnet})
	if err != nil {
		t.Fatalf("AddEntry network failed: %v", err)
	}

	entry, err := idx.Lookup("198.51.100.77")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if entry == nil || entry.Reason != models.ReasonBotnet {
		t.Errorf("expected botnet entry for address inside network, got %+v", entry)
	}
}

func TestIndex_Status(t *testing.T) {
	idx := New()
	idx.BulkReplace([]string{"1.1.1.1", "2.2.2.2", "10.0.0.0/8"})

	st := idx.Status()
	if st.TotalSingleIPs != 2 {
		t.Errorf("expected 2 singles, got %d", st.TotalSingleIPs)
	}
	if st.TotalNetworks != 1 {
		t.Errorf("expected 1 network, got %d", st.TotalNetworks)
	}
	if st.LastUploadTime == "" {
		t.Error("expected last upload time to be set")
	}
	if len(st.SampleIPs) != 2 || len(st.SampleNetworks) != 1 {
		t.Errorf("unexpected samples: %+v", st)
	}
}

func TestIndex_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "blacklist.json")
	entriesPath := filepath.Join(dir, "entries.json")

	idx := New()
	idx.BulkReplace([]string{"1.1.1.1", "10.0.0.0/24"})
	_ = idx.AddEntry(models.BlacklistEntry{IP: "203.0.113.5", Reason: models.ReasonAbuse, Notes: "ticket 42"})

	if err := idx.Save(feedPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := idx.SaveEntries(entriesPath); err != nil {
		t.Fatalf("SaveEntries failed: %v", err)
	}

	loaded := New()
	if err := loaded.Load(feedPath); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := loaded.LoadEntries(entriesPath); err != nil {
		t.Fatalf("LoadEntries failed: %v", err)
	}

	for _, ip := range []string{"1.1.1.1", "10.0.0.200", "203.0.113.5"} {
		if ok, _ := loaded.Contains(ip); !ok {
			t.Errorf("expected %s blacklisted after reload", ip)
		}
	}
	entry, _ := loaded.Lookup("203.0.113.5")
	if entry == nil || entry.Notes != "ticket 42" {
		t.Errorf("manual entry did not round-trip: %+v", entry)
	}
}

func TestIndex_LoadMissingFileStartsEmpty(t *testing.T) {
	idx := New()
	if err := idx.Load(filepath.Join(t.TempDir(), "nope.json")); err != nil {
		t.Errorf("missing file should not error, got %v", err)
	}
	if err := idx.LoadEntries(filepath.Join(t.TempDir(), "nope.json")); err != nil {
		t.Errorf("missing entries file should not error, got %v", err)
	}
}

func TestIndex_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx := New()
	if err := idx.Load(path); !errors.Is(err, models.ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
}
