package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/htlc/internal/ledger"
)

// createTestStore opens a journal in a temp dir, closed on cleanup.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedRun writes a run so rows referencing it satisfy the foreign keys.
func seedRun(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.WriteRun(context.Background(), Run{
		ID:              id,
		LocalAddress:    testAddr(0x11),
		ContractAddress: ledger.HtlcContractAddress,
		StartSeq:        0,
		StartedAt:       1_700_000_000,
	})
	if err != nil {
		t.Fatalf("WriteRun() failed: %v", err)
	}
}

func testAddr(n byte) ledger.Address {
	var a ledger.Address
	for i := 1; i < len(a); i++ {
		a[i] = n
	}
	return a
}

func testHash(n byte) ledger.Hash {
	var h ledger.Hash
	for i := range h {
		h[i] = n
	}
	return h
}
