package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/htlc/internal/store"
	"github.com/roach88/htlc/internal/testutil"
)

func TestMonitor_ReclaimsExpired(t *testing.T) {
	f := newFixture(t)
	res := f.lock(t, nil)
	id := res.Entry.ID.Hex()
	f.node.SetTime(now + 3*3600)

	out, _, err := f.run(t, "monitor", id)
	require.NoError(t, err)

	assert.Contains(t, out, "Monitoring 1 HTLC(s) as "+alice.Hex())
	assert.Contains(t, out, id+" reclaimed in")
	assert.Contains(t, out, "Stopped: 0 unlocked, 1 reclaimed, 0 dropped, 0 still tracked.")

	entry, err := f.node.GetHtlcByID(context.Background(), res.Entry.ID)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestMonitor_JSONLines(t *testing.T) {
	f := newFixture(t)
	res := f.lock(t, nil)
	f.node.SetTime(now + 3*3600)
	missing := testutil.Hash(0x42).Hex()

	out, _, err := f.run(t, "--format", "json", "monitor", res.Entry.ID.Hex(), missing)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	byID := map[string]EventResult{}
	for _, line := range lines {
		var ev EventResult
		decodeData(t, line, &ev)
		byID[ev.ID] = ev
	}
	assert.Equal(t, "reclaimed", byID[res.Entry.ID.Hex()].Outcome)
	assert.True(t, byID[res.Entry.ID.Hex()].Terminal)
	assert.Equal(t, "error", byID[missing].Outcome)
	assert.Contains(t, byID[missing].Error, "HTLC_NOT_FOUND")
}

func TestMonitor_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	res := f.lock(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	out, _, err := f.runContext(ctx, t, "monitor", res.Entry.ID.Hex())
	require.NoError(t, err)
	assert.Contains(t, out, "1 still tracked")
}

func TestMonitor_Errors(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.run(t, "monitor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no HTLCs to monitor")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = f.run(t, "monitor", "--resume")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--resume needs a journal")

	_, _, err = f.run(t, "monitor", "nothex")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMonitor_ResumeFromJournal(t *testing.T) {
	f := newFixture(t)
	journal := filepath.Join(t.TempDir(), "htlc.db")
	res := f.lock(t, nil)
	id := res.Entry.ID.Hex()

	// First run: nothing has expired yet, so the entry stays tracked.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err := f.runContext(ctx, t, "monitor", "--journal", journal, id)
	require.NoError(t, err)

	out, _, err := f.run(t, "history", "--journal", journal)
	require.NoError(t, err)
	assert.Contains(t, out, "Unresolved:")
	assert.Contains(t, out, id+" active")

	// Second run picks the entry up from the journal alone.
	f.node.SetTime(now + 3*3600)
	out, _, err = f.run(t, "monitor", "--journal", journal, "--resume")
	require.NoError(t, err)
	assert.Contains(t, out, id+" reclaimed in")

	out, _, err = f.run(t, "--format", "json", "history", "--journal", journal)
	require.NoError(t, err)

	var history HistoryResult
	decodeData(t, out, &history)
	assert.Equal(t, 1, history.Stats.Reclaimed)
	assert.Equal(t, 0, history.Stats.Unresolved)
	require.Len(t, history.Outcomes, 1)
	assert.Equal(t, id, history.Outcomes[0].ID)

	// Seqs continue across runs.
	st, err := store.Open(journal)
	require.NoError(t, err)
	defer st.Close()
	maxSeq, err := st.MaxSeq(context.Background())
	require.NoError(t, err)
	assert.Greater(t, history.Outcomes[0].Seq, int64(1))
	assert.GreaterOrEqual(t, maxSeq, history.Outcomes[0].Seq)
}

func TestHistory_Filter(t *testing.T) {
	f := newFixture(t)
	journal := filepath.Join(t.TempDir(), "htlc.db")
	res := f.lock(t, nil)
	f.node.SetTime(now + 3*3600)

	_, _, err := f.run(t, "monitor", "--journal", journal, res.Entry.ID.Hex())
	require.NoError(t, err)

	out, _, err := f.run(t, "history", "--journal", journal, "--id", testutil.Hash(7).Hex())
	require.NoError(t, err)
	assert.Contains(t, out, "No history recorded.")

	out, _, err = f.run(t, "history", "--journal", journal, "--id", res.Entry.ID.Hex())
	require.NoError(t, err)
	assert.Contains(t, out, "Outcomes:")
	assert.Contains(t, out, "1 events: 0 unlocked, 1 reclaimed, 0 errors; 0 unresolved")
}

func TestHistory_Errors(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.run(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no journal")

	_, _, err = f.run(t, "history", "--journal", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestExecute_ReportsErrors(t *testing.T) {
	t.Setenv("HTLC_PRIVATE_KEY", "")

	tests := []struct {
		name     string
		args     []string
		exitCode int
		code     string
	}{
		{"htlc error", []string{"hash", "zz"}, ExitFailure, "INVALID_PREIMAGE_ENCODING"},
		{"argument error", []string{"reclaim"}, ExitCommandError, CodeCommand},
		{"bad format", []string{"--format", "xml", "hash", "01"}, ExitCommandError, CodeCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			errOut := &bytes.Buffer{}
			code := Execute(context.Background(), tt.args, out, errOut)
			assert.Equal(t, tt.exitCode, code)
			assert.Contains(t, errOut.String(), "Error ["+tt.code+"]")
			assert.Empty(t, out.String())
		})
	}

	t.Run("json", func(t *testing.T) {
		out := &bytes.Buffer{}
		code := Execute(context.Background(), []string{"--format", "json", "hash", "zz"}, out, &bytes.Buffer{})
		assert.Equal(t, ExitFailure, code)

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "INVALID_PREIMAGE_ENCODING", resp.Error.Code)
		assert.NotContains(t, resp.Error.Message, "INVALID_PREIMAGE_ENCODING:")
	})

	t.Run("success", func(t *testing.T) {
		out := &bytes.Buffer{}
		code := Execute(context.Background(), []string{"hash", "01"}, out, &bytes.Buffer{})
		assert.Equal(t, ExitSuccess, code)
		assert.Contains(t, out.String(), "(sha3-256)")
	})
}
