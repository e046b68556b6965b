package runs

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/clinichain/clinichain/internal/verify"
)

func TestRunExitCode(t *testing.T) {
	tests := []struct {
		status string
		want   int
	}{
		{StatusOK, 0},
		{StatusBroken, 1},
		{StatusError, 2},
		{"", 2},
		{"unknown", 2},
	}
	for _, tt := range tests {
		run := &Run{Status: tt.status}
		if got := run.ExitCode(); got != tt.want {
			t.Errorf("ExitCode() for status %q = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestRunJSON_DurationInMilliseconds(t *testing.T) {
	raw, err := json.Marshal(&Run{Status: StatusOK, DurationMS: 1500})
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	got, ok := fields["duration_ms"].(float64)
	if !ok {
		t.Fatalf("duration_ms missing or not a number: %v", fields["duration_ms"])
	}
	if got != 1500 {
		t.Errorf("duration_ms = %v, want 1500", got)
	}
}

func TestFromResult_Intact(t *testing.T) {
	run := &Run{}
	run.FromResult(&verify.Result{
		Intact:          true,
		TotalEntries:    120,
		VerifiedEntries: 118,
		ChainsChecked:   4,
	})

	if run.Status != StatusOK {
		t.Errorf("Status = %s, want %s", run.Status, StatusOK)
	}
	if !run.Intact || run.TotalEntries != 120 || run.VerifiedEntries != 118 {
		t.Errorf("outcome fields not carried over: %+v", run)
	}
	if run.BrokenChainID != "" || run.BreakReason != "" {
		t.Errorf("intact run carries break fields: %+v", run)
	}
}

func TestFromResult_Broken(t *testing.T) {
	run := &Run{}
	run.FromResult(&verify.Result{
		Intact:          false,
		TotalEntries:    10,
		VerifiedEntries: 3,
		Break: &verify.Break{
			ChainID:  "user:alice",
			EntryID:  "entry-4",
			Reason:   verify.ReasonHashMismatch,
			Expected: "aa11",
			Actual:   "bb22",
		},
	})

	if run.Status != StatusBroken {
		t.Errorf("Status = %s, want %s", run.Status, StatusBroken)
	}
	if run.BrokenChainID != "user:alice" || run.BrokenAtID != "entry-4" {
		t.Errorf("break location not recorded: %+v", run)
	}
	if run.BreakReason != verify.ReasonHashMismatch {
		t.Errorf("BreakReason = %s, want %s", run.BreakReason, verify.ReasonHashMismatch)
	}
	if run.Expected != "aa11" || run.Actual != "bb22" {
		t.Errorf("hash pair not recorded: %+v", run)
	}
}

func TestFromResult_ChainErrors(t *testing.T) {
	run := &Run{}
	run.FromResult(&verify.Result{
		Intact: true,
		ChainErrors: []verify.ChainError{
			{ChainID: "user:alice", Err: errors.New("secret store unavailable")},
		},
	})

	if run.Status != StatusError {
		t.Errorf("Status = %s, want %s", run.Status, StatusError)
	}
	if run.Error == "" {
		t.Error("Error field empty for errored run")
	}
}

func TestFromResult_BrokenOutranksErrored(t *testing.T) {
	// A detected break is the stronger signal even when some other chain
	// also errored during the same pass.
	run := &Run{}
	run.FromResult(&verify.Result{
		Intact: false,
		Break:  &verify.Break{ChainID: "user:alice", EntryID: "entry-1", Reason: verify.ReasonMissingSecret},
		ChainErrors: []verify.ChainError{
			{ChainID: "user:bob", Err: errors.New("timeout")},
		},
	})

	if run.Status != StatusBroken {
		t.Errorf("Status = %s, want %s", run.Status, StatusBroken)
	}
}
