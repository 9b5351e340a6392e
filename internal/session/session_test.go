package session

import (
	"errors"
	"testing"
	"time"
)

func TestSession_BalanceBeforeFirstUpdate(t *testing.T) {
	s := New(Credentials{}, "")

	if _, err := s.Balance(); !errors.Is(err, ErrNoState) {
		t.Errorf("Balance = %v, want ErrNoState", err)
	}

	s.SetBalance(1234.56)
	bal, err := s.Balance()
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if bal != 1234.56 {
		t.Errorf("Balance = %v, want 1234.56", bal)
	}
}

func TestSession_Assets(t *testing.T) {
	s := New(Credentials{}, "")

	s.SetAssets(map[string]Asset{
		"EURUSD_otc": {
			ID:               1,
			Symbol:           "EURUSD_otc",
			Type:             AssetCurrency,
			OTC:              true,
			Active:           true,
			Payout:           92,
			AllowedDurations: []time.Duration{time.Minute, 5 * time.Minute},
		},
	})

	a, ok := s.Asset("EURUSD_otc")
	if !ok {
		t.Fatal("expected asset lookup to succeed")
	}
	if !a.ValidDuration(time.Minute) {
		t.Error("expected 1m to be a valid duration")
	}
	if a.ValidDuration(2 * time.Minute) {
		t.Error("expected 2m to be invalid")
	}

	if got := s.AssetCount(); got != 1 {
		t.Errorf("AssetCount = %d, want 1", got)
	}
	if _, ok := s.Asset("GBPUSD"); ok {
		t.Error("unexpected lookup hit for unknown symbol")
	}
}

func TestSession_ServerTimeOffset(t *testing.T) {
	s := New(Credentials{}, "")

	// Server is 10 seconds ahead of the local clock.
	ahead := float64(time.Now().UnixMilli())/1000.0 + 10
	s.UpdateServerTime(ahead)

	off := s.Offset()
	if off < 9*time.Second || off > 11*time.Second {
		t.Errorf("Offset = %v, want ~10s", off)
	}

	st := s.ServerTime()
	diff := st.Sub(time.Now())
	if diff < 9*time.Second || diff > 11*time.Second {
		t.Errorf("ServerTime ahead by %v, want ~10s", diff)
	}

	if s.ClockStale() {
		t.Error("clock must not be stale right after an update")
	}
}

func TestSession_ClockStaleBeforeFirstUpdate(t *testing.T) {
	s := New(Credentials{}, "")
	if !s.ClockStale() {
		t.Error("expected stale clock before the first server timestamp")
	}
}

func TestSession_ClearTemporalKeepsOffset(t *testing.T) {
	s := New(Credentials{}, "")
	s.SetBalance(50)
	s.UpdateServerTime(float64(time.Now().UnixMilli())/1000.0 + 5)

	s.ClearTemporal()

	if _, err := s.Balance(); !errors.Is(err, ErrNoState) {
		t.Error("expected balance cleared after ClearTemporal")
	}
	if off := s.Offset(); off < 4*time.Second {
		t.Errorf("Offset = %v, expected clock offset to survive", off)
	}
}
