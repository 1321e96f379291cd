package prof

import (
	"context"
	"slices"
	"testing"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
)

func TestStart_Disabled(t *testing.T) {
	var states []bool
	ctx := log.WithContext(context.Background(), log.Nop())

	stop, err := Start(ctx, Options{
		Enabled:       false,
		MutexFraction: 999,
		OnActive:      func(b bool) { states = append(states, b) },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop()
	stop()

	if !slices.Equal(states, []bool{false}) {
		t.Fatalf("OnActive calls = %v, want [false]", states)
	}
}

func TestStart_InvalidServerAddress(t *testing.T) {
	tests := []string{
		"",
		"not a url",
		"localhost:4040",
		"ftp://pyroscope:4040",
		"http://",
	}
	for _, addr := range tests {
		called := false
		stop, err := Start(context.Background(), Options{
			Enabled:       true,
			AppName:       "edge",
			ServerAddress: addr,
			OnActive:      func(bool) { called = true },
		})
		if err == nil {
			t.Errorf("Start(%q): expected error", addr)
		}
		if stop == nil {
			t.Errorf("Start(%q): stop is nil", addr)
		} else {
			stop()
		}
		if called {
			t.Errorf("Start(%q): OnActive called on failure", addr)
		}
	}
}

func TestCheckServer_Valid(t *testing.T) {
	for _, addr := range []string{"http://pyroscope:4040", "https://profiles.example.com"} {
		if err := checkServer(addr); err != nil {
			t.Errorf("checkServer(%q) = %v", addr, err)
		}
	}
}

func TestProfileTypes(t *testing.T) {
	base := profileTypes(Options{})
	if len(base) != len(baseProfiles) {
		t.Fatalf("base profiles = %v", base)
	}
	if slices.Contains(base, pyroscope.ProfileMutexCount) || slices.Contains(base, pyroscope.ProfileBlockCount) {
		t.Fatal("mutex/block profiles pushed without runtime sampling enabled")
	}

	all := profileTypes(Options{MutexFraction: 5, BlockRate: 5})
	for _, want := range []pyroscope.ProfileType{
		pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration,
		pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration,
	} {
		if !slices.Contains(all, want) {
			t.Errorf("missing %s", want)
		}
	}

	// base slice is not aliased
	if len(baseProfiles) != 6 {
		t.Fatalf("baseProfiles mutated: %v", baseProfiles)
	}
}
