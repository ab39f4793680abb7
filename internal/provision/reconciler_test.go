package provision

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ruskmedia/screener/internal/platform"
	"github.com/ruskmedia/screener/internal/platform/memory"
)

func TestReconcilerRepairsDrift(t *testing.T) {
	ctx := context.Background()
	client := memory.New("screener-bot")
	client.SeedGroup("male-18_24-anime-tier1")
	// Drifted: public can read, the owning group is missing.
	client.SeedChannel("male-18_24-anime-tier1", platform.Overwrites{
		platform.Everyone: {Read: true},
	})
	client.SeedChannel("general", platform.Overwrites{
		platform.Everyone: {Read: true, Write: true},
	})

	r := NewReconciler(client, testPattern)
	report, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Audited != 1 || report.Repaired != 1 {
		t.Fatalf("report = %+v", report)
	}

	ow, _ := client.Channel("male-18_24-anime-tier1")
	want := platform.Overwrites{
		platform.Everyone:        {},
		"screener-bot":           {Read: true, Write: true, Manage: true},
		"male-18_24-anime-tier1": {Read: true, Write: true},
	}
	if !ow.Equal(want) {
		t.Fatalf("overwrites = %v, want %v", ow, want)
	}

	// Non-hierarchical channels are untouched.
	general, _ := client.Channel("general")
	if !general.Equal(platform.Overwrites{platform.Everyone: {Read: true, Write: true}}) {
		t.Fatalf("general was modified: %v", general)
	}
}

func TestReconcilerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client := memory.New("screener-bot")
	client.SeedGroup("female-25_34-scripted-tier2")
	client.SeedChannel("female-25_34-scripted-tier2", platform.Overwrites{})

	r := NewReconciler(client, testPattern)
	if _, err := r.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	before, _ := client.Channel("female-25_34-scripted-tier2")

	report, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if report.Repaired != 0 {
		t.Fatalf("second pass repaired %d channels", report.Repaired)
	}
	after, _ := client.Channel("female-25_34-scripted-tier2")
	if !before.Equal(after) {
		t.Fatalf("second pass changed overwrites: %v vs %v", before, after)
	}
}

func TestReconcilerSecuresUnresolvedChannels(t *testing.T) {
	ctx := context.Background()
	client := memory.New("screener-bot")
	// No matching group exists for this channel.
	client.SeedChannel("male-18_24-anime-tier1", platform.Overwrites{
		platform.Everyone: {Read: true},
	})

	r := NewReconciler(client, testPattern)
	report, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(report.Unresolved, []string{"male-18_24-anime-tier1"}) {
		t.Fatalf("unresolved = %v", report.Unresolved)
	}
	ow, _ := client.Channel("male-18_24-anime-tier1")
	want := platform.Overwrites{
		platform.Everyone: {},
		"screener-bot":    {Read: true, Write: true, Manage: true},
	}
	if !ow.Equal(want) {
		t.Fatalf("overwrites = %v, want %v", ow, want)
	}
}

func TestReconcilerCollectsPerChannelFailures(t *testing.T) {
	ctx := context.Background()
	client := memory.New("screener-bot")
	client.SeedGroup("male-18_24-anime-tier1")
	client.SeedChannel("male-18_24-anime-tier1", platform.Overwrites{})
	client.SeedGroup("male-18_24-scripted-tier1")
	client.SeedChannel("male-18_24-scripted-tier1", platform.Overwrites{})
	client.FailChannel = map[string]error{
		"male-18_24-anime-tier1": errors.New("boom"),
	}

	r := NewReconciler(client, testPattern)
	report, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Audited != 2 || report.Repaired != 1 || len(report.Failures) != 1 {
		t.Fatalf("report = %+v", report)
	}
}
