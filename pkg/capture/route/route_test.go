package route_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aphelia-health/aphelia/pkg/capture"
	"github.com/aphelia-health/aphelia/pkg/capture/mock"
	"github.com/aphelia-health/aphelia/pkg/capture/route"
	"github.com/aphelia-health/aphelia/pkg/types"
)

func TestUseCloud(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		profile types.Profile
		want    bool
	}{
		{"free patient", types.Profile{Role: types.RolePatient, Tier: types.TierFree}, false},
		{"premium patient", types.Profile{Role: types.RolePatient, Tier: types.TierPremium}, true},
		{"free admin without override", types.Profile{Role: types.RoleAdmin, Tier: types.TierFree}, false},
		{"free admin with override", types.Profile{Role: types.RoleAdmin, Tier: types.TierFree, CloudOverride: true}, true},
		{"premium admin without override", types.Profile{Role: types.RoleAdmin, Tier: types.TierPremium}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := route.UseCloud(tc.profile); got != tc.want {
				t.Errorf("UseCloud(%+v) = %v, want %v", tc.profile, got, tc.want)
			}
		})
	}
}

func TestFor_RoutesByPolicy(t *testing.T) {
	t.Parallel()
	local := &mock.Provider{ProviderName: "local"}
	cloud := &mock.Provider{ProviderName: "cloud"}
	r := route.New(local, cloud)

	free := r.For(types.Profile{Tier: types.TierFree})
	if _, err := free.Start(context.Background(), capture.Request{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(local.StartCalls) != 1 || len(cloud.StartCalls) != 0 {
		t.Errorf("free tier start calls: local=%d cloud=%d", len(local.StartCalls), len(cloud.StartCalls))
	}
	if free.Name() != "local" {
		t.Errorf("free provider name = %q", free.Name())
	}

	premium := r.For(types.Profile{Tier: types.TierPremium})
	if _, err := premium.Start(context.Background(), capture.Request{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(cloud.StartCalls) != 1 {
		t.Errorf("premium tier cloud start calls = %d, want 1", len(cloud.StartCalls))
	}
}

func TestFailover_OnStartError(t *testing.T) {
	t.Parallel()
	local := &mock.Provider{ProviderName: "local", StartErr: errors.New("model not loaded")}
	cloud := &mock.Provider{ProviderName: "cloud"}
	r := route.New(local, cloud)

	p := r.For(types.Profile{Tier: types.TierFree})
	h, err := p.Start(context.Background(), capture.Request{})
	if err != nil {
		t.Fatalf("Start with failover: %v", err)
	}
	if h == nil {
		t.Fatal("no handle from fallback backend")
	}
	if len(local.StartCalls) != 1 || len(cloud.StartCalls) != 1 {
		t.Errorf("start calls: local=%d cloud=%d, want 1 each", len(local.StartCalls), len(cloud.StartCalls))
	}
}

func TestFailover_BothBackendsFail(t *testing.T) {
	t.Parallel()
	local := &mock.Provider{ProviderName: "local", StartErr: errors.New("local down")}
	cloud := &mock.Provider{ProviderName: "cloud", StartErr: errors.New("cloud down")}
	r := route.New(local, cloud)

	p := r.For(types.Profile{Tier: types.TierPremium})
	if _, err := p.Start(context.Background(), capture.Request{}); err == nil {
		t.Fatal("Start succeeded with both backends down")
	}
}
