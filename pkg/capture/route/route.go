// Package route selects the capture backend for a user and adds one-shot
// failover between backends.
//
// The policy mirrors the entitlement model: premium accounts use the cloud
// backend, free accounts the local one, and admin accounts follow their
// explicit cloud override regardless of tier. The decision is a single
// injected policy object so call sites never branch on entitlement
// themselves.
package route

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aphelia-health/aphelia/pkg/capture"
	"github.com/aphelia-health/aphelia/pkg/types"
)

// Router owns the two interchangeable backends and hands out per-user
// providers.
type Router struct {
	local capture.Provider
	cloud capture.Provider
}

// New creates a Router over the local and cloud backends.
func New(local, cloud capture.Provider) *Router {
	return &Router{local: local, cloud: cloud}
}

// UseCloud reports the routing decision for p: admins follow their
// explicit override; everyone else is routed by tier.
func UseCloud(p types.Profile) bool {
	if p.Role == types.RoleAdmin {
		return p.CloudOverride
	}
	return p.Tier == types.TierPremium
}

// For returns the capture provider to use for p. The returned provider
// applies the routing decision on every Start and fails over to the other
// backend once when the chosen backend cannot start a session.
func (r *Router) For(p types.Profile) capture.Provider {
	primary, secondary := r.local, r.cloud
	if UseCloud(p) {
		primary, secondary = r.cloud, r.local
	}
	return &failover{primary: primary, secondary: secondary}
}

// failover starts on the primary backend and retries the secondary once on
// a start failure. Event semantics are untouched; only session creation is
// rerouted.
type failover struct {
	primary   capture.Provider
	secondary capture.Provider
}

// Compile-time interface check.
var _ capture.Provider = (*failover)(nil)

// Start opens a session on the primary backend, falling back to the
// secondary when the primary cannot start one.
func (f *failover) Start(ctx context.Context, req capture.Request) (capture.Handle, error) {
	h, err := f.primary.Start(ctx, req)
	if err == nil {
		return h, nil
	}
	slog.Warn("capture: backend failed to start, trying fallback",
		"backend", f.primary.Name(),
		"fallback", f.secondary.Name(),
		"error", err,
	)
	h, ferr := f.secondary.Start(ctx, req)
	if ferr != nil {
		return nil, fmt.Errorf("route: both backends failed (%s: %v): %w",
			f.primary.Name(), err, ferr)
	}
	return h, nil
}

// Name returns the primary backend's name.
func (f *failover) Name() string {
	return f.primary.Name()
}
