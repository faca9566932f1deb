// Package instancerouter decides which provider instance carries an outbound
// message. The policy is ordered, first match wins:
//
//  1. an explicit region override, when that instance is usable;
//  2. system traffic (otp/system kinds, or the system sender role) on the
//     system instance, falling back system → chine → mali;
//  3. region-scoped senders (Mali/China agents and admins) pinned to their
//     own instance regardless of the recipient's prefix, falling back to the
//     other business instance;
//  4. otp with no recognized role routed by the recipient's country calling
//     prefix;
//  5. everything else on the configured default instance.
//
// A branch only ever yields an active, configured instance; when a whole
// chain is exhausted the router reports ErrNoAvailableRegion and the
// delivery client must not be invoked for that cycle.
package instancerouter

import (
	"errors"
	"strings"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/model"
)

// ErrNoAvailableRegion means no active, configured instance exists for the
// request. Fatal for the current send cycle, non-retryable by itself.
var ErrNoAvailableRegion = errors.New("no available region for message")

// Request carries the routing inputs for one send cycle.
type Request struct {
	SenderRole     string
	Phone          string
	Kind           model.MessageKind
	RegionOverride string
}

type Router struct {
	regions *model.RegionSet
}

func NewRouter(regions *model.RegionSet) *Router {
	return &Router{regions: regions}
}

// Route resolves the instance for one send cycle.
func (r *Router) Route(req Request) (model.Region, error) {
	if req.RegionOverride != "" {
		if region, ok := r.regions.Get(model.RegionCode(req.RegionOverride)); ok && region.Usable() {
			return region, nil
		}
	}

	if req.Kind == model.MessageKindOTP || req.Kind == model.MessageKindSystem || req.SenderRole == model.RoleSystem {
		return r.firstUsable(model.RegionSystem, model.RegionChine, model.RegionMali)
	}

	if home, ok := homeRegion(req.SenderRole); ok {
		if home == model.RegionMali {
			return r.firstUsable(model.RegionMali, model.RegionChine)
		}
		return r.firstUsable(model.RegionChine, model.RegionMali)
	}

	if req.Kind == model.MessageKindOTP {
		if code, ok := RegionForPhone(req.Phone); ok {
			return r.firstUsable(code, r.regions.Default())
		}
	}

	return r.firstUsable(r.regions.Default(), otherBusinessRegion(r.regions.Default()))
}

// homeRegion maps region-scoped sender roles to their instance.
func homeRegion(role string) (model.RegionCode, bool) {
	switch role {
	case model.RoleAgentMali, model.RoleAdminMali:
		return model.RegionMali, true
	case model.RoleAgentChine, model.RoleAdminChine:
		return model.RegionChine, true
	}
	return "", false
}

// RegionForPhone infers the business instance from the recipient's country
// calling prefix. Unmapped prefixes report ok=false and fall to the default
// region.
func RegionForPhone(phone string) (model.RegionCode, bool) {
	switch {
	case strings.HasPrefix(phone, model.PrefixMali):
		return model.RegionMali, true
	case strings.HasPrefix(phone, model.PrefixChine):
		return model.RegionChine, true
	}
	return "", false
}

func otherBusinessRegion(code model.RegionCode) model.RegionCode {
	if code == model.RegionChine {
		return model.RegionMali
	}
	return model.RegionChine
}

func (r *Router) firstUsable(chain ...model.RegionCode) (model.Region, error) {
	for _, code := range chain {
		if region, ok := r.regions.Get(code); ok && region.Usable() {
			return region, nil
		}
	}
	return model.Region{}, ErrNoAvailableRegion
}
