/*
Package policy resolves the effective caps and mount set a user gets on a
computer by merging every role the user holds, "most permissive" wins.
It is a pure function of the Store snapshot passed to it: no mutation, no
caching across calls.
*/
package policy

import (
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/storage"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/types"
)

const (
	defaultMinDurationHours = 1
	adminMaxDurationHours   = 1440
	userMaxDurationHours    = 48
	adminMaxActive          = 99
	userMaxActive           = 1
)

// Effective is the resolved policy for one user against one computer.
type Effective struct {
	IsAdmin bool

	// HardwareCaps maps hardwareSpecId to the user's effective per-spec cap,
	// before any availability-based clamp.
	HardwareCaps map[string]int

	MinDurationHours int
	MaxDurationHours int
	MaxActive        int

	Mounts []*types.RoleMount
}

// Resolver computes Effective policy from a Store snapshot.
type Resolver struct {
	store storage.Store
}

func NewResolver(store storage.Store) *Resolver {
	return &Resolver{store: store}
}

// roleIDs returns the ids of every role the user holds, plus the implicit
// "everyone" role, deduplicated. Returns isAdmin alongside.
func (p *Resolver) roleIDs(userID string) (ids []string, isAdmin bool, err error) {
	seen := make(map[string]bool)

	everyone, err := p.store.GetRoleByName(types.RoleNameEveryone)
	if err == nil {
		ids = append(ids, everyone.ID)
		seen[everyone.ID] = true
	} else if err != storage.ErrNotFound {
		return nil, false, err
	}

	userRoles, err := p.store.ListUserRoles(userID)
	if err != nil {
		return nil, false, err
	}

	for _, ur := range userRoles {
		if seen[ur.RoleID] {
			continue
		}
		seen[ur.RoleID] = true
		ids = append(ids, ur.RoleID)

		role, err := p.store.GetRole(ur.RoleID)
		if err != nil {
			return nil, false, err
		}
		if role.Name == types.RoleNameAdmin {
			isAdmin = true
		}
	}

	return ids, isAdmin, nil
}

// Resolve computes the effective policy for userID on computerID.
func (p *Resolver) Resolve(userID, computerID string) (*Effective, error) {
	roleIDs, isAdmin, err := p.roleIDs(userID)
	if err != nil {
		return nil, err
	}

	eff := &Effective{
		IsAdmin:          isAdmin,
		HardwareCaps:     make(map[string]int),
		MinDurationHours: defaultMinDurationHours,
	}

	if isAdmin {
		eff.MaxDurationHours = adminMaxDurationHours
		eff.MaxActive = adminMaxActive
	} else {
		eff.MaxDurationHours = userMaxDurationHours
		eff.MaxActive = userMaxActive
	}

	limits, err := p.store.ListRoleHardwareLimits(roleIDs)
	if err != nil {
		return nil, err
	}
	for _, l := range limits {
		if existing, ok := eff.HardwareCaps[l.HardwareSpecID]; !ok || l.MaximumAmountForRole > existing {
			eff.HardwareCaps[l.HardwareSpecID] = l.MaximumAmountForRole
		}
	}

	resLimits, err := p.store.ListRoleReservationLimits(roleIDs)
	if err != nil {
		return nil, err
	}
	for _, rl := range resLimits {
		if rl.MinDuration != nil && *rl.MinDuration < eff.MinDurationHours {
			eff.MinDurationHours = *rl.MinDuration
		}
		if rl.MaxDuration != nil && *rl.MaxDuration > eff.MaxDurationHours {
			eff.MaxDurationHours = *rl.MaxDuration
		}
		if rl.MaxActiveReservations != nil && *rl.MaxActiveReservations > eff.MaxActive {
			eff.MaxActive = *rl.MaxActiveReservations
		}
	}

	mounts, err := p.store.ListRoleMounts(roleIDs, computerID)
	if err != nil {
		return nil, err
	}
	eff.Mounts = dedupMounts(mounts)

	return eff, nil
}

func dedupMounts(mounts []*types.RoleMount) []*types.RoleMount {
	seen := make(map[string]bool, len(mounts))
	var out []*types.RoleMount
	for _, m := range mounts {
		key := m.HostPath + "\x00" + m.ContainerPath
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

// HardwareCap returns the effective cap for a single hardware spec, falling
// back to the spec's own default per-user cap when no role grants one.
// Admins are uncapped at the user-cap layer (still subject to remaining
// capacity, applied separately by the availability engine).
func (e *Effective) HardwareCap(spec *types.HardwareSpec) int {
	if e.IsAdmin {
		return spec.MaximumAmount
	}
	if cap, ok := e.HardwareCaps[spec.ID]; ok {
		return cap
	}
	return spec.MaximumAmountForUser
}

// GPUCap resolves the per-reservation cap for a specific GPU hardware spec.
// Mirrors the original source: a non-admin user is capped at one GPU per
// reservation unless their roles grant a limit for this exact spec id, in
// which case the cap is max(1, roleCap).
func (e *Effective) GPUCap(spec *types.HardwareSpec) int {
	if e.IsAdmin {
		return spec.MaximumAmount
	}
	if cap, ok := e.HardwareCaps[spec.ID]; ok {
		if cap < 1 {
			return 1
		}
		return cap
	}
	return 1
}
