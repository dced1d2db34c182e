/*
Package availability computes per-hardware-spec remaining capacity over an
interval and answers admit-or-reject for a requested hardware map. It also
renders availability timelines for display, bucketed high/medium/low.
*/
package availability

import (
	"crypto/md5"
	"fmt"
	"sort"
	"time"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/policy"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/storage"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/types"
)

// ComputerAvailability is the per-computer result of an availability query.
type ComputerAvailability struct {
	Computer *types.Computer
	Specs    []*SpecAvailability
}

// SpecAvailability reports remaining capacity for one hardware spec, after
// subtracting overlapping reservations and (for the requesting user)
// clamping to their effective policy cap.
type SpecAvailability struct {
	Spec                 *types.HardwareSpec
	MaximumAmount        int // remaining after overlap subtraction
	MaximumAmountForUser int // min(policy cap, MaximumAmount)
}

// Engine computes availability against a Store snapshot.
type Engine struct {
	store    storage.Store
	resolver *policy.Resolver
}

func NewEngine(store storage.Store, resolver *policy.Resolver) *Engine {
	return &Engine{store: store, resolver: resolver}
}

// UnavailableError names the spec and remaining amount that caused a
// rejection.
type UnavailableError struct {
	SpecType  types.HardwareSpecType
	Remaining int
	Format    string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("not enough %s available (%d %s remaining)", e.SpecType, e.Remaining, e.Format)
}

// Remaining computes, for every hardware spec of every non-removed public
// computer, the remaining amount after subtracting reservations overlapping
// [t0, t1) (status reserved|started, excluding ignoreReservationID), then
// adding back the caller-supplied reducibleSpecs (the caller's own current
// holdings, refunded).
func (e *Engine) Remaining(t0, t1 time.Time, reducibleSpecs map[string]int, ignoreReservationID string) ([]*ComputerAvailability, error) {
	computers, err := e.store.ListPublicComputers()
	if err != nil {
		return nil, err
	}

	var out []*ComputerAvailability
	for _, c := range computers {
		specs, err := e.store.ListHardwareSpecsByComputer(c.ID)
		if err != nil {
			return nil, err
		}

		reservations, err := e.store.ListReservationsByComputer(c.ID)
		if err != nil {
			return nil, err
		}

		used := make(map[string]int)
		for _, r := range reservations {
			if r.ID == ignoreReservationID {
				continue
			}
			if !r.Active() {
				continue
			}
			if !r.Overlaps(t0, t1) {
				continue
			}
			rhs, err := e.store.ListReservedHardwareSpecs(r.ID)
			if err != nil {
				return nil, err
			}
			for _, spec := range rhs {
				used[spec.HardwareSpecID] += spec.Amount
			}
		}

		var specAvail []*SpecAvailability
		for _, s := range specs {
			remaining := s.MaximumAmount - used[s.ID]
			if amt, ok := reducibleSpecs[s.ID]; ok {
				remaining += amt
			}
			if remaining < 0 {
				remaining = 0
			}
			specAvail = append(specAvail, &SpecAvailability{
				Spec:          s,
				MaximumAmount: remaining,
			})
		}

		out = append(out, &ComputerAvailability{Computer: c, Specs: specAvail})
	}

	return out, nil
}

// ApplyUserCaps clamps MaximumAmountForUser to min(policy cap, remaining)
// for every spec, using the GPU-specific cap rule for type=gpu rows.
func ApplyUserCaps(computers []*ComputerAvailability, eff *policy.Effective) {
	for _, ca := range computers {
		for _, sa := range ca.Specs {
			var cap int
			if sa.Spec.Type == types.HardwareSpecGPU {
				cap = eff.GPUCap(sa.Spec)
			} else {
				cap = eff.HardwareCap(sa.Spec)
			}
			if cap < sa.MaximumAmount {
				sa.MaximumAmountForUser = cap
			} else {
				sa.MaximumAmountForUser = sa.MaximumAmount
			}
		}
	}
}

// CheckRequest validates that every requested {hardwareSpecId: amount} fits
// within remaining(s) >= s.minimumAmount, once the amount is actually being
// requested. Returns an UnavailableError naming the first spec that fails.
func CheckRequest(computerID string, computers []*ComputerAvailability, requested map[string]int) error {
	var target *ComputerAvailability
	for _, ca := range computers {
		if ca.Computer.ID == computerID {
			target = ca
			break
		}
	}
	if target == nil {
		return fmt.Errorf("computer not found or not available: %s", computerID)
	}

	bySpec := make(map[string]*SpecAvailability, len(target.Specs))
	for _, sa := range target.Specs {
		bySpec[sa.Spec.ID] = sa
	}

	for specID, amount := range requested {
		if amount <= 0 {
			continue
		}
		sa, ok := bySpec[specID]
		if !ok {
			return fmt.Errorf("unknown hardware spec: %s", specID)
		}
		if sa.MaximumAmount < sa.Spec.MinimumAmount || amount > sa.MaximumAmount {
			return &UnavailableError{SpecType: sa.Spec.Type, Remaining: sa.MaximumAmount, Format: sa.Spec.Format}
		}
		if amount > sa.MaximumAmountForUser {
			return fmt.Errorf("requested amount of %s exceeds your limit (%d %s)", sa.Spec.Type, sa.MaximumAmountForUser, sa.Spec.Format)
		}
	}

	return nil
}

// Bucket is a display-ratio classification for a timeline segment.
type Bucket string

const (
	BucketHigh   Bucket = "high"
	BucketMedium Bucket = "medium"
	BucketLow    Bucket = "low"
)

func bucketFor(ratio float64) Bucket {
	switch {
	case ratio > 0.75:
		return BucketHigh
	case ratio > 0.25:
		return BucketMedium
	default:
		return BucketLow
	}
}

// Segment is one sub-interval of a timeline for one computer.
type Segment struct {
	ComputerID string
	Color      string
	Start      time.Time
	End        time.Time
	Bucket     Bucket
	Ratio      float64
}

// Timeline splits [start, end) at every reservation boundary overlapping it
// and computes, for each resulting sub-interval and computer, the average
// remaining-capacity ratio across that computer's specs (cpus/ram/gpus
// aggregate), bucketed high/medium/low for UI rendering.
func (e *Engine) Timeline(start, end time.Time) ([]*Segment, error) {
	computers, err := e.store.ListPublicComputers()
	if err != nil {
		return nil, err
	}

	var segments []*Segment
	for _, c := range computers {
		reservations, err := e.store.ListReservationsByComputer(c.ID)
		if err != nil {
			return nil, err
		}

		points := map[int64]bool{start.Unix(): true, end.Unix(): true}
		for _, r := range reservations {
			if !r.Overlaps(start, end) {
				continue
			}
			if r.StartDate.After(start) && r.StartDate.Before(end) {
				points[r.StartDate.Unix()] = true
			}
			if r.EndDate.After(start) && r.EndDate.Before(end) {
				points[r.EndDate.Unix()] = true
			}
		}

		var sorted []int64
		for t := range points {
			sorted = append(sorted, t)
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		specs, err := e.store.ListHardwareSpecsByComputer(c.ID)
		if err != nil {
			return nil, err
		}

		color := computerColor(c.Name)

		for i := 0; i+1 < len(sorted); i++ {
			segStart := time.Unix(sorted[i], 0).UTC()
			segEnd := time.Unix(sorted[i+1], 0).UTC()

			ratio, err := e.averageRemainingRatio(c.ID, specs, reservations, segStart, segEnd)
			if err != nil {
				return nil, err
			}

			segments = append(segments, &Segment{
				ComputerID: c.ID,
				Color:      color,
				Start:      segStart,
				End:        segEnd,
				Bucket:     bucketFor(ratio),
				Ratio:      ratio,
			})
		}
	}

	return segments, nil
}

func (e *Engine) averageRemainingRatio(computerID string, specs []*types.HardwareSpec, reservations []*types.Reservation, t0, t1 time.Time) (float64, error) {
	used := make(map[string]int)
	for _, r := range reservations {
		if !r.Active() || !r.Overlaps(t0, t1) {
			continue
		}
		rhs, err := e.store.ListReservedHardwareSpecs(r.ID)
		if err != nil {
			return 0, err
		}
		for _, spec := range rhs {
			used[spec.HardwareSpecID] += spec.Amount
		}
	}

	var total, count float64
	for _, s := range specs {
		// Per-device GPU rows are excluded from the consolidated average;
		// the aggregate "gpus" row already represents device capacity.
		if s.Type == types.HardwareSpecGPU {
			continue
		}
		if s.MaximumAmount == 0 {
			continue
		}
		remaining := s.MaximumAmount - used[s.ID]
		if remaining < 0 {
			remaining = 0
		}
		total += float64(remaining) / float64(s.MaximumAmount)
		count++
	}

	if count == 0 {
		return 1, nil
	}
	return total / count, nil
}

// computerColor picks a deterministic display color for a computer name
// from a 10-color palette, via an MD5 hash of the name. Matches the
// original implementation so any UI consuming the timeline is stable
// across the rewrite.
func computerColor(name string) string {
	palette := []string{
		"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
		"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
	}
	sum := md5.Sum([]byte(name))
	idx := int(sum[0]) % len(palette)
	return palette[idx]
}
