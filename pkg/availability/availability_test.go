package availability_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/availability"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/policy"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/storagetest"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/types"
)

func seedComputer(t *testing.T, store *storagetest.Store) (*types.Computer, *types.HardwareSpec) {
	t.Helper()
	computer := &types.Computer{ID: "computer-1", Name: "gpu-box", Public: true}
	require.NoError(t, store.CreateComputer(computer))

	ram := &types.HardwareSpec{ID: "spec-ram", ComputerID: computer.ID, Type: types.HardwareSpecRAM, MaximumAmount: 64, MinimumAmount: 1, MaximumAmountForUser: 16}
	require.NoError(t, store.CreateHardwareSpec(ram))

	return computer, ram
}

func TestRemainingSubtractsOverlappingReservations(t *testing.T) {
	store := storagetest.New()
	computer, ram := seedComputer(t, store)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	overlapping := &types.Reservation{
		ID: "res-overlap", ComputerID: computer.ID, Status: types.ReservationStarted,
		StartDate: base, EndDate: base.Add(4 * time.Hour),
	}
	nonOverlapping := &types.Reservation{
		ID: "res-other", ComputerID: computer.ID, Status: types.ReservationStarted,
		StartDate: base.Add(10 * time.Hour), EndDate: base.Add(12 * time.Hour),
	}
	stopped := &types.Reservation{
		ID: "res-stopped", ComputerID: computer.ID, Status: types.ReservationStopped,
		StartDate: base, EndDate: base.Add(4 * time.Hour),
	}
	require.NoError(t, store.CreateReservation(overlapping))
	require.NoError(t, store.CreateReservation(nonOverlapping))
	require.NoError(t, store.CreateReservation(stopped))

	require.NoError(t, store.CreateReservedHardwareSpec(&types.ReservedHardwareSpec{ReservationID: overlapping.ID, HardwareSpecID: ram.ID, Amount: 20}))
	require.NoError(t, store.CreateReservedHardwareSpec(&types.ReservedHardwareSpec{ReservationID: nonOverlapping.ID, HardwareSpecID: ram.ID, Amount: 20}))
	require.NoError(t, store.CreateReservedHardwareSpec(&types.ReservedHardwareSpec{ReservationID: stopped.ID, HardwareSpecID: ram.ID, Amount: 20}))

	resolver := policy.NewResolver(store)
	engine := availability.NewEngine(store, resolver)

	result, err := engine.Remaining(base.Add(1*time.Hour), base.Add(2*time.Hour), nil, "")
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Len(t, result[0].Specs, 1)

	assert.Equal(t, 44, result[0].Specs[0].MaximumAmount, "only the overlapping started reservation's amount is subtracted")
}

func TestRemainingClampsAtZero(t *testing.T) {
	store := storagetest.New()
	computer, ram := seedComputer(t, store)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	res := &types.Reservation{
		ID: "res-big", ComputerID: computer.ID, Status: types.ReservationReserved,
		StartDate: base, EndDate: base.Add(1 * time.Hour),
	}
	require.NoError(t, store.CreateReservation(res))
	require.NoError(t, store.CreateReservedHardwareSpec(&types.ReservedHardwareSpec{ReservationID: res.ID, HardwareSpecID: ram.ID, Amount: 1000}))

	resolver := policy.NewResolver(store)
	engine := availability.NewEngine(store, resolver)

	result, err := engine.Remaining(base, base.Add(1*time.Hour), nil, "")
	require.NoError(t, err)
	assert.Equal(t, 0, result[0].Specs[0].MaximumAmount)
}

func TestRemainingRefundsReducibleSpecsOnExtend(t *testing.T) {
	store := storagetest.New()
	computer, ram := seedComputer(t, store)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	res := &types.Reservation{
		ID: "res-extend", ComputerID: computer.ID, Status: types.ReservationStarted,
		StartDate: base, EndDate: base.Add(2 * time.Hour),
	}
	require.NoError(t, store.CreateReservation(res))
	require.NoError(t, store.CreateReservedHardwareSpec(&types.ReservedHardwareSpec{ReservationID: res.ID, HardwareSpecID: ram.ID, Amount: 10}))

	resolver := policy.NewResolver(store)
	engine := availability.NewEngine(store, resolver)

	withoutRefund, err := engine.Remaining(base, base.Add(1*time.Hour), nil, "")
	require.NoError(t, err)
	assert.Equal(t, 54, withoutRefund[0].Specs[0].MaximumAmount)

	withRefund, err := engine.Remaining(base, base.Add(1*time.Hour), map[string]int{ram.ID: 10}, "")
	require.NoError(t, err)
	assert.Equal(t, 64, withRefund[0].Specs[0].MaximumAmount, "the reservation's own current holding is refunded before re-admission")
}

func TestApplyUserCapsClampsToLowerOfPolicyAndRemaining(t *testing.T) {
	ram := &types.HardwareSpec{ID: "spec-ram", MaximumAmountForUser: 16}
	computers := []*availability.ComputerAvailability{
		{
			Computer: &types.Computer{ID: "computer-1"},
			Specs:    []*availability.SpecAvailability{{Spec: ram, MaximumAmount: 8}},
		},
	}

	eff := &policy.Effective{HardwareCaps: map[string]int{ram.ID: 16}}
	availability.ApplyUserCaps(computers, eff)

	assert.Equal(t, 8, computers[0].Specs[0].MaximumAmountForUser, "remaining capacity is the binding constraint")
}

func TestCheckRequestRejectsBelowMinimum(t *testing.T) {
	ram := &types.HardwareSpec{ID: "spec-ram", Type: types.HardwareSpecRAM, MinimumAmount: 4, Format: "GB"}
	computers := []*availability.ComputerAvailability{
		{
			Computer: &types.Computer{ID: "computer-1"},
			Specs:    []*availability.SpecAvailability{{Spec: ram, MaximumAmount: 2, MaximumAmountForUser: 2}},
		},
	}

	err := availability.CheckRequest("computer-1", computers, map[string]int{ram.ID: 2})
	require.Error(t, err)
	var unavailable *availability.UnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestCheckRequestRejectsAboveUserCap(t *testing.T) {
	ram := &types.HardwareSpec{ID: "spec-ram", Type: types.HardwareSpecRAM, MinimumAmount: 1, Format: "GB"}
	computers := []*availability.ComputerAvailability{
		{
			Computer: &types.Computer{ID: "computer-1"},
			Specs:    []*availability.SpecAvailability{{Spec: ram, MaximumAmount: 32, MaximumAmountForUser: 8}},
		},
	}

	err := availability.CheckRequest("computer-1", computers, map[string]int{ram.ID: 16})
	require.Error(t, err)
}

func TestCheckRequestAdmitsWithinLimits(t *testing.T) {
	ram := &types.HardwareSpec{ID: "spec-ram", Type: types.HardwareSpecRAM, MinimumAmount: 1, Format: "GB"}
	computers := []*availability.ComputerAvailability{
		{
			Computer: &types.Computer{ID: "computer-1"},
			Specs:    []*availability.SpecAvailability{{Spec: ram, MaximumAmount: 32, MaximumAmountForUser: 8}},
		},
	}

	err := availability.CheckRequest("computer-1", computers, map[string]int{ram.ID: 8})
	assert.NoError(t, err)
}
