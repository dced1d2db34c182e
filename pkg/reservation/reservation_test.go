package reservation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/availability"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/policy"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/reservation"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/storagetest"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/types"
)

func newService(t *testing.T) (*reservation.Service, *storagetest.Store, *types.Computer, *types.HardwareSpec) {
	t.Helper()
	store := storagetest.New()

	everyone := &types.Role{ID: "role-everyone", Name: types.RoleNameEveryone}
	require.NoError(t, store.CreateRole(everyone))

	computer := &types.Computer{ID: "computer-1", Name: "box", Public: true}
	require.NoError(t, store.CreateComputer(computer))

	ram := &types.HardwareSpec{ID: "spec-ram", ComputerID: computer.ID, Type: types.HardwareSpecRAM, MaximumAmount: 64, MinimumAmount: 1, MaximumAmountForUser: 16}
	require.NoError(t, store.CreateHardwareSpec(ram))

	resolver := policy.NewResolver(store)
	avail := availability.NewEngine(store, resolver)
	svc := reservation.NewService(store, resolver, avail)
	return svc, store, computer, ram
}

func TestCreateReservationSucceedsWithinLimits(t *testing.T) {
	svc, _, computer, ram := newService(t)

	resp := svc.CreateReservation(reservation.CreateInput{
		UserID:        "user-1",
		StartDate:     time.Now().UTC().Add(time.Hour),
		DurationHours: 4,
		ComputerID:    computer.ID,
		ContainerID:   "container-1",
		HardwareSpecs: map[string]int{ram.ID: 8},
	})

	require.True(t, resp.Status, resp.Message)
}

func TestCreateReservationRejectsOverCapacity(t *testing.T) {
	svc, _, computer, ram := newService(t)

	resp := svc.CreateReservation(reservation.CreateInput{
		UserID:        "user-1",
		StartDate:     time.Now().UTC().Add(time.Hour),
		DurationHours: 4,
		ComputerID:    computer.ID,
		ContainerID:   "container-1",
		HardwareSpecs: map[string]int{ram.ID: 9999},
	})

	assert.False(t, resp.Status)
}

func TestCreateReservationRejectsDurationOutsidePolicy(t *testing.T) {
	svc, _, computer, ram := newService(t)

	resp := svc.CreateReservation(reservation.CreateInput{
		UserID:        "user-1",
		StartDate:     time.Now().UTC().Add(time.Hour),
		DurationHours: 1000,
		ComputerID:    computer.ID,
		ContainerID:   "container-1",
		HardwareSpecs: map[string]int{ram.ID: 1},
	})

	assert.False(t, resp.Status)
}

func TestCreateReservationRejectsSecondActiveReservation(t *testing.T) {
	svc, _, computer, ram := newService(t)

	first := svc.CreateReservation(reservation.CreateInput{
		UserID:        "user-1",
		StartDate:     time.Now().UTC().Add(time.Hour),
		DurationHours: 2,
		ComputerID:    computer.ID,
		ContainerID:   "container-1",
		HardwareSpecs: map[string]int{ram.ID: 1},
	})
	require.True(t, first.Status, first.Message)

	second := svc.CreateReservation(reservation.CreateInput{
		UserID:        "user-1",
		StartDate:     time.Now().UTC().Add(10 * time.Hour),
		DurationHours: 2,
		ComputerID:    computer.ID,
		ContainerID:   "container-1",
		HardwareSpecs: map[string]int{ram.ID: 1},
	})

	assert.False(t, second.Status, "everyone role's default max active is 1")
}

func TestCancelReservationRequiresOwnerOrAdmin(t *testing.T) {
	svc, store, computer, ram := newService(t)

	resp := svc.CreateReservation(reservation.CreateInput{
		UserID:        "user-1",
		StartDate:     time.Now().UTC().Add(time.Hour),
		DurationHours: 2,
		ComputerID:    computer.ID,
		ContainerID:   "container-1",
		HardwareSpecs: map[string]int{ram.ID: 1},
	})
	require.True(t, resp.Status, resp.Message)

	reservationID := resp.Data.(map[string]string)["reservationId"]

	deniedResp := svc.CancelReservation(reservationID, "someone-else")
	assert.False(t, deniedResp.Status)

	allowedResp := svc.CancelReservation(reservationID, "user-1")
	assert.True(t, allowedResp.Status, allowedResp.Message)

	res, err := store.GetReservation(reservationID)
	require.NoError(t, err)
	assert.False(t, res.EndDate.IsZero())
}

func TestExtendReservationRefundsOwnHoldingsBeforeRecheck(t *testing.T) {
	svc, store, computer, ram := newService(t)

	resp := svc.CreateReservation(reservation.CreateInput{
		UserID:        "user-1",
		StartDate:     time.Now().UTC().Add(time.Hour),
		DurationHours: 2,
		ComputerID:    computer.ID,
		ContainerID:   "container-1",
		HardwareSpecs: map[string]int{ram.ID: 16},
	})
	require.True(t, resp.Status, resp.Message)
	reservationID := resp.Data.(map[string]string)["reservationId"]

	res, err := store.GetReservation(reservationID)
	require.NoError(t, err)
	res.Status = types.ReservationStarted
	require.NoError(t, store.UpdateReservation(res))

	// The reservation's own 16-unit hold is left out of the count over the
	// extension window, so all 64 units are free and re-admitting the same
	// 16 units fits under the 16-unit user cap.
	extended := svc.ExtendReservation(reservationID, 2)
	assert.True(t, extended.Status, extended.Message)

	reloaded, err := store.GetReservation(reservationID)
	require.NoError(t, err)
	assert.True(t, reloaded.EndDate.After(res.EndDate))
}

func TestExtendReservationRejectsPerDeviceGPUConflict(t *testing.T) {
	svc, store, computer, _ := newService(t)

	gpu := &types.HardwareSpec{ID: "spec-gpu-0", ComputerID: computer.ID, Type: types.HardwareSpecGPU, MaximumAmount: 1, MaximumAmountForUser: 1, InternalID: "0"}
	require.NoError(t, store.CreateHardwareSpec(gpu))

	now := time.Now().UTC()

	holder := svc.CreateReservation(reservation.CreateInput{
		UserID:        "user-1",
		StartDate:     now.Add(time.Hour),
		DurationHours: 2,
		ComputerID:    computer.ID,
		ContainerID:   "container-1",
		HardwareSpecs: map[string]int{gpu.ID: 1},
	})
	require.True(t, holder.Status, holder.Message)
	holderID := holder.Data.(map[string]string)["reservationId"]
	holderRes, err := store.GetReservation(holderID)
	require.NoError(t, err)
	holderRes.Status = types.ReservationStarted
	require.NoError(t, store.UpdateReservation(holderRes))

	other := &types.Reservation{
		ID: "res-other", UserID: "user-2", ComputerID: computer.ID, ContainerID: "container-1",
		Status: types.ReservationStarted, StartDate: now.Add(4 * time.Hour), EndDate: now.Add(6 * time.Hour),
	}
	require.NoError(t, store.CreateReservation(other))
	require.NoError(t, store.CreateReservedHardwareSpec(&types.ReservedHardwareSpec{ReservationID: other.ID, HardwareSpecID: gpu.ID, Amount: 1}))

	// Extending past the other reservation's start collides on the one
	// physical GPU device both reservations request.
	extended := svc.ExtendReservation(holderID, 4)
	assert.False(t, extended.Status, "extension into a window the other reservation holds the same device should be rejected")

	reloaded, err := store.GetReservation(holderID)
	require.NoError(t, err)
	assert.Equal(t, holderRes.EndDate, reloaded.EndDate, "rejected extension must not move the end date")
}

func TestRestartContainerRequiresStartedStatus(t *testing.T) {
	svc, store, computer, ram := newService(t)

	resp := svc.CreateReservation(reservation.CreateInput{
		UserID:        "user-1",
		StartDate:     time.Now().UTC().Add(time.Hour),
		DurationHours: 2,
		ComputerID:    computer.ID,
		ContainerID:   "container-1",
		HardwareSpecs: map[string]int{ram.ID: 1},
	})
	require.True(t, resp.Status, resp.Message)
	reservationID := resp.Data.(map[string]string)["reservationId"]

	stillReserved := svc.RestartContainer(reservationID)
	assert.False(t, stillReserved.Status, "reservation has not started yet")

	res, err := store.GetReservation(reservationID)
	require.NoError(t, err)
	res.Status = types.ReservationStarted
	require.NoError(t, store.UpdateReservation(res))

	restarted := svc.RestartContainer(reservationID)
	assert.True(t, restarted.Status, restarted.Message)
}
