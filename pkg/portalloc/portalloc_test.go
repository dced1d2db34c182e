package portalloc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/portalloc"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/storagetest"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/types"
)

func TestAllocateReturnsDistinctPortsInRange(t *testing.T) {
	store := storagetest.New()
	alloc := portalloc.NewAllocator(store, 20000, 20010)

	ports, err := alloc.Allocate("computer-1", 5)
	require.NoError(t, err)
	require.Len(t, ports, 5)

	seen := make(map[int]bool)
	for _, p := range ports {
		assert.False(t, seen[p], "port %d allocated twice in one call", p)
		seen[p] = true
		assert.GreaterOrEqual(t, p, 20000)
		assert.Less(t, p, 20010)
	}
}

func TestAllocateAvoidsPortsAlreadyInUse(t *testing.T) {
	store := storagetest.New()

	computer := &types.Computer{ID: "computer-1", Name: "box", Public: true}
	require.NoError(t, store.CreateComputer(computer))

	portSpec := &types.ContainerPort{ID: "port-ssh", ContainerID: "container-1", ServiceName: "ssh", Port: 22}
	require.NoError(t, store.CreateContainerPort(portSpec))

	res := &types.Reservation{ID: "res-1", ComputerID: computer.ID, Status: types.ReservationStarted}
	require.NoError(t, store.CreateReservation(res))
	rc := &types.ReservedContainer{ID: "rc-1", ReservationID: res.ID}
	require.NoError(t, store.CreateReservedContainer(rc))
	require.NoError(t, store.CreateReservedContainerPort(&types.ReservedContainerPort{ReservedContainerID: rc.ID, ContainerPortID: portSpec.ID, OutsidePort: 20000}))

	// A tiny range forces the allocator to walk past the held port.
	alloc := portalloc.NewAllocator(store, 20000, 20002)

	for i := 0; i < 20; i++ {
		ports, err := alloc.Allocate("computer-1", 1)
		require.NoError(t, err)
		assert.NotEqual(t, 20000, ports[0], "port held by a started reservation must not be handed out again")
	}
}

func TestAllocateFallsBackToLastCandidateWhenExhausted(t *testing.T) {
	store := storagetest.New()

	// A single-port range that's already in use: every attempt collides, so
	// the allocator must still return rather than hang or error.
	computer := &types.Computer{ID: "computer-1", Name: "box", Public: true}
	require.NoError(t, store.CreateComputer(computer))
	portSpec := &types.ContainerPort{ID: "port-ssh", ContainerID: "container-1", ServiceName: "ssh", Port: 22}
	require.NoError(t, store.CreateContainerPort(portSpec))
	res := &types.Reservation{ID: "res-1", ComputerID: computer.ID, Status: types.ReservationStarted}
	require.NoError(t, store.CreateReservation(res))
	rc := &types.ReservedContainer{ID: "rc-1", ReservationID: res.ID}
	require.NoError(t, store.CreateReservedContainer(rc))
	require.NoError(t, store.CreateReservedContainerPort(&types.ReservedContainerPort{ReservedContainerID: rc.ID, ContainerPortID: portSpec.ID, OutsidePort: 20000}))

	alloc := portalloc.NewAllocator(store, 20000, 20001)

	ports, err := alloc.Allocate("computer-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 20000, ports[0], "exhausted retries still return the last candidate rather than failing")
}

func TestAllocateRejectsEmptyRange(t *testing.T) {
	store := storagetest.New()
	alloc := portalloc.NewAllocator(store, 20000, 20000)

	_, err := alloc.Allocate("computer-1", 1)
	assert.Error(t, err)
}
