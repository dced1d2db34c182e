/*
Package portalloc chooses free outside ports for container launch, from a
configured range, avoiding ports held by started reservations and ports the
local OS already has bound. Allocation is serialized per computer.
*/
package portalloc

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/logging"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/metrics"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/storage"
)

const maxRetries = 50

// Allocator picks host ports for container publication, one mutex per
// computer so concurrent launches on the same machine cannot race.
type Allocator struct {
	store      storage.Store
	rangeStart int
	rangeEnd   int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAllocator(store storage.Store, rangeStart, rangeEnd int) *Allocator {
	return &Allocator{
		store:      store,
		rangeStart: rangeStart,
		rangeEnd:   rangeEnd,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (a *Allocator) lockFor(computerID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[computerID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[computerID] = l
	}
	return l
}

// Allocate picks `count` distinct outside ports for computerID. Held under
// that computer's mutex for the duration of the call.
func (a *Allocator) Allocate(computerID string, count int) ([]int, error) {
	lock := a.lockFor(computerID)
	lock.Lock()
	defer lock.Unlock()

	inUse, err := a.store.ListOutsidePortsInUse()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports in use: %w", err)
	}

	chosen := make([]int, 0, count)
	chosenSet := make(map[int]bool, count)

	for i := 0; i < count; i++ {
		port, err := a.pickOne(inUse, chosenSet)
		if err != nil {
			return nil, err
		}
		chosen = append(chosen, port)
		chosenSet[port] = true
	}

	return chosen, nil
}

func (a *Allocator) pickOne(inUse map[int]bool, alreadyChosen map[int]bool) (int, error) {
	logger := logging.WithComponent("portalloc")
	rangeSize := a.rangeEnd - a.rangeStart
	if rangeSize <= 0 {
		return 0, fmt.Errorf("invalid port range [%d, %d)", a.rangeStart, a.rangeEnd)
	}

	var lastCandidate int
	for attempt := 0; attempt < maxRetries; attempt++ {
		candidate := a.rangeStart + rand.Intn(rangeSize)
		lastCandidate = candidate

		if inUse[candidate] || alreadyChosen[candidate] {
			metrics.PortAllocationRetriesTotal.Inc()
			continue
		}
		if isPortBound(candidate) {
			metrics.PortAllocationRetriesTotal.Inc()
			continue
		}
		return candidate, nil
	}

	logger.Warn().Int("candidate", lastCandidate).Msg("port allocation exhausted retries, proceeding with last candidate")
	return lastCandidate, nil
}

// isPortBound reports whether the local OS already has this port bound, by
// attempting a short TCP connect to localhost:port.
func isPortBound(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
