package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/docker"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/launch"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/metrics"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/notify"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/policy"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/portalloc"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/storagetest"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/types"
)

// fakeEffector is an in-memory docker.Effector used to drive the reconciler
// without a real Docker daemon.
type fakeEffector struct {
	running     map[string]docker.State
	stopped     []string
	removed     []string
	restarted   []string
	listRunning []docker.RunningContainer
}

func newFakeEffector() *fakeEffector {
	return &fakeEffector{running: map[string]docker.State{}}
}

func (f *fakeEffector) Run(ctx context.Context, spec docker.Spec) (string, error) {
	f.running[spec.Name] = docker.State{Running: true}
	return "container-id-" + spec.Name, nil
}
func (f *fakeEffector) Stop(ctx context.Context, name string) error {
	f.stopped = append(f.stopped, name)
	delete(f.running, name)
	return nil
}
func (f *fakeEffector) Remove(ctx context.Context, name string) error {
	f.removed = append(f.removed, name)
	return nil
}
func (f *fakeEffector) Restart(ctx context.Context, name string) error {
	f.restarted = append(f.restarted, name)
	f.running[name] = docker.State{Running: true}
	return nil
}
func (f *fakeEffector) Inspect(ctx context.Context, name string) (docker.State, error) {
	return f.running[name], nil
}
func (f *fakeEffector) ListRunning(ctx context.Context) ([]docker.RunningContainer, error) {
	return f.listRunning, nil
}
func (f *fakeEffector) SetPassword(ctx context.Context, name, password string) error { return nil }
func (f *fakeEffector) Exec(ctx context.Context, name string, cmd []string) error    { return nil }

func newTestReconciler(t *testing.T, store *storagetest.Store, effector *fakeEffector) *Reconciler {
	t.Helper()
	resolver := policy.NewResolver(store)
	ports := portalloc.NewAllocator(store, 20000, 21000)
	notifier := notify.NewLoggingNotifier(false, nil)
	launcher := launch.NewLauncher(store, resolver, ports, effector, notifier, launch.Config{RegistryAddress: "registry.local"})
	return New(store, effector, launcher, "computer-1")
}

func TestStopFinishedServersStopsExpiredStartedReservation(t *testing.T) {
	store := storagetest.New()
	effector := newFakeEffector()
	r := newTestReconciler(t, store, effector)

	res := &types.Reservation{
		ID: "res-1", ComputerID: "computer-1", Status: types.ReservationStarted,
		StartDate: time.Now().Add(-2 * time.Hour), EndDate: time.Now().Add(-1 * time.Hour),
	}
	require.NoError(t, store.CreateReservation(res))
	rc := &types.ReservedContainer{ID: "rc-1", ReservationID: res.ID, DockerName: "reservation-res-1-x"}
	require.NoError(t, store.CreateReservedContainer(rc))
	effector.running[rc.DockerName] = docker.State{Running: true}

	require.NoError(t, r.stopFinishedServers(context.Background()))

	reloaded, err := store.GetReservation(res.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReservationStopped, reloaded.Status)
	assert.Contains(t, effector.stopped, rc.DockerName)
	assert.Contains(t, effector.removed, rc.DockerName)
}

func TestStopFinishedServersLeavesActiveReservationsAlone(t *testing.T) {
	store := storagetest.New()
	effector := newFakeEffector()
	r := newTestReconciler(t, store, effector)

	res := &types.Reservation{
		ID: "res-active", ComputerID: "computer-1", Status: types.ReservationStarted,
		StartDate: time.Now().Add(-1 * time.Hour), EndDate: time.Now().Add(1 * time.Hour),
	}
	require.NoError(t, store.CreateReservation(res))

	require.NoError(t, r.stopFinishedServers(context.Background()))

	reloaded, err := store.GetReservation(res.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReservationStarted, reloaded.Status)
}

func TestRestartCrashedServersRestartsStoppedContainer(t *testing.T) {
	store := storagetest.New()
	effector := newFakeEffector()
	r := newTestReconciler(t, store, effector)

	res := &types.Reservation{ID: "res-1", ComputerID: "computer-1", Status: types.ReservationStarted}
	require.NoError(t, store.CreateReservation(res))
	rc := &types.ReservedContainer{ID: "rc-1", ReservationID: res.ID, DockerName: "reservation-res-1-x"}
	require.NoError(t, store.CreateReservedContainer(rc))
	// Not present in effector.running, so Inspect reports not running.

	require.NoError(t, r.restartCrashedServers(context.Background()))
	assert.Contains(t, effector.restarted, rc.DockerName)
}

func TestRestartCrashedServersSkipsRunningContainer(t *testing.T) {
	store := storagetest.New()
	effector := newFakeEffector()
	r := newTestReconciler(t, store, effector)

	res := &types.Reservation{ID: "res-1", ComputerID: "computer-1", Status: types.ReservationStarted}
	require.NoError(t, store.CreateReservation(res))
	rc := &types.ReservedContainer{ID: "rc-1", ReservationID: res.ID, DockerName: "reservation-res-1-x"}
	require.NoError(t, store.CreateReservedContainer(rc))
	effector.running[rc.DockerName] = docker.State{Running: true}

	require.NoError(t, r.restartCrashedServers(context.Background()))
	assert.NotContains(t, effector.restarted, rc.DockerName)
}

func TestRestartServersRequiringRestartReturnsToStarted(t *testing.T) {
	store := storagetest.New()
	effector := newFakeEffector()
	r := newTestReconciler(t, store, effector)

	res := &types.Reservation{
		ID: "res-1", ComputerID: "computer-1", Status: types.ReservationRestart,
		EndDate: time.Now().Add(1 * time.Hour),
	}
	require.NoError(t, store.CreateReservation(res))
	rc := &types.ReservedContainer{ID: "rc-1", ReservationID: res.ID, DockerName: "reservation-res-1-x"}
	require.NoError(t, store.CreateReservedContainer(rc))

	require.NoError(t, r.restartServersRequiringRestart(context.Background()))

	reloaded, err := store.GetReservation(res.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReservationStarted, reloaded.Status)
	assert.Contains(t, effector.restarted, rc.DockerName)
}

func TestSweepOrphansRemovesUnmatchedAgedContainer(t *testing.T) {
	store := storagetest.New()
	effector := newFakeEffector()
	r := newTestReconciler(t, store, effector)

	effector.listRunning = []docker.RunningContainer{
		{Name: "reservation-orphan-x", StartedAt: time.Now().Add(-45 * time.Minute)},
		{Name: "reservation-young-x", StartedAt: time.Now().Add(-5 * time.Minute)},
		{Name: "unrelated-container", StartedAt: time.Now().Add(-45 * time.Minute)},
	}

	require.NoError(t, r.sweepOrphans(context.Background()))

	assert.Contains(t, effector.removed, "reservation-orphan-x")
	assert.NotContains(t, effector.removed, "reservation-young-x", "container younger than the grace period is left alone")
	assert.NotContains(t, effector.removed, "unrelated-container", "only reservation-prefixed containers are swept")
}

func TestReportActiveReservationsSetsGaugePerStatus(t *testing.T) {
	store := storagetest.New()
	effector := newFakeEffector()
	r := newTestReconciler(t, store, effector)

	require.NoError(t, store.CreateReservation(&types.Reservation{ID: "res-started", ComputerID: "computer-1", Status: types.ReservationStarted}))
	require.NoError(t, store.CreateReservation(&types.Reservation{ID: "res-stopped", ComputerID: "computer-1", Status: types.ReservationStopped}))
	require.NoError(t, store.CreateReservation(&types.Reservation{ID: "res-other-computer", ComputerID: "computer-2", Status: types.ReservationStarted}))

	r.reportActiveReservations()

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReservationsActive.WithLabelValues(string(types.ReservationStarted))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReservationsActive.WithLabelValues(string(types.ReservationStopped))))
}

func TestSweepOrphansSkipsContainersMatchingAStartedReservation(t *testing.T) {
	store := storagetest.New()
	effector := newFakeEffector()
	r := newTestReconciler(t, store, effector)

	res := &types.Reservation{ID: "res-1", ComputerID: "computer-1", Status: types.ReservationStarted}
	require.NoError(t, store.CreateReservation(res))
	rc := &types.ReservedContainer{ID: "rc-1", ReservationID: res.ID, DockerName: "reservation-res-1-x"}
	require.NoError(t, store.CreateReservedContainer(rc))

	effector.listRunning = []docker.RunningContainer{
		{Name: rc.DockerName, StartedAt: time.Now().Add(-45 * time.Minute)},
	}

	require.NoError(t, r.sweepOrphans(context.Background()))
	assert.NotContains(t, effector.removed, rc.DockerName)
}
