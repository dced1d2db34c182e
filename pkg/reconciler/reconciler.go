/*
Package reconciler runs the per-node control loop: every tick it starts due
reservations, stops expired ones, restarts crashed or restart-flagged ones,
and periodically sweeps Docker for orphaned reservation-* containers with
no matching started reservation.
*/
package reconciler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/docker"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/launch"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/logging"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/metrics"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/storage"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/types"
)

const (
	tickInterval     = 10 * time.Second
	ticksPerSweep    = 6
	orphanGracePeriod = 30 * time.Minute
)

// Reconciler drives one computer's reservations through their lifecycle.
type Reconciler struct {
	store      storage.Store
	effector   docker.Effector
	launcher   *launch.Launcher
	computerID string

	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
	ticks  int
}

func New(store storage.Store, effector docker.Effector, launcher *launch.Launcher, computerID string) *Reconciler {
	return &Reconciler{
		store:      store,
		effector:   effector,
		launcher:   launcher,
		computerID: computerID,
		logger:     logging.WithComputer(computerID),
		stopCh:     make(chan struct{}),
	}
}

// Start runs the tick loop in its own goroutine.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop signals the loop to exit and waits for a tick already holding the
// lock to finish, so its Docker calls complete or time out before Stop
// returns. A tick the loop has dequeued but not yet begun can still start
// after Stop returns.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.mu.Lock()
	r.mu.Unlock()
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			r.tick()
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// tick runs one reconciliation cycle. Ticks never overlap: the loop above
// is single-goroutine, and each phase is sequential within a tick.
func (r *Reconciler) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx := context.Background()
	r.ticks++

	r.phase(ctx, "stop_finished", r.stopFinishedServers)
	r.phase(ctx, "start_new", r.startNewServers)
	r.phase(ctx, "restart_crashed", r.restartCrashedServers)
	r.phase(ctx, "restart_requested", r.restartServersRequiringRestart)

	if r.ticks%ticksPerSweep == 0 {
		r.phase(ctx, "sweep", r.sweepOrphans)
	}

	r.reportActiveReservations()
}

// reportActiveReservations sets reservations_active per status for this
// computer, so the gauge reflects the outcome of the phases above.
func (r *Reconciler) reportActiveReservations() {
	reservations, err := r.reservationsOnThisComputer()
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to load reservations for metrics")
		return
	}

	counts := map[types.ReservationStatus]int{
		types.ReservationReserved: 0,
		types.ReservationStarted:  0,
		types.ReservationStopped:  0,
		types.ReservationError:    0,
		types.ReservationRestart:  0,
	}
	for _, res := range reservations {
		counts[res.Status]++
	}
	for status, count := range counts {
		metrics.ReservationsActive.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (r *Reconciler) phase(ctx context.Context, name string, fn func(context.Context) error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ReconcilerTickDuration, name)

	if err := fn(ctx); err != nil {
		r.logger.Error().Err(err).Str("phase", name).Msg("reconciler phase failed")
	}
}

func (r *Reconciler) reservationsOnThisComputer() ([]*types.Reservation, error) {
	return r.store.ListReservationsByComputer(r.computerID)
}

// stopFinishedServers stops and marks stopped any reservation whose
// endDate has passed, whether or not it ever started.
func (r *Reconciler) stopFinishedServers(ctx context.Context) error {
	reservations, err := r.reservationsOnThisComputer()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, res := range reservations {
		if !(res.Status == types.ReservationReserved || res.Status == types.ReservationStarted) {
			continue
		}
		if !res.EndDate.Before(now) {
			continue
		}

		if res.Status == types.ReservationStarted {
			rc, err := r.store.GetReservedContainer(res.ID)
			if err == nil && rc.DockerName != "" {
				if err := r.effector.Stop(ctx, rc.DockerName); err != nil {
					r.logger.Warn().Err(err).Str("reservation_id", res.ID).Msg("failed to stop container")
				}
				if err := r.effector.Remove(ctx, rc.DockerName); err != nil {
					r.logger.Warn().Err(err).Str("reservation_id", res.ID).Msg("failed to remove container")
				}
				metrics.ContainersStoppedTotal.Inc()
				rc.StoppedAt = now
				_ = r.store.UpdateReservedContainer(rc)
			}
		}

		res.Status = types.ReservationStopped
		if err := r.store.UpdateReservation(res); err != nil {
			r.logger.Error().Err(err).Str("reservation_id", res.ID).Msg("failed to mark reservation stopped")
		}
	}
	return nil
}

// startNewServers launches every due reservation still in state reserved.
func (r *Reconciler) startNewServers(ctx context.Context) error {
	reservations, err := r.reservationsOnThisComputer()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, res := range reservations {
		if res.Status != types.ReservationReserved {
			continue
		}
		if !(res.StartDate.Before(now) && res.EndDate.After(now)) {
			continue
		}

		if err := r.launcher.Launch(ctx, res); err != nil {
			r.logger.Error().Err(err).Str("reservation_id", res.ID).Msg("failed to start reservation")
			continue
		}
		metrics.ContainersStartedTotal.Inc()
	}
	return nil
}

// restartCrashedServers restarts any started reservation whose container
// has exited, without changing its status (it is still "started"
// semantically).
func (r *Reconciler) restartCrashedServers(ctx context.Context) error {
	reservations, err := r.reservationsOnThisComputer()
	if err != nil {
		return err
	}

	for _, res := range reservations {
		if res.Status != types.ReservationStarted {
			continue
		}
		rc, err := r.store.GetReservedContainer(res.ID)
		if err != nil || rc.DockerName == "" {
			continue
		}

		state, err := r.effector.Inspect(ctx, rc.DockerName)
		if err != nil {
			r.logger.Warn().Err(err).Str("reservation_id", res.ID).Msg("failed to inspect container")
			continue
		}
		if state.Running {
			continue
		}

		if err := r.effector.Restart(ctx, rc.DockerName); err != nil {
			r.logger.Warn().Err(err).Str("reservation_id", res.ID).Msg("failed to restart crashed container")
			continue
		}
		metrics.ContainersRestartedTotal.Inc()
	}
	return nil
}

// restartServersRequiringRestart restarts reservations an operator flagged
// with status=restart, returning them to started.
func (r *Reconciler) restartServersRequiringRestart(ctx context.Context) error {
	reservations, err := r.reservationsOnThisComputer()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, res := range reservations {
		if res.Status != types.ReservationRestart {
			continue
		}
		if !res.EndDate.After(now) {
			continue
		}

		rc, err := r.store.GetReservedContainer(res.ID)
		if err != nil || rc.DockerName == "" {
			continue
		}

		if err := r.effector.Restart(ctx, rc.DockerName); err != nil {
			r.logger.Warn().Err(err).Str("reservation_id", res.ID).Msg("failed to restart flagged container, will retry")
			continue
		}

		metrics.ContainersRestartedTotal.Inc()
		res.Status = types.ReservationStarted
		if err := r.store.UpdateReservation(res); err != nil {
			r.logger.Error().Err(err).Str("reservation_id", res.ID).Msg("failed to mark reservation started after restart")
		}
	}
	return nil
}

// sweepOrphans lists Docker-visible reservation-* containers older than
// the grace period and removes any with no matching started reservation.
func (r *Reconciler) sweepOrphans(ctx context.Context) error {
	running, err := r.effector.ListRunning(ctx)
	if err != nil {
		return err
	}

	reservations, err := r.reservationsOnThisComputer()
	if err != nil {
		return err
	}

	startedNames := make(map[string]bool, len(reservations))
	for _, res := range reservations {
		if res.Status != types.ReservationStarted {
			continue
		}
		rc, err := r.store.GetReservedContainer(res.ID)
		if err == nil && rc.DockerName != "" {
			startedNames[rc.DockerName] = true
		}
	}

	now := time.Now()
	for _, c := range running {
		if !strings.HasPrefix(c.Name, docker.ContainerNamePrefix) {
			continue
		}
		if now.Sub(c.StartedAt) < orphanGracePeriod {
			continue
		}
		if startedNames[c.Name] {
			continue
		}

		r.logger.Info().Str("container", c.Name).Msg("removing orphaned container")
		if err := r.effector.Stop(ctx, c.Name); err != nil {
			r.logger.Warn().Err(err).Str("container", c.Name).Msg("failed to stop orphan")
		}
		if err := r.effector.Remove(ctx, c.Name); err != nil {
			r.logger.Warn().Err(err).Str("container", c.Name).Msg("failed to remove orphan")
			continue
		}
		metrics.ContainersOrphanedTotal.Inc()
	}
	return nil
}
