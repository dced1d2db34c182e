/*
Package reservation implements reservation creation, extension,
cancellation, listing and restart requests: the operations exposed to
callers as a Go Service rather than an HTTP surface. The create, extend,
cancel and restart methods return an apperr.Response envelope with a
human-readable message and log any internal cause via zerolog; the
listing and timeline methods return their data with a plain Go error.
*/
package reservation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/apperr"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/availability"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/logging"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/metrics"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/policy"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/storage"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/types"
)

const (
	maxDescriptionLength  = 50
	maxDurationHours      = 8760
	minShmSizePercent     = 10
	maxShmSizePercent     = 90
	defaultShmSizePercent = 50
	minRamDiskPercent     = 0
	maxRamDiskPercent     = 60
	maxExtensionHours     = 24
	listingLookbackDays   = 90
)

// Sentinel errors naming the *kind* of rejection. No Service method
// currently returns or wraps them: rejections are reported only as the
// message of an apperr.Response.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrPolicyDenied   = errors.New("policy denied")
	ErrCapacityDenied = errors.New("capacity denied")
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not found")
)

// Service creates, extends, cancels and lists reservations. It allocates no
// ports or containers; that is the reconciler's job.
type Service struct {
	store    storage.Store
	resolver *policy.Resolver
	avail    *availability.Engine

	mu          sync.Mutex
	computerMus map[string]*sync.Mutex
}

func NewService(store storage.Store, resolver *policy.Resolver, avail *availability.Engine) *Service {
	return &Service{
		store:       store,
		resolver:    resolver,
		avail:       avail,
		computerMus: make(map[string]*sync.Mutex),
	}
}

func (s *Service) computerLock(computerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.computerMus[computerID]
	if !ok {
		l = &sync.Mutex{}
		s.computerMus[computerID] = l
	}
	return l
}

// CreateInput is the logical input to CreateReservation.
type CreateInput struct {
	UserID                string
	StartDate             time.Time
	DurationHours         int
	ComputerID            string
	ContainerID           string
	HardwareSpecs         map[string]int
	AdminReserveUserEmail string
	Description           string
	ShmSizePercent        int
	RamDiskSizePercent    int
}

// CreateReservation validates input, resolves policy, checks availability
// and, on success, inserts the reservation and its spec rows under a
// per-computer mutex held across the check-then-admit section.
func (s *Service) CreateReservation(in CreateInput) *apperr.Response {
	logger := logging.WithComponent("reservation")

	description, err := sanitizeDescription(in.Description)
	if err != nil {
		return apperr.Fail(err.Error())
	}

	shmPercent := in.ShmSizePercent
	if shmPercent == 0 {
		shmPercent = defaultShmSizePercent
	}
	if shmPercent < minShmSizePercent || shmPercent > maxShmSizePercent {
		return apperr.Fail(fmt.Sprintf("shared memory percent must be between %d and %d", minShmSizePercent, maxShmSizePercent))
	}
	if in.RamDiskSizePercent < minRamDiskPercent || in.RamDiskSizePercent > maxRamDiskPercent {
		return apperr.Fail(fmt.Sprintf("ram disk percent must be between %d and %d", minRamDiskPercent, maxRamDiskPercent))
	}
	if in.DurationHours <= 0 || in.DurationHours > maxDurationHours {
		return apperr.Fail("duration must be a positive number of hours")
	}

	ownerID := in.UserID
	if in.AdminReserveUserEmail != "" {
		requester, err := s.store.GetUser(in.UserID)
		if err != nil {
			return apperr.Fail("requesting user not found")
		}
		requesterEff, err := s.resolver.Resolve(requester.ID, in.ComputerID)
		if err != nil {
			logger.Error().Err(err).Msg("failed to resolve requester policy")
			return apperr.Fail("internal error")
		}
		if !requesterEff.IsAdmin {
			return apperr.Fail("only admins may reserve on behalf of another user")
		}
		target, err := s.store.GetUserByEmail(in.AdminReserveUserEmail)
		if err != nil {
			return apperr.Fail(fmt.Sprintf("user not found: %s", in.AdminReserveUserEmail))
		}
		ownerID = target.ID
	}

	eff, err := s.resolver.Resolve(ownerID, in.ComputerID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve policy")
		return apperr.Fail("internal error")
	}

	active, err := s.activeReservationCount(ownerID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to count active reservations")
		return apperr.Fail("internal error")
	}
	if active >= eff.MaxActive {
		return apperr.Fail(fmt.Sprintf("You can only have %d active reservation(s)", eff.MaxActive))
	}

	if in.DurationHours < eff.MinDurationHours {
		return apperr.Fail(fmt.Sprintf("Minimum duration is %d hours.", eff.MinDurationHours))
	}
	if in.DurationHours > eff.MaxDurationHours {
		return apperr.Fail(fmt.Sprintf("Maximum duration is %d hours.", eff.MaxDurationHours))
	}

	startDate := in.StartDate.UTC()
	endDate := startDate.Add(time.Duration(in.DurationHours) * time.Hour)

	lock := s.computerLock(in.ComputerID)
	lock.Lock()
	defer lock.Unlock()

	computers, err := s.avail.Remaining(startDate, endDate, nil, "")
	if err != nil {
		logger.Error().Err(err).Msg("failed to compute availability")
		return apperr.Fail("internal error")
	}
	availability.ApplyUserCaps(computers, eff)

	if err := availability.CheckRequest(in.ComputerID, computers, in.HardwareSpecs); err != nil {
		metrics.ReservationsRejectedTotal.WithLabelValues("capacity").Inc()
		return apperr.Fail(err.Error())
	}

	res := &types.Reservation{
		ID:          uuid.New().String(),
		UserID:      ownerID,
		ComputerID:  in.ComputerID,
		ContainerID: in.ContainerID,
		StartDate:   startDate,
		EndDate:     endDate,
		Description: description,
		Status:      types.ReservationReserved,
	}
	if err := s.store.CreateReservation(res); err != nil {
		logger.Error().Err(err).Msg("failed to persist reservation")
		return apperr.Fail("internal error")
	}

	for specID, amount := range in.HardwareSpecs {
		if amount <= 0 {
			continue
		}
		if err := s.store.CreateReservedHardwareSpec(&types.ReservedHardwareSpec{
			ReservationID:  res.ID,
			HardwareSpecID: specID,
			Amount:         amount,
		}); err != nil {
			logger.Error().Err(err).Msg("failed to persist reserved hardware spec")
			return apperr.Fail("internal error")
		}
	}

	if err := s.store.CreateReservedContainer(&types.ReservedContainer{
		ID:                 uuid.New().String(),
		ReservationID:      res.ID,
		ContainerID:        in.ContainerID,
		ShmSizePercent:     shmPercent,
		RamDiskSizePercent: in.RamDiskSizePercent,
		ContainerStatus:    string(types.ReservationReserved),
	}); err != nil {
		logger.Error().Err(err).Msg("failed to persist reserved container")
		return apperr.Fail("internal error")
	}

	metrics.ReservationsCreatedTotal.Inc()
	logger.Info().Str("reservation_id", res.ID).Str("user_id", ownerID).Msg("reservation created")
	return apperr.Ok("reservation created", map[string]string{"reservationId": res.ID})
}

func (s *Service) activeReservationCount(userID string) (int, error) {
	reservations, err := s.store.ListReservationsByUser(userID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, r := range reservations {
		if r.Active() {
			count++
		}
	}
	return count, nil
}

// ExtendReservation extends a started reservation by extraHours, leaving
// the reservation's own current holdings out of the availability count
// over the extension window (so only other reservations contend), and
// rejecting per-device GPU conflicts.
func (s *Service) ExtendReservation(reservationID string, extraHours int) *apperr.Response {
	logger := logging.WithReservation(reservationID)

	if extraHours < 0 || extraHours > maxExtensionHours {
		return apperr.Fail(fmt.Sprintf("extension must be between 0 and %d hours", maxExtensionHours))
	}

	res, err := s.store.GetReservation(reservationID)
	if err != nil {
		return apperr.Fail("reservation not found")
	}
	if res.Status != types.ReservationStarted {
		return apperr.Fail("only a started reservation may be extended")
	}

	oldEnd := res.EndDate
	newEnd := oldEnd.Add(time.Duration(extraHours) * time.Hour)

	reservedSpecs, err := s.store.ListReservedHardwareSpecs(res.ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load reserved hardware specs")
		return apperr.Fail("internal error")
	}
	reducible := make(map[string]int, len(reservedSpecs))
	for _, rs := range reservedSpecs {
		reducible[rs.HardwareSpecID] = rs.Amount
	}

	if conflict := s.gpuConflict(res, reservedSpecs, oldEnd, newEnd); conflict != "" {
		metrics.ReservationsRejectedTotal.WithLabelValues("gpu_conflict").Inc()
		return apperr.Fail(fmt.Sprintf("device %s is held by another reservation during the requested extension", conflict))
	}

	lock := s.computerLock(res.ComputerID)
	lock.Lock()
	defer lock.Unlock()

	eff, err := s.resolver.Resolve(res.UserID, res.ComputerID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve policy")
		return apperr.Fail("internal error")
	}

	computers, err := s.avail.Remaining(oldEnd, newEnd, nil, res.ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to compute availability")
		return apperr.Fail("internal error")
	}
	availability.ApplyUserCaps(computers, eff)

	if err := availability.CheckRequest(res.ComputerID, computers, reducible); err != nil {
		metrics.ReservationsRejectedTotal.WithLabelValues("capacity").Inc()
		return apperr.Fail(err.Error())
	}

	res.EndDate = newEnd
	if err := s.store.UpdateReservation(res); err != nil {
		logger.Error().Err(err).Msg("failed to persist extension")
		return apperr.Fail("internal error")
	}

	logger.Info().Int("extra_hours", extraHours).Msg("reservation extended")
	return apperr.Ok("reservation extended", nil)
}

// gpuConflict checks whether any per-device GPU spec this reservation holds
// is claimed by another active reservation overlapping [t0, t1). Returns
// the conflicting spec's internal device id, or "" if none.
func (s *Service) gpuConflict(res *types.Reservation, reservedSpecs []*types.ReservedHardwareSpec, t0, t1 time.Time) string {
	for _, rs := range reservedSpecs {
		spec, err := s.store.GetHardwareSpec(rs.HardwareSpecID)
		if err != nil || spec.Type != types.HardwareSpecGPU {
			continue
		}

		others, err := s.store.ListReservationsByComputer(res.ComputerID)
		if err != nil {
			continue
		}
		for _, other := range others {
			if other.ID == res.ID || !other.Active() || !other.Overlaps(t0, t1) {
				continue
			}
			otherSpecs, err := s.store.ListReservedHardwareSpecs(other.ID)
			if err != nil {
				continue
			}
			for _, os := range otherSpecs {
				if os.HardwareSpecID == rs.HardwareSpecID {
					return spec.InternalID
				}
			}
		}
	}
	return ""
}

// CancelReservation sets endDate to now; the next reconciler tick stops the
// container if it was running. Only the owner or an admin may cancel.
func (s *Service) CancelReservation(reservationID, callerUserID string) *apperr.Response {
	logger := logging.WithReservation(reservationID)

	res, err := s.store.GetReservation(reservationID)
	if err != nil {
		return apperr.Fail("reservation not found")
	}

	if res.UserID != callerUserID {
		eff, err := s.resolver.Resolve(callerUserID, res.ComputerID)
		if err != nil || !eff.IsAdmin {
			return apperr.Fail("you may only cancel your own reservations")
		}
	}

	res.EndDate = time.Now().UTC()
	if err := s.store.UpdateReservation(res); err != nil {
		logger.Error().Err(err).Msg("failed to persist cancellation")
		return apperr.Fail("internal error")
	}

	logger.Info().Msg("reservation cancelled")
	return apperr.Ok("reservation cancelled", nil)
}

// RestartContainer sets status to restart for a started reservation; the
// reconciler picks this up on its next tick.
func (s *Service) RestartContainer(reservationID string) *apperr.Response {
	res, err := s.store.GetReservation(reservationID)
	if err != nil {
		return apperr.Fail("reservation not found")
	}
	if res.Status != types.ReservationStarted {
		return apperr.Fail("only a started reservation may be restarted")
	}
	res.Status = types.ReservationRestart
	if err := s.store.UpdateReservation(res); err != nil {
		return apperr.Fail("internal error")
	}
	return apperr.Ok("restart requested", nil)
}

// ListOwn returns userID's reservations from the last 90 days.
func (s *Service) ListOwn(userID string) ([]*types.Reservation, error) {
	all, err := s.store.ListReservationsByUser(userID)
	if err != nil {
		return nil, err
	}
	return filterRecent(all), nil
}

// ListAll returns every reservation from the last 90 days, for admin views.
func (s *Service) ListAll() ([]*types.Reservation, error) {
	all, err := s.store.ListReservations()
	if err != nil {
		return nil, err
	}
	return filterRecent(all), nil
}

func filterRecent(reservations []*types.Reservation) []*types.Reservation {
	cutoff := time.Now().AddDate(0, 0, -listingLookbackDays)
	var out []*types.Reservation
	for _, r := range reservations {
		if r.EndDate.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// Timeline delegates to the availability engine.
func (s *Service) Timeline(start, end time.Time) ([]*availability.Segment, error) {
	return s.avail.Timeline(start, end)
}

func sanitizeDescription(desc string) (string, error) {
	stripped := strings.NewReplacer("<", "", ">", "", "\"", "", "'", "").Replace(desc)
	if len(stripped) > maxDescriptionLength {
		return "", fmt.Errorf("description must be %d characters or fewer", maxDescriptionLength)
	}
	return stripped, nil
}
