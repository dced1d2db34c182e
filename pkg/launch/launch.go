/*
Package launch assembles and invokes a Docker Effector call for a
reservation transitioning from reserved to started: SSH password
generation, port allocation, GPU device selection, and mount
materialization with {email}/{userid} template substitution.
*/
package launch

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"regexp"
	"strings"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/docker"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/logging"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/notify"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/policy"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/portalloc"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/storage"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/types"
)

const (
	containerNameTimestampLayout = "01_02_2006_15_04_05"
	sshPasswordLength            = 32
	ramDiskPath                  = "/home/user/ram_disk"
	ramDiskSizeBytes             = 1 << 30 // 1 GiB
	configHookTimeout            = 60 * time.Second
)

var emailSanitizer = regexp.MustCompile(`[^A-Za-z0-9 ]`)

// SanitizeEmail strips everything but letters, digits and spaces, the way
// mount-path template substitution requires.
func SanitizeEmail(email string) string {
	return emailSanitizer.ReplaceAllString(email, "")
}

// SanitizeImageName strips ':' and '/' from a Docker image reference so it
// is safe to embed in a container name.
func SanitizeImageName(image string) string {
	r := strings.NewReplacer(":", "", "/", "")
	return r.Replace(image)
}

// ContainerName derives the globally-unique Docker container name for a
// reservation: reservation-{id}-{sanitizedImage}-{utcStamp}.
func ContainerName(reservationID, image string, now time.Time) string {
	return fmt.Sprintf("reservation-%s-%s-%s", reservationID, SanitizeImageName(image), now.UTC().Format(containerNameTimestampLayout))
}

// SubstituteMountVars replaces {email} and {userid} placeholders in a mount
// path. The email is sanitized first.
func SubstituteMountVars(path, email, userID string) string {
	path = strings.ReplaceAll(path, "{email}", SanitizeEmail(email))
	path = strings.ReplaceAll(path, "{userid}", userID)
	return path
}

// GeneratePassword returns a cryptographically random alphanumeric string
// of sshPasswordLength characters, strong enough for a container's SSH
// login.
func GeneratePassword() (string, error) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	out := make([]byte, sshPasswordLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// Config holds node-level launch policy.
type Config struct {
	RegistryAddress string
	RunConfigHook   bool
	RAMDiskEnabled  func(ramDiskSizePercent int) bool
}

// Launcher starts a reservation's container. Reconciler.startNewServers is
// the only caller.
type Launcher struct {
	store     storage.Store
	resolver  *policy.Resolver
	ports     *portalloc.Allocator
	effector  docker.Effector
	notifier  notify.Notifier
	cfg       Config
}

func NewLauncher(store storage.Store, resolver *policy.Resolver, ports *portalloc.Allocator, effector docker.Effector, notifier notify.Notifier, cfg Config) *Launcher {
	return &Launcher{store: store, resolver: resolver, ports: ports, effector: effector, notifier: notifier, cfg: cfg}
}

// Launch starts the container for a reservation in state reserved. On
// success it persists ReservedContainerPort rows and transitions the
// reservation to started; on failure it records the error and transitions
// to error, attempting a best-effort stop+remove of any partial container.
func (l *Launcher) Launch(ctx context.Context, reservation *types.Reservation) error {
	logger := logging.WithReservation(reservation.ID)

	user, err := l.store.GetUser(reservation.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	rc, err := l.store.GetReservedContainer(reservation.ID)
	if err != nil {
		return fmt.Errorf("failed to load reserved container: %w", err)
	}

	container, err := l.store.GetContainer(rc.ContainerID)
	if err != nil {
		return fmt.Errorf("failed to load container template: %w", err)
	}

	name := ContainerName(reservation.ID, container.ImageName, time.Now())

	spec, err := l.buildSpec(reservation, user, container, name)
	if err != nil {
		return l.fail(ctx, reservation, rc, err)
	}

	id, err := l.effector.Run(ctx, *spec)
	if err != nil {
		l.cleanupPartial(ctx, name)
		return l.fail(ctx, reservation, rc, err)
	}

	password, err := GeneratePassword()
	if err != nil {
		l.cleanupPartial(ctx, name)
		return l.fail(ctx, reservation, rc, err)
	}

	if err := l.effector.SetPassword(ctx, name, password); err != nil {
		l.cleanupPartial(ctx, name)
		return l.fail(ctx, reservation, rc, err)
	}

	if l.cfg.RunConfigHook {
		l.runConfigHook(ctx, name, spec.Mounts)
	}

	for insidePort, outsidePort := range spec.PortBindings {
		cp := findContainerPort(l.containerPortsFor(container.ID), insidePort)
		if cp == nil {
			continue
		}
		if err := l.store.CreateReservedContainerPort(&types.ReservedContainerPort{
			ReservedContainerID: rc.ID,
			ContainerPortID:     cp.ID,
			OutsidePort:         outsidePort,
		}); err != nil {
			return fmt.Errorf("failed to persist reserved container port: %w", err)
		}
	}

	now := time.Now()
	rc.DockerName = name
	rc.SSHPassword = password
	rc.StartedAt = now
	rc.ContainerStatus = string(types.ReservationStarted)
	if err := l.store.UpdateReservedContainer(rc); err != nil {
		return fmt.Errorf("failed to update reserved container: %w", err)
	}

	reservation.Status = types.ReservationStarted
	if err := l.store.UpdateReservation(reservation); err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}

	logger.Info().Str("docker_id", id).Str("docker_name", name).Msg("reservation started")
	l.notifier.ContainerStarted(user, reservation)
	return nil
}

func (l *Launcher) fail(ctx context.Context, reservation *types.Reservation, rc *types.ReservedContainer, cause error) error {
	logger := logging.WithReservation(reservation.ID)
	logger.Error().Err(cause).Msg("container launch failed")

	rc.DockerErrorMessage = cause.Error()
	if err := l.store.UpdateReservedContainer(rc); err != nil {
		logger.Error().Err(err).Msg("failed to record launch error")
	}

	reservation.Status = types.ReservationError
	if err := l.store.UpdateReservation(reservation); err != nil {
		logger.Error().Err(err).Msg("failed to mark reservation error")
	}

	if user, uerr := l.store.GetUser(reservation.UserID); uerr == nil {
		l.notifier.ContainerStartFailed(user, reservation, cause.Error())
	}

	return cause
}

func (l *Launcher) cleanupPartial(ctx context.Context, name string) {
	_ = l.effector.Stop(ctx, name)
	_ = l.effector.Remove(ctx, name)
}

func (l *Launcher) buildSpec(reservation *types.Reservation, user *types.User, container *types.Container, name string) (*docker.Spec, error) {
	eff, err := l.resolver.Resolve(reservation.UserID, reservation.ComputerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve policy: %w", err)
	}

	reservedSpecs, err := l.store.ListReservedHardwareSpecs(reservation.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reserved hardware specs: %w", err)
	}

	var cpus float64
	var memoryBytes int64
	var gpuDeviceIDs []string

	for _, rhs := range reservedSpecs {
		spec, err := l.store.GetHardwareSpec(rhs.HardwareSpecID)
		if err != nil {
			return nil, fmt.Errorf("failed to load hardware spec: %w", err)
		}
		switch spec.Type {
		case types.HardwareSpecCPUs:
			cpus = float64(rhs.Amount)
		case types.HardwareSpecRAM:
			memoryBytes = int64(rhs.Amount) << 30
		case types.HardwareSpecGPU:
			for i := 0; i < rhs.Amount; i++ {
				gpuDeviceIDs = append(gpuDeviceIDs, spec.InternalID)
			}
		}
	}

	rc, err := l.store.GetReservedContainer(reservation.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reserved container: %w", err)
	}

	mounts, err := l.buildMounts(eff.Mounts, user, rc.RamDiskSizePercent)
	if err != nil {
		return nil, err
	}

	portBindings, err := l.allocatePorts(reservation.ComputerID, container.ID)
	if err != nil {
		return nil, err
	}

	shmSize := memoryBytes / 2
	if rc.ShmSizePercent > 0 {
		shmSize = memoryBytes * int64(rc.ShmSizePercent) / 100
	}

	return &docker.Spec{
		Name:         name,
		Image:        fmt.Sprintf("%s/%s", l.cfg.RegistryAddress, container.ImageName),
		CPUs:         cpus,
		MemoryBytes:  memoryBytes,
		ShmSizeBytes: shmSize,
		Mounts:       mounts,
		PortBindings: portBindings,
		GPUDeviceIDs: gpuDeviceIDs,
	}, nil
}

// buildMounts resolves each role mount to its OCI runtime-spec form first
// (the vendor-neutral shape host-path template substitution and the ro/rbind
// options normalize into), then lowers it to the docker.Mount the Effector
// actually consumes.
func (l *Launcher) buildMounts(roleMounts []*types.RoleMount, user *types.User, ramDiskSizePercent int) ([]docker.Mount, error) {
	ociMounts := make([]specs.Mount, 0, len(roleMounts)+1)

	for _, rm := range roleMounts {
		hostPath := SubstituteMountVars(rm.HostPath, user.Email, user.ID)
		containerPath := SubstituteMountVars(rm.ContainerPath, user.Email, user.ID)

		if err := os.MkdirAll(hostPath, 0775); err != nil {
			return nil, fmt.Errorf("failed to create mount directory %s: %w", hostPath, err)
		}

		options := []string{"rbind"}
		if rm.ReadOnly {
			options = append(options, "ro")
		} else {
			options = append(options, "rw")
		}

		ociMounts = append(ociMounts, specs.Mount{
			Destination: containerPath,
			Type:        "bind",
			Source:      hostPath,
			Options:     options,
		})
	}

	if l.cfg.RAMDiskEnabled != nil && l.cfg.RAMDiskEnabled(ramDiskSizePercent) {
		ociMounts = append(ociMounts, specs.Mount{
			Destination: ramDiskPath,
			Type:        "tmpfs",
			Options:     []string{fmt.Sprintf("size=%d", ramDiskSizeBytes)},
		})
	}

	return lowerMounts(ociMounts), nil
}

func lowerMounts(ociMounts []specs.Mount) []docker.Mount {
	mounts := make([]docker.Mount, 0, len(ociMounts))
	for _, m := range ociMounts {
		if m.Type == "tmpfs" {
			mounts = append(mounts, docker.Mount{
				Destination: m.Destination,
				Tmpfs:       true,
				TmpfsSize:   ramDiskSizeBytes,
			})
			continue
		}
		mounts = append(mounts, docker.Mount{
			Source:      m.Source,
			Destination: m.Destination,
			ReadOnly:    containsOption(m.Options, "ro"),
		})
	}
	return mounts
}

func containsOption(options []string, want string) bool {
	for _, o := range options {
		if o == want {
			return true
		}
	}
	return false
}

func (l *Launcher) containerPortsFor(containerID string) []*types.ContainerPort {
	ports, err := l.store.ListContainerPorts(containerID)
	if err != nil {
		return nil
	}
	return ports
}

func (l *Launcher) allocatePorts(computerID, containerID string) (map[int]int, error) {
	ports := l.containerPortsFor(containerID)
	if len(ports) == 0 {
		return nil, nil
	}

	outsidePorts, err := l.ports.Allocate(computerID, len(ports))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate ports: %w", err)
	}

	bindings := make(map[int]int, len(ports))
	for i, cp := range ports {
		bindings[cp.Port] = outsidePorts[i]
	}
	return bindings, nil
}

func findContainerPort(ports []*types.ContainerPort, insidePort int) *types.ContainerPort {
	for _, cp := range ports {
		if cp.Port == insidePort {
			return cp
		}
	}
	return nil
}

// runConfigHook execs config.bash inside name, if one exists under a
// non-read-only mounted path, after container start. Best-effort: failure
// is logged and does not affect the reservation's status.
func (l *Launcher) runConfigHook(ctx context.Context, name string, mounts []docker.Mount) {
	logger := logging.WithComponent("launch")
	ctx, cancel := context.WithTimeout(ctx, configHookTimeout)
	defer cancel()

	for _, m := range mounts {
		if m.ReadOnly {
			continue
		}
		hostPath := fmt.Sprintf("%s/config/config.bash", m.Source)
		if _, err := os.Stat(hostPath); err != nil {
			continue
		}
		containerPath := fmt.Sprintf("%s/config/config.bash", m.Destination)
		logger.Info().Str("hook", containerPath).Msg("running post-start config hook")
		if err := l.effector.Exec(ctx, name, []string{"/bin/sh", containerPath}); err != nil {
			logger.Warn().Err(err).Str("hook", containerPath).Msg("config hook failed")
		}
		return
	}
}
