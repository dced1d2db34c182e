package types

import "time"

// User is an account that can hold reservations.
type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	Salt                string
	LoginToken          string
	LoginTokenCreatedAt time.Time
}

// Role groups hardware caps, duration caps, active-count caps and mounts.
// Two names are well-known: "admin" bypasses most caps, "everyone" is
// held implicitly by every user.
type Role struct {
	ID   string
	Name string
}

const (
	RoleNameAdmin    = "admin"
	RoleNameEveryone = "everyone"
)

// UserRole is the (user, role) membership association.
type UserRole struct {
	UserID string
	RoleID string
}

// Computer is a pool member that hosts reservations.
type Computer struct {
	ID      string
	Name    string
	IP      string
	Public  bool
	Removed bool
}

// HardwareSpecType distinguishes the resource dimension a HardwareSpec row describes.
type HardwareSpecType string

const (
	HardwareSpecCPUs HardwareSpecType = "cpus"
	HardwareSpecRAM  HardwareSpecType = "ram"
	HardwareSpecGPUs HardwareSpecType = "gpus" // aggregate, display/role-limit only
	HardwareSpecGPU  HardwareSpecType = "gpu"  // per-device, actually allocated
)

// HardwareSpec describes one resource dimension on a Computer. Each computer
// owns exactly one cpus row, one ram row, one gpus aggregate row, and
// zero-or-more per-device gpu rows.
type HardwareSpec struct {
	ID                   string
	ComputerID           string
	Type                 HardwareSpecType
	MaximumAmount        int
	MinimumAmount        int
	MaximumAmountForUser int
	DefaultAmountForUser int
	Format               string // unit label, e.g. "GB"
	InternalID           string // GPU CUDA/device index, only for type=gpu
}

// Container is an image template a reservation can request.
type Container struct {
	ID          string
	ImageName   string
	Name        string
	Description string
	Public      bool
	Removed     bool
}

// ContainerPort is a port the image exposes, named by the service it carries.
type ContainerPort struct {
	ID          string
	ContainerID string
	ServiceName string
	Port        int // inside-container port
}

// ReservationStatus is the reservation state machine's tag, per spec.md §4.3.
type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "reserved"
	ReservationStarted  ReservationStatus = "started"
	ReservationStopped  ReservationStatus = "stopped"
	ReservationError    ReservationStatus = "error"
	ReservationRestart  ReservationStatus = "restart"
)

// Reservation is a user's time-bounded claim on hardware amounts on one
// computer, plus a container image. startDate must be strictly before
// endDate. Status only moves along the reserved/started/stopped/error/
// restart state machine.
type Reservation struct {
	ID          string
	UserID      string
	ComputerID  string
	ContainerID string
	StartDate   time.Time
	EndDate     time.Time
	Description string
	Status      ReservationStatus
}

// Overlaps reports whether the reservation's interval overlaps [t0, t1),
// using the half-open overlap test from spec.md §4.1: start < t1 && end > t0.
func (r *Reservation) Overlaps(t0, t1 time.Time) bool {
	return r.StartDate.Before(t1) && r.EndDate.After(t0)
}

// Active reports whether the reservation still counts against capacity and
// active-count caps (i.e. not yet stopped or errored).
func (r *Reservation) Active() bool {
	return r.Status == ReservationReserved || r.Status == ReservationStarted
}

// ReservedHardwareSpec is the amount of one HardwareSpec a Reservation holds.
// Amount is always > 0; zero amounts are elided at write time.
type ReservedHardwareSpec struct {
	ReservationID  string
	HardwareSpecID string
	Amount         int
}

// ReservedContainer is the Docker-realized side of a started Reservation.
type ReservedContainer struct {
	ID                   string
	ReservationID        string
	ContainerID           string
	ShmSizePercent       int // 10..90, default 50
	RamDiskSizePercent   int // 0..60, default 0
	StartedAt            time.Time
	StoppedAt            time.Time
	DockerName           string // globally-unique, "reservation-{id}-{image}-{stamp}"
	ContainerStatus      string
	SSHPassword          string
	DockerErrorMessage   string
}

// ReservedContainerPort binds one ContainerPort to a host-visible port for a
// started reservation. Outside ports are pairwise disjoint across all
// started reservations on the same computer.
type ReservedContainerPort struct {
	ReservedContainerID string
	ContainerPortID     string
	OutsidePort         int
}

// RoleMount is a host-directory mount granted to members of a role, on a
// specific computer. hostPath/containerPath may contain {email}/{userid}
// placeholders substituted at container launch.
type RoleMount struct {
	ID            string
	RoleID        string
	ComputerID    string
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// RoleHardwareLimit overrides a HardwareSpec's default per-user cap for
// members of a role. A row always sets the cap (there is no null form);
// only a spec with no row for any of the user's roles keeps its default.
type RoleHardwareLimit struct {
	RoleID               string
	HardwareSpecID       string
	MaximumAmountForRole int
}

// RoleReservationLimit bounds reservation duration and active-reservation
// count for members of a role. Nil fields mean "not set"; resolution
// falls back to the defaults named in spec.md §4.2.
type RoleReservationLimit struct {
	RoleID                string
	MinDuration           *int // hours
	MaxDuration           *int // hours
	MaxActiveReservations *int
}

// AccessListKind selects which email gate list an entry belongs to.
type AccessListKind string

const (
	AccessListWhitelist AccessListKind = "whitelist"
	AccessListBlacklist AccessListKind = "blacklist"
)

// AccessListEntry gates login when the corresponding list is enabled.
type AccessListEntry struct {
	Kind  AccessListKind
	Email string
}
