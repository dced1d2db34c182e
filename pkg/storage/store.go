package storage

import (
	"errors"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/types"
)

// ErrNotFound is returned by Get-style lookups that find nothing. Callers
// compare against it with errors.Is rather than matching on message text.
var ErrNotFound = errors.New("not found")

// Store is the persistence substrate behind every other package in this
// module. It is the single consistency authority: no package keeps its own
// authoritative in-memory copy of reservation state.
type Store interface {
	CreateUser(u *types.User) error
	GetUser(id string) (*types.User, error)
	GetUserByEmail(email string) (*types.User, error)
	ListUsers() ([]*types.User, error)
	UpdateUser(u *types.User) error

	CreateRole(r *types.Role) error
	GetRole(id string) (*types.Role, error)
	GetRoleByName(name string) (*types.Role, error)
	ListRoles() ([]*types.Role, error)

	AddUserRole(ur *types.UserRole) error
	ListUserRoles(userID string) ([]*types.UserRole, error)

	CreateComputer(c *types.Computer) error
	GetComputer(id string) (*types.Computer, error)
	GetComputerByName(name string) (*types.Computer, error)
	ListComputers() ([]*types.Computer, error)
	ListPublicComputers() ([]*types.Computer, error)

	CreateHardwareSpec(s *types.HardwareSpec) error
	GetHardwareSpec(id string) (*types.HardwareSpec, error)
	UpdateHardwareSpec(s *types.HardwareSpec) error
	ListHardwareSpecsByComputer(computerID string) ([]*types.HardwareSpec, error)

	CreateContainer(c *types.Container) error
	GetContainer(id string) (*types.Container, error)
	ListContainers() ([]*types.Container, error)

	CreateContainerPort(p *types.ContainerPort) error
	ListContainerPorts(containerID string) ([]*types.ContainerPort, error)

	CreateReservation(r *types.Reservation) error
	GetReservation(id string) (*types.Reservation, error)
	UpdateReservation(r *types.Reservation) error
	ListReservations() ([]*types.Reservation, error)
	ListReservationsByUser(userID string) ([]*types.Reservation, error)
	ListReservationsByComputer(computerID string) ([]*types.Reservation, error)

	CreateReservedHardwareSpec(s *types.ReservedHardwareSpec) error
	ListReservedHardwareSpecs(reservationID string) ([]*types.ReservedHardwareSpec, error)

	CreateReservedContainer(rc *types.ReservedContainer) error
	GetReservedContainer(reservationID string) (*types.ReservedContainer, error)
	UpdateReservedContainer(rc *types.ReservedContainer) error

	CreateReservedContainerPort(p *types.ReservedContainerPort) error
	ListReservedContainerPorts(reservedContainerID string) ([]*types.ReservedContainerPort, error)
	ListOutsidePortsInUse() (map[int]bool, error)

	CreateRoleMount(m *types.RoleMount) error
	ListRoleMounts(roleIDs []string, computerID string) ([]*types.RoleMount, error)

	CreateRoleHardwareLimit(l *types.RoleHardwareLimit) error
	ListRoleHardwareLimits(roleIDs []string) ([]*types.RoleHardwareLimit, error)

	CreateRoleReservationLimit(l *types.RoleReservationLimit) error
	ListRoleReservationLimits(roleIDs []string) ([]*types.RoleReservationLimit, error)

	AddAccessListEntry(e *types.AccessListEntry) error
	ListAccessList(kind types.AccessListKind) ([]*types.AccessListEntry, error)

	Close() error
}
