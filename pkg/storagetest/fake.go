// Package storagetest provides an in-memory storage.Store for unit tests
// across the module, so package tests don't need a boltdb file on disk.
package storagetest

import (
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/storage"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/types"
)

// Store is a minimal in-memory implementation of storage.Store.
type Store struct {
	Users                  map[string]*types.User
	Roles                  map[string]*types.Role
	UserRoles              []*types.UserRole
	Computers              map[string]*types.Computer
	HardwareSpecs          map[string]*types.HardwareSpec
	Containers             map[string]*types.Container
	ContainerPorts         map[string][]*types.ContainerPort
	Reservations           map[string]*types.Reservation
	ReservedHardwareSpecs  map[string][]*types.ReservedHardwareSpec
	ReservedContainers     map[string]*types.ReservedContainer
	ReservedContainerPorts map[string][]*types.ReservedContainerPort
	RoleMountsList         []*types.RoleMount
	RoleHardwareLimitsList []*types.RoleHardwareLimit
	RoleReservationLimits  []*types.RoleReservationLimit
	AccessList             []*types.AccessListEntry
}

// New returns an empty Store ready to use.
func New() *Store {
	return &Store{
		Users:                  map[string]*types.User{},
		Roles:                  map[string]*types.Role{},
		Computers:              map[string]*types.Computer{},
		HardwareSpecs:          map[string]*types.HardwareSpec{},
		Containers:             map[string]*types.Container{},
		ContainerPorts:         map[string][]*types.ContainerPort{},
		Reservations:           map[string]*types.Reservation{},
		ReservedHardwareSpecs:  map[string][]*types.ReservedHardwareSpec{},
		ReservedContainers:     map[string]*types.ReservedContainer{},
		ReservedContainerPorts: map[string][]*types.ReservedContainerPort{},
	}
}

func (m *Store) CreateUser(u *types.User) error { m.Users[u.ID] = u; return nil }
func (m *Store) GetUser(id string) (*types.User, error) {
	if u, ok := m.Users[id]; ok {
		return u, nil
	}
	return nil, storage.ErrNotFound
}
func (m *Store) GetUserByEmail(email string) (*types.User, error) {
	for _, u := range m.Users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, storage.ErrNotFound
}
func (m *Store) ListUsers() ([]*types.User, error) {
	var out []*types.User
	for _, u := range m.Users {
		out = append(out, u)
	}
	return out, nil
}
func (m *Store) UpdateUser(u *types.User) error { m.Users[u.ID] = u; return nil }

func (m *Store) CreateRole(r *types.Role) error { m.Roles[r.ID] = r; return nil }
func (m *Store) GetRole(id string) (*types.Role, error) {
	if r, ok := m.Roles[id]; ok {
		return r, nil
	}
	return nil, storage.ErrNotFound
}
func (m *Store) GetRoleByName(name string) (*types.Role, error) {
	for _, r := range m.Roles {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, storage.ErrNotFound
}
func (m *Store) ListRoles() ([]*types.Role, error) {
	var out []*types.Role
	for _, r := range m.Roles {
		out = append(out, r)
	}
	return out, nil
}

func (m *Store) AddUserRole(ur *types.UserRole) error {
	m.UserRoles = append(m.UserRoles, ur)
	return nil
}
func (m *Store) ListUserRoles(userID string) ([]*types.UserRole, error) {
	var out []*types.UserRole
	for _, ur := range m.UserRoles {
		if ur.UserID == userID {
			out = append(out, ur)
		}
	}
	return out, nil
}

func (m *Store) CreateComputer(c *types.Computer) error { m.Computers[c.ID] = c; return nil }
func (m *Store) GetComputer(id string) (*types.Computer, error) {
	if c, ok := m.Computers[id]; ok {
		return c, nil
	}
	return nil, storage.ErrNotFound
}
func (m *Store) GetComputerByName(name string) (*types.Computer, error) {
	for _, c := range m.Computers {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, storage.ErrNotFound
}
func (m *Store) ListComputers() ([]*types.Computer, error) {
	var out []*types.Computer
	for _, c := range m.Computers {
		out = append(out, c)
	}
	return out, nil
}
func (m *Store) ListPublicComputers() ([]*types.Computer, error) {
	var out []*types.Computer
	for _, c := range m.Computers {
		if c.Public && !c.Removed {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Store) CreateHardwareSpec(s *types.HardwareSpec) error {
	m.HardwareSpecs[s.ID] = s
	return nil
}
func (m *Store) GetHardwareSpec(id string) (*types.HardwareSpec, error) {
	if s, ok := m.HardwareSpecs[id]; ok {
		return s, nil
	}
	return nil, storage.ErrNotFound
}
func (m *Store) UpdateHardwareSpec(s *types.HardwareSpec) error {
	m.HardwareSpecs[s.ID] = s
	return nil
}
func (m *Store) ListHardwareSpecsByComputer(computerID string) ([]*types.HardwareSpec, error) {
	var out []*types.HardwareSpec
	for _, s := range m.HardwareSpecs {
		if s.ComputerID == computerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Store) CreateContainer(c *types.Container) error { m.Containers[c.ID] = c; return nil }
func (m *Store) GetContainer(id string) (*types.Container, error) {
	if c, ok := m.Containers[id]; ok {
		return c, nil
	}
	return nil, storage.ErrNotFound
}
func (m *Store) ListContainers() ([]*types.Container, error) {
	var out []*types.Container
	for _, c := range m.Containers {
		out = append(out, c)
	}
	return out, nil
}

func (m *Store) CreateContainerPort(p *types.ContainerPort) error {
	m.ContainerPorts[p.ContainerID] = append(m.ContainerPorts[p.ContainerID], p)
	return nil
}
func (m *Store) ListContainerPorts(containerID string) ([]*types.ContainerPort, error) {
	return m.ContainerPorts[containerID], nil
}

func (m *Store) CreateReservation(r *types.Reservation) error {
	m.Reservations[r.ID] = r
	return nil
}
func (m *Store) GetReservation(id string) (*types.Reservation, error) {
	if r, ok := m.Reservations[id]; ok {
		return r, nil
	}
	return nil, storage.ErrNotFound
}
func (m *Store) UpdateReservation(r *types.Reservation) error {
	m.Reservations[r.ID] = r
	return nil
}
func (m *Store) ListReservations() ([]*types.Reservation, error) {
	var out []*types.Reservation
	for _, r := range m.Reservations {
		out = append(out, r)
	}
	return out, nil
}
func (m *Store) ListReservationsByUser(userID string) ([]*types.Reservation, error) {
	var out []*types.Reservation
	for _, r := range m.Reservations {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (m *Store) ListReservationsByComputer(computerID string) ([]*types.Reservation, error) {
	var out []*types.Reservation
	for _, r := range m.Reservations {
		if r.ComputerID == computerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Store) CreateReservedHardwareSpec(s *types.ReservedHardwareSpec) error {
	m.ReservedHardwareSpecs[s.ReservationID] = append(m.ReservedHardwareSpecs[s.ReservationID], s)
	return nil
}
func (m *Store) ListReservedHardwareSpecs(reservationID string) ([]*types.ReservedHardwareSpec, error) {
	return m.ReservedHardwareSpecs[reservationID], nil
}

func (m *Store) CreateReservedContainer(rc *types.ReservedContainer) error {
	m.ReservedContainers[rc.ReservationID] = rc
	return nil
}
func (m *Store) GetReservedContainer(reservationID string) (*types.ReservedContainer, error) {
	if rc, ok := m.ReservedContainers[reservationID]; ok {
		return rc, nil
	}
	return nil, storage.ErrNotFound
}
func (m *Store) UpdateReservedContainer(rc *types.ReservedContainer) error {
	m.ReservedContainers[rc.ReservationID] = rc
	return nil
}

func (m *Store) CreateReservedContainerPort(p *types.ReservedContainerPort) error {
	m.ReservedContainerPorts[p.ReservedContainerID] = append(m.ReservedContainerPorts[p.ReservedContainerID], p)
	return nil
}
func (m *Store) ListReservedContainerPorts(reservedContainerID string) ([]*types.ReservedContainerPort, error) {
	return m.ReservedContainerPorts[reservedContainerID], nil
}
func (m *Store) ListOutsidePortsInUse() (map[int]bool, error) {
	inUse := map[int]bool{}
	for _, r := range m.Reservations {
		if r.Status != types.ReservationStarted {
			continue
		}
		rc, ok := m.ReservedContainers[r.ID]
		if !ok {
			continue
		}
		for _, p := range m.ReservedContainerPorts[rc.ID] {
			inUse[p.OutsidePort] = true
		}
	}
	return inUse, nil
}

func (m *Store) CreateRoleMount(mt *types.RoleMount) error {
	m.RoleMountsList = append(m.RoleMountsList, mt)
	return nil
}
func (m *Store) ListRoleMounts(roleIDs []string, computerID string) ([]*types.RoleMount, error) {
	want := map[string]bool{}
	for _, id := range roleIDs {
		want[id] = true
	}
	var out []*types.RoleMount
	for _, rm := range m.RoleMountsList {
		if want[rm.RoleID] && rm.ComputerID == computerID {
			out = append(out, rm)
		}
	}
	return out, nil
}

func (m *Store) CreateRoleHardwareLimit(l *types.RoleHardwareLimit) error {
	m.RoleHardwareLimitsList = append(m.RoleHardwareLimitsList, l)
	return nil
}
func (m *Store) ListRoleHardwareLimits(roleIDs []string) ([]*types.RoleHardwareLimit, error) {
	want := map[string]bool{}
	for _, id := range roleIDs {
		want[id] = true
	}
	var out []*types.RoleHardwareLimit
	for _, l := range m.RoleHardwareLimitsList {
		if want[l.RoleID] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Store) CreateRoleReservationLimit(l *types.RoleReservationLimit) error {
	m.RoleReservationLimits = append(m.RoleReservationLimits, l)
	return nil
}
func (m *Store) ListRoleReservationLimits(roleIDs []string) ([]*types.RoleReservationLimit, error) {
	want := map[string]bool{}
	for _, id := range roleIDs {
		want[id] = true
	}
	var out []*types.RoleReservationLimit
	for _, l := range m.RoleReservationLimits {
		if want[l.RoleID] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Store) AddAccessListEntry(e *types.AccessListEntry) error {
	m.AccessList = append(m.AccessList, e)
	return nil
}
func (m *Store) ListAccessList(kind types.AccessListKind) ([]*types.AccessListEntry, error) {
	var out []*types.AccessListEntry
	for _, e := range m.AccessList {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Store) Close() error { return nil }

var _ storage.Store = (*Store)(nil)
