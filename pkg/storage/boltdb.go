package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/types"
)

var (
	bucketUsers                 = []byte("users")
	bucketRoles                 = []byte("roles")
	bucketUserRoles              = []byte("user_roles")
	bucketComputers              = []byte("computers")
	bucketHardwareSpecs          = []byte("hardware_specs")
	bucketContainers             = []byte("containers")
	bucketContainerPorts         = []byte("container_ports")
	bucketReservations           = []byte("reservations")
	bucketReservedHardwareSpecs  = []byte("reserved_hardware_specs")
	bucketReservedContainers     = []byte("reserved_containers")
	bucketReservedContainerPorts = []byte("reserved_container_ports")
	bucketRoleMounts             = []byte("role_mounts")
	bucketRoleHardwareLimits     = []byte("role_hardware_limits")
	bucketRoleReservationLimits  = []byte("role_reservation_limits")
	bucketAccessList             = []byte("access_list")

	allBuckets = [][]byte{
		bucketUsers, bucketRoles, bucketUserRoles, bucketComputers,
		bucketHardwareSpecs, bucketContainers, bucketContainerPorts,
		bucketReservations, bucketReservedHardwareSpecs, bucketReservedContainers,
		bucketReservedContainerPorts, bucketRoleMounts, bucketRoleHardwareLimits,
		bucketRoleReservationLimits, bucketAccessList,
	}
)

// BoltStore implements Store on top of a single BoltDB file, one bucket per
// entity, JSON-marshaled values keyed by id, by a composite key for
// association rows without their own id, or by the owning reservation's or
// role's id for rows that exist once per reservation or role.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the BoltDB file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "reservations.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(tx *bolt.Tx, bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

func get(tx *bolt.Tx, bucket []byte, key string, v interface{}) error {
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

// --- Users ---

func (s *BoltStore) CreateUser(u *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketUsers, u.ID, u) })
}

func (s *BoltStore) GetUser(id string) (*types.User, error) {
	var u types.User
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketUsers, id, &u) })
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *BoltStore) GetUserByEmail(email string) (*types.User, error) {
	var found *types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var u types.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			if u.Email == email {
				found = &u
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *BoltStore) ListUsers() ([]*types.User, error) {
	var users []*types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var u types.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			users = append(users, &u)
			return nil
		})
	})
	return users, err
}

func (s *BoltStore) UpdateUser(u *types.User) error { return s.CreateUser(u) }

// --- Roles ---

func (s *BoltStore) CreateRole(r *types.Role) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketRoles, r.ID, r) })
}

func (s *BoltStore) GetRole(id string) (*types.Role, error) {
	var r types.Role
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketRoles, id, &r) })
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) GetRoleByName(name string) (*types.Role, error) {
	var found *types.Role
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoles).ForEach(func(k, v []byte) error {
			var r types.Role
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Name == name {
				found = &r
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *BoltStore) ListRoles() ([]*types.Role, error) {
	var roles []*types.Role
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoles).ForEach(func(k, v []byte) error {
			var r types.Role
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			roles = append(roles, &r)
			return nil
		})
	})
	return roles, err
}

// --- UserRoles ---

func userRoleKey(userID, roleID string) string { return userID + "|" + roleID }

func (s *BoltStore) AddUserRole(ur *types.UserRole) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketUserRoles, userRoleKey(ur.UserID, ur.RoleID), ur)
	})
}

func (s *BoltStore) ListUserRoles(userID string) ([]*types.UserRole, error) {
	var out []*types.UserRole
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUserRoles).ForEach(func(k, v []byte) error {
			var ur types.UserRole
			if err := json.Unmarshal(v, &ur); err != nil {
				return err
			}
			if ur.UserID == userID {
				out = append(out, &ur)
			}
			return nil
		})
	})
	return out, err
}

// --- Computers ---

func (s *BoltStore) CreateComputer(c *types.Computer) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketComputers, c.ID, c) })
}

func (s *BoltStore) GetComputer(id string) (*types.Computer, error) {
	var c types.Computer
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketComputers, id, &c) })
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) GetComputerByName(name string) (*types.Computer, error) {
	var found *types.Computer
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketComputers).ForEach(func(k, v []byte) error {
			var c types.Computer
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.Name == name {
				found = &c
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *BoltStore) ListComputers() ([]*types.Computer, error) {
	var out []*types.Computer
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketComputers).ForEach(func(k, v []byte) error {
			var c types.Computer
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListPublicComputers() ([]*types.Computer, error) {
	all, err := s.ListComputers()
	if err != nil {
		return nil, err
	}
	var out []*types.Computer
	for _, c := range all {
		if c.Public && !c.Removed {
			out = append(out, c)
		}
	}
	return out, nil
}

// --- HardwareSpecs ---

func (s *BoltStore) CreateHardwareSpec(spec *types.HardwareSpec) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketHardwareSpecs, spec.ID, spec) })
}

func (s *BoltStore) GetHardwareSpec(id string) (*types.HardwareSpec, error) {
	var spec types.HardwareSpec
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketHardwareSpecs, id, &spec) })
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *BoltStore) UpdateHardwareSpec(spec *types.HardwareSpec) error {
	return s.CreateHardwareSpec(spec)
}

func (s *BoltStore) ListHardwareSpecsByComputer(computerID string) ([]*types.HardwareSpec, error) {
	var out []*types.HardwareSpec
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHardwareSpecs).ForEach(func(k, v []byte) error {
			var spec types.HardwareSpec
			if err := json.Unmarshal(v, &spec); err != nil {
				return err
			}
			if spec.ComputerID == computerID {
				out = append(out, &spec)
			}
			return nil
		})
	})
	return out, err
}

// --- Containers ---

func (s *BoltStore) CreateContainer(c *types.Container) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketContainers, c.ID, c) })
}

func (s *BoltStore) GetContainer(id string) (*types.Container, error) {
	var c types.Container
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketContainers, id, &c) })
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) ListContainers() ([]*types.Container, error) {
	var out []*types.Container
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).ForEach(func(k, v []byte) error {
			var c types.Container
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	})
	return out, err
}

// --- ContainerPorts ---

func (s *BoltStore) CreateContainerPort(p *types.ContainerPort) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketContainerPorts, p.ID, p) })
}

func (s *BoltStore) ListContainerPorts(containerID string) ([]*types.ContainerPort, error) {
	var out []*types.ContainerPort
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainerPorts).ForEach(func(k, v []byte) error {
			var p types.ContainerPort
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.ContainerID == containerID {
				out = append(out, &p)
			}
			return nil
		})
	})
	return out, err
}

// --- Reservations ---

func (s *BoltStore) CreateReservation(r *types.Reservation) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketReservations, r.ID, r) })
}

func (s *BoltStore) GetReservation(id string) (*types.Reservation, error) {
	var r types.Reservation
	err := s.db.View(func(tx *bolt.Tx) error { return get(tx, bucketReservations, id, &r) })
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) UpdateReservation(r *types.Reservation) error { return s.CreateReservation(r) }

func (s *BoltStore) ListReservations() ([]*types.Reservation, error) {
	var out []*types.Reservation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReservations).ForEach(func(k, v []byte) error {
			var r types.Reservation
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, &r)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListReservationsByUser(userID string) ([]*types.Reservation, error) {
	all, err := s.ListReservations()
	if err != nil {
		return nil, err
	}
	var out []*types.Reservation
	for _, r := range all {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *BoltStore) ListReservationsByComputer(computerID string) ([]*types.Reservation, error) {
	all, err := s.ListReservations()
	if err != nil {
		return nil, err
	}
	var out []*types.Reservation
	for _, r := range all {
		if r.ComputerID == computerID {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- ReservedHardwareSpecs ---

func reservedHardwareSpecKey(reservationID, hardwareSpecID string) string {
	return reservationID + "|" + hardwareSpecID
}

func (s *BoltStore) CreateReservedHardwareSpec(spec *types.ReservedHardwareSpec) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketReservedHardwareSpecs, reservedHardwareSpecKey(spec.ReservationID, spec.HardwareSpecID), spec)
	})
}

func (s *BoltStore) ListReservedHardwareSpecs(reservationID string) ([]*types.ReservedHardwareSpec, error) {
	var out []*types.ReservedHardwareSpec
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReservedHardwareSpecs).ForEach(func(k, v []byte) error {
			var spec types.ReservedHardwareSpec
			if err := json.Unmarshal(v, &spec); err != nil {
				return err
			}
			if spec.ReservationID == reservationID {
				out = append(out, &spec)
			}
			return nil
		})
	})
	return out, err
}

// --- ReservedContainers ---

func (s *BoltStore) CreateReservedContainer(rc *types.ReservedContainer) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketReservedContainers, rc.ReservationID, rc)
	})
}

func (s *BoltStore) GetReservedContainer(reservationID string) (*types.ReservedContainer, error) {
	var rc types.ReservedContainer
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketReservedContainers, reservationID, &rc)
	})
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

func (s *BoltStore) UpdateReservedContainer(rc *types.ReservedContainer) error {
	return s.CreateReservedContainer(rc)
}

// --- ReservedContainerPorts ---

func reservedContainerPortKey(reservedContainerID, containerPortID string) string {
	return reservedContainerID + "|" + containerPortID
}

func (s *BoltStore) CreateReservedContainerPort(p *types.ReservedContainerPort) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketReservedContainerPorts, reservedContainerPortKey(p.ReservedContainerID, p.ContainerPortID), p)
	})
}

func (s *BoltStore) ListReservedContainerPorts(reservedContainerID string) ([]*types.ReservedContainerPort, error) {
	var out []*types.ReservedContainerPort
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReservedContainerPorts).ForEach(func(k, v []byte) error {
			var p types.ReservedContainerPort
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.ReservedContainerID == reservedContainerID {
				out = append(out, &p)
			}
			return nil
		})
	})
	return out, err
}

// ListOutsidePortsInUse returns the set of outside ports bound by any
// reservation currently in the "started" state, across all computers. The
// port allocator treats every port in this set as taken, whichever computer
// holds it, and separately rejects candidates the OS itself reports bound.
func (s *BoltStore) ListOutsidePortsInUse() (map[int]bool, error) {
	reservations, err := s.ListReservations()
	if err != nil {
		return nil, err
	}
	inUse := make(map[int]bool)
	for _, r := range reservations {
		if r.Status != types.ReservationStarted {
			continue
		}
		rc, err := s.GetReservedContainer(r.ID)
		if err != nil {
			continue
		}
		ports, err := s.ListReservedContainerPorts(rc.ID)
		if err != nil {
			continue
		}
		for _, p := range ports {
			inUse[p.OutsidePort] = true
		}
	}
	return inUse, nil
}

// --- RoleMounts ---

func (s *BoltStore) CreateRoleMount(m *types.RoleMount) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketRoleMounts, m.ID, m) })
}

func (s *BoltStore) ListRoleMounts(roleIDs []string, computerID string) ([]*types.RoleMount, error) {
	roleSet := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		roleSet[id] = true
	}
	var out []*types.RoleMount
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoleMounts).ForEach(func(k, v []byte) error {
			var m types.RoleMount
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if roleSet[m.RoleID] && m.ComputerID == computerID {
				out = append(out, &m)
			}
			return nil
		})
	})
	return out, err
}

// --- RoleHardwareLimits ---

func roleHardwareLimitKey(roleID, hardwareSpecID string) string {
	return roleID + "|" + hardwareSpecID
}

func (s *BoltStore) CreateRoleHardwareLimit(l *types.RoleHardwareLimit) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketRoleHardwareLimits, roleHardwareLimitKey(l.RoleID, l.HardwareSpecID), l)
	})
}

func (s *BoltStore) ListRoleHardwareLimits(roleIDs []string) ([]*types.RoleHardwareLimit, error) {
	roleSet := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		roleSet[id] = true
	}
	var out []*types.RoleHardwareLimit
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoleHardwareLimits).ForEach(func(k, v []byte) error {
			var l types.RoleHardwareLimit
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			if roleSet[l.RoleID] {
				out = append(out, &l)
			}
			return nil
		})
	})
	return out, err
}

// --- RoleReservationLimits ---

func (s *BoltStore) CreateRoleReservationLimit(l *types.RoleReservationLimit) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketRoleReservationLimits, l.RoleID, l)
	})
}

func (s *BoltStore) ListRoleReservationLimits(roleIDs []string) ([]*types.RoleReservationLimit, error) {
	roleSet := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		roleSet[id] = true
	}
	var out []*types.RoleReservationLimit
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoleReservationLimits).ForEach(func(k, v []byte) error {
			var l types.RoleReservationLimit
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			if roleSet[l.RoleID] {
				out = append(out, &l)
			}
			return nil
		})
	})
	return out, err
}

// --- AccessList ---

func accessListKey(kind types.AccessListKind, email string) string {
	return string(kind) + "|" + email
}

func (s *BoltStore) AddAccessListEntry(e *types.AccessListEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketAccessList, accessListKey(e.Kind, e.Email), e)
	})
}

func (s *BoltStore) ListAccessList(kind types.AccessListKind) ([]*types.AccessListEntry, error) {
	var out []*types.AccessListEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccessList).ForEach(func(k, v []byte) error {
			var e types.AccessListEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Kind == kind {
				out = append(out, &e)
			}
			return nil
		})
	})
	return out, err
}
