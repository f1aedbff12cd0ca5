package roles

import (
	"encoding/hex"
	"errors"
	"strings"

	"agora/core/events"
	"agora/core/types"
)

// Canonical role identifiers. Role membership is tracked by the state
// manager; the registry layers the admin hierarchy on top.
const (
	// RoleDefaultAdmin administers every role that has no explicit admin
	// role configured.
	RoleDefaultAdmin = "role.defaultAdmin"
	// RoleAdmin authorises governance execution and proposal cancellation.
	RoleAdmin = "role.admin"
	// RoleMinter authorises token minting and burning.
	RoleMinter = "role.minter"
	// RoleLocker authorises transfer locks on accounts.
	RoleLocker = "role.locker"
	// RoleVester authorises vesting schedule creation and revocation.
	RoleVester = "role.vester"
	// RoleMarketAdmin authorises marketplace fee and royalty policy updates.
	RoleMarketAdmin = "role.marketAdmin"
)

const (
	// EventTypeRoleGranted is emitted when an account gains a role.
	EventTypeRoleGranted = "roles.granted"
	// EventTypeRoleRevoked is emitted when an account loses a role.
	EventTypeRoleRevoked = "roles.revoked"
	// EventTypeRoleAdminChanged is emitted when a role's admin role changes.
	EventTypeRoleAdminChanged = "roles.adminChanged"
)

var (
	errStateNotConfigured = errors.New("roles: state not configured")

	// ErrRoleAdminRequired signals the caller does not hold the admin role
	// governing the mutated role.
	ErrRoleAdminRequired = errors.New("roles: caller lacks role admin")
	// ErrEmptyRole signals a blank role identifier.
	ErrEmptyRole = errors.New("roles: role must not be empty")
	// ErrEmptyAddress signals a blank account address.
	ErrEmptyAddress = errors.New("roles: address must not be empty")
)

type registryState interface {
	HasRole(role string, addr []byte) bool
	SetRole(role string, addr []byte) error
	RemoveRole(role string, addr []byte) error
	RoleAdmin(role string) (string, bool, error)
	SetRoleAdmin(role string, admin string) error
	RoleMembers(role string) ([][]byte, error)
}

// Registry enforces the role-admin hierarchy over raw role membership state.
type Registry struct {
	state   registryState
	emitter events.Emitter
}

// NewRegistry constructs a registry with a no-op emitter.
func NewRegistry() *Registry {
	return &Registry{emitter: events.NoopEmitter{}}
}

// SetState wires the registry to the state backend.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

type roleEvent struct {
	evt *types.Event
}

func (e roleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e roleEvent) Event() *types.Event { return e.evt }

func (r *Registry) emit(evt *types.Event) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(roleEvent{evt: evt})
}

// AdminRole returns the role identifier the marketplace consults for its
// policy updates.
func (r *Registry) AdminRole() string { return RoleMarketAdmin }

// HasRole reports whether the account holds the role. Storage errors read as
// false, matching the best-effort semantics required by callers.
func (r *Registry) HasRole(role string, addr []byte) bool {
	if r == nil || r.state == nil {
		return false
	}
	return r.state.HasRole(strings.TrimSpace(role), addr)
}

// Members lists the accounts holding the role.
func (r *Registry) Members(role string) ([][]byte, error) {
	if r == nil || r.state == nil {
		return nil, errStateNotConfigured
	}
	return r.state.RoleMembers(strings.TrimSpace(role))
}

// adminRoleFor resolves the role that administers the provided role,
// defaulting to RoleDefaultAdmin when none is configured.
func (r *Registry) adminRoleFor(role string) (string, error) {
	admin, ok, err := r.state.RoleAdmin(role)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(admin) == "" {
		return RoleDefaultAdmin, nil
	}
	return admin, nil
}

func (r *Registry) authorise(caller [20]byte, role string) error {
	admin, err := r.adminRoleFor(role)
	if err != nil {
		return err
	}
	if !r.state.HasRole(admin, caller[:]) {
		return ErrRoleAdminRequired
	}
	return nil
}

// Grant adds the account to the role after verifying the caller holds the
// role's admin role.
func (r *Registry) Grant(caller [20]byte, role string, addr []byte) error {
	if r == nil || r.state == nil {
		return errStateNotConfigured
	}
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return ErrEmptyRole
	}
	if len(addr) == 0 {
		return ErrEmptyAddress
	}
	if err := r.authorise(caller, trimmed); err != nil {
		return err
	}
	if err := r.state.SetRole(trimmed, addr); err != nil {
		return err
	}
	r.emit(newRoleEvent(EventTypeRoleGranted, trimmed, addr))
	return nil
}

// Revoke removes the account from the role after verifying the caller holds
// the role's admin role.
func (r *Registry) Revoke(caller [20]byte, role string, addr []byte) error {
	if r == nil || r.state == nil {
		return errStateNotConfigured
	}
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return ErrEmptyRole
	}
	if len(addr) == 0 {
		return ErrEmptyAddress
	}
	if err := r.authorise(caller, trimmed); err != nil {
		return err
	}
	if err := r.state.RemoveRole(trimmed, addr); err != nil {
		return err
	}
	r.emit(newRoleEvent(EventTypeRoleRevoked, trimmed, addr))
	return nil
}

// SetAdminRole rewires which role administers the target role. Only holders
// of the default admin role may change the hierarchy.
func (r *Registry) SetAdminRole(caller [20]byte, role string, adminRole string) error {
	if r == nil || r.state == nil {
		return errStateNotConfigured
	}
	trimmed := strings.TrimSpace(role)
	admin := strings.TrimSpace(adminRole)
	if trimmed == "" || admin == "" {
		return ErrEmptyRole
	}
	if !r.state.HasRole(RoleDefaultAdmin, caller[:]) {
		return ErrRoleAdminRequired
	}
	if err := r.state.SetRoleAdmin(trimmed, admin); err != nil {
		return err
	}
	r.emit(&types.Event{Type: EventTypeRoleAdminChanged, Attributes: map[string]string{
		"role":      trimmed,
		"adminRole": admin,
	}})
	return nil
}

// TransferAdmin hands the default admin role to another account and removes
// it from the caller. The grant happens first so the registry is never left
// without a default admin.
func (r *Registry) TransferAdmin(caller [20]byte, newAdmin [20]byte) error {
	if r == nil || r.state == nil {
		return errStateNotConfigured
	}
	if !r.state.HasRole(RoleDefaultAdmin, caller[:]) {
		return ErrRoleAdminRequired
	}
	if err := r.state.SetRole(RoleDefaultAdmin, newAdmin[:]); err != nil {
		return err
	}
	if err := r.state.RemoveRole(RoleDefaultAdmin, caller[:]); err != nil {
		return err
	}
	r.emit(newRoleEvent(EventTypeRoleGranted, RoleDefaultAdmin, newAdmin[:]))
	r.emit(newRoleEvent(EventTypeRoleRevoked, RoleDefaultAdmin, caller[:]))
	return nil
}

func newRoleEvent(eventType, role string, addr []byte) *types.Event {
	attrs := map[string]string{"role": role}
	if len(addr) > 0 {
		attrs["account"] = hex.EncodeToString(addr)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
