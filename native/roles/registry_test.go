package roles

import (
	"bytes"
	"errors"
	"testing"
)

type mockState struct {
	members map[string][][]byte
	admins  map[string]string
}

func newMockState() *mockState {
	return &mockState{
		members: make(map[string][][]byte),
		admins:  make(map[string]string),
	}
}

func (m *mockState) HasRole(role string, addr []byte) bool {
	for _, member := range m.members[role] {
		if bytes.Equal(member, addr) {
			return true
		}
	}
	return false
}

func (m *mockState) SetRole(role string, addr []byte) error {
	if m.HasRole(role, addr) {
		return nil
	}
	m.members[role] = append(m.members[role], append([]byte(nil), addr...))
	return nil
}

func (m *mockState) RemoveRole(role string, addr []byte) error {
	filtered := m.members[role][:0]
	for _, member := range m.members[role] {
		if !bytes.Equal(member, addr) {
			filtered = append(filtered, member)
		}
	}
	m.members[role] = filtered
	return nil
}

func (m *mockState) RoleAdmin(role string) (string, bool, error) {
	admin, ok := m.admins[role]
	return admin, ok, nil
}

func (m *mockState) SetRoleAdmin(role string, admin string) error {
	m.admins[role] = admin
	return nil
}

func (m *mockState) RoleMembers(role string) ([][]byte, error) {
	return m.members[role], nil
}

var (
	superuser = [20]byte{0x01}
	operator  = [20]byte{0x02}
	account   = [20]byte{0x03}
)

func newTestRegistry(state *mockState) *Registry {
	registry := NewRegistry()
	registry.SetState(state)
	return registry
}

func TestGrantRequiresAdminOfRole(t *testing.T) {
	state := newMockState()
	registry := newTestRegistry(state)

	if err := registry.Grant(operator, RoleMinter, account[:]); !errors.Is(err, ErrRoleAdminRequired) {
		t.Fatalf("expected ErrRoleAdminRequired, got %v", err)
	}

	state.SetRole(RoleDefaultAdmin, superuser[:])
	if err := registry.Grant(superuser, RoleMinter, account[:]); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !registry.HasRole(RoleMinter, account[:]) {
		t.Fatal("account should hold minter role")
	}
}

func TestGrantValidatesInputs(t *testing.T) {
	state := newMockState()
	state.SetRole(RoleDefaultAdmin, superuser[:])
	registry := newTestRegistry(state)

	if err := registry.Grant(superuser, "  ", account[:]); !errors.Is(err, ErrEmptyRole) {
		t.Fatalf("expected ErrEmptyRole, got %v", err)
	}
	if err := registry.Grant(superuser, RoleMinter, nil); !errors.Is(err, ErrEmptyAddress) {
		t.Fatalf("expected ErrEmptyAddress, got %v", err)
	}
}

func TestRevokeRemovesMembership(t *testing.T) {
	state := newMockState()
	state.SetRole(RoleDefaultAdmin, superuser[:])
	registry := newTestRegistry(state)

	if err := registry.Grant(superuser, RoleVester, account[:]); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := registry.Revoke(superuser, RoleVester, account[:]); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if registry.HasRole(RoleVester, account[:]) {
		t.Fatal("account should have lost the vester role")
	}

	if err := registry.Revoke(operator, RoleVester, account[:]); !errors.Is(err, ErrRoleAdminRequired) {
		t.Fatalf("expected ErrRoleAdminRequired, got %v", err)
	}
}

func TestSetAdminRoleReassignsAuthority(t *testing.T) {
	state := newMockState()
	state.SetRole(RoleDefaultAdmin, superuser[:])
	registry := newTestRegistry(state)

	// Only the default admin may rewire the hierarchy.
	if err := registry.SetAdminRole(operator, RoleMinter, RoleAdmin); !errors.Is(err, ErrRoleAdminRequired) {
		t.Fatalf("expected ErrRoleAdminRequired, got %v", err)
	}
	if err := registry.SetAdminRole(superuser, RoleMinter, RoleAdmin); err != nil {
		t.Fatalf("set admin role: %v", err)
	}

	// The default admin no longer governs the minter role.
	if err := registry.Grant(superuser, RoleMinter, account[:]); !errors.Is(err, ErrRoleAdminRequired) {
		t.Fatalf("expected ErrRoleAdminRequired after rewire, got %v", err)
	}

	state.SetRole(RoleAdmin, operator[:])
	if err := registry.Grant(operator, RoleMinter, account[:]); err != nil {
		t.Fatalf("grant via new admin role: %v", err)
	}
}

func TestTransferAdminHandsOverDefaultAdmin(t *testing.T) {
	state := newMockState()
	state.SetRole(RoleDefaultAdmin, superuser[:])
	registry := newTestRegistry(state)

	if err := registry.TransferAdmin(operator, operator); !errors.Is(err, ErrRoleAdminRequired) {
		t.Fatalf("expected ErrRoleAdminRequired, got %v", err)
	}
	if err := registry.TransferAdmin(superuser, operator); err != nil {
		t.Fatalf("transfer admin: %v", err)
	}

	if registry.HasRole(RoleDefaultAdmin, superuser[:]) {
		t.Fatal("previous admin should lose the default admin role")
	}
	if !registry.HasRole(RoleDefaultAdmin, operator[:]) {
		t.Fatal("new admin should hold the default admin role")
	}
}

func TestMembersListsHolders(t *testing.T) {
	state := newMockState()
	state.SetRole(RoleDefaultAdmin, superuser[:])
	registry := newTestRegistry(state)

	if err := registry.Grant(superuser, RoleLocker, operator[:]); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := registry.Grant(superuser, RoleLocker, account[:]); err != nil {
		t.Fatalf("grant: %v", err)
	}

	members, err := registry.Members(RoleLocker)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected two members, got %d", len(members))
	}
}

func TestAdminRoleSurface(t *testing.T) {
	registry := newTestRegistry(newMockState())
	if registry.AdminRole() != RoleMarketAdmin {
		t.Fatalf("unexpected admin role surface: %s", registry.AdminRole())
	}
}
