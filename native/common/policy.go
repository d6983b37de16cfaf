package common

// Role identifiers recognised by the gateway policy registry.
const (
	RoleValidator = "ROLE_VALIDATOR"
	RoleDelegator = "ROLE_DELEGATOR"
)

// PolicyProvider exposes dynamic role lookups against the external policy
// registry. Implementations may be backed by on-ledger state or by fixtures in
// tests.
type PolicyProvider interface {
	HasRole(role string, addr [20]byte) bool
	FeeSink() [20]byte
}

// StaticPolicy is a fixed role table, used by the node wiring and tests.
type StaticPolicy struct {
	Roles map[string][][20]byte
	Sink  [20]byte
}

func (p *StaticPolicy) HasRole(role string, addr [20]byte) bool {
	if p == nil {
		return false
	}
	for _, member := range p.Roles[role] {
		if member == addr {
			return true
		}
	}
	return false
}

func (p *StaticPolicy) FeeSink() [20]byte {
	if p == nil {
		return [20]byte{}
	}
	return p.Sink
}

// Grant adds the address to the role membership.
func (p *StaticPolicy) Grant(role string, addr [20]byte) {
	if p.Roles == nil {
		p.Roles = make(map[string][][20]byte)
	}
	p.Roles[role] = append(p.Roles[role], addr)
}
