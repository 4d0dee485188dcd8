package engine

// Authorizer resolves whether a caller may perform an operation on a pool.
// Identity issuance itself lives outside the engine; this is the narrow
// contract the engine consumes.
type Authorizer interface {
	Authorize(agentID, poolID, op string) error
}

// AllowAll accepts any non-empty identity. Development default.
type AllowAll struct{}

func (AllowAll) Authorize(agentID, poolID, op string) error {
	if agentID == "" {
		return ErrUnauthorized
	}
	return nil
}

// TokenAuthorizer accepts identities resolved from a configured token table.
// The HTTP layer resolves token -> agent before calling the engine; here we
// only check the resolved agent is a known one.
type TokenAuthorizer struct {
	Agents map[string]bool
}

func NewTokenAuthorizer(tokens map[string]string) *TokenAuthorizer {
	agents := make(map[string]bool, len(tokens))
	for _, agent := range tokens {
		agents[agent] = true
	}
	return &TokenAuthorizer{Agents: agents}
}

func (t *TokenAuthorizer) Authorize(agentID, poolID, op string) error {
	if agentID == "" || !t.Agents[agentID] {
		return ErrUnauthorized
	}
	return nil
}
