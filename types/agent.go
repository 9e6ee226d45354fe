package types

import (
	"fmt"
	"strings"
)

// =============================================================================
// Agent Identity
// =============================================================================
// Agent identifiers are plain strings namespaced as "system:agent", e.g.
// "tutor:planner" or "crm:closer". The system part scopes agents from
// different deployments sharing one bus; a bare "planner" is accepted and
// treated as having an empty system.
//
// The types package is the lowest-level package with no internal dependencies,
// so placing the identifier here avoids circular imports.
// =============================================================================

// AgentID identifies an agent on the bus, namespaced as "system:agent".
type AgentID string

// NewAgentID builds an AgentID from its system and agent parts.
// An empty system yields a bare agent id.
func NewAgentID(system, agent string) AgentID {
	if system == "" {
		return AgentID(agent)
	}
	return AgentID(system + ":" + agent)
}

// System returns the namespace part, or "" for bare ids.
func (id AgentID) System() string {
	if i := strings.IndexByte(string(id), ':'); i >= 0 {
		return string(id[:i])
	}
	return ""
}

// Agent returns the agent part of the id.
func (id AgentID) Agent() string {
	if i := strings.IndexByte(string(id), ':'); i >= 0 {
		return string(id[i+1:])
	}
	return string(id)
}

// String implements fmt.Stringer.
func (id AgentID) String() string { return string(id) }

// Validate checks the id is non-empty and contains at most one ':' with
// non-empty parts on both sides.
func (id AgentID) Validate() error {
	s := string(id)
	if s == "" {
		return NewError(ErrValidation, "agent id must not be empty")
	}
	if strings.Count(s, ":") > 1 {
		return NewError(ErrValidation, fmt.Sprintf("agent id %q has more than one ':'", s))
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		if i == 0 || i == len(s)-1 {
			return NewError(ErrValidation, fmt.Sprintf("agent id %q has an empty system or agent part", s))
		}
	}
	return nil
}
