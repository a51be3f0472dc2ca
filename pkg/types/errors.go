package types

import (
	"errors"
	"fmt"
	"strings"
)

// Storage errors.
var (
	ErrNotFound        = errors.New("entity not found")
	ErrRowExists       = errors.New("row already exists")
	ErrTableNotFound   = errors.New("table not found")
	ErrInvalidValue    = errors.New("invalid column value")
	ErrStorageClosed   = errors.New("storage is closed")
	ErrAlreadyAttached = errors.New("storage is already attached")
)

// Session errors.
var (
	ErrInvalidKey              = errors.New("invalid identity key")
	ErrUnknownEntity           = errors.New("unknown entity")
	ErrNotTracked              = errors.New("entity is not tracked by the session")
	ErrEntityRemoved           = errors.New("entity is scheduled for removal")
	ErrIdentityChanged         = errors.New("identity of a managed entity changed")
	ErrIdentityIncomplete      = errors.New("identity incomplete")
	ErrIdentityDependencyCycle = errors.New("identity dependency cycle")
	ErrUnresolvedDependency    = errors.New("unresolved dependency")
	ErrDuplicateIdentity       = errors.New("duplicate identity")
)

// IdentityIncompleteError reports that an entity's key could not be resolved
// because a scalar identity field is empty or a related entity is missing or
// itself unresolved.
type IdentityIncompleteError struct {
	Entity string // entity whose identity was being resolved
	Part   string // identity part (field or association name) that is missing
	Err    error  // nested incompleteness of a related entity, if any
}

func (e *IdentityIncompleteError) Error() string {
	msg := fmt.Sprintf("identity incomplete: %s.%s is not set", e.Entity, e.Part)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IdentityIncompleteError) Is(target error) bool { return target == ErrIdentityIncomplete }

func (e *IdentityIncompleteError) Unwrap() error { return e.Err }

// IdentityDependencyCycleError reports a cycle among entities that must be
// written in dependency order. Path lists the entities on the cycle, with the
// first element repeated at the end.
type IdentityDependencyCycleError struct {
	Path []string
}

func (e *IdentityDependencyCycleError) Error() string {
	return "identity dependency cycle: " + strings.Join(e.Path, " -> ")
}

func (e *IdentityDependencyCycleError) Is(target error) bool {
	return target == ErrIdentityDependencyCycle
}

// UnresolvedDependencyError reports an association pointing at an entity the
// session does not track and cannot reach through a cascading association,
// or at one that the same flush would delete.
type UnresolvedDependencyError struct {
	Entity      string
	Association string
	Target      string
	Removed     bool // target is scheduled for removal
}

func (e *UnresolvedDependencyError) Error() string {
	if e.Removed {
		return fmt.Sprintf("unresolved dependency: %s.%s refers to a %s scheduled for removal",
			e.Entity, e.Association, e.Target)
	}
	return fmt.Sprintf("unresolved dependency: %s.%s refers to an untracked %s; persist it or enable cascade",
		e.Entity, e.Association, e.Target)
}

func (e *UnresolvedDependencyError) Is(target error) bool { return target == ErrUnresolvedDependency }

// DuplicateIdentityError reports two distinct instances resolving to the
// same key.
type DuplicateIdentityError struct {
	Key Key
}

func (e *DuplicateIdentityError) Error() string {
	return "duplicate identity: " + e.Key.String()
}

func (e *DuplicateIdentityError) Is(target error) bool { return target == ErrDuplicateIdentity }
