// Package admin implements the AdminCap unforgeable capability required by
// every privileged mutation across the core (spec.md §3, §4.2-§4.9, §9).
// Grounded on the teacher's ownership discipline (each shared object has a
// single writer) generalized into an explicit capability object rather than
// an implicit "owner field" check, matching spec.md's framing of AdminCap
// as a capability distinct from any one component.
package admin

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotAdmin is returned when a caller presents a Cap that doesn't match
// the governance authority recorded at initialization.
var ErrNotAdmin = errors.New("admin: not admin")

// Cap is the capability object. A deployment creates it once with NewCap
// and holders pass *Cap by reference. NewCap does not prevent a second Cap
// for the same authority. Authorize checks only the caller's address
// against the Cap's current authority.
type Cap struct {
	mu        sync.RWMutex
	authority common.Address
}

// NewCap creates the single AdminCap for the deployment, owned by
// authority.
func NewCap(authority common.Address) *Cap {
	return &Cap{authority: authority}
}

// Authority returns the address currently authorized by this Cap.
func (c *Cap) Authority() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authority
}

// Authorize fails unless caller matches the Cap's current authority. Every
// privileged setter across the core calls this first.
func (c *Cap) Authorize(caller common.Address) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if caller != c.authority {
		return ErrNotAdmin
	}
	return nil
}

// Transfer reassigns the Cap's authority to newAuthority. Only the current
// authority may do this; it does not create a second Cap, it mutates the
// one that exists.
func (c *Cap) Transfer(caller, newAuthority common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.authority {
		return ErrNotAdmin
	}
	c.authority = newAuthority
	return nil
}
