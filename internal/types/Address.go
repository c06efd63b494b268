/*

This file contains the address and asset identity types shared by every
component of the fund engine. Addresses are opaque 20-byte hex identifiers;
assets are referred to by their denom string and carry a decimals precision
used by the value interpreter for rescaling.

*/

package types

import (
	"fmt"

	"github.com/google/uuid"
)

// Address identifies a participant, fund component, or deployed proxy.
type Address string

// ZeroAddress is the uninitialized address value.
const ZeroAddress Address = ""

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return string(a)
}

// GenerateAddress derives a fresh unique address. Deployed vault proxies,
// comptroller instances, and external position proxies all get their identity
// from here.
func GenerateAddress() Address {
	id := uuid.New()
	return Address(fmt.Sprintf("0x%x", id[:16]))
}
