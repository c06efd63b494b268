/*

This file contains the extension contract. Extensions are pluggable managers
(fees, integrations, external positions) addressable through a comptroller's
CallOnExtension entry point. Each extension receives a validated call envelope
and dispatches on its own action identifiers.

*/

package extension

import (
	"github.com/OFedorovych/Enzyme-vault/internal/types"
	"github.com/OFedorovych/Enzyme-vault/internal/vault"
)

// Call is the envelope delivered to an extension by a comptroller.
type Call struct {
	Comptroller types.Address
	Vault       *vault.Proxy
	Caller      types.Address
	ActionID    int
	Args        any
}

// Extension handles action calls originating from a comptroller.
type Extension interface {
	ReceiveCallFromComptroller(call Call) error
}
