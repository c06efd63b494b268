/*

This file contains the external position manager: the extension that creates,
drives, removes, and reactivates external position proxies for vaults. Each
position type is registered once with a label and a factory; created positions
are indexed by address so later calls can be routed without the caller
supplying the type.

*/

package positions

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/OFedorovych/Enzyme-vault/internal/extension"
	"github.com/OFedorovych/Enzyme-vault/internal/logger"
	"github.com/OFedorovych/Enzyme-vault/internal/policy"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
)

// Action identifiers dispatched through CallOnExtension.
const (
	ActionCreateExternalPosition = iota
	ActionCallOnExternalPosition
	ActionRemoveExternalPosition
	ActionReactivateExternalPosition
)

var (
	ErrUnauthorizedCaller  = errors.New("caller is not the owner or an asset manager")
	ErrOnlyDeployer        = errors.New("only the fund deployer may manage position types")
	ErrInvalidActionArgs   = errors.New("invalid action arguments")
	ErrUnknownAction       = errors.New("unknown action")
	ErrUnknownPositionType = errors.New("position type not registered")
	ErrUnknownPosition     = errors.New("position not known to the manager")
	ErrPositionNotActive   = errors.New("position not active on the vault")
	ErrWrongVault          = errors.New("position belongs to a different vault")
)

// CreateArgs is the payload for ActionCreateExternalPosition. When
// InitActionID is non-negative the fresh position immediately receives that
// call, so create-and-use is a single atomic action.
type CreateArgs struct {
	PositionTypeID int
	InitActionID   int
	InitArgs       any
}

// CallArgs is the payload for ActionCallOnExternalPosition.
type CallArgs struct {
	Position         types.Address
	PositionActionID int
	ActionArgs       any
}

// PositionArgs is the payload for the remove and reactivate actions.
type PositionArgs struct {
	Position types.Address
}

type positionRecord struct {
	position ExternalPosition
	vault    types.Address
}

// Manager creates and routes external position proxies for all funds.
type Manager struct {
	mu        sync.RWMutex
	deployer  types.Address
	types     map[int]Factory
	labels    map[int]string
	positions map[types.Address]*positionRecord
	policies  *policy.Manager
	logger    zerolog.Logger
}

// NewManager creates an external position manager. deployer is the only
// address allowed to register position types.
func NewManager(deployer types.Address, policies *policy.Manager) *Manager {
	return &Manager{
		deployer:  deployer,
		types:     make(map[int]Factory),
		labels:    make(map[int]string),
		positions: make(map[types.Address]*positionRecord),
		policies:  policies,
		logger:    logger.GetForComponent("external_position_manager"),
	}
}

// RegisterPositionType adds a position type with its factory. Deployer-only.
func (m *Manager) RegisterPositionType(caller types.Address, typeID int, label string, factory Factory) error {
	if caller != m.deployer {
		return ErrOnlyDeployer
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.types[typeID]; exists {
		return fmt.Errorf("position type %d already registered", typeID)
	}
	m.types[typeID] = factory
	m.labels[typeID] = label
	m.logger.Info().Int("typeID", typeID).Str("label", label).Msg("Position type registered")
	return nil
}

// PositionTypeLabel returns the label of a registered type.
func (m *Manager) PositionTypeLabel(typeID int) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	label, ok := m.labels[typeID]
	return label, ok
}

// PositionFor returns the position proxy behind an address.
func (m *Manager) PositionFor(addr types.Address) (ExternalPosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.positions[addr]
	if !ok {
		return nil, false
	}
	return record.position, true
}

// ReceiveCallFromComptroller implements extension.Extension.
func (m *Manager) ReceiveCallFromComptroller(call extension.Call) error {
	if !call.Vault.CanManageAssets(call.Caller) {
		return fmt.Errorf("%w: %s", ErrUnauthorizedCaller, call.Caller)
	}
	switch call.ActionID {
	case ActionCreateExternalPosition:
		args, ok := call.Args.(*CreateArgs)
		if !ok {
			return fmt.Errorf("%w: want *positions.CreateArgs", ErrInvalidActionArgs)
		}
		return m.create(call, args)
	case ActionCallOnExternalPosition:
		args, ok := call.Args.(*CallArgs)
		if !ok {
			return fmt.Errorf("%w: want *positions.CallArgs", ErrInvalidActionArgs)
		}
		return m.callOnPosition(call, args)
	case ActionRemoveExternalPosition:
		args, ok := call.Args.(*PositionArgs)
		if !ok {
			return fmt.Errorf("%w: want *positions.PositionArgs", ErrInvalidActionArgs)
		}
		return m.remove(call, args.Position)
	case ActionReactivateExternalPosition:
		args, ok := call.Args.(*PositionArgs)
		if !ok {
			return fmt.Errorf("%w: want *positions.PositionArgs", ErrInvalidActionArgs)
		}
		return m.reactivate(call, args.Position)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownAction, call.ActionID)
	}
}

func (m *Manager) create(call extension.Call, args *CreateArgs) error {
	m.mu.RLock()
	factory, ok := m.types[args.PositionTypeID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPositionType, args.PositionTypeID)
	}

	if m.policies != nil {
		err := m.policies.ValidatePolicies(call.Comptroller, policy.HookCreateExternalPosition, policy.ExternalPositionArgs{
			Caller:         call.Caller,
			PositionTypeID: args.PositionTypeID,
		})
		if err != nil {
			return err
		}
	}

	position, err := factory()
	if err != nil {
		return fmt.Errorf("deploy position type %d: %w", args.PositionTypeID, err)
	}
	if err := position.Init(call.Vault.Addr()); err != nil {
		return fmt.Errorf("init position: %w", err)
	}
	if err := call.Vault.AddExternalPosition(call.Comptroller, position.Addr()); err != nil {
		return err
	}

	m.mu.Lock()
	m.positions[position.Addr()] = &positionRecord{position: position, vault: call.Vault.Addr()}
	m.mu.Unlock()

	m.logger.Info().
		Str("vault", call.Vault.Addr().String()).
		Str("position", position.Addr().String()).
		Int("typeID", args.PositionTypeID).
		Msg("External position created")

	if args.InitActionID >= 0 && args.InitArgs != nil {
		return m.callOnPosition(call, &CallArgs{
			Position:         position.Addr(),
			PositionActionID: args.InitActionID,
			ActionArgs:       args.InitArgs,
		})
	}
	return nil
}

func (m *Manager) callOnPosition(call extension.Call, args *CallArgs) error {
	record, err := m.recordFor(call, args.Position)
	if err != nil {
		return err
	}
	if !call.Vault.IsActiveExternalPosition(args.Position) {
		return fmt.Errorf("%w: %s", ErrPositionNotActive, args.Position)
	}

	if err := record.position.ReceiveCallFromVault(args.PositionActionID, args.ActionArgs); err != nil {
		return fmt.Errorf("position %s: %w", args.Position, err)
	}

	if m.policies != nil {
		err := m.policies.ValidatePolicies(call.Comptroller, policy.HookPostCallOnExternalPosition, policy.ExternalPositionArgs{
			Caller:         call.Caller,
			Position:       args.Position,
			PositionTypeID: record.position.TypeID(),
			ActionID:       args.PositionActionID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) remove(call extension.Call, position types.Address) error {
	record, err := m.recordFor(call, position)
	if err != nil {
		return err
	}

	if m.policies != nil {
		err := m.policies.ValidatePolicies(call.Comptroller, policy.HookRemoveExternalPosition, policy.ExternalPositionArgs{
			Caller:         call.Caller,
			Position:       position,
			PositionTypeID: record.position.TypeID(),
		})
		if err != nil {
			return err
		}
	}
	return call.Vault.RemoveExternalPosition(call.Comptroller, position)
}

// reactivate re-adds a previously removed position that still holds value.
func (m *Manager) reactivate(call extension.Call, position types.Address) error {
	record, err := m.recordFor(call, position)
	if err != nil {
		return err
	}

	if m.policies != nil {
		err := m.policies.ValidatePolicies(call.Comptroller, policy.HookReactivateExternalPosition, policy.ExternalPositionArgs{
			Caller:         call.Caller,
			Position:       position,
			PositionTypeID: record.position.TypeID(),
		})
		if err != nil {
			return err
		}
	}
	return call.Vault.AddExternalPosition(call.Comptroller, position)
}

func (m *Manager) recordFor(call extension.Call, position types.Address) (*positionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.positions[position]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPosition, position)
	}
	if record.vault != call.Vault.Addr() {
		return nil, fmt.Errorf("%w: %s", ErrWrongVault, position)
	}
	return record, nil
}
