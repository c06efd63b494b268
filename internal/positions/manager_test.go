package positions

import (
	"errors"
	"testing"

	sdktypes "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFedorovych/Enzyme-vault/internal/bank"
	"github.com/OFedorovych/Enzyme-vault/internal/extension"
	"github.com/OFedorovych/Enzyme-vault/internal/types"
	"github.com/OFedorovych/Enzyme-vault/internal/vault"
)

type stubPosition struct {
	addr    types.Address
	typeID  int
	vault   types.Address
	actions []int
	initErr error
	callErr error
}

func (p *stubPosition) Addr() types.Address { return p.addr }
func (p *stubPosition) TypeID() int         { return p.typeID }

func (p *stubPosition) Init(vaultAddr types.Address) error {
	if p.initErr != nil {
		return p.initErr
	}
	p.vault = vaultAddr
	return nil
}

func (p *stubPosition) ReceiveCallFromVault(actionID int, args any) error {
	if p.callErr != nil {
		return p.callErr
	}
	p.actions = append(p.actions, actionID)
	return nil
}

func (p *stubPosition) GetManagedAssets() []sdktypes.Coin { return nil }
func (p *stubPosition) GetDebtAssets() []sdktypes.Coin    { return nil }

const lendingTypeID = 1

type positionsFixture struct {
	manager     *Manager
	deployer    types.Address
	comptroller types.Address
	owner       types.Address
	proxy       *vault.Proxy
	deployed    []*stubPosition
}

func newPositionsFixture(t *testing.T) *positionsFixture {
	t.Helper()
	f := &positionsFixture{
		deployer:    types.GenerateAddress(),
		comptroller: types.GenerateAddress(),
		owner:       types.GenerateAddress(),
	}
	f.manager = NewManager(f.deployer, nil)

	proxy, err := vault.NewProxy(vault.ProxyConfig{
		Creator:           types.GenerateAddress(),
		Owner:             f.owner,
		Accessor:          f.comptroller,
		Name:              "Positions Test Fund",
		SharesDecimals:    18,
		TrackedAssetLimit: 20,
		Ledger:            bank.NewLedger(),
	})
	require.NoError(t, err)
	f.proxy = proxy

	factory := func() (ExternalPosition, error) {
		pos := &stubPosition{addr: types.GenerateAddress(), typeID: lendingTypeID}
		f.deployed = append(f.deployed, pos)
		return pos, nil
	}
	require.NoError(t, f.manager.RegisterPositionType(f.deployer, lendingTypeID, "LENDING", factory))
	return f
}

func (f *positionsFixture) call(actionID int, args any) extension.Call {
	return extension.Call{
		Comptroller: f.comptroller,
		Vault:       f.proxy,
		Caller:      f.owner,
		ActionID:    actionID,
		Args:        args,
	}
}

func (f *positionsFixture) createPosition(t *testing.T) *stubPosition {
	t.Helper()
	require.NoError(t, f.manager.ReceiveCallFromComptroller(
		f.call(ActionCreateExternalPosition, &CreateArgs{PositionTypeID: lendingTypeID, InitActionID: -1})))
	require.NotEmpty(t, f.deployed)
	return f.deployed[len(f.deployed)-1]
}

func TestRegisterPositionType(t *testing.T) {
	f := newPositionsFixture(t)

	err := f.manager.RegisterPositionType(types.GenerateAddress(), 2, "STAKING", nil)
	assert.ErrorIs(t, err, ErrOnlyDeployer)

	err = f.manager.RegisterPositionType(f.deployer, lendingTypeID, "LENDING_AGAIN", nil)
	assert.Error(t, err)

	label, ok := f.manager.PositionTypeLabel(lendingTypeID)
	require.True(t, ok)
	assert.Equal(t, "LENDING", label)
	_, ok = f.manager.PositionTypeLabel(99)
	assert.False(t, ok)
}

func TestCreatePosition(t *testing.T) {
	f := newPositionsFixture(t)

	pos := f.createPosition(t)
	assert.Equal(t, f.proxy.Addr(), pos.vault)
	assert.True(t, f.proxy.IsActiveExternalPosition(pos.addr))
	assert.Empty(t, pos.actions)

	got, ok := f.manager.PositionFor(pos.addr)
	require.True(t, ok)
	assert.Equal(t, pos.addr, got.Addr())
}

func TestCreatePosition_UnknownType(t *testing.T) {
	f := newPositionsFixture(t)

	err := f.manager.ReceiveCallFromComptroller(
		f.call(ActionCreateExternalPosition, &CreateArgs{PositionTypeID: 42, InitActionID: -1}))
	assert.ErrorIs(t, err, ErrUnknownPositionType)
}

func TestCreatePosition_WithInitialCall(t *testing.T) {
	f := newPositionsFixture(t)

	require.NoError(t, f.manager.ReceiveCallFromComptroller(
		f.call(ActionCreateExternalPosition, &CreateArgs{
			PositionTypeID: lendingTypeID,
			InitActionID:   7,
			InitArgs:       struct{}{},
		})))

	pos := f.deployed[len(f.deployed)-1]
	assert.Equal(t, []int{7}, pos.actions)
}

func TestCallOnPosition(t *testing.T) {
	f := newPositionsFixture(t)
	pos := f.createPosition(t)

	require.NoError(t, f.manager.ReceiveCallFromComptroller(
		f.call(ActionCallOnExternalPosition, &CallArgs{Position: pos.addr, PositionActionID: 3})))
	assert.Equal(t, []int{3}, pos.actions)

	posErr := errors.New("lending pool paused")
	pos.callErr = posErr
	err := f.manager.ReceiveCallFromComptroller(
		f.call(ActionCallOnExternalPosition, &CallArgs{Position: pos.addr, PositionActionID: 3}))
	assert.ErrorIs(t, err, posErr)
}

func TestCallOnPosition_UnknownAndWrongVault(t *testing.T) {
	f := newPositionsFixture(t)
	pos := f.createPosition(t)

	err := f.manager.ReceiveCallFromComptroller(
		f.call(ActionCallOnExternalPosition, &CallArgs{Position: types.GenerateAddress()}))
	assert.ErrorIs(t, err, ErrUnknownPosition)

	// The same manager serves a second fund; its vault may not drive the
	// first fund's position.
	other := newPositionsFixture(t)
	err = f.manager.ReceiveCallFromComptroller(extension.Call{
		Comptroller: f.comptroller,
		Vault:       other.proxy,
		Caller:      other.owner,
		ActionID:    ActionCallOnExternalPosition,
		Args:        &CallArgs{Position: pos.addr},
	})
	assert.ErrorIs(t, err, ErrWrongVault)
}

func TestRemoveAndReactivatePosition(t *testing.T) {
	f := newPositionsFixture(t)
	pos := f.createPosition(t)

	require.NoError(t, f.manager.ReceiveCallFromComptroller(
		f.call(ActionRemoveExternalPosition, &PositionArgs{Position: pos.addr})))
	assert.False(t, f.proxy.IsActiveExternalPosition(pos.addr))

	// An inactive position cannot be driven.
	err := f.manager.ReceiveCallFromComptroller(
		f.call(ActionCallOnExternalPosition, &CallArgs{Position: pos.addr, PositionActionID: 1}))
	assert.ErrorIs(t, err, ErrPositionNotActive)

	require.NoError(t, f.manager.ReceiveCallFromComptroller(
		f.call(ActionReactivateExternalPosition, &PositionArgs{Position: pos.addr})))
	assert.True(t, f.proxy.IsActiveExternalPosition(pos.addr))

	require.NoError(t, f.manager.ReceiveCallFromComptroller(
		f.call(ActionCallOnExternalPosition, &CallArgs{Position: pos.addr, PositionActionID: 1})))
	assert.Equal(t, []int{1}, pos.actions)
}

func TestReceiveCall_Authorization(t *testing.T) {
	f := newPositionsFixture(t)

	call := f.call(ActionCreateExternalPosition, &CreateArgs{PositionTypeID: lendingTypeID, InitActionID: -1})
	call.Caller = types.GenerateAddress()
	err := f.manager.ReceiveCallFromComptroller(call)
	assert.ErrorIs(t, err, ErrUnauthorizedCaller)

	err = f.manager.ReceiveCallFromComptroller(f.call(ActionCreateExternalPosition, "garbage"))
	assert.ErrorIs(t, err, ErrInvalidActionArgs)

	err = f.manager.ReceiveCallFromComptroller(f.call(99, nil))
	assert.ErrorIs(t, err, ErrUnknownAction)
}
