// ABOUTME: Borsh decoder for change_config action lists
// ABOUTME: Variant tag order is fixed by the wallet program ABI

package txparse

import (
	"fmt"

	"github.com/near/borsh-go"
)

// ConfigActionKind names a config-change variant.
type ConfigActionKind string

// Config action variants, in ABI tag order.
const (
	ConfigEditPermissions  ConfigActionKind = "edit_permissions"
	ConfigAddMembers       ConfigActionKind = "add_members"
	ConfigRemoveMembers    ConfigActionKind = "remove_members"
	ConfigSetThreshold     ConfigActionKind = "set_threshold"
	ConfigSetTimeLock      ConfigActionKind = "set_time_lock"
	ConfigSetRentCollector ConfigActionKind = "set_rent_collector"
)

// Member is a wallet member key with its permission mask.
type Member struct {
	Pubkey      [32]uint8
	Permissions uint8
}

// ConfigAction is one pending change to wallet membership, permissions, or
// threshold. Exactly one variant field is populated, selected by the borsh
// enum tag; the field order below is the program's ABI and must not change.
type ConfigAction struct {
	Enum             borsh.Enum `borsh_enum:"true"`
	EditPermissions  EditPermissionsAction
	AddMembers       AddMembersAction
	RemoveMembers    RemoveMembersAction
	SetThreshold     SetThresholdAction
	SetTimeLock      SetTimeLockAction
	SetRentCollector SetRentCollectorAction
}

// EditPermissionsAction updates permission masks for existing members.
type EditPermissionsAction struct {
	Members []Member
}

// AddMembersAction adds new members with their permissions.
type AddMembersAction struct {
	Members []Member
}

// RemoveMembersAction removes members by key.
type RemoveMembersAction struct {
	Keys [][32]uint8
}

// SetThresholdAction changes the approval threshold.
type SetThresholdAction struct {
	Threshold uint16
}

// SetTimeLockAction changes the execution time lock in seconds.
type SetTimeLockAction struct {
	Seconds uint32
}

// SetRentCollectorAction sets or clears the rent collector account.
type SetRentCollectorAction struct {
	Collector *[32]uint8
}

var configActionKinds = []ConfigActionKind{
	ConfigEditPermissions,
	ConfigAddMembers,
	ConfigRemoveMembers,
	ConfigSetThreshold,
	ConfigSetTimeLock,
	ConfigSetRentCollector,
}

// NewSetThreshold builds a threshold-change action.
func NewSetThreshold(threshold uint16) ConfigAction {
	return ConfigAction{Enum: 3, SetThreshold: SetThresholdAction{Threshold: threshold}}
}

// NewAddMembers builds a member-addition action.
func NewAddMembers(members []Member) ConfigAction {
	return ConfigAction{Enum: 1, AddMembers: AddMembersAction{Members: members}}
}

// Kind returns the populated variant's name.
func (a ConfigAction) Kind() ConfigActionKind {
	if int(a.Enum) < len(configActionKinds) {
		return configActionKinds[a.Enum]
	}
	return ConfigActionKind(fmt.Sprintf("unknown_%d", a.Enum))
}

// DecodeConfigActions decodes a borsh vec of config actions.
func DecodeConfigActions(data []byte) ([]ConfigAction, error) {
	var actions []ConfigAction
	if err := borsh.Deserialize(&actions, data); err != nil {
		return nil, fmt.Errorf("%w: config actions: %v", ErrDecode, err)
	}
	return actions, nil
}

// EncodeConfigActions is the inverse of DecodeConfigActions, used by tests
// and tooling.
func EncodeConfigActions(actions []ConfigAction) ([]byte, error) {
	return borsh.Serialize(actions)
}
