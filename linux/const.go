package linux

import "github.com/XC-/gattd/linux/internal/mgmt"

// Types of the management protocol that callers of this package see.
type (
	Opcode         = mgmt.Opcode
	Status         = mgmt.Status
	Settings       = mgmt.Settings
	ControllerInfo = mgmt.ControllerInfo
)

// Adapter settings bits.
const (
	SettingPowered             = mgmt.SettingPowered
	SettingConnectable         = mgmt.SettingConnectable
	SettingFastConnectable     = mgmt.SettingFastConnectable
	SettingDiscoverable        = mgmt.SettingDiscoverable
	SettingBondable            = mgmt.SettingBondable
	SettingLinkSecurity        = mgmt.SettingLinkSecurity
	SettingSecureSimplePairing = mgmt.SettingSecureSimplePairing
	SettingBREDR               = mgmt.SettingBREDR
	SettingHighSpeed           = mgmt.SettingHighSpeed
	SettingLowEnergy           = mgmt.SettingLowEnergy
	SettingAdvertising         = mgmt.SettingAdvertising
	SettingSecureConnections   = mgmt.SettingSecureConnections
	SettingDebugKeys           = mgmt.SettingDebugKeys
	SettingPrivacy             = mgmt.SettingPrivacy
	SettingControllerConfig    = mgmt.SettingControllerConfig
	SettingStaticAddress       = mgmt.SettingStaticAddress
)

// Limits of the local name fields, excluding the trailing NUL.
const (
	MaxNameLen      = mgmt.MaxNameLen
	MaxShortNameLen = mgmt.MaxShortNameLen
)

// NoController addresses commands that are not bound to a controller.
const NoController = mgmt.NoController
