package gatt

// This file includes constants from the BLE spec.

// Assigned numbers of services, characteristics and descriptors used by
// common servers.
var (
	AttrGAPUUID     = UUID16(0x1800)
	AttrGATTUUID    = UUID16(0x1801)
	AttrBatteryUUID = UUID16(0x180F)

	AttrDeviceNameUUID     = UUID16(0x2A00)
	AttrAppearanceUUID     = UUID16(0x2A01)
	AttrServiceChangedUUID = UUID16(0x2A05)
	AttrBatteryLevelUUID   = UUID16(0x2A19)

	AttrUserDescriptionUUID = UUID16(0x2901)
)

// https://developer.bluetooth.org/gatt/characteristics/Pages/CharacteristicViewer.aspx?u=org.bluetooth.characteristic.gap.appearance.xml
var GapAppearanceGenericComputer = []byte{0x00, 0x80}
