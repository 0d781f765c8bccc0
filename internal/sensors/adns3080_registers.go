// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

// ADNS-3080 register addresses.
const (
	adnsProductID         = 0x00
	adnsRevisionID        = 0x01
	adnsMotion            = 0x02
	adnsDeltaX            = 0x03
	adnsDeltaY            = 0x04
	adnsSQUAL             = 0x05
	adnsPixelSum          = 0x06
	adnsMaximumPixel      = 0x07
	adnsConfigurationBits = 0x0A
	adnsExtendedConfig    = 0x0B
	adnsFrameCaptureAddr  = 0x13
	adnsShutterLower      = 0x0E
	adnsShutterUpper      = 0x0F
	adnsMotionClear       = 0x12
	adnsSROMID            = 0x1F
	adnsInverseProductID  = 0x3F
	adnsMotionBurst       = 0x50

	adnsProductIDValue = 0x17

	adnsMotionOccurred = 0x80
	adnsMotionOverflow = 0x10
	adnsResolution1600 = 0x10
)

// Geometry of the ADNS-3080 with the stock 8 mm lens.
const (
	ADNS3080NumPixels   = 30
	ADNS3080FieldOfView = 0.202458 // radians, 11.6 degrees
	ADNS3080Scaler      = 1.1
)

// BitField describes a field inside a register.
type BitField struct {
	Bits        string `json:"bits"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Values      string `json:"values,omitempty"`
}

// RegisterInfo is register metadata for the debug UI.
type RegisterInfo struct {
	Address     string     `json:"address"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Access      string     `json:"access"` // "R", "W", "RW"
	Default     string     `json:"default,omitempty"`
	BitFields   []BitField `json:"bit_fields,omitempty"`
}

// ADNS3080RegisterMap returns metadata for the registers the debug tool
// exposes.
func ADNS3080RegisterMap() []RegisterInfo {
	return []RegisterInfo{
		// Identification
		{Address: "0x00", Name: "Product_ID", Description: "Product identifier", Access: "R", Default: "0x17",
			BitFields: []BitField{
				{Bits: "7:0", Name: "PID", Description: "Always 0x17 on a healthy bus"},
			}},
		{Address: "0x01", Name: "Revision_ID", Description: "Silicon revision", Access: "R", Default: "0x01"},
		{Address: "0x3F", Name: "Inverse_Product_ID", Description: "Bitwise inverse of Product_ID", Access: "R", Default: "0xE8"},
		{Address: "0x1F", Name: "SROM_ID", Description: "SROM firmware version, 0 if none loaded", Access: "R", Default: "0x00"},

		// Motion
		{Address: "0x02", Name: "Motion", Description: "Motion and status flags", Access: "R", Default: "0x00",
			BitFields: []BitField{
				{Bits: "7", Name: "MOT", Description: "Motion since last report", Values: "0=No motion, 1=Motion"},
				{Bits: "4", Name: "OVF", Description: "Delta registers overflowed", Values: "0=No overflow, 1=Overflow"},
				{Bits: "0", Name: "RES", Description: "Current resolution", Values: "0=400 cpi, 1=1600 cpi"},
			}},
		{Address: "0x03", Name: "Delta_X", Description: "X movement since last read (two's complement)", Access: "R", Default: "0x00",
			BitFields: []BitField{
				{Bits: "7:0", Name: "X", Description: "Signed counts", Values: "-128..127"},
			}},
		{Address: "0x04", Name: "Delta_Y", Description: "Y movement since last read (two's complement)", Access: "R", Default: "0x00",
			BitFields: []BitField{
				{Bits: "7:0", Name: "Y", Description: "Signed counts", Values: "-128..127"},
			}},
		{Address: "0x05", Name: "SQUAL", Description: "Surface quality", Access: "R", Default: "0x00",
			BitFields: []BitField{
				{Bits: "7:0", Name: "SQ", Description: "Number of features, below 15 is untrustworthy", Values: "0-169"},
			}},
		{Address: "0x06", Name: "Pixel_Sum", Description: "Average pixel value / 256", Access: "R", Default: "0x00"},
		{Address: "0x07", Name: "Maximum_Pixel", Description: "Brightest pixel of the frame", Access: "R", Default: "0x00"},
		{Address: "0x0E", Name: "Shutter_Lower", Description: "Shutter time low byte", Access: "R", Default: "0x00"},
		{Address: "0x0F", Name: "Shutter_Upper", Description: "Shutter time high byte", Access: "R", Default: "0x00"},

		// Configuration
		{Address: "0x0A", Name: "Configuration_bits", Description: "Resolution and LED control", Access: "RW", Default: "0x09",
			BitFields: []BitField{
				{Bits: "6", Name: "LED_MODE", Description: "LED shutter mode", Values: "0=Always on, 1=On during shutter"},
				{Bits: "4", Name: "RES", Description: "Resolution", Values: "0=400 cpi, 1=1600 cpi"},
			}},
		{Address: "0x0B", Name: "Extended_Config", Description: "Frame rate and shutter control", Access: "RW", Default: "0x01",
			BitFields: []BitField{
				{Bits: "1", Name: "Fixed_FR", Description: "Fixed frame rate", Values: "0=Auto, 1=Fixed"},
				{Bits: "0", Name: "Serial_NPU", Description: "NCS pull-up", Values: "0=Enabled, 1=Disabled"},
			}},
		{Address: "0x12", Name: "Motion_Clear", Description: "Writing any value clears Delta_X, Delta_Y and Motion", Access: "W"},
		{Address: "0x13", Name: "Frame_Capture", Description: "Write 0x83 to start a frame capture", Access: "RW", Default: "0x00"},
	}
}

// ADNS3080DumpAddresses are the readable registers included in a bulk read.
// Delta registers are excluded since reading them consumes motion.
var ADNS3080DumpAddresses = []byte{
	adnsProductID, adnsRevisionID, adnsSQUAL, adnsPixelSum, adnsMaximumPixel,
	adnsConfigurationBits, adnsExtendedConfig, adnsShutterLower, adnsShutterUpper,
	adnsSROMID, adnsInverseProductID,
}
