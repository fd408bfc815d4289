package dxl

import "fmt"

// Model numbers reported by the model number register.
const (
	ModelAX12      uint16 = 12
	ModelAX18      uint16 = 18
	ModelAX12W     uint16 = 300
	ModelMX12W     uint16 = 360
	ModelMX28      uint16 = 29
	ModelMX64      uint16 = 310
	ModelMX106     uint16 = 320
	ModelXL320     uint16 = 350
	ModelXL430     uint16 = 1060
	ModelXM430W350 uint16 = 1020
	ModelXM430W210 uint16 = 1030
)

var modelNames = map[uint16]string{
	ModelAX12:      "AX-12",
	ModelAX18:      "AX-18",
	ModelAX12W:     "AX-12W",
	ModelMX12W:     "MX-12W",
	ModelMX28:      "MX-28",
	ModelMX64:      "MX-64",
	ModelMX106:     "MX-106",
	ModelXL320:     "XL-320",
	ModelXL430:     "XL430-W250",
	ModelXM430W350: "XM430-W350",
	ModelXM430W210: "XM430-W210",
}

// ModelName returns the product name of a model number, or "unknown(N)".
func ModelName(model uint16) string {
	if name, ok := modelNames[model]; ok {
		return name
	}

	return fmt.Sprintf("unknown(%d)", model)
}
