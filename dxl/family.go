package dxl

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/arloliu/go-dxl/frame"
)

// Family describes a device series sharing a protocol and register layout.
// Families are configuration data: the mapping from a series to its protocol
// and factory baud rate is declared explicitly, never guessed from a name.
type Family struct {
	Name            string
	Protocol        frame.Version
	FactoryBaudRate int
	// Resolution is the number of position ticks per revolution.
	Resolution int
	// SpeedUnit is the rpm represented by one speed register unit.
	SpeedUnit float64
}

// Built-in families.
var (
	FamilyAX = Family{Name: "AX", Protocol: frame.Protocol1, FactoryBaudRate: 1_000_000, Resolution: 1024, SpeedUnit: 0.111}
	FamilyMX = Family{Name: "MX", Protocol: frame.Protocol1, FactoryBaudRate: 57_600, Resolution: 4096, SpeedUnit: 0.114}
	FamilyX  = Family{Name: "X", Protocol: frame.Protocol2, FactoryBaudRate: 57_600, Resolution: 4096, SpeedUnit: 0.229}
)

var builtinFamilies = []Family{FamilyAX, FamilyMX, FamilyX}

// LookupFamily returns the built-in family with the given name (case-insensitive).
func LookupFamily(name string) (Family, bool) {
	for _, f := range builtinFamilies {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}

	return Family{}, false
}

// FamilyNames lists the built-in family names.
func FamilyNames() []string {
	names := make([]string, 0, len(builtinFamilies))
	for _, f := range builtinFamilies {
		names = append(names, f.Name)
	}

	return names
}

// Validate reports whether the family is usable by a Bus.
func (f Family) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("dxl: family name is empty")
	}
	if f.Protocol != frame.Protocol1 && f.Protocol != frame.Protocol2 {
		return fmt.Errorf("dxl: family %s: unsupported protocol %d", f.Name, int(f.Protocol))
	}
	if f.Resolution < 2 || f.Resolution > 1<<16 {
		return fmt.Errorf("dxl: family %s: resolution %d out of range", f.Name, f.Resolution)
	}
	if f.SpeedUnit <= 0 {
		return fmt.Errorf("dxl: family %s: speed unit must be positive", f.Name)
	}
	if f.FactoryBaudRate <= 0 {
		return fmt.Errorf("dxl: family %s: factory baud rate must be positive", f.Name)
	}

	return nil
}

// maxTick is the highest position tick.
func (f Family) maxTick() int { return f.Resolution - 1 }

var protocol2Bauds = []int{9600, 57_600, 115_200, 1_000_000, 2_000_000, 3_000_000, 4_000_000, 4_500_000}

// BaudCode returns the value written to the baud rate register for baud.
func (f Family) BaudCode(baud int) (byte, error) {
	if f.Protocol == frame.Protocol2 {
		i := slices.Index(protocol2Bauds, baud)
		if i < 0 {
			return 0, fmt.Errorf("%w: %d", ErrUnsupportedBaudRate, baud)
		}

		return byte(i), nil
	}

	if baud <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedBaudRate, baud)
	}
	code := int(math.Round(2_000_000/float64(baud))) - 1
	if code < 0 || code > 254 {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedBaudRate, baud)
	}
	// Reject rates the divider cannot hit within 3%.
	actual := 2_000_000 / float64(code+1)
	if math.Abs(actual-float64(baud))/float64(baud) > 0.03 {
		return 0, fmt.Errorf("%w: %d (nearest %.0f)", ErrUnsupportedBaudRate, baud, actual)
	}

	return byte(code), nil
}

// BaudRate is the inverse of BaudCode.
func (f Family) BaudRate(code byte) (int, error) {
	if f.Protocol == frame.Protocol2 {
		if int(code) >= len(protocol2Bauds) {
			return 0, fmt.Errorf("%w: code %d", ErrUnsupportedBaudRate, code)
		}

		return protocol2Bauds[code], nil
	}

	return int(math.Round(2_000_000 / float64(int(code)+1))), nil
}
