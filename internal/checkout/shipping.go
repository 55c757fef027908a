package checkout

import "strings"

type Zone string

const (
	ZoneDomestic      Zone = "FR"
	ZoneRegional      Zone = "EU"
	ZoneInternational Zone = "INTL"
)

// Flat shipping amounts in minor units.
var shippingRates = map[Zone]int64{
	ZoneDomestic:      1500,
	ZoneRegional:      2500,
	ZoneInternational: 4000,
}

// ParseZone accepts a zone code in any case and returns its canonical form.
func ParseZone(code string) (Zone, bool) {
	zone := Zone(strings.ToUpper(strings.TrimSpace(code)))
	_, ok := shippingRates[zone]
	return zone, ok
}

func (z Zone) Cost() int64 {
	return shippingRates[z]
}

func (z Zone) Label() string {
	switch z {
	case ZoneDomestic:
		return "Shipping (France)"
	case ZoneRegional:
		return "Shipping (Europe)"
	default:
		return "Shipping (International)"
	}
}
