package provider

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// MajorUnits renders minor-unit cents as the provider's decimal string, e.g. 50000 -> "500", 12345 -> "123.45".
func MajorUnits(cents int64) string {
	return decimal.New(cents, -2).String()
}

// MajorUnitsNumber is MajorUnits encoded as a JSON number, for endpoints that reject strings.
func MajorUnitsNumber(cents int64) json.Number {
	return json.Number(MajorUnits(cents))
}
