package datasets

import (
	"fmt"
	"strings"
)

// NormalizeCode upper-cases an identifier and strips inner whitespace, so
// "ab 123" and "AB123" refer to the same SKU or provider.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// movementAliases maps the spellings warehouse exports use to movement types.
var movementAliases = map[string]string{
	"in":         "in",
	"inbound":    "in",
	"receipt":    "in",
	"entrada":    "in",
	"out":        "out",
	"outbound":   "out",
	"shipment":   "out",
	"salida":     "out",
	"adjustment": "adjustment",
	"adjust":     "adjustment",
	"adj":        "adjustment",
	"ajuste":     "adjustment",
}

// NormalizeMovementType converts common movement labels to in, out or
// adjustment. Unrecognized values are returned as-is and fail validation.
func NormalizeMovementType(s string) string {
	s = strings.TrimSpace(s)
	if t, ok := movementAliases[strings.ToLower(s)]; ok {
		return t
	}
	return s
}

// NormalizePhone keeps digits and a leading plus sign.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return s
	}
	return b.String()
}

// cellsFor checks a converter received one cell per field.
func cellsFor(name string, cells []string, want int) error {
	if len(cells) != want {
		return fmt.Errorf("%s: got %d cells, want %d", name, len(cells), want)
	}
	return nil
}
