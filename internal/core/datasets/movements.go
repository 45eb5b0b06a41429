package datasets

import (
	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/job"
)

func init() {
	registerMovements()
}

// Movements are a ledger, so there is no unique key and every valid row is
// appended.
func registerMovements() {
	core.Register(core.DatasetDefinition{
		Info: core.DatasetInfo{
			Key:   job.DatasetMovements,
			Label: "Stock movements",
			Table: "movements",
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "sku", Type: core.FieldText, Required: true, MaxLen: 64, Normalizer: NormalizeCode},
			{Name: "movement_type", Type: core.FieldEnum, Required: true, EnumValues: []string{"in", "out", "adjustment"}, Normalizer: NormalizeMovementType},
			{Name: "quantity", Type: core.FieldInteger, Required: true},
			{Name: "occurred_on", Type: core.FieldDate, Required: true},
			{Name: "reference", Type: core.FieldText, MaxLen: 128},
		},
		Example: []string{"SKU-1001", "in", "500", "2024-03-01", "PO-7781"},
		Convert: convertMovement,
	})
}

func convertMovement(cells []string) ([]any, error) {
	if err := cellsFor("movements", cells, 5); err != nil {
		return nil, err
	}
	return []any{
		core.ToPgText(cells[0]),
		core.ToPgText(cells[1]),
		core.ToPgInt8(cells[2]),
		core.ToPgDate(cells[3]),
		core.ToPgText(cells[4]),
	}, nil
}
