package datasets

import (
	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/job"
)

func init() {
	registerProducts()
}

func registerProducts() {
	core.Register(core.DatasetDefinition{
		Info: core.DatasetInfo{
			Key:       job.DatasetProducts,
			Label:     "Products",
			Table:     "products",
			UniqueKey: []string{"sku"},
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "sku", Type: core.FieldText, Required: true, MaxLen: 64, Normalizer: NormalizeCode},
			{Name: "name", Type: core.FieldText, Required: true, MaxLen: 255},
			{Name: "category", Type: core.FieldText, MaxLen: 100},
			{Name: "unit_price", Type: core.FieldNumeric, Required: true},
			{Name: "stock_quantity", Type: core.FieldInteger},
			{Name: "provider_code", Type: core.FieldText, MaxLen: 64, Normalizer: NormalizeCode},
		},
		Example: []string{"SKU-1001", "Steel bolt M8", "Hardware", "0.35", "1200", "ACME"},
		Convert: convertProduct,
	})
}

func convertProduct(cells []string) ([]any, error) {
	if err := cellsFor("products", cells, 6); err != nil {
		return nil, err
	}
	return []any{
		core.ToPgText(cells[0]),
		core.ToPgText(cells[1]),
		core.ToPgText(cells[2]),
		core.ToPgNumeric(cells[3]),
		core.ToPgInt8(cells[4]),
		core.ToPgText(cells[5]),
	}, nil
}
