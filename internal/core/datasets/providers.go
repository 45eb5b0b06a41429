package datasets

import (
	"strings"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/job"
)

func init() {
	registerProviders()
}

func registerProviders() {
	core.Register(core.DatasetDefinition{
		Info: core.DatasetInfo{
			Key:       job.DatasetProviders,
			Label:     "Providers",
			Table:     "providers",
			UniqueKey: []string{"code"},
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "code", Type: core.FieldText, Required: true, MaxLen: 64, Normalizer: NormalizeCode},
			{Name: "name", Type: core.FieldText, Required: true, MaxLen: 255},
			{Name: "email", Type: core.FieldEmail, MaxLen: 255, Normalizer: strings.ToLower},
			{Name: "phone", Type: core.FieldText, MaxLen: 32, Normalizer: NormalizePhone},
			{Name: "tax_id", Type: core.FieldText, MaxLen: 32, Normalizer: NormalizeCode},
		},
		Example: []string{"ACME", "Acme Supplies Ltd", "orders@acme.example", "+15550100", "US123456789"},
		Convert: convertProvider,
	})
}

func convertProvider(cells []string) ([]any, error) {
	if err := cellsFor("providers", cells, 5); err != nil {
		return nil, err
	}
	return []any{
		core.ToPgText(cells[0]),
		core.ToPgText(cells[1]),
		core.ToPgText(cells[2]),
		core.ToPgText(cells[3]),
		core.ToPgText(cells[4]),
	}, nil
}
