package core

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/JonMunkholm/stockimport/internal/job"
)

// Template returns a CSV template for a dataset: the header row followed by
// one example row.
func (s *Service) Template(dt job.DatasetType) ([]byte, error) {
	return BuildTemplate(dt)
}

// BuildTemplate renders the CSV template for a registered dataset.
func BuildTemplate(dt job.DatasetType) ([]byte, error) {
	def, ok := Dataset(dt)
	if !ok {
		return nil, fmt.Errorf("%w: %q", job.ErrUnknownDataset, dt)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(def.FieldSpecs))
	for i, spec := range def.FieldSpecs {
		header[i] = spec.Name
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write template header: %w", err)
	}

	if len(def.Example) > 0 {
		example := make([]string, len(header))
		copy(example, def.Example)
		if err := w.Write(example); err != nil {
			return nil, fmt.Errorf("write template example: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush template: %w", err)
	}
	return buf.Bytes(), nil
}

// TemplateFileName returns the download name for a dataset template.
func TemplateFileName(dt job.DatasetType) string {
	return fmt.Sprintf("%s_template.csv", dt)
}

// DescribeColumns lists each column of a dataset with its expected type, for
// help text next to the template download.
func DescribeColumns(dt job.DatasetType) ([]ColumnHelp, error) {
	def, ok := Dataset(dt)
	if !ok {
		return nil, fmt.Errorf("%w: %q", job.ErrUnknownDataset, dt)
	}

	help := make([]ColumnHelp, len(def.FieldSpecs))
	for i, spec := range def.FieldSpecs {
		help[i] = ColumnHelp{
			Name:     spec.Name,
			Type:     fieldTypeName(spec.Type),
			Required: spec.Required,
			Allowed:  spec.EnumValues,
		}
	}
	return help, nil
}

// ColumnHelp describes one template column.
type ColumnHelp struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Allowed  []string `json:"allowed,omitempty"`
}
