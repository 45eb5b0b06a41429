package web

import (
	"fmt"
	"net/http"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/job"
	"github.com/go-chi/chi/v5"
)

// DatasetResponse describes one importable dataset with its template
// columns.
type DatasetResponse struct {
	Key       job.DatasetType   `json:"key"`
	Label     string            `json:"label"`
	UniqueKey []string          `json:"uniqueKey,omitempty"`
	Columns   []core.ColumnHelp `json:"columns"`
	Template  string            `json:"template"`
}

// handleListDatasets returns every registered dataset.
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	infos := s.service.Datasets()
	out := make([]DatasetResponse, 0, len(infos))
	for _, info := range infos {
		cols, err := core.DescribeColumns(info.Key)
		if err != nil {
			respondError(w, r, err)
			return
		}
		out = append(out, DatasetResponse{
			Key:       info.Key,
			Label:     info.Label,
			UniqueKey: info.UniqueKey,
			Columns:   cols,
			Template:  "/import/templates/" + string(info.Key),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDownloadTemplate serves the CSV template for a dataset.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	dt := job.DatasetType(chi.URLParam(r, "datasetType"))

	body, err := s.service.Template(dt)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, core.TemplateFileName(dt)))
	w.Write(body)
}

// handleHealth reports pool and registry load.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		core.Health
	}{Status: "ok", Health: s.service.Health()})
}
