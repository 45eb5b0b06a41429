package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/job"
	"github.com/JonMunkholm/stockimport/internal/logging"
	"github.com/go-chi/chi/v5"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before parts spill to temporary files.
const multipartMemory = 32 << 20

// formOverhead is the allowance for multipart boundaries and option fields
// on top of the file size limit.
const formOverhead = 1 << 20

// AcceptedResponse is the body of a 202 for a background import.
type AcceptedResponse struct {
	JobID string    `json:"jobId"`
	State job.State `json:"state"`
}

// CancelResponse is the body of a 202 for a cancel request.
type CancelResponse struct {
	JobID           string    `json:"jobId"`
	State           job.State `json:"state"`
	CancelRequested bool      `json:"cancelRequested"`
}

// handleSubmit accepts a multipart upload. Small files are imported inline
// and answered with 200; larger files (or mode=async) return 202 and a job id.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	datasetType := chi.URLParam(r, "datasetType")

	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+formOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("%w: request over %d bytes", core.ErrFileTooLarge, tooLarge.Limit))
			return
		}
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrNoFile, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrNoFile, err))
		return
	}
	defer file.Close()

	opts, err := parseOptions(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	forceAsync, err := parseMode(r.FormValue("mode"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	res, err := s.service.Submit(r.Context(), core.SubmitRequest{
		FileName:    header.Filename,
		Size:        int64(len(data)),
		Data:        data,
		DatasetType: job.DatasetType(datasetType),
		Options:     opts,
		ForceAsync:  forceAsync,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	if res.Mode == job.ModeSync {
		writeJSON(w, http.StatusOK, res.Sync)
		return
	}

	logging.WithFields(r.Context(), "job_id", res.JobID).Debug("import accepted")
	w.Header().Set("Location", "/import/jobs/"+res.JobID)
	writeJSON(w, http.StatusAccepted, AcceptedResponse{JobID: res.JobID, State: res.State})
}

// parseOptions reads import options from a JSON "options" field or from
// individual boolean form fields. The JSON field wins when both are sent.
func parseOptions(r *http.Request) (job.Options, error) {
	var opts job.Options

	if raw := strings.TrimSpace(r.FormValue("options")); raw != "" {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return job.Options{}, fmt.Errorf("%w: %v", core.ErrInvalidOptions, err)
		}
		return opts, nil
	}

	fields := []struct {
		name string
		dst  *bool
	}{
		{"overwriteExisting", &opts.OverwriteExisting},
		{"validateOnly", &opts.ValidateOnly},
		{"notifyOnCompletion", &opts.NotifyOnCompletion},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(r.FormValue(f.name))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return job.Options{}, fmt.Errorf("%w: %s=%q", core.ErrInvalidOptions, f.name, raw)
		}
		*f.dst = v
	}
	return opts, nil
}

// parseMode reports whether the caller forced a background import.
func parseMode(mode string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto", string(job.ModeSync):
		return false, nil
	case string(job.ModeAsync):
		return true, nil
	}
	return false, fmt.Errorf("%w: mode=%q", core.ErrInvalidOptions, mode)
}

// handleGetJob returns a job snapshot.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.service.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// handleCancelJob requests cancellation. A running job stops at its next
// batch, so the response reports the state at the time of the request.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.service.Cancel(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CancelResponse{
		JobID:           j.ID,
		State:           j.State,
		CancelRequested: j.CancelRequested || j.State == job.StateCancelled,
	})
}
