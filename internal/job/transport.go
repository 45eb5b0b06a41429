package job

// Mode is the transport mode chosen for a submission.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// DefaultSyncThreshold is the file size at which imports become async (1 MiB).
const DefaultSyncThreshold int64 = 1 << 20

// Selector picks the transport mode for a submission. It holds no state
// beyond its threshold; every call is evaluated independently.
type Selector struct {
	// Threshold is the size boundary in bytes. Files strictly smaller are
	// imported synchronously. Zero means DefaultSyncThreshold.
	Threshold int64
}

// Select returns ModeSync when fileSize < threshold and ModeAsync otherwise.
// The dataset type does not influence the decision.
func (s Selector) Select(fileSize int64, _ DatasetType) Mode {
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = DefaultSyncThreshold
	}
	if fileSize < threshold {
		return ModeSync
	}
	return ModeAsync
}

// SelectTransport applies the default threshold.
func SelectTransport(fileSize int64, datasetType DatasetType) Mode {
	return Selector{}.Select(fileSize, datasetType)
}
