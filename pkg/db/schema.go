package db

// Schema defines the SQLite database schema for rollout history.
// A run is one push of a firmware image to a target; results holds one row per
// device of the run, in rollout order.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    target_type TEXT NOT NULL CHECK(target_type IN ('device', 'product')),
    target_id TEXT NOT NULL,
    environment TEXT NOT NULL,
    version TEXT,
    firmware_path TEXT,
    firmware_sha256 TEXT NOT NULL,
    firmware_size INTEGER NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('running', 'completed', 'cancelled', 'failed')),
    success_count INTEGER NOT NULL DEFAULT 0,
    failure_count INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    started_at TEXT NOT NULL,
    finished_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(target_type, target_id);

CREATE TABLE IF NOT EXISTS results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    position INTEGER NOT NULL,
    device_id TEXT NOT NULL,
    outcome TEXT NOT NULL CHECK(outcome IN ('SUCCESS', 'FAILURE', 'ALREADY_UPDATED')),
    description TEXT,
    state TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    bytes_sent INTEGER NOT NULL DEFAULT 0,
    compression TEXT,
    compressed_size INTEGER,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_run_id ON results(run_id);
CREATE INDEX IF NOT EXISTS idx_results_device_id ON results(device_id);
`

// Run status constants
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// TimeLayout is how timestamps are stored. It sorts lexically in time order.
const TimeLayout = "2006-01-02 15:04:05.000"

// Run represents one rollout
type Run struct {
	ID             string
	TargetType     string
	TargetID       string
	Environment    string
	Version        string
	FirmwarePath   string
	FirmwareSHA256 string
	FirmwareSize   int64
	Status         string
	SuccessCount   int
	FailureCount   int
	ErrorMessage   string
	StartedAt      string
	FinishedAt     string
}

// Result represents the outcome for one device of a run
type Result struct {
	ID             int64
	RunID          string
	Position       int
	DeviceID       string
	Outcome        string
	Description    string
	State          string
	DurationMS     int64
	BytesSent      int64
	Compression    string
	CompressedSize int64
	CreatedAt      string
}
