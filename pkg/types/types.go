// Package types defines the data model shared by the content store, the
// metadata store, the protocol adapters, and the control API.
package types

import "time"

// Sidecar is the on-disk JSON companion to a cached payload file.
type Sidecar struct {
	CachedAt    int64  `json:"cached_at"`
	Expires     int64  `json:"expires"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url,omitempty"`
}

// SyncStatus is the reconciliation state of a FileRecord.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusError   SyncStatus = "error"
)

// FileRecord is the metadata-store record for a path in the served tree.
type FileRecord struct {
	FileID        string     `json:"file_id"`
	Path          string     `json:"path"`
	Name          string     `json:"name"`
	Size          int64      `json:"size"`
	Hash          string     `json:"hash,omitempty"`
	MimeType      string     `json:"mime_type,omitempty"`
	IsDir         bool       `json:"is_dir"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastAccessed  time.Time  `json:"last_accessed"`
	DownloadCount int64      `json:"download_count"`
	IsDeleted     bool       `json:"is_deleted"`
	SyncStatus    SyncStatus `json:"sync_status"`
}

// SyncRunStatus is the monotonic lifecycle state of a SyncRun.
type SyncRunStatus string

const (
	SyncRunPending   SyncRunStatus = "pending"
	SyncRunRunning   SyncRunStatus = "running"
	SyncRunCompleted SyncRunStatus = "completed"
	SyncRunFailed    SyncRunStatus = "failed"
)

// SyncRun tracks one bulk-sync execution for a source.
type SyncRun struct {
	SyncID       string        `json:"sync_id"`
	SourceType   string        `json:"source_type"`
	SourceName   string        `json:"source_name"`
	Status       SyncRunStatus `json:"status"`
	TotalFiles   int           `json:"total_files"`
	SyncedFiles  int           `json:"synced_files"`
	FailedFiles  int           `json:"failed_files"`
	TotalSize    int64         `json:"total_size"`
	SyncedSize   int64         `json:"synced_size"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	IsTempSync   bool          `json:"is_temp_sync"`
}

// CanTransition reports whether moving from s to next is a legal,
// monotonic SyncRun status transition.
func (s SyncRunStatus) CanTransition(next SyncRunStatus) bool {
	switch s {
	case SyncRunPending:
		return next == SyncRunRunning
	case SyncRunRunning:
		return next == SyncRunCompleted || next == SyncRunFailed
	default:
		return false
	}
}

// DownloadRecord is an append-only log entry for one served artifact.
type DownloadRecord struct {
	FilePath     string        `json:"file_path"`
	FileSize     int64         `json:"file_size"`
	DownloadTime time.Time     `json:"download_time"`
	Duration     time.Duration `json:"duration"`
	ClientIP     string        `json:"client_ip"`
	UserAgent    string        `json:"user_agent"`
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// CacheRecord is the meta-index row mirroring a content-store entry,
// used for stats/rank queries without walking the filesystem.
type CacheRecord struct {
	CacheKey  string     `json:"cache_key"`
	CacheType string     `json:"cache_type"`
	FilePath  string     `json:"file_path,omitempty"`
	FileSize  int64      `json:"file_size"`
	FileHash  string     `json:"file_hash,omitempty"`
	Hits      int64      `json:"hits"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	LastHit   time.Time  `json:"last_hit"`
}

// MonitorSample is one periodic resource-usage reading.
type MonitorSample struct {
	Timestamp         time.Time `json:"timestamp"`
	CPUPercent        float64   `json:"cpu_percent"`
	MemoryPercent     float64   `json:"memory_percent"`
	DiskPercent       float64   `json:"disk_percent"`
	NetworkRx         uint64    `json:"network_rx"`
	NetworkTx         uint64    `json:"network_tx"`
	ActiveConnections int       `json:"active_connections"`
	ServerUptime      int64     `json:"server_uptime"`
}

// Webhook is a registered outbound-notification target.
type Webhook struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Secret    string    `json:"secret,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeliveryStatus is the outcome of one webhook delivery attempt.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// WebhookDelivery records one attempt at delivering an event to a Webhook.
type WebhookDelivery struct {
	ID           string         `json:"id"`
	WebhookID    string         `json:"webhook_id"`
	Event        string         `json:"event"`
	Status       DeliveryStatus `json:"status"`
	StatusCode   int            `json:"status_code,omitempty"`
	ResponseBody string         `json:"response_body,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DurationMS   int64          `json:"duration_ms,omitempty"`
	RetryCount   int            `json:"retry_count"`
	CreatedAt    time.Time      `json:"created_at"`
}

// User is an account able to authenticate against protected endpoints.
type User struct {
	Username       string     `json:"username"`
	PasswordHash   string     `json:"-"`
	Role           string     `json:"role"`
	Email          string     `json:"email,omitempty"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
	LoginCount     int64      `json:"login_count"`
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	Enabled        bool       `json:"enabled"`
}

// LoginStatus is the outcome recorded for one login attempt.
type LoginStatus string

const (
	LoginSuccess LoginStatus = "success"
	LoginFailed  LoginStatus = "failed"
	LoginLocked  LoginStatus = "locked"
)

// LoginLog is an append-only audit entry for an authentication attempt.
type LoginLog struct {
	Username  string      `json:"username"`
	IP        string      `json:"ip"`
	UserAgent string      `json:"user_agent"`
	Status    LoginStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	At        time.Time   `json:"at"`
}

// AdminAPIKey is an admin-issued bearer credential. The plaintext key is
// returned to the caller exactly once, at creation; only KeyHash is stored.
type AdminAPIKey struct {
	KeyID       string     `json:"key_id"`
	KeyHash     string     `json:"-"`
	Name        string     `json:"name"`
	Level       string     `json:"level"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	AllowedIPs  []string   `json:"allowed_ips,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
	Enabled     bool       `json:"enabled"`
}

// SchemaVersion records one applied metadata-store migration.
type SchemaVersion struct {
	Version     int       `json:"version"`
	AppliedAt   time.Time `json:"applied_at"`
	Description string    `json:"description"`
}

// FailoverEvent records one promotion of an ecosystem's active upstream.
type FailoverEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Ecosystem string    `json:"mirror_type"`
	OldSource string    `json:"old_source"`
	NewSource string    `json:"new_source"`
	Reason    string    `json:"reason"`
}

// PrewarmItemStatus is the terminal/interim state of one prewarm item.
type PrewarmItemStatus string

const (
	PrewarmPending PrewarmItemStatus = "pending"
	PrewarmSuccess PrewarmItemStatus = "success"
	PrewarmFailed  PrewarmItemStatus = "failed"
	PrewarmSkipped PrewarmItemStatus = "skipped"
)

// PrewarmItem is one unit of curated-list cache population work.
type PrewarmItem struct {
	Ecosystem    string            `json:"ecosystem"`
	Item         string            `json:"item"`
	Priority     string            `json:"priority"`
	Status       PrewarmItemStatus `json:"status"`
	Attempts     int               `json:"attempts"`
	MaxAttempts  int               `json:"max_attempts"`
	ResponseTime time.Duration     `json:"response_time_ms"`
	SizeBytes    int64             `json:"size_bytes"`
}

// PrewarmSummary is the result of one prewarm run.
type PrewarmSummary struct {
	Total          int       `json:"total"`
	Success        int       `json:"success"`
	Failed         int       `json:"failed"`
	Skipped        int       `json:"skipped"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	FinishedAt     time.Time `json:"finished_at"`
}

// AlertSeverity classifies how urgent an evaluated alert condition is.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// Alert is one threshold-crossing event raised by the alert evaluator.
type Alert struct {
	ID        string        `json:"id"`
	Rule      string        `json:"rule"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
	RaisedAt  time.Time     `json:"raised_at"`
}
