// Package config holds the format-neutral configuration structs described
// in spec §6: FlowConfig, HomeSpec (local/database), StoreSpec
// (local/database/blob), and WatermarkConfig. This package defines shape
// only — no YAML/JSON file loading or CLI flag binding lives here; an
// embedding project owns that surface (spec §1).
package config

// RunType selects whether a Flow replaces its target entirely or loads
// only new/changed rows.
type RunType string

const (
	RunTypeFullDrop     RunType = "full_drop"
	RunTypeIncremental  RunType = "incremental"
)

// WriteStrategy selects how a database Store applies rows. Only
// DirectInsert is implemented; TempSwap and Merge are reserved per spec §6
// and fail fast with a ConfigError at run start if selected.
type WriteStrategy string

const (
	WriteStrategyDirectInsert WriteStrategy = "direct_insert"
	WriteStrategyTempSwap     WriteStrategy = "temp_swap"
	WriteStrategyMerge        WriteStrategy = "merge"
)

// Credential selects how a blob Store authenticates.
type Credential string

const (
	CredentialManagedIdentity  Credential = "managed_identity"
	CredentialServicePrincipal Credential = "service_principal"
	CredentialStorageKey       Credential = "storage_key"
)

// WatermarkConfig names the columns an incremental Flow tracks.
// FallbackOnUnsafeName governs the resolution of the spec's Open Question
// on unsafe watermark/primary-key column names: true logs a warning and
// falls back to a full reload; false raises a ConfigError instead. No
// default is applied: a configuration that omits the field gets false,
// and so the ConfigError behavior.
type WatermarkConfig struct {
	PrimaryKey            string `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
	WatermarkColumn        string `yaml:"watermark_column" json:"watermark_column"`
	FallbackOnUnsafeName   bool   `yaml:"fallback_on_unsafe_name" json:"fallback_on_unsafe_name"`
}

// HomeLocalSpec configures a local-file Home.
type HomeLocalSpec struct {
	Path          string            `yaml:"path" json:"path"`
	Format        string            `yaml:"format" json:"format"`
	BatchSize     int               `yaml:"batch_size" json:"batch_size"`
	FormatOptions map[string]string `yaml:"format_options,omitempty" json:"format_options,omitempty"`
}

// HomeDatabaseSpec configures a SQL Home. Exactly one of Table or Query
// should be set; Table supports "{entity}" substitution.
type HomeDatabaseSpec struct {
	Connection string            `yaml:"connection,omitempty" json:"connection,omitempty"`
	Server     string            `yaml:"server,omitempty" json:"server,omitempty"`
	Database   string            `yaml:"database,omitempty" json:"database,omitempty"`
	Table      string            `yaml:"table,omitempty" json:"table,omitempty"`
	Query      string            `yaml:"query,omitempty" json:"query,omitempty"`
	BatchSize  int               `yaml:"batch_size" json:"batch_size"`
	DriverOpts map[string]string `yaml:"driver_options,omitempty" json:"driver_options,omitempty"`
}

// HomeSpec is a tagged union over the Home variants spec §6 lists.
type HomeSpec struct {
	Local    *HomeLocalSpec    `yaml:"local,omitempty" json:"local,omitempty"`
	Database *HomeDatabaseSpec `yaml:"database,omitempty" json:"database,omitempty"`
}

// StoreLocalSpec configures a local-file Store.
type StoreLocalSpec struct {
	Path          string            `yaml:"path" json:"path"`
	Format        string            `yaml:"format" json:"format"`
	BatchSize     int               `yaml:"batch_size" json:"batch_size"`
	FilePattern   string            `yaml:"file_pattern,omitempty" json:"file_pattern,omitempty"`
	FormatOptions map[string]string `yaml:"format_options,omitempty" json:"format_options,omitempty"`
	Polish        bool              `yaml:"polish,omitempty" json:"polish,omitempty"`
}

// StoreDatabaseSpec configures a SQL Store with parallel writers.
type StoreDatabaseSpec struct {
	Connection      string            `yaml:"connection,omitempty" json:"connection,omitempty"`
	Server          string            `yaml:"server,omitempty" json:"server,omitempty"`
	Database        string            `yaml:"database,omitempty" json:"database,omitempty"`
	Table           string            `yaml:"table" json:"table"`
	BatchSize       int               `yaml:"batch_size" json:"batch_size"`
	ParallelWorkers int               `yaml:"parallel_workers" json:"parallel_workers"`
	TableHints      string            `yaml:"table_hints,omitempty" json:"table_hints,omitempty"`
	WriteStrategy   WriteStrategy     `yaml:"write_strategy" json:"write_strategy"`
	DriverOpts      map[string]string `yaml:"driver_options,omitempty" json:"driver_options,omitempty"`
}

// StoreBlobSpec configures an object-store Store, optionally acting as a
// mirror with a deletion source (spec §4.8).
type StoreBlobSpec struct {
	AccountURL      string     `yaml:"account_url" json:"account_url"`
	Filesystem      string     `yaml:"filesystem" json:"filesystem"`
	Path            string     `yaml:"path" json:"path"`
	Credential      Credential `yaml:"credential" json:"credential"`
	Compression     string     `yaml:"compression,omitempty" json:"compression,omitempty"`
	FilePattern     string     `yaml:"file_pattern,omitempty" json:"file_pattern,omitempty"`
	BatchSize       int        `yaml:"batch_size" json:"batch_size"`
	Incremental     bool       `yaml:"incremental,omitempty" json:"incremental,omitempty"`
	DeletionSource  string     `yaml:"deletion_source,omitempty" json:"deletion_source,omitempty"`
	DeletionSchema  string     `yaml:"deletion_schema,omitempty" json:"deletion_schema,omitempty"`
	DeletionTable   string     `yaml:"deletion_table,omitempty" json:"deletion_table,omitempty"`
	KeyColumns      []string   `yaml:"key_columns,omitempty" json:"key_columns,omitempty"`
	RowMarker       string     `yaml:"row_marker,omitempty" json:"row_marker,omitempty"`
	MirrorName      string     `yaml:"mirror_name,omitempty" json:"mirror_name,omitempty"`
}

// StoreSpec is a tagged union over the Store variants spec §6 lists.
type StoreSpec struct {
	Local    *StoreLocalSpec    `yaml:"local,omitempty" json:"local,omitempty"`
	Database *StoreDatabaseSpec `yaml:"database,omitempty" json:"database,omitempty"`
	Blob     *StoreBlobSpec     `yaml:"blob,omitempty" json:"blob,omitempty"`
}

// FlowConfig is one Flow's configuration (spec §3, §6). QueueSize
// defaults to 10 and TimeoutSeconds to 300 when zero, applied by whatever
// constructs a Flow from this struct rather than by this package itself.
type FlowConfig struct {
	Name            string           `yaml:"name" json:"name"`
	Home            HomeSpec         `yaml:"home" json:"home"`
	Store           StoreSpec        `yaml:"store" json:"store"`
	QueueSize       int              `yaml:"queue_size" json:"queue_size"`
	TimeoutSeconds  int              `yaml:"timeout_seconds" json:"timeout_seconds"`
	EntityName      string           `yaml:"entity_name,omitempty" json:"entity_name,omitempty"`
	RunType         RunType          `yaml:"run_type" json:"run_type"`
	Watermark       *WatermarkConfig `yaml:"watermark,omitempty" json:"watermark,omitempty"`
}

// DefaultQueueSize and DefaultTimeoutSeconds mirror spec §3's stated
// FlowConfig defaults.
const (
	DefaultQueueSize      = 10
	DefaultTimeoutSeconds = 300
)

// WithDefaults returns a copy of f with QueueSize and TimeoutSeconds
// filled in when unset.
func (f FlowConfig) WithDefaults() FlowConfig {
	if f.QueueSize <= 0 {
		f.QueueSize = DefaultQueueSize
	}
	if f.TimeoutSeconds <= 0 {
		f.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return f
}
