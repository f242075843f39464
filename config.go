package mtdynamo

import "time"

// Config holds the options recognized by the shared-table façade. NewConfig
// starts from DefaultConfig's values and applies its options over them.
type Config struct {
	// Delimiter separates fields inside composite physical keys and
	// prefixed table names. Default ".".
	Delimiter string `yaml:"delimiter"`
	// TablePrefix is prepended to every physical table name.
	TablePrefix string `yaml:"tablePrefix"`
	// DeleteTableAsync, if true, makes DeleteTable return as soon as
	// metadata is removed; row deletion proceeds in the background.
	DeleteTableAsync bool `yaml:"deleteTableAsync"`
	// TruncateOnDeleteTable, if true, deletes physical rows owned by the
	// virtual table when it is dropped.
	TruncateOnDeleteTable bool `yaml:"truncateOnDeleteTable"`
	// PrecreateTables, if true, creates physical tables eagerly.
	PrecreateTables bool `yaml:"precreateTables"`
	// PollInterval is used while waiting for a physical table to become
	// active after creation.
	PollInterval time.Duration `yaml:"pollIntervalSeconds"`
	// Name identifies this façade instance in logs and metrics.
	Name string `yaml:"name"`
	// SharedTableRangeKeyName, if set, is the physical range key attribute
	// DefaultCreateTableRequestFactory declares on the shared physical
	// table. Empty means the shared physical table has no range key, so
	// only hash-only virtual tables can be hosted on it. This is a
	// property of the physical table, not of any one virtual table: it
	// must be set before the first virtual table with a range key is
	// created, and every virtual table hosted on the shared table shares
	// it.
	SharedTableRangeKeyName string `yaml:"sharedTableRangeKeyName"`
	// SharedTableRangeKeyKind is the key type of SharedTableRangeKeyName.
	// Ignored if SharedTableRangeKeyName is empty.
	SharedTableRangeKeyKind KeyKind `yaml:"sharedTableRangeKeyKind"`
}

// DefaultConfig returns the shared-table façade's configuration defaults.
func DefaultConfig() Config {
	return Config{
		Delimiter:             ".",
		DeleteTableAsync:      false,
		TruncateOnDeleteTable: false,
		PrecreateTables:       true,
		PollInterval:          0,
		Name:                  "MtAmazonDynamoDbBySharedTable",
	}
}

// ConfigOption customizes a Config built with NewConfig.
type ConfigOption func(*Config)

func WithDelimiter(d string) ConfigOption       { return func(c *Config) { c.Delimiter = d } }
func WithTablePrefix(p string) ConfigOption     { return func(c *Config) { c.TablePrefix = p } }
func WithDeleteTableAsync(b bool) ConfigOption  { return func(c *Config) { c.DeleteTableAsync = b } }
func WithTruncateOnDeleteTable(b bool) ConfigOption {
	return func(c *Config) { c.TruncateOnDeleteTable = b }
}
func WithPrecreateTables(b bool) ConfigOption { return func(c *Config) { c.PrecreateTables = b } }
func WithPollInterval(d time.Duration) ConfigOption {
	return func(c *Config) { c.PollInterval = d }
}
func WithName(name string) ConfigOption { return func(c *Config) { c.Name = name } }

// WithSharedTableRangeKey configures the range key DefaultCreateTableRequestFactory
// declares on the shared physical table, letting the default factory host
// virtual tables that have a range key. name must be non-empty.
func WithSharedTableRangeKey(name string, kind KeyKind) ConfigOption {
	return func(c *Config) { c.SharedTableRangeKeyName = name; c.SharedTableRangeKeyKind = kind }
}

// NewConfig builds a Config starting from DefaultConfig and applying opts.
func NewConfig(opts ...ConfigOption) Config {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// TableMetadataTableName is the physical table name used to persist
// VirtualTableDescriptions.
const TableMetadataTableName = "_tablemetadata"
