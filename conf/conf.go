package conf

import (
	"github.com/spirit-labs/aggstore/errors"
)

const (
	ObjectStoreTypeNone  = "none"
	ObjectStoreTypeDev   = "dev"
	ObjectStoreTypeMinio = "minio"

	DefaultStateBucket              = "aggstore-state"
	DefaultStatePrefix              = "aggstore"
	DefaultVersionsToRetainInMemory = 10
	DefaultMinDeltasForSnapshot     = 100
	DefaultMinVersionsToRetain      = 2
	DefaultMetricsBind              = "localhost:9102"
)

type Config struct {
	// Object store config
	ObjectStoreType string `help:"Where committed state versions are persisted. One of none, dev, minio" default:"none"`
	MinioEndpoint   string `help:"Minio endpoint, host:port"`
	MinioAccessKey  string `help:"Minio access key"`
	MinioSecretKey  string `help:"Minio secret key"`
	MinioSecure     bool   `help:"Use TLS to connect to minio"`

	// State store config
	StateBucket              string `help:"Object store bucket holding state versions" default:"aggstore-state"`
	StatePrefix              string `help:"Prefix of every state object key" default:"aggstore"`
	VersionsToRetainInMemory int    `help:"Number of committed versions per store kept in memory" default:"10"`
	MinDeltasForSnapshot     int    `help:"Number of deltas written after the last snapshot before maintenance writes a new snapshot" default:"100"`
	MinVersionsToRetain      int    `help:"Number of versions before the latest that maintenance keeps readable" default:"2"`

	MetricsEnabled bool   `help:"Expose Prometheus metrics"`
	MetricsBind    string `help:"Bind address for Prometheus metrics." default:"localhost:9102" env:"METRICS_BIND"`
}

// ApplyDefaults fills in zero valued fields. Kong applies the tag defaults, this covers configs built in code.
func (c *Config) ApplyDefaults() {
	if c.ObjectStoreType == "" {
		c.ObjectStoreType = ObjectStoreTypeNone
	}
	if c.StateBucket == "" {
		c.StateBucket = DefaultStateBucket
	}
	if c.StatePrefix == "" {
		c.StatePrefix = DefaultStatePrefix
	}
	if c.VersionsToRetainInMemory == 0 {
		c.VersionsToRetainInMemory = DefaultVersionsToRetainInMemory
	}
	if c.MinDeltasForSnapshot == 0 {
		c.MinDeltasForSnapshot = DefaultMinDeltasForSnapshot
	}
	if c.MinVersionsToRetain == 0 {
		c.MinVersionsToRetain = DefaultMinVersionsToRetain
	}
	if c.MetricsBind == "" {
		c.MetricsBind = DefaultMetricsBind
	}
}

func (c *Config) Validate() error {
	switch c.ObjectStoreType {
	case ObjectStoreTypeNone, ObjectStoreTypeDev:
	case ObjectStoreTypeMinio:
		if c.MinioEndpoint == "" {
			return errors.NewInvalidConfigurationError("minio-endpoint must be specified")
		}
		if c.MinioAccessKey == "" {
			return errors.NewInvalidConfigurationError("minio-access-key must be specified")
		}
		if c.MinioSecretKey == "" {
			return errors.NewInvalidConfigurationError("minio-secret-key must be specified")
		}
	default:
		return errors.NewInvalidConfigurationError("object-store-type must be one of none, dev, minio")
	}
	if c.ObjectStoreType != ObjectStoreTypeNone && c.StateBucket == "" {
		return errors.NewInvalidConfigurationError("state-bucket must be specified")
	}
	if c.VersionsToRetainInMemory < 1 {
		return errors.NewInvalidConfigurationError("versions-to-retain-in-memory must be > 0")
	}
	if c.MinDeltasForSnapshot < 1 {
		return errors.NewInvalidConfigurationError("min-deltas-for-snapshot must be > 0")
	}
	if c.MinVersionsToRetain < 1 {
		return errors.NewInvalidConfigurationError("min-versions-to-retain must be > 0")
	}
	if c.MetricsEnabled && c.MetricsBind == "" {
		return errors.NewInvalidConfigurationError("metrics-bind must be specified if metrics-enabled is true")
	}
	return nil
}
