// Package config loads the agent's YAML configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FlowTableConfig configures the fixed-capacity flow table.
type FlowTableConfig struct {
	Capacity          int    `yaml:"capacity"`
	MaxProbes         int    `yaml:"max_probes"`
	C1                int64  `yaml:"c1"`
	C2                int64  `yaml:"c2"`
	ExpirationSeconds int64  `yaml:"expiration_seconds"`
	MinOffset         int32  `yaml:"min_offset"`
	MaxOffset         int32  `yaml:"max_offset"`
	RebaseInterval    string `yaml:"rebase_interval"`
}

// ThresholdConfig configures heavy-hitter reporting.
type ThresholdConfig struct {
	Enabled        bool   `yaml:"enabled"`
	PacketCount    uint8  `yaml:"packet_count"`
	OutputPath     string `yaml:"output_path"`
	ReportInterval string `yaml:"report_interval"`
}

// AnonymizationConfig configures IP anonymization.
type AnonymizationConfig struct {
	Enabled bool   `yaml:"enabled"`
	KeyFile string `yaml:"key_file"`
}

// CaptureConfig configures the packet-capture front end.
type CaptureConfig struct {
	Interface   string `yaml:"interface"`
	OfflineFile string `yaml:"offline_file"`
	SnapshotLen int32  `yaml:"snapshot_len"`
	Promiscuous bool   `yaml:"promiscuous"`
	BPFFilter   string `yaml:"bpf_filter"`
}

// TransportConfig configures the NATS transport between capture and
// aggregation processes.
type TransportConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// APIConfig configures the HTTP stats/control surface and the gRPC
// health endpoint.
type APIConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// ArchiveConfig configures the optional ClickHouse heavy-hitter archive.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// UpdateConfig configures the periodic compressed update stream.
type UpdateConfig struct {
	OutputPath    string `yaml:"output_path"`
	WriteInterval string `yaml:"write_interval"`
}

// Config is the top-level configuration for the agent.
type Config struct {
	SessionName   string              `yaml:"session_name"`
	FlowTable     FlowTableConfig     `yaml:"flow_table"`
	Threshold     ThresholdConfig     `yaml:"threshold"`
	Anonymization AnonymizationConfig `yaml:"anonymization"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transport     TransportConfig     `yaml:"transport"`
	API           APIConfig           `yaml:"api"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Update        UpdateConfig        `yaml:"update"`
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %q: %w", path, err)
	}

	return &cfg, nil
}
