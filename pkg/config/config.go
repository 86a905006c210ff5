// Package config holds plain option structs describing each core
// component's settings; the component constructors themselves take
// functional Options. It does no env parsing, file watching, or schema
// validation — a caller is free to populate these from viper, flags, or
// hardcoded defaults; that loading is this repository's boundary with the
// outside world, not something it implements.
package config

import "time"

// Distributor configures pkg/distributor.New via its Option constructors.
type Distributor struct {
	WorkflowRoleARN string
	WorkflowRegion  string
	TaskTableName   string
	TaskTableRegion string
	NamingEnabled   bool
}

// Resources configures pkg/resources.NewMonitor via its Option constructors.
type Resources struct {
	MetricsNamespace   string
	MetricsRegion      string
	AutoscalingRegion  string
	AlertSlackToken    string
	AlertSlackChannel  string
	SampleInterval     time.Duration
}

// Fabric configures pkg/fabric.New via its Option constructors.
type Fabric struct {
	QueueRegion      string
	QueueURL         string
	EventBusRegion   string
	EventBusName     string
	EncryptionKeyHex string
}
