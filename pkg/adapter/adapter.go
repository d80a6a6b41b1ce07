// Package adapter provides the storage adapter contract used by featureprep
// to read feature tables and persist partitions.
//
// Concrete adapter implementations live in pkg/adapters/ subdirectories and
// register themselves with this package's registry from init().
package adapter

import (
	"github.com/leapstack-labs/featureprep/pkg/core"
)

// Type aliases for the adapter types defined in pkg/core.
type (
	// Adapter is an alias for core.Adapter.
	Adapter = core.Adapter

	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Source is an alias for core.Source.
	Source = core.Source

	// Sink is an alias for core.Sink.
	Sink = core.Sink
)
