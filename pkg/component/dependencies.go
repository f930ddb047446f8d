package component

import (
	"github.com/bytesbymike/wicked/pkg/config"
	"github.com/bytesbymike/wicked/pkg/events"
	"github.com/bytesbymike/wicked/pkg/opdb"
)

// Dependencies are the shared collaborators every top-level component
// (interface supervisor, control API, metrics exporter) is constructed
// with.
type Dependencies struct {
	EventBus events.Bus
	Config   *config.Config
	Store    opdb.Store
}
