package logger

// Component names used with Get and as Configure's per-component level keys.
const (
	Main         = "main"
	DHCP6        = "dhcp6"
	LinkManager  = "linkmgr"
	LeaseApplier = "leaseapplier"
	ControlAPI   = "controlapi"
	Events       = "events"
	DUID         = "duid"
	Metrics      = "metrics"
	Supervisor   = "supervisor"
	Config       = "config"
)
