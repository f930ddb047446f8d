package events

const (
	TopicLeaseAcquired  = "wicked:events:dhcp6:lease:acquired"
	TopicLeaseReleased  = "wicked:events:dhcp6:lease:released"
	TopicLeaseLost      = "wicked:events:dhcp6:lease:lost"
	TopicStateChanged   = "wicked:events:dhcp6:state:changed"
	TopicLinkStateEvent = "wicked:events:link:state"
	TopicPacketDropped  = "wicked:events:dhcp6:packet:dropped"
)
