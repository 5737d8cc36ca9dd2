package sqlstore

import "github.com/goliatone/go-mailevents/core"

var (
	_ core.EventStore = (*EventStore)(nil)
	_ core.AdminStore = (*EventStore)(nil)
	_ core.AdminStore = (*CachedEventStore)(nil)
)
