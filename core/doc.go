// Package core holds the webhook event model, the event store contracts, the
// notification hooks and the processing engine. Storage and transport
// adapters depend on this package; core must not depend on them.
package core
