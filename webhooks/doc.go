// Package webhooks receives provider deliveries and turns them into stored
// events.
//
// Receipt is idempotent on the provider event id: the first delivery is
// persisted as pending and fires the received hooks, every later delivery of
// the same id is acknowledged as a duplicate without side effects. Processing
// happens later and never on the request path.
package webhooks
