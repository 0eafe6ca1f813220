// Package server is the reference directory: a gorm/sqlite store of prekey
// bundles and mailboxes, served over a chi router.
//
// The server has no protocol logic. It stores what clients publish, hands
// each one-time prekey out once, and queues opaque envelopes until the
// recipient acks them. Bundle fetches are rate limited per client IP, and
// request metrics are exported on /metrics.
package server
