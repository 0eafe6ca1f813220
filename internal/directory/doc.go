// Package directory provides implementations of domain.Directory, the
// untrusted store-and-forward collaborator that holds prekey bundles and
// queues envelopes between devices.
//
// Memory keeps everything in process and is what the tests use. HTTP is a
// JSON client for the server in the server subpackage. Both hand out each
// one-time prekey at most once and keep envelopes until the recipient acks
// them by id.
//
// All requests accept a context for cancellation and deadlines. A 404 from
// the server is reported as domain.ErrNotFound; other non-2xx statuses are
// returned with the method, path and status text.
package directory
