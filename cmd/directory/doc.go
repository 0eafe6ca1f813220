// Package main runs the cipherkit directory: it stores published prekey
// bundles, hands out one-time prekeys once each, and queues encrypted
// envelopes for recipients until they ack them.
//
// HTTP API
//
//	POST /v1/bundles
//	GET  /v1/bundles/{user}/{device}            (rate limited per IP)
//	POST /v1/bundles/{user}/{device}/prekeys
//	POST /v1/mailbox
//	GET  /v1/mailbox/{user}/{device}?limit=N
//	POST /v1/mailbox/{user}/{device}/ack        {"ids": [...]}
//	POST /v1/groups/{group}/keys
//	GET  /v1/groups/{group}/missing?member=&epoch=
//	POST /v1/groups/{group}/messages
//	GET  /v1/groups/mailbox/{user}/{device}?limit=N
//	POST /v1/groups/mailbox/{user}/{device}/ack {"ids": [...]}
//	GET  /healthz
//	GET  /metrics
//
// Settings
//
// Read from the environment, after loading a .env file if one exists:
//
//	DIRECTORY_ADDR          listen address (default :8080)
//	DIRECTORY_DATABASE      sqlite DSN (default directory.db)
//	DIRECTORY_FETCH_LIMIT   bundle fetches per window per IP (default 30)
//	DIRECTORY_FETCH_WINDOW  rate limit window (default 1m)
//	DIRECTORY_LOG_LEVEL     0 info, 1 debug, 2 trace
//
// The directory never sees plaintext or private keys; it only stores
// ciphertext and public bundles.
package main
