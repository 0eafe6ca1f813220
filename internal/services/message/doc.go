// Package message ties the session and group services to the directory.
//
// It is the only layer that retries: a missing group key on send is created
// and distributed before one more attempt, and a missing member key on
// receive triggers one drain of the direct mailbox before one more attempt.
// IsRecoverable names the errors where that helps.
package message
