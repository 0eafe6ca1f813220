// Package app wires one device for the CLI.
//
// NewWire opens the encrypted local store, picks the directory client and
// builds the identity, prekey, session, group and message services from a
// Config. App layers the device-level operations that span several
// services (init, register, safety numbers, maintenance) on top.
package app
