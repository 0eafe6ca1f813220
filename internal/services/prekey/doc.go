// Package prekey manages signed prekeys and one-time prekeys for X3DH bootstrap.
//
// It rotates the current signed prekey on a schedule, keeps replaced ones for
// a grace window, hands out each one-time prekey at most once, and tops the
// pool up when it runs low. Every change that affects the public bundle is
// published to the directory.
package prekey
