// Package group implements sender-key group messaging.
//
// Each member keeps one symmetric chain per group epoch and hands it to the
// other members once, over their pairwise sessions. Group messages are then
// encrypted once and fanned out. Any membership change starts a new epoch:
// our chain is replaced and removed members' chains are forgotten.
package group
