// Package commands defines the cipherkit CLI.
//
// Commands
//
//   - init            Create the identity and prekeys, publish when online
//   - fingerprint     Print the identity fingerprint
//   - register        Publish the prekey bundle to the directory
//   - rotate          Rotate the signed prekey when due (or --force)
//   - start-session   Run X3DH with a peer device
//   - safety-number   Print the safety number for a peer
//   - verify          Compare a peer's safety number
//   - reset           Forget the session with a peer
//   - send / recv     Direct messages
//   - group ...       create, add, remove, send, recv, missing
//   - backup ...      export and import the encrypted local state
//
// # Implementation
//
// Settings come from flags, CIPHERKIT_* environment variables and
// $HOME/.cipherkit/config.yaml through viper. The root command opens the
// device before any subcommand runs, so handlers share one app.
package commands
