// Package node holds a node's persistent identity and configuration.
//
// Identity is an ed25519 keypair persisted as JSON in the data
// directory; the node id is the libp2p peer id derived from the key,
// so identity survives restarts and remote peers can verify it from
// the public key alone. Configuration is a YAML file overlaying
// defaults.
package node
