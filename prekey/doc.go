// Package prekey manages the pool of short-lived X25519 key pairs a user
// publishes so that peers can start conversations while the user is
// offline.
//
// The store holds a fixed number of active key pairs plus a list of
// deprecated ones. Looking up a private key by its public half deprecates
// the active node and replaces it with a fresh pair; rotation retires
// expired active nodes the same way and destroys deprecated nodes once
// they outlive their grace period.
package prekey
