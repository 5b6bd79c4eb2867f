// Package kex implements the Diffie-Hellman operations of the Molch
// protocol: the role-ordered single exchange used on every ratchet step,
// the X3DH-style triple exchange that bootstraps a conversation, and the
// derivation of the initial and stepped ratchet key sets.
package kex
