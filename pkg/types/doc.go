// Package types defines the storage and transport interfaces, the peer
// message variants, the block/allow list record, and the standard errors
// shared by the peermention packages.
package types
