// Package types defines the Storage contract, identity keys, configuration,
// and the standard errors shared by the tally session and its backends.
//
// Storage implementations receive fully resolved operations: every key
// column and value has been computed by the session before Apply is called.
package types
