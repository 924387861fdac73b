package ldapsync

import "errors"

// Error kinds the core distinguishes. These are
// sentinel values so callers can compare with errors.Is even though most
// of them are usually wrapped with a message via fmt.Errorf("...: %w", ...).
var (
	// ErrNotFound means a name, zone, or entry was not where a caller
	// expected it.
	ErrNotFound = errors.New("not found")

	// ErrExists means a caller attempted to create an already-live zone
	// with non-empty content.
	ErrExists = errors.New("already exists")

	// ErrBadEscape means a master-file escape sequence in an input name
	// was malformed. Fatal to the conversion that hit it.
	ErrBadEscape = errors.New("malformed master-file escape")

	// ErrBadOwnerName means a DN had an owner that is not a proper
	// subdomain of its zone, or that equals the zone apex.
	ErrBadOwnerName = errors.New("owner name not subordinate to zone")

	// ErrNotImplemented covers heterogeneous TTLs in one rdata-list,
	// unsupported address families, and multi-valued RDNs.
	ErrNotImplemented = errors.New("not implemented")

	// ErrNoPerm covers invalid credentials and a PTR sync target zone
	// with dyn_update disabled.
	ErrNoPerm = errors.New("permission denied")

	// ErrNotConnected means the directory server is down or TGT
	// acquisition failed.
	ErrNotConnected = errors.New("not connected")

	// ErrTimeout means a directory or pool wait exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrUnexpectedToken covers an invalid forwarder, an invalid ACL, or
	// a PTR mismatch.
	ErrUnexpectedToken = errors.New("unexpected token")

	// ErrSingleton means a caller tried to add a PTR that conflicts with
	// an existing one.
	ErrSingleton = errors.New("singleton record conflict")

	// ErrShutdown means the exiting flag was observed mid-operation.
	ErrShutdown = errors.New("shutting down")

	// ErrSoftQuota means a reconnect was attempted before its backoff
	// window elapsed; the caller should retry later.
	ErrSoftQuota = errors.New("reconnect backoff not yet elapsed")

	// ErrNotLoaded and ErrBadZone are the two outcomes from the external
	// zone-manager runtime that the record updater retries once, after a
	// single zone reload, before giving up.
	ErrNotLoaded = errors.New("zone not loaded")
	ErrBadZone   = errors.New("zone damaged")
)
