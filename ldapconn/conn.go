// Package ldapconn is the real github.com/go-ldap/ldap/v3-backed
// implementation of the seams ldapsync declares for the directory protocol
// library: ldapsync.Conn (bind/modify/add/close) and ldapsync.PersistentSearch
// (the syncrepl-style change stream). Nothing outside this package imports
// go-ldap directly.
package ldapconn

import (
	"crypto/tls"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	"github.com/nsbackend/dyndb-ldap/ldapsync"
)

// Dialer produces bound ldapsync.Conn handles for a single directory
// server address. It is the dial func a Pool or ReservedConn is configured
// with.
type Dialer struct {
	Addr string // e.g. "ldaps://dir1.example.com:636"

	TLSConfig *tls.Config // nil uses go-ldap's default

	// GSSAPIClient, when set, is handed to the underlying library's
	// GSSAPIBind for sasl binds. Acquiring and refreshing the ticket this
	// client authenticates with is the out-of-scope Kerberos collaborator
	// (ldapsync.KerberosTGT); this field is the separate seam the
	// directory-protocol library itself needs to actually perform a
	// GSSAPI SASL handshake once a ticket exists. A nil client makes any
	// sasl bind attempt fail, which the pool's reconnect loop treats like
	// any other bind failure.
	GSSAPIClient ldap.GSSAPIClient
}

// Dial opens a new, unbound connection. The reconnect state machine behind
// Pool and ReservedConn calls this once per dial attempt; Bind happens
// lazily afterward.
func (d *Dialer) Dial() (ldapsync.Conn, error) {
	raw, err := ldap.DialURL(d.Addr, ldap.DialWithTLSConfig(d.TLSConfig))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.Addr, err)
	}
	return &Conn{raw: raw, gssapi: d.GSSAPIClient}, nil
}

// Conn adapts a *ldap.Conn to ldapsync.Conn, translating the library's
// result-code errors into the engine's sentinel error kinds.
type Conn struct {
	raw    *ldap.Conn
	gssapi ldap.GSSAPIClient
}

func (c *Conn) Bind(method ldapsync.BindMethod, creds ldapsync.Credentials) error {
	var err error
	switch method {
	case ldapsync.BindNone:
		err = c.raw.UnauthenticatedBind("")
	case ldapsync.BindSimple:
		err = c.raw.Bind(creds.BindDN, creds.Password)
	case ldapsync.BindSASL:
		if c.gssapi == nil {
			return fmt.Errorf("%w: sasl bind requested but no GSSAPI client configured", ldapsync.ErrNotConnected)
		}
		err = c.raw.GSSAPIBind(c.gssapi, creds.SASLAuthName, creds.SASLAuthName)
	default:
		return fmt.Errorf("%w: unknown bind method %d", ldapsync.ErrNotImplemented, method)
	}
	return translateBindErr(err)
}

func (c *Conn) Modify(dn string, mods []ldapsync.Mod) error {
	req := ldap.NewModifyRequest(dn, nil)
	for _, m := range mods {
		switch m.Op {
		case ldapsync.ModAdd:
			req.Add(m.Attr, m.Values)
		case ldapsync.ModDelete:
			req.Delete(m.Attr, m.Values)
		case ldapsync.ModReplace:
			req.Replace(m.Attr, m.Values)
		}
	}
	return translateErr(c.raw.Modify(req))
}

func (c *Conn) Add(dn string, attrs map[string][]string) error {
	req := ldap.NewAddRequest(dn, nil)
	for attr, vals := range attrs {
		req.Attribute(attr, vals)
	}
	return translateErr(c.raw.Add(req))
}

func (c *Conn) Close() error {
	c.raw.Close()
	return nil
}

// translateErr maps go-ldap result codes onto the sentinel kinds the
// engine's write-back contract (4.K) and reconnect state machine (4.F)
// distinguish: no-such-object and no-such-attribute both collapse to
// ErrNotFound (tryModify's ADD-as-create and silent-delete paths treat
// them identically), invalid credentials to ErrNoPerm, and anything
// suggesting the transport itself is gone to ErrNotConnected.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject),
		ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchAttribute):
		return fmt.Errorf("%w: %v", ldapsync.ErrNotFound, err)
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInsufficientAccessRights),
		ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials):
		return fmt.Errorf("%w: %v", ldapsync.ErrNoPerm, err)
	case ldap.IsErrorWithCode(err, ldap.ErrorNetwork),
		ldap.IsErrorWithCode(err, ldap.LDAPResultBusy),
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable):
		return fmt.Errorf("%w: %v", ldapsync.ErrNotConnected, err)
	default:
		return err
	}
}

func translateBindErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials),
		ldap.IsErrorWithCode(err, ldap.LDAPResultInappropriateAuthentication):
		return fmt.Errorf("%w: %v", ldapsync.ErrNoPerm, err)
	case ldap.IsErrorWithCode(err, ldap.ErrorNetwork):
		return fmt.Errorf("%w: %v", ldapsync.ErrNotConnected, err)
	default:
		return err
	}
}
