package ldapconn

import (
	"fmt"

	"github.com/nsbackend/dyndb-ldap/ldapsync"
)

// NoTGT is the default ldapsync.KerberosTGT: acquiring a GSSAPI ticket is
// an out-of-scope external collaborator per the engine's design (a real
// keytab-backed client, e.g. gokrb5, is wired in by the daemon harness only
// when sasl binds are actually configured). Using NoTGT with a sasl bind
// method and a Kerberos principal configured fails every bind attempt with
// ErrNotConnected; the pool's reconnect loop records it as a failed bind,
// without the anonymous fallback, and retries after backoff.
type NoTGT struct{}

func (NoTGT) Acquire(principal, keytab string) error {
	return fmt.Errorf("%w: no Kerberos TGT client configured (principal %q)", ldapsync.ErrNotConnected, principal)
}
