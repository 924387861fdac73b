package ldapsync

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// BindMethod is the directory bind mechanism a connection authenticates
// with.
type BindMethod uint8

const (
	BindNone BindMethod = iota + 1
	BindSimple
	BindSASL
)

// Credentials bundles every bind parameter the configuration surface
// (section 6) exposes, for whichever BindMethod is in effect.
type Credentials struct {
	BindDN   string
	Password string

	SASLMech     string
	SASLUser     string
	SASLAuthName string
	SASLRealm    string
	SASLPassword string

	Krb5Principal string
	Krb5Keytab    string
}

// Conn is the directory-connection shape the pool and write-back path
// consume. The directory protocol library itself (bind/search/modify wire
// mechanics, syncrepl) is an external collaborator per section 1; this
// interface is the seam the real github.com/go-ldap/ldap/v3-backed
// implementation (package ldapconn) sits behind.
type Conn interface {
	Bind(method BindMethod, creds Credentials) error
	Modify(dn string, mods []Mod) error
	Add(dn string, attrs map[string][]string) error
	Close() error
}

// KerberosTGT acquires (or refreshes) a Kerberos ticket-granting ticket for
// a SASL/GSSAPI bind. TGT acquisition is an out-of-scope external
// collaborator (section 1); this is the only seam the reconnect state
// machine needs from it.
type KerberosTGT interface {
	Acquire(principal, keytab string) error
}

// backoffTable implements the {2s, 5s, 20s, infinite} schedule from 4.F,
// capped by the configured reconnect_interval.
var backoffTable = []time.Duration{2 * time.Second, 5 * time.Second, 20 * time.Second}

func computeBackoff(tries int, cap time.Duration) time.Duration {
	var d time.Duration
	if tries <= 0 {
		d = backoffTable[0]
	} else if tries-1 < len(backoffTable) {
		d = backoffTable[tries-1]
	} else {
		d = cap
		if d <= 0 {
			d = backoffTable[len(backoffTable)-1]
		}
		return d
	}
	if cap > 0 && d > cap {
		return cap
	}
	return d
}

// krbMu is the process-wide Kerberos mutex from section 5: GSSAPI binds
// across every connection in every instance serialize on TGT acquisition.
var krbMu sync.Mutex

// connSlot is one directory connection's reconnect state: a Conn handle
// plus the bookkeeping the {Never,Binding,Bound,Failed} state machine
// needs. Both Pool (N slots, picked by try-lock) and ReservedConn (one
// dedicated slot, for the change-stream consumer) drive this state machine
// through the shared binder below rather than duplicating it.
type connSlot struct {
	mu    sync.Mutex // acquired via TryLock by Pool.Acquire; held by the caller until Release
	state ConnState
	conn  Conn

	tries         int
	nextReconnect time.Time
}

// ConnState is the per-connection reconnect state machine from 4.F:
// Never -> Binding -> Bound <-> Failed -> Binding.
type ConnState uint8

const (
	StateNever ConnState = iota
	StateBinding
	StateBound
	StateFailed
)

// binder holds everything the reconnect state machine needs to dial and
// bind a connection, independent of whether the slot belongs to the fixed
// pool or to a single dedicated (reserved) connection. Pool and
// ReservedConn each embed one.
type binder struct {
	dial              func() (Conn, error)
	bindMethod        BindMethod
	creds             Credentials
	reconnectInterval time.Duration
	tgt               KerberosTGT
}

// ensureBound runs the reconnect state machine for c, binding it if it is
// Never/Failed (and due) or completing an interrupted Binding. force, when
// true, bypasses the backoff window (used by an explicit operator reload).
func (b *binder) ensureBound(c *connSlot, force bool) error {
	switch c.state {
	case StateBound:
		return nil
	case StateFailed:
		if !force && time.Now().Before(c.nextReconnect) {
			return fmt.Errorf("%w: connection still in backoff until %s", ErrSoftQuota, c.nextReconnect)
		}
	}
	return b.bind(c)
}

// bind performs the actual Binding -> {Bound, Failed} transition.
func (b *binder) bind(c *connSlot) error {
	c.state = StateBinding
	if c.conn == nil {
		conn, err := b.dial()
		if err != nil {
			b.recordFailure(c)
			return fmt.Errorf("%w: dial: %v", ErrNotConnected, err)
		}
		c.conn = conn
	}

	if err := b.bindOnce(c.conn); err != nil {
		// Credential failures fall back to an anonymous bind once before
		// giving up, per the supplemented NoPerm behavior in SPEC_FULL.md.
		// A failed TGT acquisition (ErrNotConnected) is recorded as a
		// failure without the fallback, so the reconnect loop retries it.
		if b.bindMethod != BindNone && errors.Is(err, ErrNoPerm) {
			if anonErr := c.conn.Bind(BindNone, Credentials{}); anonErr == nil {
				log.Printf("ldapsync: bind failed (%v), fell back to anonymous bind", err)
				c.state = StateBound
				c.tries = 0
				return nil
			}
		}
		b.recordFailure(c)
		return err
	}

	c.state = StateBound
	c.tries = 0
	return nil
}

func (b *binder) bindOnce(conn Conn) error {
	if b.bindMethod == BindSASL && b.creds.Krb5Principal != "" {
		krbMu.Lock()
		err := b.tgt.Acquire(b.creds.Krb5Principal, b.creds.Krb5Keytab)
		krbMu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: kerberos TGT acquisition: %v", ErrNotConnected, err)
		}
	}
	if err := conn.Bind(b.bindMethod, b.creds); err != nil {
		return fmt.Errorf("%w: bind: %v", ErrNoPerm, err)
	}
	return nil
}

func (b *binder) recordFailure(c *connSlot) {
	c.state = StateFailed
	c.tries++
	c.nextReconnect = time.Now().Add(computeBackoff(c.tries, b.reconnectInterval))
}

// Pool is the fixed-size directory connection pool: a counting semaphore
// admitting up to N concurrent users, plus N per-connection mutexes taken
// via non-blocking try-lock so acquire never waits on a specific slot, only
// on the overall admission count.
type Pool struct {
	*binder

	sem   chan struct{}
	conns []*connSlot

	queryTimeout   time.Duration
	acquireTimeout time.Duration // derived: a multiple of queryTimeout
}

// NewPool constructs a pool of n >= 2 connections. dial produces a fresh,
// unbound Conn handle; bind is performed lazily by the reconnect machine,
// never by dial itself.
func NewPool(n int, dial func() (Conn, error), method BindMethod, creds Credentials, reconnectInterval, queryTimeout time.Duration, tgt KerberosTGT) (*Pool, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: connection pool requires at least 2 connections, got %d", ErrNotImplemented, n)
	}
	p := &Pool{
		binder: &binder{
			dial:              dial,
			bindMethod:        method,
			creds:             creds,
			reconnectInterval: reconnectInterval,
			tgt:               tgt,
		},
		sem:            make(chan struct{}, n),
		conns:          make([]*connSlot, n),
		queryTimeout:   queryTimeout,
		acquireTimeout: queryTimeout * 5,
	}
	for i := range p.conns {
		p.conns[i] = &connSlot{}
	}
	return p, nil
}

// Handle is a leased connection; the caller must call Release exactly once.
type Handle struct {
	pool *Pool
	slot *connSlot
}

// Conn exposes the underlying connection for the duration of the lease.
func (h *Handle) Conn() Conn { return h.slot.conn }

// Release returns the connection to the pool.
func (h *Handle) Release() {
	h.slot.mu.Unlock()
	<-h.pool.sem
}

// Acquire waits on the semaphore (bounded by acquireTimeout, a multiple of
// the per-query timeout so a genuine deadlock surfaces as a log message
// rather than hanging forever), then scans for the first free
// per-connection mutex. Before returning it ensures the handle is bound,
// performing a synchronous reconnect if necessary. Connection acquisition
// is always the innermost lock: callers must not hold the zone register or
// settings locks across a call to Acquire. A zero acquireTimeout (zero
// query timeout) waits on the semaphore without bound.
func (p *Pool) Acquire() (*Handle, error) {
	var timeout <-chan time.Time
	if p.acquireTimeout > 0 {
		timeout = time.After(p.acquireTimeout)
	}
	select {
	case p.sem <- struct{}{}:
	case <-timeout:
		log.Printf("ldapsync: pool Acquire timed out after %s; consider raising \"connections\"", p.acquireTimeout)
		return nil, fmt.Errorf("%w: pool acquire exceeded %s", ErrTimeout, p.acquireTimeout)
	}

	for {
		for _, c := range p.conns {
			if c.mu.TryLock() {
				if err := p.ensureBound(c, false); err != nil {
					c.mu.Unlock()
					<-p.sem
					return nil, err
				}
				return &Handle{pool: p, slot: c}, nil
			}
		}
		// Every slot is momentarily held even though the semaphore admitted
		// us; yield and rescan. This only spins briefly: the semaphore count
		// equals len(conns), so some slot is always about to free.
		time.Sleep(time.Millisecond)
	}
}

// NoteDown marks a connection Bound -> Binding after an operation observed
// ServerDown/ConnectError and closes and drops its handle, so the next
// Acquire of this slot redials and rebinds instead of reusing a dead handle.
func (h *Handle) NoteDown() {
	if h.slot.conn != nil {
		_ = h.slot.conn.Close()
		h.slot.conn = nil
	}
	h.slot.state = StateBinding
}

// Reload immediately retries the bind of every connection in the pool that
// is not Bound, bypassing backoff; connections that are already Bound are
// left as they are. It is the operator-facing counterpart of the
// tainted-instance log hint in SPEC_FULL.md.
func (p *Pool) Reload() error {
	var firstErr error
	for _, c := range p.conns {
		c.mu.Lock()
		if err := p.ensureBound(c, true); err != nil && firstErr == nil {
			firstErr = err
		}
		c.mu.Unlock()
	}
	return firstErr
}

// Close releases every underlying connection. The pool must not be in use.
func (p *Pool) Close() error {
	var firstErr error
	for _, c := range p.conns {
		c.mu.Lock()
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		c.mu.Unlock()
	}
	return firstErr
}

// ReservedConn is a single directory connection owned outside the pool, for
// a caller that is not a pool-connection user: the change-stream consumer
// (4.F/4.G) holds the persistent search open on its own connection and
// drives the same {Never,Binding,Bound,Failed} reconnect machine as Pool,
// without contending for a pool slot.
type ReservedConn struct {
	*binder
	slot *connSlot
}

// NewReservedConn constructs an unbound reserved connection.
func NewReservedConn(dial func() (Conn, error), method BindMethod, creds Credentials, reconnectInterval time.Duration, tgt KerberosTGT) *ReservedConn {
	return &ReservedConn{
		binder: &binder{
			dial:              dial,
			bindMethod:        method,
			creds:             creds,
			reconnectInterval: reconnectInterval,
			tgt:               tgt,
		},
		slot: &connSlot{},
	}
}

// Ensure binds the connection if it is not already Bound, honoring the
// backoff window unless force is set. It returns the live Conn on success.
func (r *ReservedConn) Ensure(force bool) (Conn, error) {
	if err := r.ensureBound(r.slot, force); err != nil {
		return nil, err
	}
	return r.slot.conn, nil
}

// NoteDown marks the connection down so the next Ensure call rebinds it
// rather than reusing a dead handle, exactly like Handle.NoteDown.
func (r *ReservedConn) NoteDown() {
	if r.slot.conn != nil {
		_ = r.slot.conn.Close()
		r.slot.conn = nil
	}
	r.slot.state = StateBinding
}

// Close releases the underlying connection, if any.
func (r *ReservedConn) Close() error {
	if r.slot.conn == nil {
		return nil
	}
	return r.slot.conn.Close()
}
