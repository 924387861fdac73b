package main

import (
	"crypto/tls"
	"fmt"
	"log"
	"time"

	"github.com/nsbackend/dyndb-ldap/ldapconn"
	"github.com/nsbackend/dyndb-ldap/ldapsync"
)

// Daemon bundles everything main.go needs to start and stop one running
// ldapsyncd instance: the engine Instance plus the goroutines driving it.
type Daemon struct {
	Inst     *ldapsync.Instance
	Pool     *ldapsync.Pool
	Reserved *ldapsync.ReservedConn
	Consumer *ldapsync.Consumer
}

func authMethod(s string) ldapsync.BindMethod {
	switch s {
	case "simple":
		return ldapsync.BindSimple
	case "sasl":
		return ldapsync.BindSASL
	default:
		return ldapsync.BindNone
	}
}

// BuildDaemon wires one Instance the way 4.F/4.G/4.H/4.I/4.J/4.K describe:
// a connection pool and a reserved streaming connection sharing one bind
// configuration, a dispatcher routing to the projector/record-updater/
// config handler, and the consumer driving the whole thing. Everything
// downstream of the directory protocol library (View, RawDatabase,
// Journal, ForwardTable, ACLTable, UpdatePolicyTable) is the in-memory
// reference/no-op implementation from package ldapsync, standing in for
// the out-of-scope name-server runtime until a real one is linked in.
func BuildDaemon(conf *Config, templates *ZoneTemplates) (*Daemon, error) {
	method := authMethod(conf.Ldap.AuthMethod)
	creds := ldapsync.Credentials{
		BindDN:   conf.Ldap.BindDN,
		Password: conf.Ldap.Password,

		SASLMech:     conf.Ldap.SaslMech,
		SASLUser:     conf.Ldap.SaslUser,
		SASLAuthName: conf.Ldap.SaslAuthName,
		SASLRealm:    conf.Ldap.SaslRealm,
		SASLPassword: conf.Ldap.SaslPassword,

		Krb5Principal: conf.Ldap.Krb5Principal,
		Krb5Keytab:    conf.Ldap.Krb5Keytab,
	}

	dialer := &ldapconn.Dialer{Addr: conf.Ldap.URI}
	if conf.Ldap.LdapHostname != "" {
		dialer.TLSConfig = &tls.Config{ServerName: conf.Ldap.LdapHostname}
	}
	dial := dialer.Dial

	pool, err := ldapsync.NewPool(conf.Ldap.Connections, dial, method, creds,
		conf.Ldap.ReconnectInterval, conf.Ldap.Timeout, ldapconn.NoTGT{})
	if err != nil {
		return nil, fmt.Errorf("building connection pool: %w", err)
	}
	reserved := ldapsync.NewReservedConn(dial, method, creds, conf.Ldap.ReconnectInterval, ldapconn.NoTGT{})

	local := ldapsync.NewLayer(nil, []ldapsync.SettingDef{
		{Name: "dyn_update", Kind: ldapsync.SettingBool, Default: "false", HasDefault: true},
		{Name: "sync_ptr", Kind: ldapsync.SettingBool, Default: "false", HasDefault: true},
		{Name: "update_policy", Kind: ldapsync.SettingString, Default: "", HasDefault: true},
		{Name: "verbose_checks", Kind: ldapsync.SettingBool, Default: "false", HasDefault: true},
	})
	_ = local.FillFromPairs(map[string]string{
		"dyn_update":     boolSetting(conf.Ddns.DynUpdate),
		"sync_ptr":       boolSetting(conf.Ddns.SyncPtr),
		"verbose_checks": boolSetting(conf.Ddns.VerboseChecks),
	})

	inst := ldapsync.NewInstance(conf.Service.Name, conf.Ldap.Base, conf.Ldap.FakeMname, local)
	inst.Pool = pool
	inst.View = ldapsync.NewMemoryView()
	fs := &ldapsync.DiskZoneFS{Directory: conf.Ddns.Directory}
	inst.FS = fs
	inst.Write = &ldapsync.WriteBack{Pool: pool, Reg: inst.Register, Base: conf.Ldap.Base}

	for origin, tmpl := range templates.Zones {
		name, err := ldapsync.ParseMasterName(origin)
		if err != nil {
			log.Printf("ldapsyncd: skipping zone template %q: %v", origin, err)
			continue
		}
		settings := ldapsync.NewLayer(inst.GlobalSettings, []ldapsync.SettingDef{
			{Name: "dyn_update", Kind: ldapsync.SettingBool, Default: "false", HasDefault: true},
			{Name: "sync_ptr", Kind: ldapsync.SettingBool, Default: "false", HasDefault: true},
			{Name: "update_policy", Kind: ldapsync.SettingString, Default: "", HasDefault: true},
		})
		if tmpl.DynUpdate != nil {
			_ = settings.Set("dyn_update", boolSetting(tmpl.DynUpdate))
		}
		if tmpl.SyncPtr != nil {
			_ = settings.Set("sync_ptr", boolSetting(tmpl.SyncPtr))
		}
		if tmpl.Policy != "" {
			_ = settings.Set("update_policy", tmpl.Policy)
		}
		inst.Register.Add(name, "", ldapsync.ZoneHandles{
			Raw:      ldapsync.NewMemoryZoneDB(name),
			Settings: settings,
		})
	}

	projector := &ldapsync.Projector{
		Inst:       inst,
		Forward:    ldapsync.NoopForwardTable{},
		ACL:        ldapsync.NoopACLTable{},
		Policy:     ldapsync.NoopUpdatePolicyTable{},
		FS:         fs,
		NewJournal: func(ldapsync.Name) ldapsync.Journal { return ldapsync.NopJournal{} },
	}
	updater := &ldapsync.RecordUpdater{
		Inst:       inst,
		NewJournal: func(ldapsync.Name) ldapsync.Journal { return ldapsync.NopJournal{} },
	}

	dispatcher := ldapsync.NewDispatcher(inst, conf.Ldap.Connections*4,
		ldapsync.ConfigureInstance, projector.ZoneHandler, updater.RecordHandler)
	search := &ldapconn.PollingSearch{Interval: 30 * time.Second}
	consumer := ldapsync.NewConsumer(inst, reserved, search, dispatcher)

	ldapsync.RegisterInstance(inst)

	return &Daemon{Inst: inst, Pool: pool, Reserved: reserved, Consumer: consumer}, nil
}

func boolSetting(p *bool) string {
	if p != nil && *p {
		return "true"
	}
	return "false"
}

// Run starts the consumer goroutine; it returns immediately.
func (d *Daemon) Run() { go d.Consumer.Run() }

// Stop signals the consumer to unwind and releases the pool and reserved
// connection.
func (d *Daemon) Stop() {
	d.Consumer.Stop()
	ldapsync.UnregisterInstance(d.Inst.Name)
	_ = d.Pool.Close()
	_ = d.Reserved.Close()
}
