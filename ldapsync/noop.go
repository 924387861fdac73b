package ldapsync

// NoopForwardTable, NoopACLTable, and NoopUpdatePolicyTable are stand-ins
// for the name-server runtime's forwarding table, ACL parser, and
// update-policy compiler -- out-of-scope external collaborators per
// section 1. They let the projector run end to end (and be exercised by
// tests, or by a daemon with no real name-server runtime wired in yet)
// without those rule languages actually existing.
type NoopForwardTable struct{}

func (NoopForwardTable) Install(origin Name, policy string, forwarders []string) error { return nil }
func (NoopForwardTable) Remove(origin Name) error                                      { return nil }

type NoopACLTable struct{}

func (NoopACLTable) InstallQuery(origin Name, rule string) error           { return nil }
func (NoopACLTable) InstallTransfer(origin Name, rule string) error        { return nil }
func (NoopACLTable) InstallMostRestrictive(origin Name) error              { return nil }

type NoopUpdatePolicyTable struct{}

func (NoopUpdatePolicyTable) InstallSimpleSecure(origin Name, policy string) error { return nil }
func (NoopUpdatePolicyTable) InstallEmpty(origin Name) error                       { return nil }
