package ldapsync

import "time"

// nowUnix is swapped out in tests that need deterministic serial bumps.
var nowUnix = func() int64 { return time.Now().Unix() }

func currentUnixTime() int64 { return nowUnix() }
