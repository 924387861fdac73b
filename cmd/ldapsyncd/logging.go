package main

import (
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging configures the standard logger with file/line prefixes and
// rotation, exactly as tdns/logging.go does for tdnsd.
func SetupLogging(logfile string) {
	log.SetFlags(log.Lshortfile | log.Ltime)
	if logfile == "" {
		log.Fatalf("ldapsyncd: log.file must be set")
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   logfile,
		MaxSize:    20,
		MaxBackups: 3,
		MaxAge:     14,
	})
}
