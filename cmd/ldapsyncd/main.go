package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var appVersion string

func mainloop(d *Daemon) {
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	hupper := make(chan os.Signal, 1)
	signal.Notify(hupper, syscall.SIGHUP)

	for {
		select {
		case <-exit:
			log.Println("ldapsyncd: exit signal received, shutting down")
			d.Stop()
			return
		case <-hupper:
			log.Println("ldapsyncd: SIGHUP received, forcing a pool reload")
			if err := d.Pool.Reload(); err != nil {
				log.Printf("ldapsyncd: reload: %v", err)
			} else {
				d.Inst.ClearTaint()
			}
		}
	}
}

func main() {
	var cfgFile string
	var foreground bool
	pflag.StringVar(&cfgFile, "config", defaultCfgFile, "config file path")
	pflag.BoolVar(&foreground, "foreground", false, "also print a startup line to stderr")
	pflag.Parse()

	var conf Config
	if err := ParseConfig(&conf, cfgFile); err != nil {
		log.Fatalf("ldapsyncd: loading config %q: %v", cfgFile, err)
	}
	ValidateConfig(&conf, cfgFile)

	SetupLogging(conf.Log.File)
	if foreground {
		fmt.Fprintf(os.Stderr, "ldapsyncd %s starting, config %s\n", appVersion, viper.ConfigFileUsed())
	}
	log.Printf("ldapsyncd %s starting for instance %q, base %q", appVersion, conf.Service.Name, conf.Ldap.Base)

	templates, err := LoadZoneTemplates(viper.GetString("zone_templates"))
	if err != nil {
		log.Fatalf("ldapsyncd: loading zone templates: %v", err)
	}

	daemon, err := BuildDaemon(&conf, templates)
	if err != nil {
		log.Fatalf("ldapsyncd: %v", err)
	}
	daemon.Run()

	APIdispatcher(&conf, daemon)

	mainloop(daemon)
}
