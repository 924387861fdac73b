package main

import (
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config mirrors the "Configuration inputs" key set from spec.md section
// 6, laid out the way tdnsd/config.go groups its own flat viper keys into
// validated sections.
type Config struct {
	Service   ServiceConf
	Ldap      LdapConf
	Ddns      DdnsConf
	Log       LogConf
	Apiserver ApiserverConf

	Internal InternalConf
}

type ServiceConf struct {
	Name    string `validate:"required"`
	Debug   *bool
	Verbose *bool
}

// LdapConf is the directory connection surface: section 6's uri/base/
// connections/reconnect_interval/timeout/auth_method/credentials.
type LdapConf struct {
	URI               string        `mapstructure:"uri" validate:"required"`
	Base              string        `mapstructure:"base" validate:"required"`
	Connections       int           `mapstructure:"connections" validate:"min=2"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" validate:"required"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"required"`
	AuthMethod        string        `mapstructure:"auth_method" validate:"required,oneof=none simple sasl"`

	BindDN   string `mapstructure:"bind_dn"`
	Password string `mapstructure:"password"`

	SaslMech     string `mapstructure:"sasl_mech"`
	SaslUser     string `mapstructure:"sasl_user"`
	SaslAuthName string `mapstructure:"sasl_auth_name"`
	SaslRealm    string `mapstructure:"sasl_realm"`
	SaslPassword string `mapstructure:"sasl_password"`

	Krb5Principal string `mapstructure:"krb5_principal"`
	Krb5Keytab    string `mapstructure:"krb5_keytab"`

	FakeMname    string `mapstructure:"fake_mname" validate:"required"`
	LdapHostname string `mapstructure:"ldap_hostname"`
}

// DdnsConf carries the instance-wide defaults from section 6 that seed the
// global settings layer (per-zone entries in the directory can still
// override them).
type DdnsConf struct {
	SyncPtr       *bool  `mapstructure:"sync_ptr"`
	DynUpdate     *bool  `mapstructure:"dyn_update"`
	VerboseChecks *bool  `mapstructure:"verbose_checks"`
	Directory     string `mapstructure:"directory"`
}

type LogConf struct {
	File string `validate:"required"`
}

type ApiserverConf struct {
	Address string `validate:"required"`
	Key     string `validate:"required"`
}

// InternalConf holds runtime wiring that has no business living in the
// on-disk config file, mirroring tdnsd's own Internal section.
type InternalConf struct {
	StopCh chan struct{}
}

const defaultCfgFile = "/etc/ldapsyncd/ldapsyncd.yaml"

// ParseConfig reads the config file named by the --config flag (or
// defaultCfgFile), applies environment overrides, and unmarshals it into
// conf, exactly as tdnsd/main.go's ParseConfig does.
func ParseConfig(conf *Config, cfgFile string) error {
	viper.SetConfigFile(cfgFile)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return err
	}
	if err := viper.Unmarshal(conf); err != nil {
		return err
	}
	if conf.Ldap.Connections == 0 {
		conf.Ldap.Connections = 4
	}
	if conf.Ddns.Directory == "" {
		conf.Ddns.Directory = "/var/lib/ldapsyncd/" + conf.Service.Name
	}
	return nil
}

// ValidateConfig runs struct-tag validation section by section, the way
// tdnsd/config.go's ValidateBySection does, so a misconfigured instance
// fails fast at load time with a readable error rather than at first use.
func ValidateConfig(conf *Config, cfgFile string) error {
	sections := map[string]interface{}{
		"service":   conf.Service,
		"ldap":      conf.Ldap,
		"log":       conf.Log,
		"apiserver": conf.Apiserver,
	}
	validate := validator.New()
	for name, data := range sections {
		if err := validate.Struct(data); err != nil {
			log.Fatalf("config %q, section %q: missing required attributes:\n%v\n", cfgFile, name, err)
		}
	}
	return nil
}
