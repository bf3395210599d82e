package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	im "ledgermig/internal/migrator"
)

// DB holds connection parameters used when no DSN is given.
type DB struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Ledger names the table that records applied changes.
type Ledger struct {
	Table      string `mapstructure:"table"`
	NameColumn string `mapstructure:"name_column"`
	TimeColumn string `mapstructure:"time_column"`
	Create     bool   `mapstructure:"create"`
}

// Config is the full application configuration.
type Config struct {
	DSN      string `mapstructure:"dsn"`
	DB       DB     `mapstructure:"db"`
	Path     string `mapstructure:"path"`
	Ext      string `mapstructure:"ext"`
	Ledger   Ledger `mapstructure:"ledger"`
	LogLevel string `mapstructure:"log_level"`
}

func Default() Config {
	return Config{
		DB:       DB{SSLMode: "prefer"},
		Path:     "./migrations",
		Ext:      ".sql",
		Ledger:   Ledger{Table: "migrations", NameColumn: "name", TimeColumn: "executed_at"},
		LogLevel: "info",
	}
}

// envAliases are accepted in addition to the LEDGERMIG_ prefixed names.
var envAliases = map[string]string{
	"db.host":     "DB_HOST",
	"db.port":     "DB_PORT",
	"db.user":     "DB_USER",
	"db.password": "DB_PASSWORD",
	"db.name":     "DB_NAME",
}

// flagKeys maps config keys to the flag names the CLI registers.
var flagKeys = map[string]string{
	"dsn":                "dsn",
	"db.host":            "db-host",
	"db.port":            "db-port",
	"db.user":            "db-user",
	"db.password":        "db-password",
	"db.name":            "db-name",
	"db.sslmode":         "db-sslmode",
	"path":               "path",
	"ext":                "ext",
	"ledger.table":       "ledger-table",
	"ledger.name_column": "ledger-name-column",
	"ledger.time_column": "ledger-time-column",
	"ledger.create":      "create-ledger",
	"log_level":          "log-level",
}

const envPrefix = "LEDGERMIG"

// Load reads configuration from defaults, a YAML file, the environment and
// flags (in increasing priority) and validates it.
func Load(flags *pflag.FlagSet, configFile string) (Config, error) {
	c, err := LoadUnvalidated(flags, configFile)
	if err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadUnvalidated layers configuration like Load but does not require the
// database settings. Commands that never connect use it.
func LoadUnvalidated(flags *pflag.FlagSet, configFile string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	def := Default()
	for key, val := range map[string]any{
		"dsn":                def.DSN,
		"db.host":            def.DB.Host,
		"db.port":            def.DB.Port,
		"db.user":            def.DB.User,
		"db.password":        def.DB.Password,
		"db.name":            def.DB.Name,
		"db.sslmode":         def.DB.SSLMode,
		"path":               def.Path,
		"ext":                def.Ext,
		"ledger.table":       def.Ledger.Table,
		"ledger.name_column": def.Ledger.NameColumn,
		"ledger.time_column": def.Ledger.TimeColumn,
		"ledger.create":      def.Ledger.Create,
		"log_level":          def.LogLevel,
	} {
		v.SetDefault(key, val)
	}
	for key, alias := range envAliases {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), alias); err != nil {
			return Config{}, err
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := readAndExpandFile(v, configFile); err != nil {
			return Config{}, &im.Error{Kind: im.KindConfig, Subject: "config file " + configFile, Err: err}
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := tryReadAndExpand(v); err != nil {
			return Config{}, &im.Error{Kind: im.KindConfig, Subject: "config file", Err: err}
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, err
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, &im.Error{Kind: im.KindConfig, Subject: "decoding", Err: err}
	}
	if c.Path == "" {
		c.Path = def.Path
	}
	if !filepath.IsAbs(c.Path) {
		if p, err := filepath.Abs(c.Path); err == nil {
			c.Path = p
		}
	}
	if c.Ext == "" {
		c.Ext = def.Ext
	}
	if c.DB.SSLMode == "" {
		c.DB.SSLMode = def.DB.SSLMode
	}
	return c, nil
}

// Validate reports every missing required value at once.
func (c Config) Validate() error {
	var missing []string
	if c.DSN == "" {
		if c.DB.Host == "" {
			missing = append(missing, "db.host")
		}
		if c.DB.Port == 0 {
			missing = append(missing, "db.port")
		}
		if c.DB.User == "" {
			missing = append(missing, "db.user")
		}
		if c.DB.Password == "" {
			missing = append(missing, "db.password")
		}
		if c.DB.Name == "" {
			missing = append(missing, "db.name")
		}
	}
	if c.Ledger.Table == "" {
		missing = append(missing, "ledger.table")
	}
	if c.Ledger.NameColumn == "" {
		missing = append(missing, "ledger.name_column")
	}
	if c.Ledger.TimeColumn == "" {
		missing = append(missing, "ledger.time_column")
	}
	if len(missing) > 0 {
		return &im.Error{Kind: im.KindConfig, Missing: missing}
	}
	return nil
}

// ConnString returns the DSN, or builds a keyword/value connection string
// from the db section.
func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	parts := []string{
		"host=" + quote(c.DB.Host),
		fmt.Sprintf("port=%d", c.DB.Port),
		"user=" + quote(c.DB.User),
		"password=" + quote(c.DB.Password),
		"dbname=" + quote(c.DB.Name),
	}
	if c.DB.SSLMode != "" {
		parts = append(parts, "sslmode="+quote(c.DB.SSLMode))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func readAndExpandFile(v *viper.Viper, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	expanded := os.ExpandEnv(string(b))
	return v.MergeConfig(strings.NewReader(expanded))
}

func tryReadAndExpand(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	path := v.ConfigFileUsed()
	if path == "" {
		return nil
	}
	return readAndExpandFile(v, path)
}
