package main

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xraph/bursar/extension"
	"github.com/xraph/bursar/store/dial"
)

// config is the daemon configuration. Every key can be set in the config
// file, as a flag, or as a BURSAR_ environment variable with dots replaced
// by underscores (store.dsn is BURSAR_STORE_DSN).
type config struct {
	Engine extension.Config `mapstructure:",squash"`

	LogLevel    string   `mapstructure:"log_level"`
	LogFormat   string   `mapstructure:"log_format"`
	MetricsAddr string   `mapstructure:"metrics_addr"`
	Brokers     []string `mapstructure:"kafka_brokers"`
	Topic       string   `mapstructure:"kafka_topic"`
	Audit       bool     `mapstructure:"audit"`

	// run command
	Month int `mapstructure:"month"`
	Year  int `mapstructure:"year"`
}

// flagSet declares the flags shared by every command.
func flagSet(name string) *pflag.FlagSet {
	def := extension.DefaultConfig()

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "config file (yaml, json or toml)")
	fs.String("env-file", ".env", "dotenv file loaded before reading the environment, if present")

	fs.String("store.driver", def.Store.Driver, "store backend: memory, sqlite, postgres or mongo")
	fs.String("store.dsn", "", "sqlite path, postgres DSN or mongo URI")
	fs.String("store.database", dial.DefaultMongoDatabase, "mongo database name")
	fs.Bool("disable_migrate", false, "do not migrate the store on start")

	fs.String("currency", def.Currency, "ISO 4217 currency code")
	fs.String("timezone", def.Timezone, "IANA time zone of billing months")
	fs.String("reference_prefix", def.ReferencePrefix, "prefix of generated receipt references")
	fs.Uint("max_attempts", def.MaxAttempts, "attempts of an atomic unit that lost a race")
	fs.Duration("retry_interval", def.RetryInterval, "first backoff between attempts")

	fs.String("runner_schedule", def.RunnerSchedule, "cron expression of the periodic billing run")
	fs.Int("runner_concurrency", def.RunnerConcurrency, "students billed at once")
	fs.Duration("runner_timeout", def.RunnerTimeout, "upper bound of one billing run")

	fs.String("log_level", "info", "debug, info, warn or error")
	fs.String("log_format", "text", "text or json")
	fs.String("metrics_addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	fs.StringSlice("kafka_brokers", nil, "publish billing events to these Kafka brokers")
	fs.String("kafka_topic", "bursar.events", "Kafka topic for billing events")
	fs.Bool("audit", false, "write an audit line per billing event to the log")

	fs.Int("month", 0, "billing month for the run command (default: current)")
	fs.Int("year", 0, "billing year for the run command (default: current)")
	return fs
}

// loadConfig parses args and merges, highest first: flags set on the
// command line, environment, config file, flag defaults.
func loadConfig(name string, args []string) (*config, error) {
	fs := flagSet(name)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	envFile, _ := fs.GetString("env-file")
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, errors.Wrapf(err, "loading %s", envFile)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "stat %s", envFile)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("BURSAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(err, "binding flags")
	}

	if file, _ := fs.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", file)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	return &cfg, nil
}
