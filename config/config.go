package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	config              GlobalConfig // global configuration
	once                sync.Once    // guards the first load
	loadErr             error
	mu                  sync.RWMutex // guards config on hot reload
	updateDebounceTimer *time.Timer  // debounces config file change events
	reloadHooks         []func(GlobalConfig)
)

const debounceDuration = 1 * time.Second

type GlobalConfig struct {
	Server      ServerConf  `yaml:"server" mapstructure:"server"`   // http listener
	Log         LogConf     `yaml:"log" mapstructure:"log"`         // logging
	Storage     StorageConf `yaml:"storage" mapstructure:"storage"` // storage backend selection
	DbConfig    DbConf      `yaml:"db" mapstructure:"db"`           // mysql
	RedisConfig RedisConf   `yaml:"redis" mapstructure:"redis"`     // redis
	Kafka       KafkaConf   `yaml:"kafka" mapstructure:"kafka"`     // vote events
	Vote        VoteConf    `yaml:"vote" mapstructure:"vote"`       // voting flow tuning
}

type ServerConf struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`             // listen address
	PprofAddr string `yaml:"pprof_addr" mapstructure:"pprof_addr"` // empty disables pprof
}

type LogConf struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // text or json
}

// StorageConf selects where feature requests and votes live.
type StorageConf struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // mysql or memory
	Redis  bool   `yaml:"redis" mapstructure:"redis"`   // use redis for locks, pending proposals and cache
}

type DbConf struct {
	Host        string `yaml:"host" mapstructure:"host"`                   // host
	Port        string `yaml:"port" mapstructure:"port"`                   // port
	User        string `yaml:"user" mapstructure:"user"`                   // user
	Password    string `yaml:"password" mapstructure:"password"`           // password
	Dbname      string `yaml:"dbname" mapstructure:"dbname"`               // database name
	MaxIdleConn int    `yaml:"max_idle_conn" mapstructure:"max_idle_conn"` // max idle connections
	MaxOpenConn int    `yaml:"max_open_conn" mapstructure:"max_open_conn"` // max open connections
	MaxIdleTime int64  `yaml:"max_idle_time" mapstructure:"max_idle_time"` // connection max lifetime, seconds
	SlowQueryMs int64  `yaml:"slow_query_ms" mapstructure:"slow_query_ms"` // slow sql threshold
}

// RedisConf holds the redis connection settings.
type RedisConf struct {
	Host     string `yaml:"rhost" mapstructure:"rhost"`       // host
	Port     int    `yaml:"rport" mapstructure:"rport"`       // port
	DB       int    `yaml:"rdb" mapstructure:"rdb"`           // database index
	PassWord string `yaml:"passwd" mapstructure:"passwd"`     // password
	PoolSize int    `yaml:"poolsize" mapstructure:"poolsize"` // connection pool size
}

type KafkaConf struct {
	Brokers        string        `yaml:"brokers" mapstructure:"brokers"` // empty disables vote events
	Topic          string        `yaml:"topic" mapstructure:"topic"`
	GroupID        string        `yaml:"group_id" mapstructure:"group_id"`
	MessageTimeout time.Duration `yaml:"message_timeout" mapstructure:"message_timeout"` // producer gives up on delivery after this
}

type VoteConf struct {
	PendingTTL       time.Duration `yaml:"pending_ttl" mapstructure:"pending_ttl"`               // how long a withdrawal proposal stays pending
	LockTimeout      time.Duration `yaml:"lock_timeout" mapstructure:"lock_timeout"`             // max wait for the per-user lock
	LockTTL          time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`                     // redis lock expiry
	CountCacheExpiry time.Duration `yaml:"count_cache_expiry" mapstructure:"count_cache_expiry"` // feature vote count cache expiry
	PublishTimeout   time.Duration `yaml:"publish_timeout" mapstructure:"publish_timeout"`       // max wait per vote event publish
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":9090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("storage.driver", "mysql")
	v.SetDefault("storage.redis", true)
	v.SetDefault("db.host", "127.0.0.1")
	v.SetDefault("db.port", "3306")
	v.SetDefault("db.dbname", "voteboard")
	v.SetDefault("db.max_idle_conn", 10)
	v.SetDefault("db.max_open_conn", 50)
	v.SetDefault("db.max_idle_time", 300)
	v.SetDefault("db.slow_query_ms", 200)
	v.SetDefault("redis.rhost", "127.0.0.1")
	v.SetDefault("redis.rport", 6379)
	v.SetDefault("redis.poolsize", 20)
	v.SetDefault("kafka.topic", "voteboard.votes")
	v.SetDefault("kafka.group_id", "voteboard")
	v.SetDefault("kafka.message_timeout", 5*time.Second)
	v.SetDefault("vote.pending_ttl", 15*time.Minute)
	v.SetDefault("vote.lock_timeout", 5*time.Second)
	v.SetDefault("vote.lock_ttl", 10*time.Second)
	v.SetDefault("vote.count_cache_expiry", 30*time.Second)
	v.SetDefault("vote.publish_timeout", 3*time.Second)
}

// GetGlobalConf returns the process configuration, loading it on first use.
func GetGlobalConf() *GlobalConfig {
	once.Do(func() {
		var c *GlobalConfig
		c, loadErr = readConf(viper.GetViper(), ".", "./config", "../config")
		if loadErr != nil {
			panic("read config file err:" + loadErr.Error())
		}
		mu.Lock()
		config = *c
		mu.Unlock()
		watchConf(viper.GetViper())
	})
	mu.RLock()
	defer mu.RUnlock()
	c := config
	return &c
}

// OnReload registers fn to run with the new configuration after the file changes.
func OnReload(fn func(GlobalConfig)) {
	mu.Lock()
	defer mu.Unlock()
	reloadHooks = append(reloadHooks, fn)
}

// Load reads config.yml from the given directories without touching the global config.
func Load(paths ...string) (*GlobalConfig, error) {
	return readConf(viper.New(), paths...)
}

// readConf loads config.yml into a GlobalConfig. A missing file falls back to defaults.
func readConf(v *viper.Viper, paths ...string) (*GlobalConfig, error) {
	v.SetConfigName("config")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("voteboard")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Warn("config.yml not found, using defaults")
	}

	var c GlobalConfig
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config file unmarshal: %w", err)
	}
	if c.Storage.Driver != "mysql" && c.Storage.Driver != "memory" {
		return nil, fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	log.WithFields(log.Fields{
		"storage":     c.Storage.Driver,
		"redis":       c.Storage.Redis,
		"pending_ttl": c.Vote.PendingTTL,
	}).Info("config loaded")
	return &c, nil
}

func watchConf(v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()
		if updateDebounceTimer != nil {
			updateDebounceTimer.Stop()
		}
		updateDebounceTimer = time.AfterFunc(debounceDuration, func() { reload(v, e.Name) })
	})
	v.WatchConfig()
}

func reload(v *viper.Viper, file string) {
	var c GlobalConfig
	if err := v.Unmarshal(&c); err != nil {
		log.WithError(err).WithField("file", file).Error("config reload failed")
		return
	}
	mu.Lock()
	config = c
	hooks := append([]func(GlobalConfig){}, reloadHooks...)
	mu.Unlock()

	log.WithField("file", file).Info("config reloaded")
	for _, fn := range hooks {
		fn(c)
	}
}
