package config

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Astemirdum/library-circulation/circulation/internal/rules"
	cb "github.com/Astemirdum/library-circulation/pkg/circuit_breaker"
	"github.com/Astemirdum/library-circulation/pkg/kafka"
	"github.com/Astemirdum/library-circulation/pkg/logger"
	"github.com/Astemirdum/library-circulation/pkg/postgres"
	"github.com/kelseyhightower/envconfig"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type HTTPServer struct {
	Host        string        `yaml:"host" envconfig:"CIRCULATION_HTTP_HOST" default:"0.0.0.0"`
	Port        string        `yaml:"port" envconfig:"CIRCULATION_HTTP_PORT" default:"8060"`
	ReadTimeout time.Duration `yaml:"readTimeout" envconfig:"HTTP_READ" default:"10s"`
	// WriteTimeout bounds availability streams too; zero keeps them open.
	WriteTimeout time.Duration `yaml:"writeTimeout" envconfig:"HTTP_WRITE"`
}

type Sweep struct {
	// At is the daily UTC time of day both sweep passes run, "15:04".
	At string `yaml:"at" envconfig:"SWEEP_AT" default:"03:00"`
}

type Config struct {
	Server   HTTPServer   `yaml:"server"`
	Database postgres.DB  `yaml:"db"`
	Kafka    kafka.Config `yaml:"kafka"`
	Log      logger.Log   `yaml:"log"`
	Rules    rules.Config `yaml:"rules"`
	Sweep    Sweep        `yaml:"sweep"`
	CB       cb.Config    `yaml:"cb"`
	Store    string       `yaml:"store" envconfig:"STORE" default:"postgres"`
}

var (
	once sync.Once
	cfg  Config
)

// NewConfig reads config from environment. Options are applied on top.
func NewConfig(ops ...Option) *Config {
	once.Do(func() {
		var config Config
		err := envconfig.Process("", &config)
		if err != nil {
			log.Fatal("NewConfig ", err)
		}
		for _, op := range ops {
			op(&config)
		}
		cfg = config
		printConfig(cfg)
	})

	return &cfg
}

func printConfig(cfg Config) {
	cfg.Database.Password = "***"
	jscfg, _ := json.MarshalIndent(cfg, "", "	") //nolint:errcheck
	fmt.Println(string(jscfg))
}
