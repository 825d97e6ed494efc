// Package config loads queue store options, either as name/value pairs handed down by the server's
// option parser or from a yaml file.
package config

import (
	"bytes"
	"fmt"
	"os"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/umputun/gqueue/app/store"
)

//go:generate go run ./internal/schema ../../schema.json

// Config defines sqlite queue options
type Config struct {
	DB    string `yaml:"db" json:"db" jsonschema:"required,description=path to sqlite database file"`
	Table string `yaml:"table,omitempty" json:"table,omitempty" jsonschema:"maxLength=255,description=queue table name,default=gearman_queue"`
}

// Option is a single name/value pair
type Option struct {
	Name  string
	Value string
}

// FromOptions makes Config from name/value pairs. Known names are "db" and "table",
// anything else is rejected. This is the entry point for a server embedding the store,
// its module option parser hands the pairs down; the gqueue cli uses flags and Load instead.
func FromOptions(opts []Option) (Config, error) {
	var res Config
	for _, o := range opts {
		switch o.Name {
		case "db":
			res.DB = o.Value
		case "table":
			res.Table = o.Value
		default:
			log.Printf("[WARN] unknown sqlite queue argument %q", o.Name)
			return Config{}, fmt.Errorf("%w: unknown argument %q", store.ErrConfig, o.Name)
		}
	}
	if err := res.Validate(); err != nil {
		return Config{}, err
	}
	return res, nil
}

// Load reads yaml config file. Unknown keys are rejected.
func Load(file string) (Config, error) {
	data, err := os.ReadFile(file) //nolint:gosec // config file location set by the operator
	if err != nil {
		return Config{}, errors.Wrapf(err, "can't read config %s", file)
	}

	var res Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&res); err != nil {
		return Config{}, errors.Wrapf(store.ErrConfig, "can't parse %s: %v", file, err)
	}
	if err := res.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "invalid config %s", file)
	}
	log.Printf("[DEBUG] loaded config %s: %+v", file, res)
	return res, nil
}

// Merge returns c with non-empty fields of other on top
func (c Config) Merge(other Config) Config {
	if other.DB != "" {
		c.DB = other.DB
	}
	if other.Table != "" {
		c.Table = other.Table
	}
	return c
}

// Validate checks required db and table length
func (c Config) Validate() error {
	if c.DB == "" {
		return fmt.Errorf("%w: missing required db", store.ErrConfig)
	}
	if len(c.Table) > store.MaxTableLen {
		return fmt.Errorf("%w: table name is %d bytes, max %d", store.ErrConfig, len(c.Table), store.MaxTableLen)
	}
	return nil
}

// Params converts Config to store.Params, table defaults to store.DefaultTable
func (c Config) Params() store.Params {
	table := c.Table
	if table == "" {
		table = store.DefaultTable
	}
	return store.Params{DB: c.DB, Table: table}
}
