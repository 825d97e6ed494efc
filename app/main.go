package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/gqueue/app/config"
	"github.com/umputun/gqueue/app/service"
	"github.com/umputun/gqueue/app/store"
)

type options struct {
	DB    string `long:"db" env:"GQUEUE_DB" description:"sqlite database file"`
	Table string `long:"table" env:"GQUEUE_TABLE" description:"queue table name (default: gearman_queue)"`
	Conf  string `short:"c" long:"conf" env:"GQUEUE_CONF" description:"yaml config file"`
	Dbg   bool   `long:"dbg" env:"DEBUG" description:"debug mode"`

	Log struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename   string `long:"filename" env:"FILENAME" default:"gqueue.log" description:"log file name"`
		MaxSize    int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in megabytes"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated files"`
		MaxAge     int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max days to retain rotated files"`
		Compress   bool   `long:"compress" env:"COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"GQUEUE_LOG"`

	Repeater struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"3" description:"how many times to repeat failed replay"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"1s" description:"initial duration"`
		Factor   float64       `long:"factor" env:"FACTOR" default:"3" description:"backoff factor"`
		Jitter   bool          `long:"jitter" env:"JITTER" description:"jitter"`
	} `group:"repeater" namespace:"repeater" env-namespace:"GQUEUE_REPEATER"`

	Add struct {
		Unique   string `long:"unique" required:"true" description:"unique job key"`
		Function string `long:"function" required:"true" description:"function name"`
		Priority string `long:"priority" default:"normal" choice:"high" choice:"normal" choice:"low" description:"job priority"`
		Data     string `long:"data" description:"job payload"`
		DataFile string `long:"data-file" description:"read job payload from file"`
	} `command:"add" description:"add job to the queue"`

	Done struct {
		Unique   string `long:"unique" required:"true" description:"unique job key"`
		Function string `long:"function" description:"function name"`
	} `command:"done" description:"remove completed job from the queue"`

	Flush struct{} `command:"flush" description:"flush the queue"`

	Replay struct {
		Payload bool `long:"payload" description:"print base64 payload"`
	} `command:"replay" description:"print all queued jobs"`

	Status struct{} `command:"status" description:"show queue status"`

	Watch struct {
		FlushSpec string `long:"flush" env:"GQUEUE_FLUSH" default:"@every 10s" description:"flush schedule, cron spec"`
		Payload   bool   `long:"payload" description:"print base64 payload"`
	} `command:"watch" description:"replay queued jobs and flush periodically until terminated"`
}

var opts options

var revision = "unknown"

func main() {
	fmt.Fprintf(os.Stderr, "gqueue %s\n", revision)

	p := flags.NewParser(&opts, flags.Default)
	if _, err := p.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, p.Active.Name, os.Stdout); err != nil {
		log.Printf("[ERROR] %s failed, %v", p.Active.Name, err)
		os.Exit(1)
	}
}

// run opens the store and executes cmd, results printed to out
func run(ctx context.Context, cmd string, out io.Writer) error {
	cfg, err := makeConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Params())
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("[WARN] can't close store, %v", err)
		}
	}()

	switch cmd {
	case "add":
		return addJob(ctx, st)
	case "done":
		return st.Done(ctx, opts.Done.Unique, opts.Done.Function)
	case "flush":
		return st.Flush(ctx)
	case "replay":
		svc := service.Service{Store: st, Scheduler: jobPrinter{out: out, payload: opts.Replay.Payload}}
		_, err := svc.Recover(ctx)
		return err
	case "status":
		status, err := service.MakeStatus(ctx, st)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, status)
		return err
	case "watch":
		svc := service.Service{
			Store:     st,
			Scheduler: jobPrinter{out: out, payload: opts.Watch.Payload},
			Repeater:  makeRepeater(),
			FlushSpec: opts.Watch.FlushSpec,
		}
		return svc.Do(ctx)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// makeConfig loads config file if set, command line values override it
func makeConfig() (config.Config, error) {
	var cfg config.Config
	if opts.Conf != "" {
		var err error
		if cfg, err = config.Load(opts.Conf); err != nil {
			return config.Config{}, err
		}
	}
	cfg = cfg.Merge(config.Config{DB: opts.DB, Table: opts.Table})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func addJob(ctx context.Context, st *store.Store) error {
	priority, err := store.ParsePriority(opts.Add.Priority)
	if err != nil {
		return err
	}

	data := []byte(opts.Add.Data)
	if opts.Add.DataFile != "" {
		if data, err = os.ReadFile(opts.Add.DataFile); err != nil {
			return fmt.Errorf("can't read payload: %w", err)
		}
	}
	return st.Add(ctx, opts.Add.Unique, opts.Add.Function, priority, data)
}

func makeRepeater() *repeater.Repeater {
	return repeater.New(&strategy.Backoff{
		Repeats:  opts.Repeater.Attempts,
		Duration: opts.Repeater.Duration,
		Factor:   opts.Repeater.Factor,
		Jitter:   opts.Repeater.Jitter,
	})
}

// jobPrinter is a scheduler writing recovered jobs to out, one per line
type jobPrinter struct {
	out     io.Writer
	payload bool
}

func (p jobPrinter) AddJob(job store.Job) error {
	line := fmt.Sprintf("%q %q %s %d", job.Unique, job.Function, job.Priority, len(job.Data))
	if p.payload {
		line += " " + base64.StdEncoding.EncodeToString(job.Data)
	}
	_, err := fmt.Fprintln(p.out, line)
	return err
}

// setupLogs sets lgr output to stderr or to rotated log file and returns the writer
func setupLogs() io.Writer {
	var out io.Writer = os.Stderr
	if opts.Log.Enabled {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.Compress,
		}
	}

	logOpts := []log.Option{log.Msec, log.LevelBraces, log.Out(out), log.Err(out)}
	if opts.Dbg {
		logOpts = append(logOpts, log.Debug, log.CallerFunc, log.CallerPkg, log.CallerFile)
	}
	log.Setup(logOpts...)
	return out
}
