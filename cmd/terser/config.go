package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/wehubfusion/terser/pkg/batch"
)

// stringList is a repeatable flag; a comma separated value adds several entries.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*s = append(*s, v)
		}
	}
	return nil
}

// options is everything the command line can configure.
type options struct {
	Batch batch.Config

	ConfigFile string
	Watch      bool

	NATSURL     string
	NATSSubject string

	BlobConnection string
	BlobContainer  string

	OTLPEndpoint string
	SentryDSN    string
}

// fileConfig is the layout of the optional TOML file.
type fileConfig struct {
	batch.Config

	NATS struct {
		URL     string `toml:"url"`
		Subject string `toml:"subject"`
	} `toml:"nats"`

	Blob struct {
		Connection string `toml:"connection"`
		Container  string `toml:"container"`
	} `toml:"blob"`
}

// loadOptions resolves the configuration. Later sources win: defaults, the TOML
// file, TERSER_* environment variables, then flags given on the command line.
func loadOptions(args []string, output io.Writer) (*options, error) {
	opts := &options{Batch: batch.DefaultConfig()}

	fs := flag.NewFlagSet("terser", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		flagged  options
		files    stringList
		includes stringList
		excludes stringList
	)
	b := &flagged.Batch
	fs.StringVar(&flagged.ConfigFile, "config", "", "path of a TOML configuration file")
	fs.StringVar(&b.TerserSource, "terser-src", "", "path of the Terser library bundle (required)")
	fs.StringVar(&b.SourceMapSource, "source-map-src", "", "path of the source-map library, loaded before Terser")
	fs.StringVar(&b.SourceDir, "source-dir", "", "directory the sources are resolved against")
	fs.StringVar(&b.TargetDir, "target-dir", "", "directory the results are written to")
	fs.Var(&files, "file", "source file relative to -source-dir (repeatable)")
	fs.Var(&includes, "include", "glob of sources to minify (repeatable)")
	fs.Var(&excludes, "exclude", "glob of sources to skip (repeatable)")
	fs.StringVar(&b.Suffix, "suffix", opts.Batch.Suffix, "suffix inserted before the extension of each result")
	fs.StringVar(&b.Options, "options", opts.Batch.Options, "Terser options, relaxed JSON")
	fs.StringVar(&b.Encoding, "encoding", opts.Batch.Encoding, "charset of sources and results")
	fs.IntVar(&b.Threads, "threads", opts.Batch.Threads, "number of workers")
	fs.BoolVar(&b.Verbose, "verbose", false, "log every file")
	fs.DurationVar(&b.Timeout, "timeout", 0, "limit for a single file, 0 for none")
	fs.BoolVar(&b.IsolateFailures, "isolate-failures", false, "keep going when a file fails")
	fs.BoolVar(&flagged.Watch, "watch", false, "minify again when sources change")
	fs.StringVar(&flagged.NATSURL, "nats-url", "", "publish batch reports to this NATS server")
	fs.StringVar(&flagged.NATSSubject, "nats-subject", "", "subject of batch reports")
	fs.StringVar(&flagged.BlobConnection, "blob-connection", "", "Azure Blob Storage connection string; results are uploaded instead of written")
	fs.StringVar(&flagged.BlobContainer, "blob-container", "", "Azure Blob Storage container")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	opts.ConfigFile = getEnv("TERSER_CONFIG", "")
	if flagged.ConfigFile != "" {
		opts.ConfigFile = flagged.ConfigFile
	}
	if opts.ConfigFile != "" {
		if err := opts.loadFile(opts.ConfigFile); err != nil {
			return nil, err
		}
	}

	opts.loadEnv()

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	apply := func(name string, fn func()) {
		if set[name] {
			fn()
		}
	}
	apply("terser-src", func() { opts.Batch.TerserSource = b.TerserSource })
	apply("source-map-src", func() { opts.Batch.SourceMapSource = b.SourceMapSource })
	apply("source-dir", func() { opts.Batch.SourceDir = b.SourceDir })
	apply("target-dir", func() { opts.Batch.TargetDir = b.TargetDir })
	apply("file", func() { opts.Batch.Files = files })
	apply("include", func() { opts.Batch.Includes = includes })
	apply("exclude", func() { opts.Batch.Excludes = excludes })
	apply("suffix", func() { opts.Batch.Suffix = b.Suffix })
	apply("options", func() { opts.Batch.Options = b.Options })
	apply("encoding", func() { opts.Batch.Encoding = b.Encoding })
	apply("threads", func() { opts.Batch.Threads = b.Threads })
	apply("verbose", func() { opts.Batch.Verbose = b.Verbose })
	apply("timeout", func() { opts.Batch.Timeout = b.Timeout })
	apply("isolate-failures", func() { opts.Batch.IsolateFailures = b.IsolateFailures })
	apply("watch", func() { opts.Watch = flagged.Watch })
	apply("nats-url", func() { opts.NATSURL = flagged.NATSURL })
	apply("nats-subject", func() { opts.NATSSubject = flagged.NATSSubject })
	apply("blob-connection", func() { opts.BlobConnection = flagged.BlobConnection })
	apply("blob-container", func() { opts.BlobContainer = flagged.BlobContainer })

	if opts.BlobConnection != "" && opts.BlobContainer == "" {
		return nil, fmt.Errorf("-blob-container is required with -blob-connection")
	}

	return opts, nil
}

// loadFile merges the TOML file at path. Keys absent from the file keep their value.
func (o *options) loadFile(path string) error {
	fc := fileConfig{Config: o.Batch}
	fc.NATS.URL, fc.NATS.Subject = o.NATSURL, o.NATSSubject
	fc.Blob.Connection, fc.Blob.Container = o.BlobConnection, o.BlobContainer

	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}

	o.Batch = fc.Config
	o.NATSURL, o.NATSSubject = fc.NATS.URL, fc.NATS.Subject
	o.BlobConnection, o.BlobContainer = fc.Blob.Connection, fc.Blob.Container
	return nil
}

// loadEnv applies TERSER_* variables that are set.
func (o *options) loadEnv() {
	b := &o.Batch
	b.TerserSource = getEnv("TERSER_SRC", b.TerserSource)
	b.SourceMapSource = getEnv("TERSER_SOURCE_MAP_SRC", b.SourceMapSource)
	b.SourceDir = getEnv("TERSER_SOURCE_DIR", b.SourceDir)
	b.TargetDir = getEnv("TERSER_TARGET_DIR", b.TargetDir)
	b.Files = getEnvList("TERSER_FILES", b.Files)
	b.Includes = getEnvList("TERSER_INCLUDES", b.Includes)
	b.Excludes = getEnvList("TERSER_EXCLUDES", b.Excludes)
	b.Suffix = getEnv("TERSER_SUFFIX", b.Suffix)
	b.Options = getEnv("TERSER_OPTIONS", b.Options)
	b.Encoding = getEnv("TERSER_ENCODING", b.Encoding)
	b.Threads = getEnvInt("TERSER_THREADS", b.Threads)
	b.Verbose = getEnvBool("TERSER_VERBOSE", b.Verbose)
	b.Timeout = getEnvDuration("TERSER_TIMEOUT", b.Timeout)
	b.IsolateFailures = getEnvBool("TERSER_ISOLATE_FAILURES", b.IsolateFailures)

	o.NATSURL = getEnv("TERSER_NATS_URL", o.NATSURL)
	o.NATSSubject = getEnv("TERSER_NATS_SUBJECT", o.NATSSubject)
	o.BlobConnection = getEnv("TERSER_BLOB_CONNECTION", o.BlobConnection)
	o.BlobContainer = getEnv("TERSER_BLOB_CONTAINER", o.BlobContainer)
	o.OTLPEndpoint = getEnv("TERSER_OTLP_ENDPOINT", o.OTLPEndpoint)
	o.SentryDSN = getEnv("SENTRY_DSN", o.SentryDSN)
}

// getEnv retrieves a string from environment variable with default fallback
func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var list stringList
		_ = list.Set(value)
		return list
	}
	return defaultValue
}
