// Command mmdblookup looks up an IP address in a MaxMind DB file and prints
// the matching record as JSON.
//
//	mmdblookup --file GeoLite2-City.mmdb --ip 81.2.69.160 country names en
package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"

	"github.com/MikhailWahib/gravelmmdb"
	"github.com/MikhailWahib/gravelmmdb/internal/config"
	"github.com/MikhailWahib/gravelmmdb/internal/shared"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	file       string
	ip         string
	verbose    bool
	mode       string
	configFile string
	logLevel   string
	path       []string
}

func parseArgs(args []string, stdout, stderr io.Writer) (*options, error) {
	app := kingpin.New("mmdblookup", "Look up an IP address in a MaxMind DB file.")
	app.Writer(stdout)
	app.ErrorWriter(stderr)
	app.Terminate(nil)

	opts := &options{}
	app.Flag("file", "Path to the database file.").Short('f').Required().StringVar(&opts.file)
	app.Flag("ip", "IPv4 or IPv6 address to look up.").Short('i').Required().StringVar(&opts.ip)
	app.Flag("verbose", "Print the database metadata before the record.").Short('v').BoolVar(&opts.verbose)
	app.Flag("mode", "How to access the file.").EnumVar(&opts.mode, "mmap", "memory", "file")
	app.Flag("config", "YAML file with reader settings.").StringVar(&opts.configFile)
	app.Flag("log.level", "Only log messages with the given severity or above.").Default("info").EnumVar(&opts.logLevel, "debug", "info", "warn", "error")
	app.Arg("path", "Map keys and array indexes leading to the value to print.").StringsVar(&opts.path)

	if _, err := app.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func newLogger(w io.Writer, lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return level.NewFilter(logger, level.Allow(level.ParseDefault(lvl, level.InfoValue())))
}

func loadConfig(opts *options, logger log.Logger) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configFile != "" {
		var err error
		cfg, err = config.Load(afero.NewOsFs(), opts.configFile)
		if err != nil {
			return nil, err
		}
	}
	if opts.mode != "" {
		mode, err := config.ParseMode(opts.mode)
		if err != nil {
			return nil, err
		}
		cfg.Mode = mode
	}
	cfg.Logger = logger
	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "mmdblookup: %v\n", err)
		return shared.ExitUsage
	}

	logger := newLogger(stderr, opts.logLevel)
	cfg, err := loadConfig(opts, logger)
	if err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		return shared.ExitUsage
	}

	db, err := gravelmmdb.Open(opts.file, cfg)
	if err != nil {
		level.Error(logger).Log("msg", "can't open database", "file", opts.file, "err", err)
		return shared.ExitCode(err)
	}
	defer db.Close()

	if opts.verbose {
		printMetadata(stdout, db.Metadata())
	}

	res, err := db.LookupString(opts.ip)
	if err != nil {
		level.Error(logger).Log("msg", "lookup failed", "ip", opts.ip, "err", err)
		return shared.ExitCode(err)
	}
	if !res.Found {
		fmt.Fprintf(stderr, "Could not find an entry for this IP address (%s)\n", opts.ip)
		return shared.ExitNotFound
	}
	if opts.verbose {
		fmt.Fprintf(stdout, "  Network: %s\n\n", res.Network())
	}

	entry := res.Entry
	if len(opts.path) > 0 {
		var found bool
		entry, found, err = entry.SubEntry(opts.path...)
		if err != nil {
			level.Error(logger).Log("msg", "path lookup failed", "path", strings.Join(opts.path, "/"), "err", err)
			return shared.ExitCode(err)
		}
		if !found {
			fmt.Fprintf(stderr, "No data was found at the lookup path you provided\n")
			return shared.ExitNotFound
		}
	}

	v, err := entry.Decode()
	if err != nil {
		level.Error(logger).Log("msg", "decoding record failed", "err", err)
		return shared.ExitCode(err)
	}
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(v, "", "  ")
	if err != nil {
		level.Error(logger).Log("msg", "rendering record failed", "err", err)
		return shared.ExitInternal
	}
	fmt.Fprintf(stdout, "%s\n", out)
	return shared.ExitOK
}

func printMetadata(w io.Writer, meta *gravelmmdb.Metadata) {
	bold := color.New(color.Bold)
	bold.Fprintln(w, "  Database metadata")
	fmt.Fprintf(w, "    Node count:    %s\n", humanize.Comma(int64(meta.NodeCount)))
	fmt.Fprintf(w, "    Record size:   %d bits\n", meta.RecordSize)
	fmt.Fprintf(w, "    IP version:    IPv%d\n", meta.IPVersion)
	fmt.Fprintf(w, "    Binary format: %d.%d\n", meta.BinaryFormatMajorVersion, meta.BinaryFormatMinorVersion)
	built := meta.BuildTime()
	fmt.Fprintf(w, "    Build epoch:   %d (%s, %s)\n", meta.BuildEpoch, built.Format("2006-01-02 15:04:05 UTC"), humanize.Time(built))
	fmt.Fprintf(w, "    Type:          %s\n", meta.DatabaseType)
	fmt.Fprintf(w, "    Languages:     %s\n", strings.Join(meta.Languages, " "))
	fmt.Fprintf(w, "    Search tree:   %s\n", humanize.IBytes(meta.SearchTreeSize()))

	if len(meta.Description) > 0 {
		fmt.Fprintln(w, "    Description:")
		langs := make([]string, 0, len(meta.Description))
		for lang := range meta.Description {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		for _, lang := range langs {
			fmt.Fprintf(w, "      %s:   %s\n", lang, meta.Description[lang])
		}
	}
	fmt.Fprintln(w)
}
