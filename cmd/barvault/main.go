// barvault manages per-exchange historical price-bar bundles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mxfell/barvault/internal/asset"
	"github.com/mxfell/barvault/internal/bundle"
	"github.com/mxfell/barvault/internal/bundle/config"
	"github.com/mxfell/barvault/internal/bundle/query"
	"github.com/mxfell/barvault/internal/bundle/summary"
	"github.com/mxfell/barvault/internal/calendar"
	"github.com/mxfell/barvault/internal/logging"
	"github.com/mxfell/barvault/internal/progress"
	"github.com/mxfell/barvault/internal/staging"
	"github.com/mxfell/barvault/internal/store"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "ingest":
		err = runIngest(args)
	case "clean":
		err = runClean(args)
	case "query":
		err = runQuery(args)
	case "summary":
		err = runSummary(args)
	case "version":
		fmt.Println("barvault", Version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "barvault:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: barvault <command> [flags]

commands:
  ingest    plan and merge missing chunks into the bundle
  clean     delete bundle data for an exchange
  query     run queries against merged bundle data
  summary   per-asset statistics over a bundle
  version   print version`)
}

// loadConfig loads the config file and applies common CLI overrides.
func loadConfig(path, exchange, dataDir, logLevel string, jsonLog bool) (*config.Config, error) {
	logging.Init(logging.ParseLevel(logLevel), jsonLog)

	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			return nil, err
		}
	}
	if exchange != "" {
		cfg.Exchange = exchange
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("exchange is required (use -exchange or the config file)")
	}
	return cfg, nil
}

// newBundle wires the bundle from configuration.
func newBundle(cfg *config.Config) (*bundle.Bundle, error) {
	first, err := cfg.FirstSession()
	if err != nil {
		return nil, err
	}
	cal := calendar.NewOpen(first)

	var source asset.Source
	if cfg.Catalog.URL != "" {
		source = asset.NewHTTPSource(cfg.Catalog.URL)
	}
	catalog := asset.NewCachedCatalog(cfg.SymbolsPath(), source)

	opts := store.Options{Compression: store.ParseCompressionType(cfg.Compression.Algorithm)}
	var locator staging.Locator
	if cfg.Staging.BaseURL != "" {
		locator = staging.NewHTTPLocator(cfg.Staging.BaseURL, cfg.StagingDir(), cfg.Staging.FetchTimeout, opts)
	} else {
		locator = &staging.FSLocator{Dir: cfg.StagingDir()}
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return bundle.New(cfg, cal, catalog, locator), nil
}

func commonFlags(fs *flag.FlagSet) (cfgPath, exchange, dataDir, logLevel *string, jsonLog *bool) {
	cfgPath = fs.String("config", "config.yaml", "config file path")
	exchange = fs.String("exchange", "", "exchange name (overrides config)")
	dataDir = fs.String("data-dir", "", "data directory (overrides config)")
	logLevel = fs.String("log-level", "info", "log level (debug|info|warn|error)")
	jsonLog = fs.Bool("json-log", false, "log as JSON")
	return
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t.UTC(), nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	cfgPath, exchange, dataDir, logLevel, jsonLog := commonFlags(fs)
	freqs := fs.String("freq", "daily", "frequencies to ingest (minute,daily)")
	include := fs.String("symbols", "", "comma-separated symbols to ingest (default: all)")
	exclude := fs.String("exclude", "", "comma-separated symbols to skip")
	startStr := fs.String("start", "", "range start (YYYY-MM-DD)")
	endStr := fs.String("end", "", "range end (YYYY-MM-DD)")
	noProgress := fs.Bool("no-progress", false, "disable the progress bar")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath, *exchange, *dataDir, *logLevel, *jsonLog)
	if err != nil {
		return err
	}

	var frequencies []asset.Frequency
	for _, s := range splitList(*freqs) {
		f, err := asset.ParseFrequency(s)
		if err != nil {
			return err
		}
		frequencies = append(frequencies, f)
	}

	start, err := parseDate(*startStr)
	if err != nil {
		return err
	}
	end, err := parseDate(*endStr)
	if err != nil {
		return err
	}

	b, err := newBundle(cfg)
	if err != nil {
		return err
	}

	var sink progress.Sink = progress.Nop{}
	if !*noProgress {
		pw := progress.NewWriter(os.Stdout)
		defer pw.Stop()
		sink = pw
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return b.Ingest(ctx, frequencies, splitList(*include), splitList(*exclude), start, end, sink)
}

func runClean(args []string) error {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	cfgPath, exchange, dataDir, logLevel, jsonLog := commonFlags(fs)
	freq := fs.String("freq", "", "frequency to clean (default: everything)")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath, *exchange, *dataDir, *logLevel, *jsonLog)
	if err != nil {
		return err
	}
	b, err := newBundle(cfg)
	if err != nil {
		return err
	}
	return b.Clean(*freq)
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	cfgPath, exchange, dataDir, logLevel, jsonLog := commonFlags(fs)
	sqlStr := fs.String("sql", "", "raw SQL to run against the bundle segments")
	freq := fs.String("freq", "daily", "bundle frequency")
	sid := fs.Int64("sid", 0, "asset sid")
	startStr := fs.String("start", "", "range start (YYYY-MM-DD)")
	endStr := fs.String("end", "", "range end (YYYY-MM-DD)")
	limit := fs.Int("limit", 100, "maximum rows to print")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath, *exchange, *dataDir, *logLevel, *jsonLog)
	if err != nil {
		return err
	}

	svc, err := query.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *sqlStr != "" {
		rows, err := svc.ExecuteSQL(ctx, *sqlStr)
		if err != nil {
			return err
		}
		for _, row := range rows {
			fmt.Println(row)
		}
		return nil
	}

	start, err := parseDate(*startStr)
	if err != nil {
		return err
	}
	end, err := parseDate(*endStr)
	if err != nil {
		return err
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}

	bars, err := svc.Bars(ctx, query.BarsQuery{
		Frequency: *freq,
		Sid:       *sid,
		StartTime: start,
		EndTime:   end,
		Limit:     *limit,
	})
	if err != nil {
		return err
	}
	for _, bar := range bars {
		ts := time.UnixMilli(bar.TimestampMs).UTC()
		fmt.Printf("%s  o=%.8f h=%.8f l=%.8f c=%.8f v=%.4f\n",
			ts.Format(time.RFC3339), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	}
	return nil
}

func runSummary(args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	cfgPath, exchange, dataDir, logLevel, jsonLog := commonFlags(fs)
	freq := fs.String("freq", "daily", "bundle frequency")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath, *exchange, *dataDir, *logLevel, *jsonLog)
	if err != nil {
		return err
	}

	svc, err := query.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rows, err := svc.AllBars(ctx, *freq)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Printf("no %s bars for %s\n", *freq, cfg.Exchange)
		return nil
	}

	summaries := summary.Summarize(rows)
	for sid, s := range summaries {
		first, last := s.Range()
		fmt.Printf("sid=%d bars=%d range=%s..%s close[min=%.8f p50=%.8f p99=%.8f max=%.8f] volume[sum=%.4f p50=%.4f]\n",
			sid, s.BarCount,
			first.Format("2006-01-02"), last.Format("2006-01-02"),
			s.CloseMin, s.CloseP50, s.CloseP99, s.CloseMax,
			s.VolumeSum, s.VolumeP50)
	}
	return nil
}
