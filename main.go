package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/makalin/stpro/internal/proxy"
	"github.com/makalin/stpro/internal/relay"
	"github.com/makalin/stpro/internal/resolver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		port     = pflag.Uint16P("port", "p", 1080, "Listening port")
		ip       = pflag.StringP("ip", "i", "127.0.0.1", "Listening IP address")
		split    = pflag.StringArrayP("split", "s", nil, "Split outbound bursts at offset[:repeats[:skip]][+flags]; flags: s=SNI h=Host e=end m=middle. Repeatable.")
		disorder = pflag.StringArrayP("disorder", "d", nil, "Send burst segments cut at the given spec in reverse order; same grammar as --split. Repeatable.")
		fake     = pflag.StringArrayP("fake", "f", nil, "Send a low-TTL decoy ahead of bursts cut at the given spec; same grammar as --split. Repeatable.")
		ttl      = pflag.IntP("ttl", "t", 8, "TTL for fake decoy packets")
		fakeData = pflag.String("fake-data", "", "Decoy payload for --fake; empty sends no decoy")

		configPath = pflag.String("config", "", "TOML config file; flags set explicitly win over file values")
		dnsServer  = pflag.String("dns", "", "Custom DNS server (host[:port]) for destination lookups. Empty uses the system resolver.")

		dialTimeout        = pflag.Duration("dial-timeout", 8*time.Second, "Timeout for outbound DNS lookup and TCP connect")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for protocol negotiation to set up connection")
		grace              = pflag.Duration("grace", 10*time.Second, "How long a half-closed session may keep draining")
		maxConns           = pflag.Int64("max-conns", 0, "Maximum concurrent sessions; 0 means unlimited")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")

		logLevel    = pflag.String("log-level", "info", "Log level: trace|debug|info|warn|error")
		debugListen = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof and /metrics (e.g. 127.0.0.1:6060). Empty disables.")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	if *configPath != "" {
		fc, err := proxy.LoadFileConfig(*configPath)
		if err != nil {
			return err
		}

		flags := pflag.CommandLine
		setDur := func(name, value string, dst *time.Duration) error {
			if value == "" || flags.Changed(name) {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("config %s: %w", name, err)
			}
			*dst = d
			return nil
		}

		if fc.Listen != "" && !flags.Changed("ip") && !flags.Changed("port") {
			host, portStr, err := net.SplitHostPort(fc.Listen)
			if err != nil {
				return fmt.Errorf("config listen: %w", err)
			}
			n, err := strconv.ParseUint(portStr, 10, 16)
			if err != nil {
				return fmt.Errorf("config listen: %w", err)
			}
			*ip, *port = host, uint16(n)
		}
		if err := setDur("dial-timeout", fc.DialTimeout, dialTimeout); err != nil {
			return err
		}
		if err := setDur("negotiation-timeout", fc.NegotiationTimeout, negotiationTimeout); err != nil {
			return err
		}
		if err := setDur("grace", fc.Grace, grace); err != nil {
			return err
		}
		if fc.MaxConns != 0 && !flags.Changed("max-conns") {
			*maxConns = fc.MaxConns
		}
		if fc.TCPKeepAlive != "" && !flags.Changed("tcp-keepalive") {
			*tcpKeepAlive = fc.TCPKeepAlive
		}
		if fc.DNS != "" && !flags.Changed("dns") {
			*dnsServer = fc.DNS
		}
		if len(fc.Split) > 0 && !flags.Changed("split") {
			*split = fc.Split
		}
		if len(fc.Disorder) > 0 && !flags.Changed("disorder") {
			*disorder = fc.Disorder
		}
		if len(fc.Fake) > 0 && !flags.Changed("fake") {
			*fake = fc.Fake
		}
		if fc.FakeData != "" && !flags.Changed("fake-data") {
			*fakeData = fc.FakeData
		}
		if fc.TTL != 0 && !flags.Changed("ttl") {
			*ttl = fc.TTL
		}
		if fc.LogLevel != "" && !flags.Changed("log-level") {
			*logLevel = fc.LogLevel
		}
		if fc.DebugListen != "" && !flags.Changed("debug-listen") {
			*debugListen = fc.DebugListen
		}
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	if *ttl < 1 || *ttl > 255 {
		return fmt.Errorf("invalid --ttl: %d not in 1..255", *ttl)
	}

	splitSpecs, err := parseSpecs(*split)
	if err != nil {
		return fmt.Errorf("invalid --split: %w", err)
	}
	disorderSpecs, err := parseSpecs(*disorder)
	if err != nil {
		return fmt.Errorf("invalid --disorder: %w", err)
	}
	fakeSpecs := make([]relay.FakeSpec, 0, len(*fake))
	for _, s := range *fake {
		spec, err := relay.ParseSplitSpec(s)
		if err != nil {
			return fmt.Errorf("invalid --fake: %w", err)
		}
		fakeSpecs = append(fakeSpecs, relay.FakeSpec{SplitSpec: spec, Data: []byte(*fakeData)})
	}
	if len(fakeSpecs) > 0 && !relay.TTLSupported {
		logger.Warn().Msg("fake desync needs TTL control, which is linux-only; treating --fake as --split")
		for _, fs := range fakeSpecs {
			splitSpecs = append(splitSpecs, fs.SplitSpec)
		}
		fakeSpecs = nil
	}

	var lookup resolver.LookupFunc
	if *dnsServer != "" {
		lookup = resolver.NewDNSLookup(*dnsServer, *dialTimeout)
	}

	cfg := proxy.Config{
		NegotiationTimeout: *negotiationTimeout,
		Grace:              *grace,
		MaxConns:           *maxConns,
		KeepAlive:          ka,
		Split:              splitSpecs,
		Disorder:           disorderSpecs,
		Fake:               fakeSpecs,
		TTL:                *ttl,
		Resolver: resolver.New(resolver.Config{
			DialTimeout: *dialTimeout,
			KeepAlive:   ka,
			Lookup:      lookup,
		}),
		Metrics: proxy.NewMetrics(),
		Log:     logger,
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *debugListen != "" {
		http.Handle("/metrics", promhttp.Handler())
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		logger.Info().Str("addr", *debugListen).Msg("debug listening")
	}

	addr := net.JoinHostPort(*ip, strconv.Itoa(int(*port)))
	ln, err := proxy.ListenTCP(addr, ka)
	if err != nil {
		return err
	}
	srv := proxy.NewServer(ctx, cfg)
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("proxy serve: %w", err)
		}
		return nil
	})
	logger.Info().Str("addr", addr).Msg("proxy listening")
	if n := len(splitSpecs) + len(disorderSpecs) + len(fakeSpecs); n > 0 {
		logger.Info().
			Int("split", len(splitSpecs)).
			Int("disorder", len(disorderSpecs)).
			Int("fake", len(fakeSpecs)).
			Msg("desync enabled")
	}

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	logger.Info().Msg("shutting down")
	return err
}

func parseSpecs(specs []string) ([]relay.SplitSpec, error) {
	out := make([]relay.SplitSpec, 0, len(specs))
	for _, s := range specs {
		spec, err := relay.ParseSplitSpec(s)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
