package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/nativeguard/batch"
	"github.com/wippyai/nativeguard/call"
	"github.com/wippyai/nativeguard/config"
	"github.com/wippyai/nativeguard/memory"
	"github.com/wippyai/nativeguard/metrics"
	"github.com/wippyai/nativeguard/native"
	"github.com/wippyai/nativeguard/native/nativetest"
	"github.com/wippyai/nativeguard/resource"
	"github.com/wippyai/nativeguard/runtime"
)

type options struct {
	wasmFile    string
	witFile     string
	configFile  string
	funcName    string
	args        string
	metricsAddr string
	repeat      int
	list        bool
	interactive bool
}

func main() {
	var o options
	flag.StringVar(&o.wasmFile, "wasm", "", "Path to the wasm library (default: built-in counter demo)")
	flag.StringVar(&o.witFile, "wit", "", "Path to WIT signatures for the library")
	flag.StringVar(&o.configFile, "config", "", "Path to a YAML config file")
	flag.StringVar(&o.funcName, "func", "", "Function to call")
	flag.StringVar(&o.args, "args", "", "Comma-separated arguments")
	flag.IntVar(&o.repeat, "repeat", 1, "Number of times to call the function")
	flag.StringVar(&o.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	flag.BoolVar(&o.list, "list", false, "List exported functions and exit")
	flag.BoolVar(&o.interactive, "i", false, "Interactive dashboard")
	flag.Parse()

	if o.funcName == "" && !o.list && !o.interactive {
		fmt.Fprintln(os.Stderr, "Usage: nativectl [-wasm lib.wasm -wit lib.wit] -func name [-args a,b] [-repeat n]")
		fmt.Fprintln(os.Stderr, "       nativectl [-wasm lib.wasm] -list")
		fmt.Fprintln(os.Stderr, "       nativectl [-wasm lib.wasm] -i  (interactive mode)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, o); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if o.interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		// Log lines would tear the dashboard.
		cfg.Log.Level = "error"
	}

	log, err := cfg.Log.Logger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	setLoggers(log)

	reg := prometheus.NewRegistry()
	recorder, err := metrics.NewPrometheus(reg, "nativeguard")
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if o.metricsAddr != "" {
		go serveMetrics(o.metricsAddr, reg, log)
	}

	open, err := opener(o)
	if err != nil {
		return err
	}
	rt, err := runtime.New(ctx, native.NewLoader(open, native.WithLoaderLogger(log.Named("loader"))),
		runtime.WithConfig(cfg),
		runtime.WithLogger(log),
		runtime.WithRecorder(recorder))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			log.Warn("close runtime", zap.Error(err))
		}
	}()

	var tags []resource.TypeTag
	if o.wasmFile == "" {
		if err := rt.RegisterType(runtime.TypeSpec{Tag: "counter", Create: "create", Destroy: "destroy"}); err != nil {
			return err
		}
		tags = append(tags, "counter")
	}

	sigs, err := rt.Signatures(ctx)
	if err != nil {
		return err
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].Name < sigs[j].Name })

	if o.interactive {
		return runInteractive(ctx, rt, name(o), sigs, tags)
	}

	fmt.Printf("Library: %s\n", name(o))
	fmt.Printf("\nExported functions:\n")
	for _, sig := range sigs {
		fmt.Printf("  %s\n", formatSignature(sig))
	}
	if o.list {
		return nil
	}

	var sig *native.Signature
	for i := range sigs {
		if sigs[i].Name == o.funcName {
			sig = &sigs[i]
		}
	}
	args, err := parseArgs(splitArgs(o.args), sig)
	if err != nil {
		return err
	}

	fmt.Printf("\nCalling %s(%s) x%d\n", o.funcName, o.args, o.repeat)
	for i := range max(o.repeat, 1) {
		start := time.Now()
		v, err := rt.Invoke(ctx, o.funcName, args...)
		if err != nil {
			fmt.Printf("  #%d error: %v\n", i+1, err)
			continue
		}
		fmt.Printf("  #%d %s (%s)\n", i+1, v, time.Since(start).Round(time.Microsecond))
	}

	printDiagnostics(rt.Diagnostics())
	return nil
}

func name(o options) string {
	if o.wasmFile == "" {
		return "built-in counter"
	}
	return o.wasmFile
}

func opener(o options) (native.OpenFunc, error) {
	if o.wasmFile == "" {
		return func(ctx context.Context) (native.Table, error) {
			return native.OpenWasm(ctx, nativetest.CounterWASM, native.WasmConfig{
				Name: "counter",
				WIT:  nativetest.CounterWIT,
			})
		}, nil
	}

	var wit string
	if o.witFile != "" {
		data, err := os.ReadFile(o.witFile)
		if err != nil {
			return nil, fmt.Errorf("read WIT: %w", err)
		}
		wit = string(data)
	}
	return native.WasmFile(o.wasmFile, native.WasmConfig{WIT: wit}), nil
}

func setLoggers(log *zap.Logger) {
	resource.SetLogger(log.Named("resource"))
	native.SetLogger(log.Named("native"))
	call.SetLogger(log.Named("call"))
	batch.SetLogger(log.Named("batch"))
	memory.SetLogger(log.Named("memory"))
	runtime.SetLogger(log)
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil {
		log.Warn("metrics server stopped", zap.Error(err))
	}
}

func printDiagnostics(d runtime.Diagnostics) {
	fmt.Printf("\nDiagnostics:\n")
	fmt.Printf("  live resources: %d (anomalies %d, leaked %d)\n", d.Live, d.Anomalies, d.Leaked)
	for tag, n := range d.Resources {
		fmt.Printf("    %s: %d\n", tag, n)
	}
	fmt.Printf("  memory pressure: %s (%s)\n", d.Pressure, d.Trend)
	endpoints := make([]string, 0, len(d.Circuits))
	for ep := range d.Circuits {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)
	for _, ep := range endpoints {
		fmt.Printf("  circuit %s: %s\n", ep, d.Circuits[ep])
	}
}
