package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/bledoubt/internal/analysis"
	"github.com/banshee-data/bledoubt/internal/api"
	"github.com/banshee-data/bledoubt/internal/classifier"
	"github.com/banshee-data/bledoubt/internal/config"
	"github.com/banshee-data/bledoubt/internal/db"
	"github.com/banshee-data/bledoubt/internal/health"
	"github.com/banshee-data/bledoubt/internal/ingest"
	"github.com/banshee-data/bledoubt/internal/notify"
	"github.com/banshee-data/bledoubt/internal/serialmux"
	"github.com/banshee-data/bledoubt/internal/version"
)

var (
	dbPath          = flag.String("db", "bledoubt.db", "Path to the SQLite database")
	listen          = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen      = flag.String("grpc-listen", ":50051", "gRPC health service listen address (empty to disable)")
	port            = flag.String("port", "/dev/ttyUSB0", "Serial port of the BLE scanner (empty to disable)")
	baud            = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	devMode         = flag.Bool("dev", false, "Use a simulated scanner instead of the serial port")
	configPath      = flag.String("config", "", "Path to analysis config JSON (defaults built in)")
	webhookURL      = flag.String("webhook", "", "POST suspicious-device notifications to this URL")
	disableAnalysis = flag.Bool("disable-analysis", false, "Start in logging mode: record detections without analysing them")
	showVersion     = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: bledoubt [flags] [command]\n\n")
	fmt.Fprintf(out, "Commands:\n")
	fmt.Fprintf(out, "  (none)          run the service\n")
	fmt.Fprintf(out, "  migrate ...     manage schema migrations (see 'migrate help')\n")
	fmt.Fprintf(out, "  analyse         run one analysis pass and exit\n")
	fmt.Fprintf(out, "  export <file>   write device history to a JSON file\n")
	fmt.Fprintf(out, "  import <file>   replace device history from a JSON file\n\n")
	fmt.Fprintf(out, "Flags:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		if err := runCommand(ctx, args, *dbPath, cfg, newNotifier(*webhookURL), os.Stdout); err != nil {
			log.Fatalf("%s: %v", args[0], err)
		}
		return
	}

	if err := serve(ctx, cfg); err != nil {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

func loadConfig(path string) (*config.AnalysisConfig, error) {
	if path == "" {
		return config.DefaultAnalysisConfig(), nil
	}
	return config.LoadAnalysisConfig(path)
}

func newNotifier(webhook string) notify.Notifier {
	if webhook == "" {
		return notify.LogNotifier{}
	}
	return notify.Multi{notify.LogNotifier{}, notify.NewWebhookNotifier(webhook)}
}

func openStore(path string, cfg *config.AnalysisConfig) (*db.DB, error) {
	store, err := db.NewDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store.NearbyWindow = cfg.GetNearbyWindow()
	return store, nil
}

func newAnalyzer(store *db.DB, cfg *config.AnalysisConfig, n notify.Notifier) (*analysis.Analyzer, *classifier.Classifier, error) {
	c, err := classifier.New(cfg.Classifier())
	if err != nil {
		return nil, nil, err
	}
	a := analysis.NewAnalyzer(store, c, n)
	a.Workers = cfg.GetWorkers()
	return a, c, nil
}

func openScanner() (serialmux.SerialMuxInterface, error) {
	switch {
	case *devMode:
		log.Printf("dev mode: simulated scanner")
		return serialmux.NewMockSerialMux(devFixtureLines(), 5*time.Second), nil
	case *port == "":
		log.Printf("serial scanner disabled; accepting detections over HTTP only")
		return serialmux.NewDisabledSerialMux(), nil
	default:
		return serialmux.NewRealSerialMux(*port, serialmux.PortOptions{BaudRate: *baud})
	}
}

func serve(ctx context.Context, cfg *config.AnalysisConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := openStore(*dbPath, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	analyzer, c, err := newAnalyzer(store, cfg, newNotifier(*webhookURL))
	if err != nil {
		return fmt.Errorf("invalid classifier parameters: %w", err)
	}
	controller := analysis.NewController(analyzer, store, cfg.GetAnalysisInterval(), nil)
	if *disableAnalysis {
		controller.SetEnabled(false)
	}

	scanner, err := openScanner()
	if err != nil {
		return fmt.Errorf("failed to open scanner: %w", err)
	}
	defer scanner.Close()
	if err := scanner.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize scanner: %w", err)
	}

	handler := ingest.NewHandler(store, ingest.Filter{MaxRangeMeters: cfg.GetMaxBLERangeMeters()}, nil)

	var wg sync.WaitGroup

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scanner.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ingest.Consume(ctx, scanner, handler); err != nil && err != context.Canceled {
			log.Printf("ingest routine stopped: %v", err)
		}
		log.Printf("ingest routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = controller.Run(ctx)
	}()

	if *grpcListen != "" {
		hs := health.NewServer(func() bool { return controller.Status().IsHealthy }, 10*time.Second, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hs.Serve(ctx, *grpcListen); err != nil {
				log.Printf("health server stopped: %v", err)
			}
		}()
	}

	server := api.NewServer(store, handler, controller, c)
	err = server.Start(ctx, *listen, func(mux *http.ServeMux) {
		scanner.AttachAdminRoutes(mux)
		store.AttachAdminRoutes(mux)
	})
	if err != nil {
		err = fmt.Errorf("HTTP server: %w", err)
	}
	cancel()

	wg.Wait()
	return err
}
