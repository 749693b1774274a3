package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/crossroads/internal/api"
	"github.com/banshee-data/crossroads/internal/db"
	"github.com/banshee-data/crossroads/internal/httputil"
	"github.com/banshee-data/crossroads/internal/signal"
	"github.com/banshee-data/crossroads/internal/supervisor"
	"github.com/banshee-data/crossroads/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a .json, .yaml or .yml config file")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath      = flag.String("db", "", "sqlite database path (overrides config)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC health listen address (overrides config)")
	devMode     = flag.Bool("dev", false, "Run in dev mode: simulated LED strip and cameras")
	autoStart   = flag.Bool("start", true, "Start arbitration immediately")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}

	cfg, err := loadConfig(*configPath, overrides{
		listen:     *listen,
		dbPath:     *dbPath,
		grpcListen: *grpcListen,
		dev:        *devMode,
	})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if flag.Arg(0) == "migrate" {
		db.RunMigrateCommand(flag.Args()[1:], cfg.GetDBPath())
		return
	}

	timing, err := cfg.Timing()
	if err != nil {
		log.Fatalf("invalid timing: %v", err)
	}
	log.Printf("starting %s", version.Get())

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	database.SetSampleRetention(cfg.GetStatusSampleRetention())

	output, ledSerial := probeOutput(cfg, signal.OpenSerial)
	defer ledSerial.Close()

	sensors, err := buildSensors(cfg, httputil.NewStandardClient(nil))
	if err != nil {
		log.Fatalf("failed to create sensors: %v", err)
	}

	sup, err := supervisor.New(context.Background(), supervisor.Config{
		Sensors:     sensors,
		Output:      output,
		Timing:      timing,
		Sink:        database,
		Store:       database,
		StopTimeout: cfg.GetStopTimeout(),
	})
	if err != nil {
		log.Fatalf("failed to create supervisor: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the LED controller link
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ledSerial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor LED controller: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	if strip, ok := output.(*signal.StripOutput); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			strip.WatchReplies(ctx)
		}()
	}

	health := api.NewHealthMonitor(sup, nil)
	wg.Add(1)
	go func() {
		defer wg.Done()
		health.Run(ctx, timing.PollInterval)
	}()

	if addr := cfg.GetGRPCListen(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			log.Fatalf("failed to listen for gRPC on %s: %v", addr, err)
		}
		grpcServer := grpc.NewServer()
		health.Register(grpcServer)

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("gRPC health server listening on %s", addr)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Printf("gRPC server error: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			grpcServer.GracefulStop()
		}()
	}

	apiServer := api.NewServer(sup, database, api.Options{
		StopTimeout:        cfg.GetStopTimeout(),
		DetectionThreshold: cfg.GetDetectionThreshold(),
	})

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := apiServer.ServeMux()
		ledSerial.AttachAdminRoutes(mux)
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("HTTP server listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		apiServer.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	if *autoStart {
		if err := sup.Start(); err != nil {
			log.Printf("failed to start traffic control: %v", err)
		}
	}

	<-ctx.Done()
	wg.Wait()

	if err := sup.Close(); err != nil {
		log.Printf("traffic control shutdown: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
