package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/attachd/attachd/attachcore/attachment"
	"github.com/attachd/attachd/attachcore/config"
	"github.com/attachd/attachd/attachcore/datastore"
	"github.com/attachd/attachd/attachcore/filestore"
	"github.com/attachd/attachd/attachcore/gc"
	"github.com/attachd/attachd/attachcore/handler"
	"github.com/attachd/attachd/attachcore/ingest"
	"github.com/attachd/attachd/core/common"
	"github.com/attachd/attachd/core/logging"
)

var startTime time.Time

func main() {
	deploymentMode := flag.Int("deployment_mode", 2, "deployment mode: 0=development, 2=production")
	configDir := flag.String("config_dir", "./config", "config directory")
	filesDir := flag.String("files_dir", "", "root directory for stored files")
	logDir := flag.String("log_dir", "", "log directory")
	port := flag.Int("port", 5050, "port to listen on")
	flag.Parse()

	config.SetupDefaultConfig()
	config.SetupConfig(*configDir)
	config.Configuration.DeploymentMode = byte(*deploymentMode)

	if *filesDir != "" {
		config.Configuration.StorageRoot = *filesDir
	}
	if config.Configuration.StorageRoot == "" {
		fmt.Println("files_dir is required")
		os.Exit(1)
	}

	logging.InitLogging(mode(), *logDir, "attachd.log")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the DB container may come up after us
	var err error
	for i := 0; i < 600; i++ {
		if err = datastore.GetStore().Open(); err == nil {
			break
		}
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		logging.Logger.Fatal("database open failed", zap.Error(err))
	}
	defer datastore.GetStore().Close()

	if err := datastore.GetStore().GetDB().AutoMigrate(&attachment.Attachment{}); err != nil {
		logging.Logger.Fatal("migration failed", zap.Error(err))
	}

	store, err := filestore.SetupFSStore(config.Configuration.StorageRoot)
	if err != nil {
		logging.Logger.Fatal("file store setup failed", zap.Error(err))
	}

	attachment.SetupDescriptorCache(config.Configuration.ResolveCacheSize)

	engine := ingest.NewEngine(store)
	collector := gc.NewCollector(store)
	gc.SetupWorkers(ctx, collector)

	r := mux.NewRouter()
	handler.SetupHandlers(r, engine, collector)

	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type"}),
	}

	startTime = time.Now().UTC()
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", *port),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Handler:        handlers.CORS(corsOptions...)(r),
	}
	common.HandleShutdown(server)

	logging.Logger.Info("attachd starting",
		zap.Int("port", *port),
		zap.String("files_dir", config.Configuration.StorageRoot),
		zap.String("log_level", viper.GetString("logging.level")))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Logger.Fatal("server failed", zap.Error(err))
	}
	logging.Logger.Info("attachd stopped", zap.Duration("uptime", time.Since(startTime)))
}

func mode() string {
	if config.Development() {
		return "development"
	}
	return "production"
}
