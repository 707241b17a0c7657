package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/masa23/mailsync/api"
	"github.com/masa23/mailsync/config"
	"github.com/masa23/mailsync/mailbox"
	"github.com/masa23/mailsync/mailope"
	"github.com/masa23/mailsync/mailsync"
	"github.com/masa23/mailsync/model"
	"github.com/masa23/mailsync/objectstorage"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var version = "dev"

func main() {
	var confPath string
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.StringVar(&confPath, "config", "config.yaml", "Path to config file")
	flag.Parse()

	if showVersion {
		log.Printf("Version: %s", version)
		return
	}

	_ = godotenv.Load()

	conf, err := config.Load(confPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if conf.LogFile != "" {
		logFd, err := os.OpenFile(conf.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Error opening log file: %v", err)
		}
		defer logFd.Close()
		log.SetOutput(logFd)
	}

	blobs, err := objectstorage.Open(conf.ObjectStorage)
	if err != nil {
		log.Fatalf("Failed to open object storage: %v", err)
	}

	db, err := gorm.Open(mysql.Open(conf.Database), &gorm.Config{})
	if err != nil {
		log.Fatalf("DB connection failed: %v", err)
	}
	if err := model.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	store := mailope.NewGormStore(db)
	syncer := &mailsync.Syncer{
		Store:    store,
		Dial:     mailsync.IMAPDialer{Options: mailbox.OptionsFromConfig(conf.IMAP)},
		Ingester: mailope.NewIngester(store, blobs),
		Locks:    mailope.NewLeaseLocks(store),
	}
	server := api.NewServer(store, blobs, syncer)
	e := server.Echo()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := e.Start(conf.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server stopped: %v", err)
		}
	}()
	log.Printf("Listening on %s", conf.Listen)

	<-ctx.Done()
	log.Printf("Shutting down, waiting for running syncs")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}
	// 実行中の同期は書き込み途中で止めない
	server.Wait()
}
