package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
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

const usage = `Usage:
  mailsync [-conf path] sync -account ID
  mailsync [-conf path] account add -email ADDRESS -provider gmail|yandex|mailru

The account password is read from MAILSYNC_ACCOUNT_PASSWORD.
`

func main() {
	var confPath string
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.StringVar(&confPath, "conf", "./config.yaml", "Path to the configuration file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if showVersion {
		log.Printf("Version: %s", version)
		return
	}

	_ = godotenv.Load()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	conf, err := config.Load(confPath)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	// logfile
	if conf.LogFile != "" {
		logFd, err := os.OpenFile(conf.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Error opening log file: %v", err)
		}
		defer logFd.Close()
		log.SetOutput(logFd)
	}

	db, err := gorm.Open(mysql.Open(conf.Database), &gorm.Config{})
	if err != nil {
		log.Fatalf("Error connecting to database: %v", err)
	}
	if err := model.Migrate(db); err != nil {
		log.Fatalf("Error migrating database: %v", err)
	}
	store := mailope.NewGormStore(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case args[0] == "sync":
		err = runSync(ctx, conf, store, args[1:])
	case args[0] == "account" && len(args) > 1 && args[1] == "add":
		err = addAccount(ctx, store, args[2:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runSync(ctx context.Context, conf *config.Config, store *mailope.GormStore, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	accountID := fs.Uint64("account", 0, "ID of the account to synchronize")
	fs.Parse(args)
	if *accountID == 0 {
		return fmt.Errorf("sync: -account is required")
	}

	blobs, err := objectstorage.Open(conf.ObjectStorage)
	if err != nil {
		return fmt.Errorf("error opening object storage: %w", err)
	}

	log.Printf("start sync process pid=%d account=%d", os.Getpid(), *accountID)
	syncer := &mailsync.Syncer{
		Store:    store,
		Dial:     mailsync.IMAPDialer{Options: mailbox.OptionsFromConfig(conf.IMAP)},
		Ingester: mailope.NewIngester(store, blobs),
		// API サーバや他の cron 実行と同じアカウントを同時に同期しない
		Locks:    mailope.NewLeaseLocks(store),
	}
	result, err := syncer.Run(ctx, *accountID, printEvent)
	if err != nil {
		return err
	}
	fmt.Printf("created=%d skipped=%d failed=%d total=%d\n", result.Created, result.Skipped, result.Failed, result.Total)
	return nil
}

func printEvent(ev mailsync.Event) {
	switch ev := ev.(type) {
	case mailsync.Starting:
		fmt.Println(ev.Message)
	case mailsync.Processing:
		status := "ok"
		switch {
		case ev.Failed:
			status = "failed: " + ev.Error
		case ev.Skipped:
			status = "skipped"
		}
		fmt.Printf("[%d/%d] %s %s %q %s\n", ev.Progress, ev.Total,
			ev.Message.Date.Format(mailsync.DateLayout), ev.Message.Sender, ev.Message.Subject, status)
	case mailsync.Completed:
		fmt.Println(ev.Message)
	case mailsync.Error:
		fmt.Fprintln(os.Stderr, "error:", ev.Message)
	}
}

func addAccount(ctx context.Context, store mailope.Store, args []string) error {
	fs := flag.NewFlagSet("account add", flag.ExitOnError)
	email := fs.String("email", "", "Mailbox address used as the IMAP login")
	provider := fs.String("provider", "", "Mail provider: gmail, yandex or mailru")
	inactive := fs.Bool("inactive", false, "Create the account disabled")
	fs.Parse(args)

	if *email == "" {
		return fmt.Errorf("account add: -email is required")
	}
	if !model.ValidProvider(*provider) {
		return fmt.Errorf("account add: unknown provider %q", *provider)
	}
	password := os.Getenv("MAILSYNC_ACCOUNT_PASSWORD")
	if password == "" {
		return fmt.Errorf("account add: MAILSYNC_ACCOUNT_PASSWORD is not set")
	}

	account := &model.Account{
		Email:    *email,
		Password: password,
		Provider: *provider,
		IsActive: true,
	}
	if err := store.CreateAccount(ctx, account); err != nil {
		return err
	}
	if *inactive {
		if err := store.SetAccountActive(ctx, account.ID, false); err != nil {
			return err
		}
	}
	fmt.Printf("account %d created for %s\n", account.ID, account.Email)
	return nil
}
