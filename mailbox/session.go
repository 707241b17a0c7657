package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/k0kubun/pp/v3"
	"github.com/masa23/mailsync/config"
	"github.com/masa23/mailsync/model"
	"golang.org/x/time/rate"
)

type Options struct {
	Mailbox     string
	DialTimeout time.Duration
	// FetchRate limits message fetches per second, 0 means unlimited.
	FetchRate float64
	// Debug writes the raw IMAP exchange to the log. The LOGIN line is included.
	Debug bool

	// Addr overrides the provider's host:port.
	Addr      string
	TLSConfig *tls.Config
	// Insecure connects without TLS. Only for local test servers.
	Insecure bool
}

func OptionsFromConfig(conf config.IMAP) Options {
	return Options{
		Mailbox:     conf.Mailbox,
		DialTimeout: conf.DialTimeout,
		FetchRate:   conf.FetchRate,
		Debug:       conf.Debug,
	}
}

// ConnectionError reports a failure to reach, authenticate against or talk
// to the remote mailbox. The account password is removed from its message.
type ConnectionError struct {
	Account string
	Addr    string
	Op      string
	Err     error

	msg string
}

func newConnectionError(account *model.Account, addr, op string, err error) *ConnectionError {
	msg := err.Error()
	if account.Password != "" {
		msg = strings.ReplaceAll(msg, account.Password, "********")
	}
	return &ConnectionError{
		Account: account.Email,
		Addr:    addr,
		Op:      op,
		Err:     err,
		msg:     msg,
	}
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("imap %s for %s: %s", e.Op, e.Account, e.msg)
	}
	return fmt.Sprintf("imap %s %s for %s: %s", e.Op, e.Addr, e.Account, e.msg)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Session is an authenticated connection with one mailbox selected.
type Session struct {
	client      *imapclient.Client
	account     *model.Account
	addr        string
	uidValidity uint32
	limiter     *rate.Limiter
	debug       bool

	closeOnce sync.Once
	closeErr  error
}

// Open connects to the account's provider, logs in and selects the mailbox.
func Open(ctx context.Context, account *model.Account, opts Options) (*Session, error) {
	addr := opts.Addr
	if addr == "" {
		settings, ok := account.IMAPSettings()
		if !ok {
			return nil, newConnectionError(account, "", "resolve", fmt.Errorf("unknown provider %q", account.Provider))
		}
		addr = settings.Addr()
	}
	mailbox := opts.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}

	conn, err := dial(ctx, addr, opts)
	if err != nil {
		return nil, newConnectionError(account, addr, "dial", err)
	}

	var clientOpts imapclient.Options
	if opts.Debug {
		clientOpts.DebugWriter = log.Writer()
	}
	client := imapclient.New(conn, &clientOpts)

	// Login と Select はコンテキストを受け取らないので接続を閉じて中断する
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := client.Login(account.Email, account.Password).Wait(); err != nil {
		client.Close()
		return nil, newConnectionError(account, addr, "login", contextError(ctx, err))
	}

	selected, err := client.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		client.Close()
		return nil, newConnectionError(account, addr, "select "+mailbox, contextError(ctx, err))
	}

	limit := rate.Inf
	if opts.FetchRate > 0 {
		limit = rate.Limit(opts.FetchRate)
	}

	log.Printf("Connected to %s for %s, mailbox %s has %d messages", addr, account.Email, mailbox, selected.NumMessages)
	return &Session{
		client:      client,
		account:     account,
		addr:        addr,
		uidValidity: selected.UIDValidity,
		limiter:     rate.NewLimiter(limit, 1),
		debug:       opts.Debug,
	}, nil
}

func dial(ctx context.Context, addr string, opts Options) (net.Conn, error) {
	netDialer := &net.Dialer{Timeout: opts.DialTimeout}
	if opts.Insecure {
		return netDialer.DialContext(ctx, "tcp", addr)
	}

	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		tlsConfig = &tls.Config{ServerName: host}
	}
	dialer := &tls.Dialer{NetDialer: netDialer, Config: tlsConfig}
	return dialer.DialContext(ctx, "tcp", addr)
}

func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

const searchSlackDays = 1

// Fetch enumerates the messages received on or after cutoff, newest first.
// Without a cutoff every message in the mailbox is listed.
func (s *Session) Fetch(ctx context.Context, cutoff time.Time, hasCutoff bool) (*Listing, error) {
	criteria := &imap.SearchCriteria{}
	if hasCutoff {
		// SINCE compares against the server-local date of INTERNALDATE,
		// while the cutoff is a UTC date. One day of slack covers servers
		// west of UTC; the extra candidates are skipped as duplicates.
		criteria.Since = cutoff.AddDate(0, 0, -searchSlackDays)
	}
	if s.debug {
		log.Println(pp.Sprintf("UID SEARCH for %s: %v", s.account.Email, criteria))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, s.classify("search", err)
	}

	uids := data.AllUIDs()
	// UID が大きいほど新しい
	slices.Sort(uids)
	slices.Reverse(uids)

	return &Listing{session: s, uids: uids}, nil
}

// classify turns a command error into either a per-command *imap.Error
// (the server answered NO or BAD) or a *ConnectionError.
func (s *Session) classify(op string, err error) error {
	if _, ok := err.(*imap.Error); ok {
		return fmt.Errorf("imap %s: %w", op, err)
	}
	return newConnectionError(s.account, s.addr, op, err)
}

// Close logs out and closes the connection. Only the first call has any effect.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := s.client.Logout().Wait(); err != nil {
			log.Printf("Error logging out of %s for %s: %v", s.addr, s.account.Email, err)
			s.closeErr = s.client.Close()
			return
		}
		// サーバー側が切断済みなのでエラーは無視する
		s.client.Close()
	})
	return s.closeErr
}
