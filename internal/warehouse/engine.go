package warehouse

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	sf "github.com/snowflakedb/gosnowflake"
)

var (
	// ErrAuth covers credential material the engine rejected.
	ErrAuth = errors.New("engine rejected credentials")
	// ErrNotFound means the engine has no history row for a query yet. Right
	// after submission this is expected; callers poll again later.
	ErrNotFound = errors.New("query not found in history")
	// ErrUnavailable covers connection-level failures; retryable by the scheduler.
	ErrUnavailable = errors.New("engine unavailable")
	// ErrResultExpired means the materialized result is gone (retention elapsed).
	ErrResultExpired = errors.New("result no longer available")
	// ErrSubmission means the engine refused the statement at submit time.
	ErrSubmission = errors.New("statement submission failed")
)

// KeySource yields the private key used for key-pair authentication.
type KeySource interface {
	PrivateKey(ctx context.Context) (*rsa.PrivateKey, error)
}

// Settings identify the account context every session runs under.
type Settings struct {
	Account   string
	User      string
	Warehouse string
	Database  string
	Schema    string
}

// Connector opens authenticated engine sessions. Each operation gets its own
// handle; nothing is pooled across jobs.
type Connector struct {
	keys     KeySource
	settings Settings
}

func NewConnector(keys KeySource, settings Settings) *Connector {
	return &Connector{keys: keys, settings: settings}
}

// Handle is one authenticated session. Short-lived operations close it;
// submission transfers it to the held registry instead (see Submitter).
type Handle struct {
	db *sql.DB
	// rows pins the async statement's result handle for held-open sessions.
	rows *sql.Rows
}

func (h *Handle) Close() error {
	return h.db.Close()
}

// Open builds a key-pair (JWT) authenticated session.
func (c *Connector) Open(ctx context.Context) (*Handle, error) {
	key, err := c.keys.PrivateKey(ctx)
	if err != nil {
		return nil, err
	}

	dsn, err := sf.DSN(&sf.Config{
		Account:       c.settings.Account,
		User:          c.settings.User,
		Warehouse:     c.settings.Warehouse,
		Database:      c.settings.Database,
		Schema:        c.settings.Schema,
		Authenticator: sf.AuthTypeJwt,
		PrivateKey:    key,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: build dsn: %v", ErrAuth, err)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrAuth, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		var se *sf.SnowflakeError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Handle{db: db}, nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$.]*$`)

// validIdentifier guards the one place a name is spliced into SQL text.
func validIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}
