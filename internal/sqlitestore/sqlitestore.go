// Package sqlitestore owns the on-disk (or in-memory) SQLite handle
// shared by GraphStore, SearchIndex, and StreamStore. It is a direct
// descendant of the teacher's internal/db package: a dedicated
// single-connection write pool plus a small read pool, both carrying
// the same connection-level PRAGMAs, with migrations run once against
// the write handle.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/migrate"

	"convostore/internal/sqlitestore/migrations"
	"convostore/storeconfig"
)

const (
	defaultMaxReadConns  = 4
	defaultMaxWriteConns = 1
)

var registerVecOnce sync.Once

// registerDriver registers a database/sql driver name whose ConnectHook
// loads sqlite-vec into every new connection, the way the teacher's
// internal/sqlite.go verifies vec_version() after opening: kept alive
// so a host application sharing this database file can attach its own
// vec-indexed tables without a second driver registration, even though
// this store never queries sqlite-vec itself (embedding/vector search
// is out of scope here, §1).
func registerDriver() string {
	const name = "sqlite3_convostore"
	registerVecOnce.Do(func() {
		sql.Register(name, &sqlite3.SQLiteDriver{ConnectHook: sqlite_vec.Auto()})
	})
	return name
}

// Store is the shared read/write SQLite handle. The zero value is not
// usable; build one with Open or New.
type Store struct {
	write *bun.DB
	read  *bun.DB
	owned bool
	log   *slog.Logger
}

// Write returns the bun.DB used for all mutations and transactions.
func (s *Store) Write() *bun.DB { return s.write }

// Read returns the bun.DB used for concurrent read-only queries.
func (s *Store) Read() *bun.DB { return s.read }

// Close releases the underlying connections if this Store owns them
// (i.e. it was built with Open). Closing a Store built with New over
// an externally-injected pool is a no-op — per spec.md §5, closing the
// store must never close a pool the caller handed in.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	errWrite := s.write.Close()
	var errRead error
	if s.read != nil {
		errRead = s.read.Close()
	}
	if errWrite != nil && !errors.Is(errWrite, sql.ErrConnDone) {
		return errWrite
	}
	if errRead != nil && !errors.Is(errRead, sql.ErrConnDone) {
		return errRead
	}
	return nil
}

// New wraps externally-provided bun.DB handles (read may equal write,
// or be nil to reuse write for reads). The returned Store's Close is a
// no-op; the caller remains responsible for the underlying pool.
func New(write, read *bun.DB) *Store {
	if read == nil {
		read = write
	}
	return &Store{write: write, read: read, owned: false}
}

type pragmaExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func applyPragmas(ctx context.Context, execer pragmaExecer, busyTimeoutMs int) error {
	if busyTimeoutMs > 0 {
		if _, err := execer.ExecContext(ctx, `PRAGMA busy_timeout = `+strconv.Itoa(busyTimeoutMs)+`;`); err != nil {
			return err
		}
	}
	if _, err := execer.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		return err
	}
	return nil
}

func warmUpPool(ctx context.Context, sqldb *sql.DB, busyTimeoutMs, connections int) error {
	for i := 0; i < connections; i++ {
		conn, err := sqldb.Conn(ctx)
		if err != nil {
			return err
		}
		if err := applyPragmas(ctx, conn, busyTimeoutMs); err != nil {
			conn.Close()
			return err
		}
		conn.Close()
	}
	return nil
}

// memoryDSN rewrites the bare ":memory:" path into a shared-cache URI.
// Without cache=shared, every pooled connection opened against
// ":memory:" gets its own private, otherwise-empty database — fatal
// for this store's split read/write pools, since the read pool would
// never see what the write pool persisted.
func memoryDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?cache=shared"
	}
	return path
}

// Open opens (or creates) the SQLite database at cfg.DBPath, applies
// WAL + busy_timeout + foreign_keys pragmas, runs the idempotent
// schema migrations (§4.A, §6), and returns an owned Store whose Close
// releases both connection pools.
func Open(ctx context.Context, cfg storeconfig.Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	driverName := registerDriver()
	dsn := memoryDSN(cfg.DBPath)

	writeSQL, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open write handle: %w", err)
	}
	writeSQL.SetMaxOpenConns(defaultMaxWriteConns)
	writeSQL.SetMaxIdleConns(defaultMaxWriteConns)
	writeSQL.SetConnMaxLifetime(0)

	readSQL, err := sql.Open(driverName, dsn)
	if err != nil {
		writeSQL.Close()
		return nil, fmt.Errorf("open read handle: %w", err)
	}
	readSQL.SetMaxOpenConns(defaultMaxReadConns)
	readSQL.SetMaxIdleConns(defaultMaxReadConns)
	readSQL.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := writeSQL.PingContext(pingCtx); err != nil {
		writeSQL.Close()
		readSQL.Close()
		return nil, fmt.Errorf("ping write handle: %w", err)
	}
	if err := readSQL.PingContext(pingCtx); err != nil {
		writeSQL.Close()
		readSQL.Close()
		return nil, fmt.Errorf("ping read handle: %w", err)
	}

	if err := applyPragmas(pingCtx, writeSQL, 5000); err != nil {
		writeSQL.Close()
		readSQL.Close()
		return nil, fmt.Errorf("apply write pragmas: %w", err)
	}
	if err := applyPragmas(pingCtx, readSQL, 5000); err != nil {
		writeSQL.Close()
		readSQL.Close()
		return nil, fmt.Errorf("apply read pragmas: %w", err)
	}
	if err := warmUpPool(pingCtx, writeSQL, 5000, defaultMaxWriteConns); err != nil {
		writeSQL.Close()
		readSQL.Close()
		return nil, fmt.Errorf("warm up write pool: %w", err)
	}
	if err := warmUpPool(pingCtx, readSQL, 5000, defaultMaxReadConns); err != nil {
		writeSQL.Close()
		readSQL.Close()
		return nil, fmt.Errorf("warm up read pool: %w", err)
	}

	var vecVersion string
	if err := writeSQL.QueryRowContext(pingCtx, `SELECT vec_version();`).Scan(&vecVersion); err != nil {
		log.Warn("sqlite-vec extension unavailable", "error", err)
	} else {
		log.Debug("sqlite-vec extension loaded", "version", vecVersion)
	}

	writeBun := bun.NewDB(writeSQL, sqlitedialect.New())
	readBun := bun.NewDB(readSQL, sqlitedialect.New())

	migrator := migrate.NewMigrator(writeBun, migrations.Migrations)
	if err := migrator.Init(pingCtx); err != nil {
		writeBun.Close()
		readBun.Close()
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	group, err := migrator.Migrate(pingCtx)
	if err != nil {
		writeBun.Close()
		readBun.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if group != nil && !group.IsZero() {
		log.Info("convostore schema migrated", "path", cfg.DBPath, "group", group.String())
	} else {
		log.Debug("convostore schema up to date", "path", cfg.DBPath)
	}

	return &Store{write: writeBun, read: readBun, owned: true, log: log}, nil
}
