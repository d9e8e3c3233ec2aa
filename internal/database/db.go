package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/authgate/internal/model"
)

const connectKey = "connect"

// Options はコネクションプールと接続試行の設定。
type Options struct {
	DriverName     string        // 既定は"postgres"
	MaxOpenConns   int           // 最大接続数
	MaxIdleConns   int           // アイドル状態で保持する接続数
	ConnectTimeout time.Duration // 1回の接続試行（Ping）のタイムアウト
}

// Connector はPostgreSQLへの接続を遅延確立し、確立済みの*sql.DBを共有する。
// 同時に呼ばれたEnsureConnectedは1回の接続試行を待ち合わせる。
// 成功した接続はキャッシュし、失敗した場合は次の呼び出しで再試行する。
type Connector struct {
	databaseURL string
	opts        Options

	mu sync.RWMutex
	db *sql.DB

	group singleflight.Group
}

// NewConnector はConnectorを生成する。この時点では接続を試行しない。
func NewConnector(databaseURL string, opts Options) *Connector {
	if opts.DriverName == "" {
		opts.DriverName = "postgres"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	return &Connector{
		databaseURL: databaseURL,
		opts:        opts,
	}
}

// EnsureConnected は接続済みの*sql.DBを返す。未接続の場合は接続を試行する。
// 接続試行そのものは呼び出し元のキャンセルから切り離されており、
// 呼び出し元はctxが終了した時点で待つのをやめる。
// 失敗はmodel.ErrStoreUnavailableでラップして返す。
func (c *Connector) EnsureConnected(ctx context.Context) (*sql.DB, error) {
	if db := c.current(); db != nil {
		return db, nil
	}

	ch := c.group.DoChan(connectKey, func() (interface{}, error) {
		if db := c.current(); db != nil {
			return db, nil
		}
		return c.connect()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, res.Err)
		}
		return res.Val.(*sql.DB), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for database connection: %w", model.ErrStoreUnavailable, ctx.Err())
	}
}

// Connected は接続が確立済みかどうかを返す。
func (c *Connector) Connected() bool {
	return c.current() != nil
}

// PingContext はDBへの疎通を確認する。/healthから使用する。
func (c *Connector) PingContext(ctx context.Context) error {
	db, err := c.EnsureConnected(ctx)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	return nil
}

// Close は確立済みの接続を閉じる。未接続の場合は何もしない。
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *Connector) current() *sql.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

// connect はsql.Openとプール設定を行い、Pingで実際の接続を確認する。
// sql.Openは接続を試行しないため、Pingが成功するまでキャッシュしない。
func (c *Connector) connect() (*sql.DB, error) {
	db, err := sql.Open(c.opts.DriverName, c.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if c.opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.opts.MaxOpenConns)
	}
	if c.opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.opts.MaxIdleConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
	defer cancel()

	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		slog.Error("database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("timeout", c.opts.ConnectTimeout),
		)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	c.mu.Lock()
	c.db = db
	c.mu.Unlock()

	slog.Info("database connection established",
		slog.Int("max_open_conns", c.opts.MaxOpenConns),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return db, nil
}
