package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// NewLoggingConnector returns a driver.Connector for sqlite3 that logs every
// statement at debug level with its args, duration and error. Open it with
// sql.OpenDB. A nil logger means slog.Default().
func NewLoggingConnector(dsn string, logger *slog.Logger) (driver.Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingConnector{dsn: dsn, logger: logger}, nil
}

type loggingConnector struct {
	dsn    string
	logger *slog.Logger
}

func (c *loggingConnector) Driver() driver.Driver { return loggingDriver{} }

func (c *loggingConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := (&sqlite3.SQLiteDriver{}).Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &loggingConn{conn: conn, logger: c.logger}, nil
}

type loggingDriver struct{}

func (loggingDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("sqlite3-log: open through sql.OpenDB(NewLoggingConnector(...))")
}

type loggingConn struct {
	conn   driver.Conn
	logger *slog.Logger
}

func (c *loggingConn) wrap(stmt driver.Stmt, query string) driver.Stmt {
	return &loggingStmt{stmt: stmt, query: query, logger: c.logger}
}

func (c *loggingConn) Prepare(query string) (driver.Stmt, error) {
	stmt, err := c.conn.Prepare(query)
	if err != nil {
		return nil, err
	}
	return c.wrap(stmt, query), nil
}

func (c *loggingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	prep, ok := c.conn.(driver.ConnPrepareContext)
	if !ok {
		return c.Prepare(query)
	}
	stmt, err := prep.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return c.wrap(stmt, query), nil
}

func (c *loggingConn) Close() error { return c.conn.Close() }

func (c *loggingConn) Begin() (driver.Tx, error) {
	//nolint:staticcheck // SA1019: fallback for conns without BeginTx
	return c.conn.Begin()
}

func (c *loggingConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if b, ok := c.conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	//nolint:staticcheck // SA1019: fallback for conns without BeginTx
	return c.conn.Begin()
}

// ExecContext runs the statement on the underlying conn directly so that
// multi-statement scripts execute in full.
func (c *loggingConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	ec, ok := c.conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	res, err := ec.ExecContext(ctx, query, args)
	logStatement(c.logger, "exec", query, namedToStrings(args), start, err)
	return res, err
}

func (c *loggingConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	qc, ok := c.conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	rows, err := qc.QueryContext(ctx, query, args)
	logStatement(c.logger, "query", query, namedToStrings(args), start, err)
	return rows, err
}

type loggingStmt struct {
	stmt   driver.Stmt
	query  string
	logger *slog.Logger
}

func (s *loggingStmt) Close() error { return s.stmt.Close() }

func (s *loggingStmt) NumInput() int { return s.stmt.NumInput() }

func (s *loggingStmt) Exec(args []driver.Value) (driver.Result, error) {
	start := time.Now()
	//nolint:staticcheck // SA1019: driver.Stmt contract
	res, err := s.stmt.Exec(args)
	s.log("exec", valuesToStrings(args), start, err)
	return res, err
}

func (s *loggingStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	var res driver.Result
	var err error
	if ec, ok := s.stmt.(driver.StmtExecContext); ok {
		res, err = ec.ExecContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019: fallback for stmts without ExecContext
		res, err = s.stmt.Exec(namedToValues(args))
	}
	s.log("exec", namedToStrings(args), start, err)
	return res, err
}

func (s *loggingStmt) Query(args []driver.Value) (driver.Rows, error) {
	start := time.Now()
	//nolint:staticcheck // SA1019: driver.Stmt contract
	rows, err := s.stmt.Query(args)
	s.log("query", valuesToStrings(args), start, err)
	return rows, err
}

func (s *loggingStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	var rows driver.Rows
	var err error
	if qc, ok := s.stmt.(driver.StmtQueryContext); ok {
		rows, err = qc.QueryContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019: fallback for stmts without QueryContext
		rows, err = s.stmt.Query(namedToValues(args))
	}
	s.log("query", namedToStrings(args), start, err)
	return rows, err
}

func (s *loggingStmt) log(op string, args []string, start time.Time, err error) {
	logStatement(s.logger, op, s.query, args, start, err)
}

func logStatement(logger *slog.Logger, op, query string, args []string, start time.Time, err error) {
	attrs := []any{
		"op", op,
		"sql", query,
		"args", args,
		"duration", time.Since(start),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	logger.Debug("sql", attrs...)
}

func namedToValues(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

func namedToStrings(args []driver.NamedValue) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = formatArg(a.Value)
		if a.Name != "" {
			out[i] = a.Name + "=" + out[i]
		}
	}
	return out
}

func valuesToStrings(args []driver.Value) []string {
	out := make([]string, len(args))
	for i, v := range args {
		out[i] = formatArg(v)
	}
	return out
}

func formatArg(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
