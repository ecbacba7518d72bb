// Package mysqltest provides a scripted database/sql driver for exercising
// MySQL backed code without a server. Each test declares the exact sequence
// of statements it expects; any deviation fails the statement.
package mysqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

func (t operationType) String() string {
	switch t {
	case opExec:
		return "exec"
	case opQuery:
		return "query"
	case opBegin:
		return "begin"
	case opCommit:
		return "commit"
	case opRollback:
		return "rollback"
	}
	return "unknown"
}

// Operation is one expected driver call.
type Operation struct {
	typ    operationType
	query  string
	args   []driver.Value
	result Result
	rows   Rows
	err    error
}

// WithArgs makes the operation also assert the bound arguments.
func (o Operation) WithArgs(args ...driver.Value) Operation {
	o.args = args
	return o
}

// WithError makes the operation fail with err.
func (o Operation) WithError(err error) Operation {
	o.err = err
	return o
}

// Result is returned from Exec.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// execResult adapts Result to driver.Result.
type execResult struct{ r Result }

func (e execResult) LastInsertId() (int64, error) { return e.r.LastInsertID, nil }
func (e execResult) RowsAffected() (int64, error) { return e.r.RowsAffected, nil }

// Rows is returned from Query.
type Rows struct {
	Columns []string
	Values  [][]driver.Value
}

func Exec(query string, result Result) Operation {
	return Operation{typ: opExec, query: query, result: result}
}

func Query(query string, rows Rows) Operation {
	return Operation{typ: opQuery, query: query, rows: rows}
}

func Begin() Operation { return Operation{typ: opBegin} }

func Commit() Operation { return Operation{typ: opCommit} }

func Rollback() Operation { return Operation{typ: opRollback} }

// Driver replays a fixed queue of operations.
type Driver struct {
	mu   sync.Mutex
	ops  []Operation
	idx  int
	errs []string
}

var driverSeq atomic.Int32

// NewDB registers a fresh driver and opens a single connection pool on it.
func NewDB(t *testing.T, ops ...Operation) (*sql.DB, *Driver) {
	t.Helper()

	drv := &Driver{ops: ops}
	name := fmt.Sprintf("mysqltest-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { db.Close() })
	return db, drv
}

// AssertConsumed fails the test unless every operation ran as expected.
func (d *Driver) AssertConsumed(t *testing.T) {
	t.Helper()

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, msg := range d.errs {
		t.Errorf("mock driver: %s", msg)
	}
	if d.idx != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", d.idx, len(d.ops))
	}
}

func (d *Driver) Open(string) (driver.Conn, error) {
	return &conn{driver: d}, nil
}

func (d *Driver) next(expected operationType, query string, args []driver.NamedValue) (*Operation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.idx >= len(d.ops) {
		err := fmt.Errorf("unexpected %s: %s", expected, normalizeSQL(query))
		d.errs = append(d.errs, err.Error())
		return nil, err
	}
	op := &d.ops[d.idx]
	if op.typ != expected {
		err := fmt.Errorf("expected operation %s, got %s", op.typ, expected)
		d.errs = append(d.errs, err.Error())
		return nil, err
	}
	d.idx++
	if op.query != "" {
		want := normalizeSQL(op.query)
		got := normalizeSQL(query)
		if want != got {
			err := fmt.Errorf("unexpected query. want %q got %q", want, got)
			d.errs = append(d.errs, err.Error())
			return nil, err
		}
	}
	if op.args != nil {
		got := make([]driver.Value, len(args))
		for i, arg := range args {
			got[i] = arg.Value
		}
		if !reflect.DeepEqual(op.args, got) {
			err := fmt.Errorf("unexpected args for %q. want %v got %v", normalizeSQL(query), op.args, got)
			d.errs = append(d.errs, err.Error())
			return nil, err
		}
	}
	return op, nil
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "", nil)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return execResult{op.result}, nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &rows{columns: op.rows.Columns, values: op.rows.Values}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

// CheckNamedValue accepts every argument type unchanged.
func (c *conn) CheckNamedValue(*driver.NamedValue) error { return nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	op, err := t.driver.next(opCommit, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

func (t *tx) Rollback() error {
	op, err := t.driver.next(opRollback, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
