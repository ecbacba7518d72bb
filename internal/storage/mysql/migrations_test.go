package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"io/fs"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"

	"StakePilot-Chain/deploy/migrations"
	"StakePilot-Chain/internal/storage/mysql/mysqltest"
)

func migrationOps(t *testing.T, fsys fs.FS, name string) []mysqltest.Operation {
	t.Helper()
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	stmts := statements(string(raw))
	if len(stmts) == 0 {
		t.Fatalf("no statements in %s", name)
	}
	ops := []mysqltest.Operation{mysqltest.Begin()}
	for _, stmt := range stmts {
		ops = append(ops, mysqltest.Exec(stmt, mysqltest.Result{}))
	}
	return append(ops,
		mysqltest.Exec(schemaRecordSQL, mysqltest.Result{RowsAffected: 1}),
		mysqltest.Commit(),
	)
}

func TestMigrateAppliesEmbeddedScripts(t *testing.T) {
	t.Parallel()

	ops := []mysqltest.Operation{
		mysqltest.Exec(schemaTableSQL, mysqltest.Result{}),
		mysqltest.Query(schemaVersionsSQL, mysqltest.Rows{Columns: []string{"version"}}),
	}
	ops = append(ops, migrationOps(t, migrations.Files, "0001_create_messages.sql")...)

	db, drv := mysqltest.NewDB(t, ops...)
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMigrateSkipsRecordedVersions(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"0001_init.sql":   {Data: []byte("CREATE TABLE a (id INT);")},
		"0002_second.sql": {Data: []byte("-- adds b\nCREATE TABLE b (id INT);\nCREATE INDEX idx_b ON b (id);")},
		"README.md":       {Data: []byte("not a migration")},
	}
	ops := []mysqltest.Operation{
		mysqltest.Exec(schemaTableSQL, mysqltest.Result{}),
		mysqltest.Query(schemaVersionsSQL, mysqltest.Rows{
			Columns: []string{"version"},
			Values:  [][]driver.Value{{"0001"}},
		}),
	}
	ops = append(ops, migrationOps(t, fsys, "0002_second.sql")...)

	db, drv := mysqltest.NewDB(t, ops...)
	if err := MigrateFS(context.Background(), db, fsys); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMigrateRollsBackFailedStatement(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{"0001_init.sql": {Data: []byte("CREATE TABLE a (id INT);\nCREATE TABLE b (id INT);")}}
	db, drv := mysqltest.NewDB(t,
		mysqltest.Exec(schemaTableSQL, mysqltest.Result{}),
		mysqltest.Query(schemaVersionsSQL, mysqltest.Rows{Columns: []string{"version"}}),
		mysqltest.Begin(),
		mysqltest.Exec("CREATE TABLE a (id INT)", mysqltest.Result{}),
		mysqltest.Exec("CREATE TABLE b (id INT)", mysqltest.Result{}).WithError(errors.New("boom")),
		mysqltest.Rollback(),
	)
	err := MigrateFS(context.Background(), db, fsys)
	if err == nil || !strings.Contains(err.Error(), "第 2 条语句") {
		t.Fatalf("expected failure on the second statement, got %v", err)
	}
	drv.AssertConsumed(t)
}

func TestMigrateRejectsDuplicateVersions(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"0001_a.sql": {Data: []byte("SELECT 1;")},
		"0001_b.sql": {Data: []byte("SELECT 2;")},
	}
	db, drv := mysqltest.NewDB(t)
	if err := MigrateFS(context.Background(), db, fsys); err == nil {
		t.Fatalf("expected duplicate version error")
	}
	drv.AssertConsumed(t)
}

func TestStatementsStripsComments(t *testing.T) {
	got := statements("-- header\nCREATE TABLE a (id INT);\n  -- note\n\nINSERT INTO a VALUES (1);\n")
	want := []string{"CREATE TABLE a (id INT)", "INSERT INTO a VALUES (1)"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("statements = %q, want %q", got, want)
	}
}

func TestVersionOf(t *testing.T) {
	cases := map[string]string{
		"0001_create_messages.sql": "0001",
		"0002.sql":                 "0002",
		"_odd.sql":                 "_odd",
		"plain":                    "plain",
	}
	for in, want := range cases {
		if got := versionOf(in); got != want {
			t.Fatalf("versionOf(%q) = %q, want %q", in, got, want)
		}
	}
}
