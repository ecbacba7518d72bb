package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"StakePilot-Chain/deploy/migrations"
)

const (
	schemaTableSQL = `CREATE TABLE IF NOT EXISTS stakepilot_schema (
    version VARCHAR(64) NOT NULL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at BIGINT NOT NULL
)`
	schemaVersionsSQL = `SELECT version FROM stakepilot_schema`
	schemaRecordSQL   = `INSERT INTO stakepilot_schema (version, name, applied_at) VALUES (?, ?, ?)`
)

// step 是一个按版本排序的迁移脚本。
type step struct {
	Version    string
	Name       string
	Statements []string
}

// Migrate 执行内嵌于 deploy/migrations 的迁移脚本。
func Migrate(ctx context.Context, db *sql.DB) error {
	return MigrateFS(ctx, db, migrations.Files)
}

// MigrateFS 按版本顺序执行 fsys 根目录下尚未记录的 .sql 脚本，每个脚本一个事务。
func MigrateFS(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	steps, err := loadSteps(fsys)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, schemaTableSQL); err != nil {
		return fmt.Errorf("初始化迁移记录表失败: %w", err)
	}
	done, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	for _, s := range steps {
		if done[s.Version] {
			continue
		}
		if err := runStep(ctx, db, s); err != nil {
			return err
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, schemaVersionsSQL)
	if err != nil {
		return nil, fmt.Errorf("读取迁移记录失败: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("解析迁移记录失败: %w", err)
		}
		done[version] = true
	}
	return done, rows.Err()
}

func runStep(ctx context.Context, db *sql.DB, s step) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("迁移 %s 开启事务失败: %w", s.Name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range s.Statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("迁移 %s 第 %d 条语句失败: %w", s.Name, i+1, err)
		}
	}
	if _, err = tx.ExecContext(ctx, schemaRecordSQL, s.Version, s.Name, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("迁移 %s 写入记录失败: %w", s.Name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("迁移 %s 提交失败: %w", s.Name, err)
	}
	return nil
}

func loadSteps(fsys fs.FS) ([]step, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("列出迁移脚本失败: %w", err)
	}

	steps := make([]step, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移脚本 %s 失败: %w", name, err)
		}
		stmts := statements(string(raw))
		if len(stmts) == 0 {
			continue
		}
		version := versionOf(name)
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("迁移脚本 %s 与 %s 版本号重复", name, prev)
		}
		seen[version] = name
		steps = append(steps, step{Version: version, Name: name, Statements: stmts})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	return steps, nil
}

// statements 去掉整行 "--" 注释后按分号切分脚本。
func statements(script string) []string {
	var body strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}

	var out []string
	for _, part := range strings.Split(body.String(), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// versionOf 取文件名中第一个下划线之前的部分，没有下划线时取去掉扩展名的文件名。
func versionOf(name string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	if prefix, _, ok := strings.Cut(base, "_"); ok && prefix != "" {
		return prefix
	}
	return base
}
