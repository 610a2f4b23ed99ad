package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"bookshopbot/internal/util"
	"bookshopbot/pkg/storage"
)

const (
	objectPrefix    = "backups/"
	filePrefix      = "backup_"
	fileExt         = ".dump"
	timestampLayout = "2006-01-02_15-04-05"
)

// Runner executes a command with extra environment and returns its
// combined output.
type Runner func(ctx context.Context, name string, args []string, env []string) ([]byte, error)

func execRunner(ctx context.Context, name string, args []string, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

type Config struct {
	PgDumpPath  string
	DatabaseURL string
	// Dir holds the dump until it is uploaded.
	Dir       string
	Retention time.Duration
}

// Result describes a finished backup.
type Result struct {
	Key    string
	Size   int64
	Pruned []string
}

func (r Result) Summary() string {
	s := fmt.Sprintf("Stored as %s (%d bytes).", r.Key, r.Size)
	if len(r.Pruned) > 0 {
		s += fmt.Sprintf(" Removed %d expired backups.", len(r.Pruned))
	}
	return s
}

// Backup dumps the database with pg_dump and keeps a rolling window of
// dumps in object storage.
type Backup struct {
	cfg     Config
	conn    *pgconn.Config
	objects storage.ObjectStore
	run     Runner
	now     func() time.Time
}

func New(cfg Config, objects storage.ObjectStore) (*Backup, error) {
	if objects == nil {
		return nil, errors.New("backup: object store required")
	}
	conn, err := pgconn.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("backup: parse database url: %w", err)
	}
	if strings.TrimSpace(cfg.PgDumpPath) == "" {
		cfg.PgDumpPath = "pg_dump"
	}
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: create dir: %w", err)
	}
	return &Backup{cfg: cfg, conn: conn, objects: objects, run: execRunner, now: time.Now}, nil
}

func (b *Backup) dumpArgs(target string) []string {
	args := []string{"-F", "c", "-b", "-v", "-f", target}
	if b.conn.Host != "" {
		args = append(args, "-h", b.conn.Host)
	}
	if b.conn.Port != 0 {
		args = append(args, "-p", strconv.Itoa(int(b.conn.Port)))
	}
	if b.conn.User != "" {
		args = append(args, "-U", b.conn.User)
	}
	return append(args, b.conn.Database)
}

// Run dumps, uploads, prunes expired dumps and removes the local file.
func (b *Backup) Run(ctx context.Context) (Result, error) {
	logger := util.LoggerFromContext(ctx)
	name := filePrefix + b.now().UTC().Format(timestampLayout) + fileExt
	local := filepath.Join(b.cfg.Dir, name)
	defer func() {
		if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
			logger.Warn("remove local dump failed", "path", local, "err", err)
		}
	}()

	logger.Info("running pg_dump", "database", b.conn.Database, "file", local)
	var env []string
	if b.conn.Password != "" {
		env = append(env, "PGPASSWORD="+b.conn.Password)
	}
	out, err := b.run(ctx, b.cfg.PgDumpPath, b.dumpArgs(local), env)
	if err != nil {
		return Result{}, fmt.Errorf("pg_dump: %w: %s", err, tail(out, 300))
	}

	res := Result{Key: objectPrefix + name}
	if res.Size, err = b.upload(ctx, res.Key, local); err != nil {
		return Result{}, fmt.Errorf("upload backup: %w", err)
	}
	logger.Info("backup uploaded", "key", res.Key, "size", res.Size)

	if res.Pruned, err = b.prune(ctx, res.Key); err != nil {
		return res, fmt.Errorf("prune backups: %w", err)
	}
	return res, nil
}

func (b *Backup) upload(ctx context.Context, key, local string) (int64, error) {
	file, err := os.Open(local)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return 0, err
	}
	if err := b.objects.Put(ctx, key, file, info.Size(), "application/octet-stream"); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (b *Backup) prune(ctx context.Context, keep string) ([]string, error) {
	objects, err := b.objects.List(ctx, objectPrefix)
	if err != nil {
		return nil, err
	}
	cutoff := b.now().Add(-b.cfg.Retention)
	var pruned []string
	for _, obj := range objects {
		base := path.Base(obj.Key)
		if obj.Key == keep || !strings.HasPrefix(base, filePrefix) || !strings.HasSuffix(base, fileExt) {
			continue
		}
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := b.objects.Delete(ctx, obj.Key); err != nil {
			return pruned, err
		}
		util.LoggerFromContext(ctx).Info("expired backup removed", "key", obj.Key)
		pruned = append(pruned, obj.Key)
	}
	return pruned, nil
}

func tail(out []byte, n int) string {
	s := strings.TrimSpace(string(out))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
