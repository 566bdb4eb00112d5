package usecase

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/kustosproject/kustos/internal/config"
	"github.com/kustosproject/kustos/internal/domain"
)

// fakeRuntime serves canned streams and files per container and keeps a
// LASTSAVE counter that advances on BGSAVE, so snapshot polling succeeds
// immediately.
type fakeRuntime struct {
	mu       sync.Mutex
	streams  map[string]string // container -> exec stream payload
	files    map[string]string // container:path -> file payload
	down     map[string]bool   // container -> unreachable
	lastSave map[string]int64
}

func (f *fakeRuntime) ExecStream(ctx context.Context, target string, cmd, env []string) (io.ReadCloser, domain.ExitCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[target] {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrContainerUnreachable, target)
	}
	data, ok := f.streams[target]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrContainerNotFound, target)
	}
	return io.NopCloser(strings.NewReader(data)), func() error { return nil }, nil
}

func (f *fakeRuntime) Exec(ctx context.Context, target string, cmd, env []string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[target] {
		return nil, fmt.Errorf("%w: %s", domain.ErrContainerUnreachable, target)
	}
	switch cmd[len(cmd)-1] {
	case "LASTSAVE":
		return []byte(fmt.Sprintf("%d\n", f.lastSave[target])), nil
	case "BGSAVE":
		f.lastSave[target]++
		return []byte("Background saving started\n"), nil
	}
	return nil, fmt.Errorf("unexpected command %v", cmd)
}

func (f *fakeRuntime) ExtractFile(ctx context.Context, target, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[target] {
		return nil, fmt.Errorf("%w: %s", domain.ErrContainerUnreachable, target)
	}
	data, ok := f.files[target+":"+path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPathNotFound, path)
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

// recordingNotifier captures ping order across goroutines.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) record(event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Start(ctx context.Context, runID string) error {
	n.record("start")
	return nil
}

func (n *recordingNotifier) Log(ctx context.Context, runID, message string) error {
	n.record("log: " + message)
	return nil
}

func (n *recordingNotifier) Finish(ctx context.Context, runID string, success bool, message string) error {
	n.record(fmt.Sprintf("finish success=%v", success))
	return nil
}

type discardLogger struct{}

func (discardLogger) Infof(string, ...interface{})  {}
func (discardLogger) Errorf(string, ...interface{}) {}
func (discardLogger) Warnf(string, ...interface{})  {}

func testConfig(root string, dbs ...config.DatabaseConfig) *config.Config {
	return &config.Config{
		Backup: config.BackupConfig{
			RootDir:       root,
			RetentionDays: 7,
			Timezone:      "UTC",
			Concurrency:   4,
		},
		Databases: dbs,
	}
}

func gunzipFile(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	gzr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gzr.Close()
	data, err := io.ReadAll(gzr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestRunnerExecute(t *testing.T) {
	mysqlDB := config.DatabaseConfig{
		Type: config.KindMariaDB, Name: "shop", Container: "shop-db",
		User: "root", Password: "pw", Database: "shop",
	}
	sqliteDB := config.DatabaseConfig{
		Type: config.KindSQLite, Name: "notes", Container: "notes-app",
		PathInContainer: "/data/notes.db",
	}
	valkeyDB := config.DatabaseConfig{
		Type: config.KindValkey, Name: "cache", Container: "cache",
		Password: "pw", RDBPathInContainer: "/data/dump.rdb",
	}

	healthyRuntime := func() *fakeRuntime {
		return &fakeRuntime{
			streams:  map[string]string{"shop-db": "-- MariaDB dump\nINSERT ..."},
			files:    map[string]string{"notes-app:/data/notes.db": "SQLite format 3", "cache:/data/dump.rdb": "REDIS0011"},
			down:     map[string]bool{},
			lastSave: map[string]int64{"cache": 100},
		}
	}

	Convey("Given a runner over three healthy databases", t, func() {
		root := t.TempDir()
		rt := healthyRuntime()
		notifier := &recordingNotifier{}
		runner := NewRunner(testConfig(root, mysqlDB, sqliteDB, valkeyDB), rt, notifier, nil, discardLogger{})

		Convey("When executing a run", func() {
			report := runner.Execute(context.Background())

			Convey("Every database succeeds and the report preserves config order", func() {
				So(report.Success(), ShouldBeTrue)
				So(len(report.Outcomes), ShouldEqual, 3)
				So(report.Outcomes[0].Database, ShouldEqual, "shop")
				So(report.Outcomes[1].Database, ShouldEqual, "notes")
				So(report.Outcomes[2].Database, ShouldEqual, "cache")
			})

			Convey("Each database gets exactly one file under the canonical name", func() {
				So(report.Success(), ShouldBeTrue)
				patterns := map[string]*regexp.Regexp{
					"mariadb/shop": regexp.MustCompile(`^shop-\d{8}_\d{6}_[A-Z0-9+-]+\.sql\.gz$`),
					"sqlite/notes": regexp.MustCompile(`^notes-\d{8}_\d{6}_[A-Z0-9+-]+\.db\.gz$`),
					"valkey/cache": regexp.MustCompile(`^cache-\d{8}_\d{6}_[A-Z0-9+-]+\.rdb\.gz$`),
				}
				for sub, pattern := range patterns {
					entries, err := os.ReadDir(filepath.Join(root, sub))
					So(err, ShouldBeNil)
					So(len(entries), ShouldEqual, 1)
					So(pattern.MatchString(entries[0].Name()), ShouldBeTrue)
				}
			})

			Convey("Decompressing a backup reproduces the strategy's exact bytes", func() {
				So(report.Outcomes[0].Success(), ShouldBeTrue)
				So(gunzipFile(t, report.Outcomes[0].Path), ShouldEqual, "-- MariaDB dump\nINSERT ...")
				So(gunzipFile(t, report.Outcomes[2].Path), ShouldEqual, "REDIS0011")
			})

			Convey("Health pings are causally ordered", func() {
				events := notifier.events
				So(len(events), ShouldEqual, 5) // start + 3 logs + finish
				So(events[0], ShouldEqual, "start")
				So(events[len(events)-1], ShouldEqual, "finish success=true")
				for _, e := range events[1 : len(events)-1] {
					So(e, ShouldStartWith, "log: ")
				}
			})
		})
	})

	Convey("Given a run where the middle database's container is unreachable", t, func() {
		root := t.TempDir()
		rt := healthyRuntime()
		rt.down["notes-app"] = true
		notifier := &recordingNotifier{}
		runner := NewRunner(testConfig(root, mysqlDB, sqliteDB, valkeyDB), rt, notifier, nil, discardLogger{})

		report := runner.Execute(context.Background())

		Convey("The failure is isolated to that database", func() {
			So(report.Success(), ShouldBeFalse)
			So(report.Outcomes[0].Success(), ShouldBeTrue)
			So(report.Outcomes[1].Success(), ShouldBeFalse)
			So(report.Outcomes[1].Stage, ShouldEqual, domain.StageDispatch)
			So(report.Outcomes[2].Success(), ShouldBeTrue)

			_, err := os.Stat(report.Outcomes[0].Path)
			So(err, ShouldBeNil)
			_, err = os.Stat(report.Outcomes[2].Path)
			So(err, ShouldBeNil)
		})

		Convey("The finish ping reports overall failure after all logs", func() {
			events := notifier.events
			So(events[len(events)-1], ShouldEqual, "finish success=false")
			logged := 0
			for _, e := range events {
				if strings.HasPrefix(e, "log: ") {
					logged++
				}
			}
			So(logged, ShouldEqual, 3)
		})
	})

	Convey("Given a pre-existing backup 20 days old with 7 day retention", t, func() {
		root := t.TempDir()
		dir := filepath.Join(root, "mariadb", "shop")
		So(os.MkdirAll(dir, 0755), ShouldBeNil)
		stale := filepath.Join(dir, "shop-20240101_000000_UTC.sql.gz")
		So(os.WriteFile(stale, []byte("stale"), 0644), ShouldBeNil)
		ageFile(t, stale, 20*24*time.Hour)

		runner := NewRunner(testConfig(root, mysqlDB), healthyRuntime(), &recordingNotifier{}, nil, discardLogger{})

		Convey("When a run completes", func() {
			report := runner.Execute(context.Background())

			Convey("The stale file is purged and exactly one fresh file remains", func() {
				So(report.Success(), ShouldBeTrue)
				So(report.Outcomes[0].Purged, ShouldEqual, 1)

				entries, err := os.ReadDir(dir)
				So(err, ShouldBeNil)
				So(len(entries), ShouldEqual, 1)
				So(regexp.MustCompile(`^shop-\d{8}_\d{6}_[A-Z0-9+-]+\.sql\.gz$`).MatchString(entries[0].Name()), ShouldBeTrue)
			})
		})
	})

	Convey("Given a dump tool that dies mid-transfer", t, func() {
		root := t.TempDir()
		rt := healthyRuntime()
		runner := NewRunner(testConfig(root, mysqlDB), &brokenStreamRuntime{inner: rt}, &recordingNotifier{}, nil, discardLogger{})

		report := runner.Execute(context.Background())

		Convey("The outcome is a stream-stage failure with no file left behind", func() {
			So(report.Outcomes[0].Success(), ShouldBeFalse)
			So(report.Outcomes[0].Stage, ShouldEqual, domain.StageStream)

			entries, err := os.ReadDir(filepath.Join(root, "mariadb", "shop"))
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 0)
		})
	})
}

func TestRunnerBounds(t *testing.T) {
	Convey("Given four databases and a concurrency cap of two", t, func() {
		root := t.TempDir()
		rt := &gaugeRuntime{hold: 30 * time.Millisecond}
		var dbs []config.DatabaseConfig
		for _, name := range []string{"a", "b", "c", "d"} {
			dbs = append(dbs, config.DatabaseConfig{
				Type: config.KindMySQL, Name: name, Container: name + "-db",
				User: "root", Password: "pw", Database: name,
			})
		}
		cfg := testConfig(root, dbs...)
		cfg.Backup.Concurrency = 2
		runner := NewRunner(cfg, rt, &recordingNotifier{}, nil, discardLogger{})

		report := runner.Execute(context.Background())

		Convey("All runs succeed without ever exceeding the cap", func() {
			So(report.Success(), ShouldBeTrue)
			So(atomic.LoadInt64(&rt.peak), ShouldBeLessThanOrEqualTo, 2)
		})
	})

	Convey("Given a run timeout shorter than a stalled dump", t, func() {
		root := t.TempDir()
		cfg := testConfig(root, config.DatabaseConfig{
			Type: config.KindMySQL, Name: "slow", Container: "slow-db",
			User: "root", Password: "pw", Database: "slow",
		})
		cfg.Backup.RunTimeout = 30 * time.Millisecond
		runner := NewRunner(cfg, stalledRuntime{}, &recordingNotifier{}, nil, discardLogger{})

		report := runner.Execute(context.Background())

		Convey("The interrupted work surfaces as a dispatch timeout", func() {
			So(report.Success(), ShouldBeFalse)
			So(report.Outcomes[0].Stage, ShouldEqual, domain.StageDispatch)
			So(report.Outcomes[0].Err.Error(), ShouldContainSubstring, "run timeout")
		})
	})

	Convey("Given an operator shutdown while a dump is stalled", t, func() {
		root := t.TempDir()
		cfg := testConfig(root, config.DatabaseConfig{
			Type: config.KindMySQL, Name: "slow", Container: "slow-db",
			User: "root", Password: "pw", Database: "slow",
		})
		runner := NewRunner(cfg, stalledRuntime{}, &recordingNotifier{}, nil, discardLogger{})

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(30 * time.Millisecond)
			cancel()
		}()
		report := runner.Execute(ctx)

		Convey("The interruption is reported as a cancellation, not a timeout", func() {
			So(report.Success(), ShouldBeFalse)
			So(report.Outcomes[0].Stage, ShouldEqual, domain.StageDispatch)
			So(report.Outcomes[0].Err.Error(), ShouldContainSubstring, "run cancelled")
			So(report.Outcomes[0].Err.Error(), ShouldNotContainSubstring, "run timeout")
		})
	})
}

// gaugeRuntime records the peak number of concurrent streams.
type gaugeRuntime struct {
	active int64
	peak   int64
	hold   time.Duration
}

func (g *gaugeRuntime) ExecStream(ctx context.Context, target string, cmd, env []string) (io.ReadCloser, domain.ExitCheck, error) {
	n := atomic.AddInt64(&g.active, 1)
	for {
		p := atomic.LoadInt64(&g.peak)
		if n <= p || atomic.CompareAndSwapInt64(&g.peak, p, n) {
			break
		}
	}
	time.Sleep(g.hold)
	atomic.AddInt64(&g.active, -1)
	return io.NopCloser(strings.NewReader("-- dump")), func() error { return nil }, nil
}

func (g *gaugeRuntime) Exec(ctx context.Context, target string, cmd, env []string) ([]byte, error) {
	return nil, fmt.Errorf("unexpected exec %v", cmd)
}

func (g *gaugeRuntime) ExtractFile(ctx context.Context, target, path string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("unexpected extract %s", path)
}

// stalledRuntime never yields a stream; it waits out the caller's context.
type stalledRuntime struct{}

func (stalledRuntime) ExecStream(ctx context.Context, target string, cmd, env []string) (io.ReadCloser, domain.ExitCheck, error) {
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

func (stalledRuntime) Exec(ctx context.Context, target string, cmd, env []string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledRuntime) ExtractFile(ctx context.Context, target, path string) (io.ReadCloser, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// brokenStreamRuntime hands out streams whose exit check reports a dump
// tool failure.
type brokenStreamRuntime struct {
	inner *fakeRuntime
}

func (b *brokenStreamRuntime) ExecStream(ctx context.Context, target string, cmd, env []string) (io.ReadCloser, domain.ExitCheck, error) {
	stream, _, err := b.inner.ExecStream(ctx, target, cmd, env)
	if err != nil {
		return nil, nil, err
	}
	return stream, func() error {
		return fmt.Errorf("command %q exited with code 2: table is marked as crashed", cmd[0])
	}, nil
}

func (b *brokenStreamRuntime) Exec(ctx context.Context, target string, cmd, env []string) ([]byte, error) {
	return b.inner.Exec(ctx, target, cmd, env)
}

func (b *brokenStreamRuntime) ExtractFile(ctx context.Context, target, path string) (io.ReadCloser, error) {
	return b.inner.ExtractFile(ctx, target, path)
}
