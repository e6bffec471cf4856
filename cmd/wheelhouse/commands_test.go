// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/wheelhouse-dev/wheelhouse/internal/audit"
	"github.com/wheelhouse-dev/wheelhouse/internal/config"
	"github.com/wheelhouse-dev/wheelhouse/internal/matrix"
	"github.com/wheelhouse-dev/wheelhouse/internal/publish"
	"github.com/wheelhouse-dev/wheelhouse/internal/runtime"
	"github.com/wheelhouse-dev/wheelhouse/pkg/matrixfile"
)

func TestList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, matrixfile.CUEFileName, testMatrix)

	res := execute(t, dir, nil, nil, "list")
	if res.err != nil {
		t.Fatalf("list: %v\n%s", res.err, res.stderr)
	}
	if strings.Contains(res.stdout, "base") {
		t.Errorf("abstract env listed without -a:\n%s", res.stdout)
	}
	if !strings.Contains(res.stdout, "* py312") || !strings.Contains(res.stdout, "unit tests") {
		t.Errorf("default env not marked:\n%s", res.stdout)
	}

	res = execute(t, dir, nil, nil, "list", "-a")
	if !strings.Contains(res.stdout, "(abstract)") {
		t.Errorf("list -a missing abstract env:\n%s", res.stdout)
	}
}

func TestList_NoMatrix(t *testing.T) {
	t.Parallel()

	res := execute(t, t.TempDir(), nil, nil, "list")
	if !errors.Is(res.err, matrixfile.ErrMatrixNotFound) {
		t.Fatalf("err = %v, want ErrMatrixNotFound", res.err)
	}
	if strings.TrimSpace(res.stderr) == "" {
		t.Error("issue entry not rendered")
	}
}

func TestRun_DryRunJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, matrixfile.CUEFileName, testMatrix)
	env := []string{"CI=1", "TOKEN_A=x", "SECRET=s", "PATH=/usr/bin"}

	res := execute(t, dir, env, nil, "run", "--dry-run", "--json", "-e", "py312", "--", "-k", "slow tests")
	if res.err != nil {
		t.Fatalf("run --dry-run: %v\n%s", res.err, res.stderr)
	}
	var plan matrix.Plan
	if err := json.Unmarshal([]byte(res.stdout), &plan); err != nil {
		t.Fatalf("plan is not JSON: %v\n%s", err, res.stdout)
	}
	if len(plan.Envs) != 1 {
		t.Fatalf("envs = %+v", plan.Envs)
	}
	got := plan.Envs[0]
	if got.Commands[0] != "wheelhouse test -k 'slow tests'" || got.Commands[1] != "echo py312" {
		t.Errorf("commands = %q", got.Commands)
	}
	if !slices.Equal(got.Forwarded, []string{"CI", "TOKEN_A"}) {
		t.Errorf("forwarded = %v, want [CI TOKEN_A]", got.Forwarded)
	}
	if len(plan.Build) == 0 {
		t.Error("package env should plan the build")
	}
	if _, err := os.Stat(filepath.Join(dir, ".wheelhouse")); !os.IsNotExist(err) {
		t.Errorf("dry run touched the work dir: %v", err)
	}
}

func TestRun_DryRunText(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, matrixfile.CUEFileName, testMatrix)

	res := execute(t, dir, nil, nil, "run", "--dry-run")
	if res.err != nil {
		t.Fatalf("run --dry-run: %v", res.err)
	}
	for _, want := range []string{"py312", "lint", "[0] wheelhouse test -q", "deps: pytest"} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("plan missing %q:\n%s", want, res.stdout)
		}
	}
}

func TestRun_SelectionErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, matrixfile.CUEFileName, testMatrix)

	res := execute(t, dir, nil, nil, "run", "-e", "py27")
	if !errors.Is(res.err, matrixfile.ErrUnknownEnv) {
		t.Errorf("unknown env err = %v", res.err)
	}

	res = execute(t, dir, nil, nil, "run", "-e", "extra")
	if !errors.Is(res.err, matrix.ErrUnknownPlaceholder) {
		t.Errorf("placeholder err = %v", res.err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".wheelhouse", matrix.SummaryFileName)); !os.IsNotExist(err) {
		t.Errorf("a run with a bad placeholder wrote a summary: %v", err)
	}
}

func TestLintStage_WithoutMatrix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "README.md", "# core\n\nNative codec bindings.\n")

	res := execute(t, dir, nil, nil, "lint", "--root", ".", "--command", "true")
	if res.err != nil {
		t.Fatalf("lint: %v\n%s%s", res.err, res.stdout, res.stderr)
	}
	if !strings.Contains(res.stdout, "document README.md") {
		t.Errorf("document unit missing:\n%s", res.stdout)
	}
}

func TestStage_ExitStatusPropagates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	res := execute(t, dir, nil, nil, "lint", "--root", ".", "--command", "exit 3", "--document", "")
	var exitErr *ExitError
	if !errors.As(res.err, &exitErr) || exitErr.Code != 3 {
		t.Fatalf("err = %v, want exit 3", res.err)
	}

	res = execute(t, dir, nil, nil, "docs")
	if !errors.As(res.err, &exitErr) || exitErr.Code != 2 {
		t.Fatalf("docs without command: err = %v, want exit 2", res.err)
	}
}

func TestReport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := matrixfile.Load(writeFile(t, dir, matrixfile.CUEFileName, testMatrix))
	if err != nil {
		t.Fatal(err)
	}

	res := execute(t, dir, nil, nil, "report")
	if res.err == nil {
		t.Fatal("report without a run succeeded")
	}

	sum := &matrix.Summary{
		RunID:    "run-1",
		Started:  time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		ExitCode: 0,
		Envs:     []matrix.EnvResult{{Name: "py312", Status: matrix.StatusPassed, Policy: matrixfile.PolicyRequired}},
	}
	if err := matrix.WriteSummary(matrix.SummaryPath(m), sum); err != nil {
		t.Fatal(err)
	}

	res = execute(t, dir, nil, nil, "report", "--json")
	if res.err != nil {
		t.Fatalf("report --json: %v", res.err)
	}
	var back matrix.Summary
	if err := json.Unmarshal([]byte(res.stdout), &back); err != nil || back.RunID != "run-1" {
		t.Errorf("report --json = %q (%v)", res.stdout, err)
	}

	res = execute(t, dir, nil, nil, "report")
	if res.err != nil || !strings.Contains(res.stdout, "py312") {
		t.Errorf("report: %v\n%s", res.err, res.stdout)
	}
}

type memoryStore struct {
	objects map[string]int64
}

func (s *memoryStore) BucketExists(context.Context, string) (bool, error) { return true, nil }

func (s *memoryStore) MakeBucket(context.Context, string, minio.MakeBucketOptions) error {
	return nil
}

func (s *memoryStore) FPutObject(_ context.Context, _, object, filePath string, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	s.objects[object] = info.Size()
	return minio.UploadInfo{Key: object, Size: info.Size()}, nil
}

func (s *memoryStore) PutObject(_ context.Context, _, object string, r io.Reader, size int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return minio.UploadInfo{}, err
	}
	s.objects[object] = size
	return minio.UploadInfo{Key: object, Size: size}, nil
}

func TestPublish(t *testing.T) {
	// Not parallel: swaps the package-level storeFactory.
	store := &memoryStore{objects: map[string]int64{}}
	var got publish.Config
	orig := storeFactory
	storeFactory = func(cfg publish.Config) (publish.ObjectStore, error) {
		got = cfg
		return store, nil
	}
	t.Cleanup(func() { storeFactory = orig })

	dir := t.TempDir()
	writeFile(t, dir, "dist/core-1.0-cp312-cp312-manylinux_2_28_x86_64.whl", "wheel")

	cfg := config.DefaultConfig()
	cfg.Publish.Endpoint = "s3.internal:9000"
	cfg.Publish.Bucket = "wheels"
	env := []string{"WHEELHOUSE_S3_ACCESS_KEY=ak", "WHEELHOUSE_S3_SECRET_KEY=sk", "AWS_SECRET_ACCESS_KEY=leak"}

	res := execute(t, dir, env, staticConfig{cfg: cfg}, "publish", "--prefix", "nightly")
	if res.err != nil {
		t.Fatalf("publish: %v\n%s", res.err, res.stderr)
	}
	if got.AccessKey != "ak" || got.SecretKey != "sk" || got.Prefix != "nightly" {
		t.Errorf("config = %+v", got)
	}
	if _, ok := store.objects["nightly/core-1.0-cp312-cp312-manylinux_2_28_x86_64.whl"]; !ok {
		t.Errorf("objects = %v", store.objects)
	}

	res = execute(t, dir, nil, staticConfig{cfg: cfg}, "publish")
	if res.err == nil || !errors.Is(res.err, publish.ErrInvalidConfig) {
		t.Errorf("publish without credentials: err = %v", res.err)
	}
}

func TestPublish_CheckRejectsLinuxTag(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "dist/core-1.0-cp312-cp312-linux_x86_64.whl", "wheel")

	res := execute(t, dir, nil, nil, "publish", "--check")
	if !errors.Is(res.err, publish.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", res.err)
	}
}

func TestLastAuditReports(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := matrixfile.Default()
	m.Root = dir
	if got := lastAuditReports(m); got != nil {
		t.Errorf("reports without summary = %v", got)
	}

	sum := &matrix.Summary{Envs: []matrix.EnvResult{
		{Name: "a", Audits: []*audit.Report{{Wheel: "x.whl"}}},
		{Name: "b", Audits: []*audit.Report{{Wheel: "y.whl"}}},
	}}
	if err := matrix.WriteSummary(matrix.SummaryPath(m), sum); err != nil {
		t.Fatal(err)
	}
	if got := lastAuditReports(m); len(got) != 2 {
		t.Errorf("reports = %v", got)
	}
}

func TestConfigSchema(t *testing.T) {
	t.Parallel()

	res := execute(t, t.TempDir(), nil, nil, "config", "schema", "--matrix")
	if res.err != nil || !strings.Contains(res.stdout, "#Matrix") {
		t.Errorf("config schema --matrix: %v\n%s", res.err, res.stdout)
	}
	res = execute(t, t.TempDir(), nil, nil, "config", "schema")
	if res.err != nil || !strings.Contains(res.stdout, "#Config") {
		t.Errorf("config schema: %v\n%s", res.err, res.stdout)
	}
}

func TestInit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	res := execute(t, dir, nil, nil, "init")
	if res.err != nil {
		t.Fatalf("init: %v", res.err)
	}
	m, err := matrixfile.Load(filepath.Join(dir, matrixfile.CUEFileName))
	if err != nil {
		t.Fatalf("starter matrix does not load: %v", err)
	}
	if !slices.Equal(m.EnvList, []matrixfile.EnvName{"py312", "audit", "lint"}) {
		t.Errorf("envlist = %v", m.EnvList)
	}

	if res := execute(t, dir, nil, nil, "init"); res.err == nil {
		t.Error("init overwrote an existing matrix without --force")
	}
}

func TestDefaultMatrix_OverlaysConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Python = "python3.12"
	cfg.Test.Retries = 2
	cfg.Test.Timeout = 30 * time.Second
	cfg.Test.StrictXFail = false
	cfg.Audit.Policy = "manylinux_2_17"

	m := defaultMatrix(cfg, "/src/core")
	if m.Root != "/src/core" || m.Python != "python3.12" {
		t.Errorf("root/python = %q/%q", m.Root, m.Python)
	}
	if m.Test.Retries != 2 || m.Test.Timeout.Std() != 30*time.Second || m.Test.StrictXFail {
		t.Errorf("test = %+v", m.Test)
	}
	if m.Audit.Policy != "manylinux_2_17" {
		t.Errorf("audit policy = %q", m.Audit.Policy)
	}
}

func TestReportStyle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		scheme config.ColorScheme
		want   string
	}{
		{config.ColorSchemeAuto, ""},
		{config.ColorSchemeDark, "dark"},
		{config.ColorSchemeLight, "light"},
	}
	for _, tt := range tests {
		cfg := config.DefaultConfig()
		cfg.UI.ColorScheme = tt.scheme
		if got := reportStyle(cfg); got != tt.want {
			t.Errorf("reportStyle(%q) = %q, want %q", tt.scheme, got, tt.want)
		}
	}
}

func TestWatchIgnores(t *testing.T) {
	t.Parallel()

	m := matrixfile.Default()
	m.Root = "/src/core"
	m.DistDir = "/elsewhere/dist"
	got := watchIgnores(m)
	if !slices.Equal(got, []string{".wheelhouse/**"}) {
		t.Errorf("watchIgnores() = %v", got)
	}
}

func TestConfigLoadFailure_FallsBackToDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, matrixfile.CUEFileName, testMatrix)

	res := execute(t, dir, nil, staticConfig{err: errors.New("config.cue: bad indent")}, "list")
	if res.err != nil {
		t.Fatalf("list with broken config: %v", res.err)
	}
	if !strings.Contains(res.stderr, "Warning") || !strings.Contains(res.stderr, "bad indent") {
		t.Errorf("missing config warning:\n%s", res.stderr)
	}
	if !strings.Contains(res.stdout, "py312") {
		t.Errorf("list output:\n%s", res.stdout)
	}
}

func TestSession_TestRunnerKillsWithoutGrace(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, matrixfile.CUEFileName, testMatrix)
	app := NewApp(Dependencies{
		Config: staticConfig{},
		Stdout: io.Discard,
		Stderr: io.Discard,
		Getwd:  func() (string, error) { return dir, nil },
	})

	for _, tty := range []bool{false, true} {
		sess, err := app.newSession(t.Context(), &rootFlagValues{}, sessionOptions{tty: tty})
		if err != nil {
			t.Fatal(err)
		}
		shell, ok := sess.stages.TestRunner.(*runtime.Shell)
		if !ok {
			t.Fatalf("TestRunner = %T, want *runtime.Shell", sess.stages.TestRunner)
		}
		if shell.KillTimeout >= 0 {
			t.Errorf("tty=%v: KillTimeout = %v, want negative (immediate kill)", tty, shell.KillTimeout)
		}
		if shell.TTY != tty {
			t.Errorf("TTY = %v, want %v", shell.TTY, tty)
		}
		if sess.shell.KillTimeout != 0 {
			t.Errorf("stage shell KillTimeout = %v, want the default grace", sess.shell.KillTimeout)
		}
	}
}
