package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexNER/internal/app"
	"github.com/turtacn/LexNER/internal/config"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/pkg/client"
	"github.com/turtacn/LexNER/pkg/errors"
)

type fakeBackend struct {
	analyzeReq *client.AnalyzeRequest
	searchOpts *client.SearchOptions
	result     *client.AnalyzeResult
	err        error
	closed     bool
}

func (f *fakeBackend) Analyze(ctx context.Context, req *client.AnalyzeRequest) (*client.AnalyzeResult, error) {
	f.analyzeReq = req
	return f.result, f.err
}

func (f *fakeBackend) SearchEntities(ctx context.Context, opts *client.SearchOptions) (*client.SearchResult, error) {
	f.searchOpts = opts
	return &client.SearchResult{
		Hits: []client.EntityHit{{ID: "h1", Score: 2.5, Document: client.EntityDocument{
			AnalysisID: "a1", Text: "Yargıtay", Type: "ORGANIZATION", Start: 0, End: 8,
		}}},
		TypeCounts: map[string]int64{"ORGANIZATION": 1},
		Total:      1,
	}, nil
}

func (f *fakeBackend) EntityTypes(ctx context.Context) ([]client.EntityType, error) {
	return []client.EntityType{{Type: "PERSON", Name: "Kişiler", Icon: "fas fa-user"}}, nil
}

func (f *fakeBackend) Close() { f.closed = true }

func useFakeBackend(t *testing.T, f *fakeBackend) {
	t.Helper()
	orig := newBackend
	newBackend = func(*cobra.Command, *CLIContext) (nerBackend, error) { return f, nil }
	t.Cleanup(func() { newBackend = orig })
}

// withServingEnv makes the default configuration valid without a file.
func withServingEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LEXNER_NER_SERVING_URL", "http://127.0.0.1:1")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	withServingEnv(t)
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func okResult() *client.AnalyzeResult {
	conf := 0.95
	return &client.AnalyzeResult{
		Success: true,
		Entities: []client.Entity{
			{Text: "Ahmet Yılmaz", Type: "PERSON", Start: 7, End: 19, Source: "model", Confidence: &conf},
			{Text: "10.000 TL", Type: "MONEY", Start: 21, End: 30, Source: "model"},
		},
		EntityCount: 2,
		Summary:     map[string]int{"PERSON": 1, "MONEY": 1},
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "lexner", cmd.Use)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"analyze", "search", "types", "serve", "worker", "migrate", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
	for _, flag := range []string{"config", "log-level", "output", "verbose", "no-color", "timeout", "server"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "missing flag %q", flag)
	}
}

func TestRootCommand_InvalidOutputFormat(t *testing.T) {
	_, err := execute(t, "-o", "yaml", "version")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestRootCommand_BadConfigPath(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "version")
	assert.Error(t, err)
}

func TestGetCLIContext_Missing(t *testing.T) {
	cmd := &cobra.Command{}
	_, err := GetCLIContext(cmd)
	assert.Error(t, err)
	cmd.SetContext(context.Background())
	_, err = GetCLIContext(cmd)
	assert.Error(t, err)
}

func TestAnalyze_TextJSON(t *testing.T) {
	f := &fakeBackend{result: okResult()}
	useFakeBackend(t, f)

	out, err := execute(t, "-o", "json", "analyze", "--text", "Davacı Ahmet Yılmaz, 10.000 TL talep etti.")
	require.NoError(t, err)
	assert.True(t, f.closed)
	require.NotNil(t, f.analyzeReq)
	assert.Nil(t, f.analyzeReq.SpacedVariant)
	require.NotNil(t, f.analyzeReq.Persist)
	assert.False(t, *f.analyzeReq.Persist)

	var got client.AnalyzeResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Success)
	assert.Equal(t, 2, got.EntityCount)
	assert.Equal(t, "Ahmet Yılmaz", got.Entities[0].Text)
}

func TestAnalyze_SpacedAndPersistFlags(t *testing.T) {
	f := &fakeBackend{result: okResult()}
	useFakeBackend(t, f)

	_, err := execute(t, "analyze", "-t", "metin", "--spaced=false", "--persist")
	require.NoError(t, err)
	require.NotNil(t, f.analyzeReq.SpacedVariant)
	assert.False(t, *f.analyzeReq.SpacedVariant)
	assert.True(t, *f.analyzeReq.Persist)
}

func TestAnalyze_FileUsesBaseName(t *testing.T) {
	f := &fakeBackend{result: okResult()}
	useFakeBackend(t, f)

	path := filepath.Join(t.TempDir(), "dilekce.txt")
	require.NoError(t, os.WriteFile(path, []byte("Davacı Ahmet Yılmaz"), 0o600))

	out, err := execute(t, "analyze", path)
	require.NoError(t, err)
	assert.Equal(t, "Davacı Ahmet Yılmaz", f.analyzeReq.Text)
	assert.Equal(t, "dilekce.txt", f.analyzeReq.SourceName)
	assert.Contains(t, out, "2 entities")
	assert.Contains(t, out, "Summary: MONEY=1 PERSON=1")
}

func TestAnalyze_Stdin(t *testing.T) {
	f := &fakeBackend{result: okResult()}
	useFakeBackend(t, f)
	withServingEnv(t)

	cmd := NewRootCommand()
	cmd.SetIn(strings.NewReader("Yargıtay 9. Hukuk Dairesi"))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"analyze", "-", "--source-name", "karar-2024"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "Yargıtay 9. Hukuk Dairesi", f.analyzeReq.Text)
	assert.Equal(t, "karar-2024", f.analyzeReq.SourceName)
}

func TestAnalyze_TableOutput(t *testing.T) {
	useFakeBackend(t, &fakeBackend{result: okResult()})

	out, err := execute(t, "-o", "table", "analyze", "-t", "metin")
	require.NoError(t, err)
	assert.Contains(t, out, "Ahmet Yılmaz")
	assert.Contains(t, out, "0.95")
	assert.Contains(t, out, "7-19")
}

func TestAnalyze_InputErrors(t *testing.T) {
	useFakeBackend(t, &fakeBackend{result: okResult()})

	_, err := execute(t, "analyze")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	_, err = execute(t, "analyze", "a.txt", "--text", "x")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = execute(t, "analyze", empty)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	_, err = execute(t, "analyze", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestAnalyze_FailedResult(t *testing.T) {
	msg := "NER model not available"
	f := &fakeBackend{result: &client.AnalyzeResult{Success: false, Entities: []client.Entity{}, Error: &msg}}
	useFakeBackend(t, f)

	out, err := execute(t, "analyze", "-t", "metin")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNERModelNotAvailable))
	assert.Contains(t, out, msg)

	other := "tokenizer exploded"
	f.result = &client.AnalyzeResult{Success: false, Error: &other}
	_, err = execute(t, "analyze", "-t", "metin")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNERTaggerFailed))
}

func TestAnalyze_BackendError(t *testing.T) {
	useFakeBackend(t, &fakeBackend{err: errors.New(errors.ErrCodeServiceUnavailable, "down")})
	out, err := execute(t, "analyze", "-t", "metin")
	require.Error(t, err)
	assert.Empty(t, out)
}

func TestAnalyze_AsyncRejectsServer(t *testing.T) {
	_, err := execute(t, "--server", "http://localhost:1", "analyze", "--async", "-t", "metin")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestAnalyze_AsyncRequiresKafka(t *testing.T) {
	t.Setenv("LEXNER_KAFKA_ENABLED", "false")
	_, err := execute(t, "analyze", "--async", "-t", "metin")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeMessagingError))
}

func TestSearch(t *testing.T) {
	f := &fakeBackend{}
	useFakeBackend(t, f)

	out, err := execute(t, "search", "yargıtay", "--type", "ORGANIZATION", "--page-size", "5")
	require.NoError(t, err)
	assert.Equal(t, "yargıtay", f.searchOpts.Query)
	assert.Equal(t, "ORGANIZATION", f.searchOpts.Type)
	assert.Equal(t, 1, f.searchOpts.Page)
	assert.Equal(t, 5, f.searchOpts.PageSize)
	assert.Contains(t, out, "1 matches")
	assert.Contains(t, out, "analysis=a1")
}

func TestSearch_Validation(t *testing.T) {
	useFakeBackend(t, &fakeBackend{})

	_, err := execute(t, "search", "--page-size", "500")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
	_, err = execute(t, "search", "--page", "0")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
	_, err = execute(t, "search", "a", "-q", "b")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestTypes(t *testing.T) {
	useFakeBackend(t, &fakeBackend{})
	out, err := execute(t, "-o", "table", "types")
	require.NoError(t, err)
	assert.Contains(t, out, "Kişiler")
}

func TestVersion_JSON(t *testing.T) {
	out, err := execute(t, "-o", "json", "version")
	require.NoError(t, err)
	var v versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, Version, v.Version)
	assert.NotEmpty(t, v.GoVersion)
}

func TestServeAndWorker_ApplyOverrides(t *testing.T) {
	var (
		gotRole string
		gotCfg  *config.Config
	)
	orig := runService
	runService = func(ctx context.Context, cfg *config.Config, role string, fn app.Runner) error {
		gotRole, gotCfg = role, cfg
		return nil
	}
	t.Cleanup(func() { runService = orig })

	_, err := execute(t, "serve", "--port", "9191", "--host", "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "apiserver", gotRole)
	assert.Equal(t, 9191, gotCfg.Server.Port)
	assert.Equal(t, "127.0.0.1", gotCfg.Server.Host)

	_, err = execute(t, "worker", "--group", "ner-batch", "--concurrency", "8")
	require.NoError(t, err)
	assert.Equal(t, "worker", gotRole)
	assert.True(t, gotCfg.Kafka.Enabled)
	assert.Equal(t, "ner-batch", gotCfg.Kafka.GroupID)
	assert.Equal(t, 8, gotCfg.Worker.Concurrency)
}

type fakeMigrator struct {
	calls   []string
	steps   int
	version uint
	dirty   bool
}

func (m *fakeMigrator) Up() error                  { m.calls = append(m.calls, "up"); m.version = 2; return nil }
func (m *fakeMigrator) Down(steps int) error       { m.calls = append(m.calls, "down"); m.steps = steps; return nil }
func (m *fakeMigrator) Status() (uint, bool, error) { return m.version, m.dirty, nil }
func (m *fakeMigrator) Force(v int) error {
	m.calls = append(m.calls, "force")
	m.version, m.dirty = uint(v), false
	return nil
}
func (m *fakeMigrator) Close() error { m.calls = append(m.calls, "close"); return nil }

func TestMigrate(t *testing.T) {
	m := &fakeMigrator{version: 1, dirty: true}
	var gotSource string
	orig := openMigrator
	openMigrator = func(cfg config.DatabaseConfig, source string, log logging.Logger) (schemaMigrator, error) {
		gotSource = source
		return m, nil
	}
	t.Cleanup(func() { openMigrator = orig })

	out, err := execute(t, "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "version 1 (dirty")

	_, err = execute(t, "migrate", "force", "1")
	require.NoError(t, err)
	_, err = execute(t, "migrate", "up", "--source", "file:///srv/migrations")
	require.NoError(t, err)
	assert.Equal(t, "file:///srv/migrations", gotSource)

	out, err = execute(t, "-o", "json", "migrate", "down", "2")
	require.NoError(t, err)
	assert.Equal(t, 2, m.steps)
	var st migrationStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, uint(2), st.Version)

	assert.Equal(t, []string{"close", "force", "close", "up", "close", "down", "close"}, m.calls)

	_, err = execute(t, "migrate", "down", "zero")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestRemoteBackend_AnalyzeThroughServer(t *testing.T) {
	var gotPersist *bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req client.AnalyzeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotPersist = req.Persist
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"data":{"success":true,
			"entities":[{"text":"TBK m. 49","type":"LEGAL_REF","start":0,"end":9,"source":"pattern"}],
			"entity_count":1,"summary":{"LEGAL_REF":1},"analysis_id":"a-1","cached":false,"duration_ms":4}}`)
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "analyze", "-t", "TBK m. 49", "--persist")
	require.NoError(t, err)
	require.NotNil(t, gotPersist)
	assert.True(t, *gotPersist)
	assert.Contains(t, out, "TBK m. 49")
	assert.Contains(t, out, "Analysis ID: a-1")
}
