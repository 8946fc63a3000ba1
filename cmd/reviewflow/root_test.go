package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-reviewflow/internal/domain"
	flowerrors "github.com/ahrav/go-reviewflow/internal/flow/errors"
)

// writeConfig creates a config file backed by a SQLite store in a temp dir,
// so state survives between command invocations.
func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`steps: [UPLOAD, SEARCH, VALIDATE]
store:
  backend: sqlite
  sqlite_path: %s
poll:
  interval: 5ms
observability:
  log_level: error
remote:
  base_url: %q
`, filepath.Join(dir, "sessions.db"), baseURL)

	path := filepath.Join(dir, "reviewflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func runCLI(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCommand(&out, &errOut)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCLI_Navigation(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := runCLI(t, cfg, "--session", "p1", "advance", "--result", `{"file":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, "SEARCH\n", out)

	out, err = runCLI(t, cfg, "--session", "p1", "show")
	require.NoError(t, err)
	var session domain.Session
	require.NoError(t, json.Unmarshal([]byte(out), &session))
	assert.Equal(t, "p1", session.ID)
	assert.Equal(t, domain.StepSearch, session.CurrentStep)
	assert.JSONEq(t, `{"file":"x"}`, string(session.StepData[domain.StepUpload]))

	_, err = runCLI(t, cfg, "--session", "p1", "goto", "NOPE")
	var unknown *flowerrors.UnknownStepError
	require.ErrorAs(t, err, &unknown)

	out, err = runCLI(t, cfg, "--session", "p1", "goto", "VALIDATE")
	require.NoError(t, err)
	assert.Equal(t, "VALIDATE\n", out)

	out, err = runCLI(t, cfg, "--session", "p1", "advance")
	require.NoError(t, err)
	assert.Equal(t, "VALIDATE (complete)\n", out)

	out, err = runCLI(t, cfg, "--session", "p1", "reset")
	require.NoError(t, err)
	assert.Equal(t, "UPLOAD\n", out)
}

func TestCLI_SessionRequired(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := runCLI(t, cfg, "show")
	assert.ErrorIs(t, err, errSessionRequired)
}

func TestCLI_SessionFromEnvironment(t *testing.T) {
	cfg := writeConfig(t, "")
	t.Setenv("REVIEWFLOW_SESSION", "from-env")

	out, err := runCLI(t, cfg, "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"session_id": "from-env"`)
}

func TestCLI_New(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := runCLI(t, cfg, "new")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	out, err = runCLI(t, cfg, "--session", id, "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"current_step": "UPLOAD"`)
}

func TestCLI_AdvanceRejectsInvalidResult(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := runCLI(t, cfg, "--session", "p1", "advance", "--result", "{oops")
	assert.Error(t, err)
}

// TestCLI_RemoteFlow submits a job, waits for a search action and fetches a
// resource against a stub job service.
func TestCLI_RemoteFlow(t *testing.T) {
	var (
		triggered []string
		submitted int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/jobs":
			_, _ = fmt.Fprintf(w, `{"job_id":"job-%d"}`, 7+submitted)
			submitted++
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/jobs/job-7/actions/"):
			triggered = append(triggered, strings.TrimPrefix(r.URL.Path, "/jobs/job-7/actions/"))
			_, _ = w.Write([]byte(`{"started":true}`))
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/job-7/status":
			_, _ = w.Write([]byte(`{"state":"Succeeded","progress":100,"result":{"authors":3}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/job-7/metadata_extraction":
			_, _ = w.Write([]byte(`{"title":"A paper"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := writeConfig(t, srv.URL)
	input := filepath.Join(t.TempDir(), "input.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"file":"paper.docx"}`), 0o600))

	out, err := runCLI(t, cfg, "-s", "p1", "submit", "--input", input)
	require.NoError(t, err)
	assert.Equal(t, "job-7\n", out)

	_, err = runCLI(t, cfg, "-s", "p1", "submit")
	var already *flowerrors.AlreadyBoundError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "job-7", already.Existing)

	_, err = runCLI(t, cfg, "-s", "p1", "advance")
	require.NoError(t, err)

	out, err = runCLI(t, cfg, "-s", "p1", "await", "database_search")
	require.NoError(t, err)
	assert.JSONEq(t, `{"authors":3}`, out)
	assert.Equal(t, []string{"database_search"}, triggered)

	out, err = runCLI(t, cfg, "-s", "p1", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"current_step": "VALIDATE"`)

	out, err = runCLI(t, cfg, "-s", "p1", "fetch", "metadata_extraction")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"A paper"}`, out)

	out, err = runCLI(t, cfg, "-s", "p1", "trigger", "manual_authors")
	require.NoError(t, err)
	assert.JSONEq(t, `{"started":true}`, out)
}

func TestCLI_InvalidInputFile(t *testing.T) {
	cfg := writeConfig(t, "")
	input := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(input, []byte("not json"), 0o600))

	_, err := runCLI(t, cfg, "-s", "p1", "submit", "--input", input)
	assert.ErrorContains(t, err, "not valid JSON")
}
