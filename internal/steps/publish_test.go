package steps

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipway-ci/slipway/internal/artifact"
	"github.com/slipway-ci/slipway/internal/config"
	"github.com/slipway-ci/slipway/internal/executor"
	"github.com/slipway-ci/slipway/internal/index"
	"github.com/slipway-ci/slipway/internal/models"
)

// fakeIndex is an httptest package index with mint-token, simple
// listing, and upload endpoints.
type fakeIndex struct {
	server   *httptest.Server
	uploads  []string // file names received, in order
	existing map[string]bool
	fields   []map[string]string // form fields per upload
}

func newFakeIndex(t *testing.T) *fakeIndex {
	t.Helper()
	fi := &fakeIndex{existing: make(map[string]bool)}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["token"] != "ambient-identity" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "bad identity"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "token": "upload-token"})
	})
	mux.HandleFunc("/simple/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>")
		for name := range fi.existing {
			fmt.Fprintf(w, `<a href="/files/%s">%s</a>`, name, name)
		}
		fmt.Fprint(w, "</body></html>")
	})
	mux.HandleFunc("/legacy/", func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		if user != "__token__" || pass != "upload-token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		require.NoError(t, r.ParseMultipartForm(32<<20))
		fields := make(map[string]string)
		for key := range r.MultipartForm.Value {
			fields[key] = r.FormValue(key)
		}
		fi.fields = append(fi.fields, fields)

		_, header, err := r.FormFile("content")
		require.NoError(t, err)
		if fi.existing[header.Filename] {
			w.WriteHeader(http.StatusConflict)
			return
		}
		fi.uploads = append(fi.uploads, header.Filename)
	})

	fi.server = httptest.NewServer(mux)
	t.Cleanup(fi.server.Close)
	return fi
}

func (fi *fakeIndex) client() *index.Client {
	return index.NewClient(fi.server.URL+"/legacy/", fi.server.URL+"/simple/", fi.server.URL+"/token")
}

func publishSetup(t *testing.T, fi *fakeIndex) (*Publish, *executor.StepContext) {
	t.Helper()
	cfg := config.DefaultConfig()
	step := &Publish{cfg: cfg, index: fi.client()}

	distDir := t.TempDir()
	sc := newStepContext(t, nil, nil)
	sc.State.SetDistDir(distDir)
	sc.State.SetArtifacts([]artifact.Artifact{makeSdist(t, distDir), makeWheel(t, distDir)})
	sc.Env = append(sc.Env, "SLIPWAY_ID_TOKEN=ambient-identity")
	return step, sc
}

func TestPublish_UploadsSdistThenWheel(t *testing.T) {
	fi := newFakeIndex(t)
	step, sc := publishSetup(t, fi)

	require.NoError(t, step.Execute(waitCtx(t), sc))

	assert.Equal(t, []string{"example-1.2.3.tar.gz", "example-1.2.3-py3-none-any.whl"}, fi.uploads)
	assert.True(t, sc.State.Published())

	require.Len(t, fi.fields, 2)
	assert.Equal(t, "example", fi.fields[0]["name"])
	assert.Equal(t, "1.2.3", fi.fields[0]["version"])
	assert.Equal(t, "sdist", fi.fields[0]["filetype"])
	assert.Equal(t, "bdist_wheel", fi.fields[1]["filetype"])
}

func TestPublish_GateFields(t *testing.T) {
	step := &Publish{}
	assert.True(t, step.GatedOnPriorSuccess())
	assert.True(t, step.GatedOnReleasePublication())

	grants := step.RequiredGrants()
	require.Len(t, grants, 1)
	assert.Equal(t, models.ScopeIDToken, grants[0].Scope)
	assert.Equal(t, models.GrantWrite, grants[0].Grant)
}

func TestPublish_SkipsForNonReleaseEvent(t *testing.T) {
	fi := newFakeIndex(t)
	step, sc := publishSetup(t, fi)
	sc.Event = &models.Event{Kind: models.EventTag, Tag: "v1.2.3"}

	err := step.Execute(waitCtx(t), sc)
	require.ErrorIs(t, err, executor.ErrStepSkipped)
	assert.Empty(t, fi.uploads)
}

func TestPublish_NoIdentityToken(t *testing.T) {
	fi := newFakeIndex(t)
	step, sc := publishSetup(t, fi)
	sc.Env = []string{"PATH=/usr/bin"} // strip the token

	err := step.Execute(waitCtx(t), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ambient identity token in SLIPWAY_ID_TOKEN")
	assert.Empty(t, fi.uploads)
}

func TestPublish_ExistingFileIsHardError(t *testing.T) {
	fi := newFakeIndex(t)
	fi.existing["example-1.2.3.tar.gz"] = true
	step, sc := publishSetup(t, fi)

	err := step.Execute(waitCtx(t), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists on the index")
	assert.Empty(t, fi.uploads)
	assert.False(t, sc.State.Published())
}

func TestPublish_SkipExisting(t *testing.T) {
	fi := newFakeIndex(t)
	fi.existing["example-1.2.3.tar.gz"] = true
	step, sc := publishSetup(t, fi)
	sc.With = map[string]any{"skip-existing": true}

	require.NoError(t, step.Execute(waitCtx(t), sc))
	assert.Equal(t, []string{"example-1.2.3-py3-none-any.whl"}, fi.uploads)
	assert.True(t, sc.State.Published())
}

func TestPublish_ChangelogNotesAttached(t *testing.T) {
	fi := newFakeIndex(t)
	step, sc := publishSetup(t, fi)

	changelog := filepath.Join(t.TempDir(), "CHANGELOG.md")
	require.NoError(t, os.WriteFile(changelog, []byte("# Changelog\n\n## [1.2.3] - 2026-08-01\n\n- Fixed the widget\n\n## [1.2.2]\n\n- Older\n"), 0644))
	sc.With = map[string]any{"changelog": changelog}

	require.NoError(t, step.Execute(waitCtx(t), sc))
	require.Len(t, fi.fields, 2)
	assert.Contains(t, fi.fields[0]["description"], "Fixed the widget")
	assert.NotContains(t, fi.fields[0]["description"], "Older")
	assert.Equal(t, "text/markdown", fi.fields[0]["description_content_type"])
}

func TestPublish_ChangelogMissingVersionIsTolerated(t *testing.T) {
	fi := newFakeIndex(t)
	step, sc := publishSetup(t, fi)

	changelog := filepath.Join(t.TempDir(), "CHANGELOG.md")
	require.NoError(t, os.WriteFile(changelog, []byte("# Changelog\n\n## [0.1.0]\n\n- Ancient\n"), 0644))
	sc.With = map[string]any{"changelog": changelog}

	require.NoError(t, step.Execute(waitCtx(t), sc))
	assert.Len(t, fi.uploads, 2)
	assert.Empty(t, fi.fields[0]["description"])
}

func TestPublish_MissingArtifacts(t *testing.T) {
	fi := newFakeIndex(t)
	step, sc := publishSetup(t, fi)
	sc.State = executor.NewRunState()

	err := step.Execute(waitCtx(t), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need one sdist and one wheel")
}

func TestPublish_DryRunMakesNoRequests(t *testing.T) {
	fi := newFakeIndex(t)
	step, sc := publishSetup(t, fi)
	sc.DryRun = true

	require.NoError(t, step.Execute(waitCtx(t), sc))
	assert.Empty(t, fi.uploads)
	assert.False(t, sc.State.Published())
}

func TestPublish_MintTokenRejected(t *testing.T) {
	fi := newFakeIndex(t)
	step, sc := publishSetup(t, fi)
	sc.Env = append(sc.Env[:1], "SLIPWAY_ID_TOKEN=wrong")

	err := step.Execute(waitCtx(t), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to mint upload token")
	assert.NotContains(t, err.Error(), "wrong") // tokens never leak into errors
}
