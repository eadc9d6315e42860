package app_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/palantir/palantir-compute-module-crop-yield/internal/app"
	"github.com/palantir/palantir-compute-module-crop-yield/internal/config"
	"github.com/palantir/palantir-compute-module-crop-yield/internal/crop"
	"github.com/palantir/palantir-compute-module-crop-yield/pkg/foundry"
	"github.com/palantir/palantir-compute-module-crop-yield/pkg/mockfoundry"
)

const (
	inputRID    = "ri.foundry.main.dataset.11111111-1111-1111-1111-111111111111"
	averageRID  = "ri.foundry.main.dataset.22222222-2222-2222-2222-222222222222"
	dominantRID = "ri.foundry.main.dataset.33333333-3333-3333-3333-333333333333"
)

func newMockEnv(t *testing.T, inputCSV string) (foundry.Env, *mockfoundry.Server) {
	t.Helper()

	inputDir := t.TempDir()
	if inputCSV != "" {
		if err := os.WriteFile(filepath.Join(inputDir, inputRID+".csv"), []byte(inputCSV), 0o644); err != nil {
			t.Fatalf("write input csv: %v", err)
		}
	}

	mock := mockfoundry.New(inputDir, t.TempDir())
	mock.RequireBearerToken("dummy-token")
	ts := httptest.NewServer(mock.Handler())
	t.Cleanup(ts.Close)

	return foundry.Env{
		Services: foundry.Services{APIGateway: ts.URL + "/api"},
		Token:    "dummy-token",
		Aliases: map[string]foundry.DatasetRef{
			"input":         {RID: inputRID, Branch: "master"},
			"average_yield": {RID: averageRID},
			"dominant_crop": {RID: dominantRID, Branch: "master"},
		},
	}, mock
}

func TestRunFoundry_EndToEndAgainstMock(t *testing.T) {
	t.Parallel()

	env, mock := newMockEnv(t, northCSV)

	var logs bytes.Buffer
	reports, err := app.RunFoundry(context.Background(), env, config.Default(), quietLogger(&logs))
	if err != nil {
		t.Fatalf("RunFoundry: %v", err)
	}
	if reports.Rows != 3 {
		t.Fatalf("expected 3 rows, got %d", reports.Rows)
	}

	avg, ok := mock.Head(averageRID)
	if !ok {
		t.Fatalf("average dataset was not committed")
	}
	wantAvg := "Crop,Average Yield (tons/hectare)\nRice,4.20\nWheat,5.80\n"
	if string(avg) != wantAvg {
		t.Fatalf("average dataset:\n%s\nwant:\n%s", avg, wantAvg)
	}

	dom, ok := mock.Head(dominantRID)
	if !ok {
		t.Fatalf("dominant dataset was not committed")
	}
	if string(dom) != "Region,Crop\nRegion1,Wheat\n" {
		t.Fatalf("unexpected dominant dataset %q", dom)
	}

	uploads := mock.Uploads()
	if len(uploads) != 2 {
		t.Fatalf("expected 2 uploads, got %d", len(uploads))
	}
	if uploads[0].FilePath != "average_yield.csv" || uploads[1].FilePath != "dominant_crop.csv" {
		t.Fatalf("unexpected upload paths: %q, %q", uploads[0].FilePath, uploads[1].FilePath)
	}

	var reads, commits int
	for _, c := range mock.Calls() {
		switch {
		case c.Method == http.MethodGet && c.Path == "/api/v2/datasets/"+inputRID+"/readTable":
			reads++
		case c.Method == http.MethodPost && strings.HasSuffix(c.Path, "/commit"):
			commits++
		}
	}
	if reads != 1 || commits != 2 {
		t.Fatalf("expected 1 readTable and 2 commits, got %d and %d", reads, commits)
	}
}

func TestRunFoundry_MissingInputDataset(t *testing.T) {
	t.Parallel()

	env, mock := newMockEnv(t, "")
	var logs bytes.Buffer
	_, err := app.RunFoundry(context.Background(), env, config.Default(), quietLogger(&logs))
	if !errors.Is(err, crop.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
	if len(mock.Uploads()) != 0 {
		t.Fatalf("expected no uploads after a failed read")
	}
	for _, c := range mock.Calls() {
		if c.Method == http.MethodPost {
			t.Fatalf("unexpected write call after a failed read: %s %s", c.Method, c.Path)
		}
	}
}

func TestRunFoundry_MissingAlias(t *testing.T) {
	t.Parallel()

	env, _ := newMockEnv(t, northCSV)
	delete(env.Aliases, "dominant_crop")
	var logs bytes.Buffer
	if _, err := app.RunFoundry(context.Background(), env, config.Default(), quietLogger(&logs)); err == nil {
		t.Fatalf("expected missing alias error")
	}
}

func TestRunFoundry_BadToken(t *testing.T) {
	t.Parallel()

	env, _ := newMockEnv(t, northCSV)
	env.Token = "wrong"
	var logs bytes.Buffer
	_, err := app.RunFoundry(context.Background(), env, config.Default(), quietLogger(&logs))
	var he *foundry.HTTPError
	if !errors.As(err, &he) || he.StatusCode != 401 {
		t.Fatalf("expected 401 HTTPError, got %v", err)
	}
}
