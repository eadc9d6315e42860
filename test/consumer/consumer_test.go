package consumer

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/palantir/palantir-compute-module-crop-yield/pkg/foundry"
	"github.com/palantir/palantir-compute-module-crop-yield/pkg/mockfoundry"
	"github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/core"
	foundryio "github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/io/foundry"
	localio "github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/io/local"
	"github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/schema"
	"github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/worker"
)

func TestPublicPackagesFromAnotherModule(t *testing.T) {
	t.Parallel()

	if got := schema.CropObservations.Missing([]string{"Region", "Crop"}); len(got) != 1 {
		t.Fatalf("expected one missing column, got %v", got)
	}

	rid := "ri.foundry.main.dataset.44444444-4444-4444-4444-444444444444"
	inputDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(inputDir, rid+".csv"), []byte("Region,Crop,Yield_tons_per_hectare\nR1,Wheat,5\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	localPath := filepath.Join(t.TempDir(), "local.csv")
	if err := os.WriteFile(localPath, []byte("Crop,Region,Yield_tons_per_hectare\nRice,R2,4\n"), 0o644); err != nil {
		t.Fatalf("write local input: %v", err)
	}

	srv := mockfoundry.New(inputDir, t.TempDir())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client, err := foundry.NewClient(ts.URL+"/api", "token", "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	sources := []core.InputAdapter[localio.Dataset]{
		foundryio.DatasetSource{Client: client, Ref: foundry.DatasetRef{RID: rid}},
		localio.FileSource{Path: localPath},
	}
	out, err := worker.ProcessAll(context.Background(), sources, func(ctx context.Context, src core.InputAdapter[localio.Dataset]) (int, error) {
		ds, err := src.Load(ctx)
		return ds.Len(), err
	}, worker.Options{Workers: 2})
	if err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}
	if out[0].Output != 1 || out[1].Output != 1 {
		t.Fatalf("unexpected row counts: %d, %d", out[0].Output, out[1].Output)
	}
}

func TestSourceNotFoundFromAnotherModule(t *testing.T) {
	t.Parallel()

	srv := mockfoundry.New(t.TempDir(), t.TempDir())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client, err := foundry.NewClient(ts.URL+"/api", "token", "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = localio.LoadFile(filepath.Join(t.TempDir(), "absent.csv"))
	if !errors.Is(err, localio.ErrSourceNotFound) {
		t.Fatalf("local: expected ErrSourceNotFound, got %v", err)
	}

	_, err = foundryio.ReadDataset(context.Background(), client, foundry.DatasetRef{RID: "ri.foundry.main.dataset.absent"})
	if !errors.Is(err, foundryio.ErrSourceNotFound) || !errors.Is(err, localio.ErrSourceNotFound) {
		t.Fatalf("foundry: expected ErrSourceNotFound, got %v", err)
	}

	missingCol := filepath.Join(t.TempDir(), "nocrop.csv")
	if err := os.WriteFile(missingCol, []byte("Region,Yield_tons_per_hectare\nR1,3\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	_, err = localio.LoadFile(missingCol)
	if !errors.Is(err, localio.ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}
