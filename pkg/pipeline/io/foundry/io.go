package foundryio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/palantir/palantir-compute-module-crop-yield/internal/crop"
	"github.com/palantir/palantir-compute-module-crop-yield/pkg/foundry"
	localio "github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/io/local"
)

const (
	retryAttempts     = 8
	retryInitialSleep = 200 * time.Millisecond
	retryMaxSleep     = 2 * time.Second
)

// ErrSourceNotFound matches (errors.Is) reads of a dataset or branch that does not exist.
var ErrSourceNotFound = localio.ErrSourceNotFound

// ReadDataset reads an observation dataset from Foundry as CSV.
//
// A dataset or branch that does not exist is reported as ErrSourceNotFound.
func ReadDataset(ctx context.Context, client *foundry.Client, ref foundry.DatasetRef) (crop.Dataset, error) {
	var b []byte
	err := retryTransient(ctx, func() error {
		var err error
		b, err = client.ReadTableCSV(ctx, ref.RID, ref.Branch)
		return err
	})
	if err != nil {
		if foundry.IsNotFound(err) {
			return crop.Dataset{}, fmt.Errorf("%w: %s: %v", ErrSourceNotFound, ref.RID, err)
		}
		return crop.Dataset{}, err
	}
	ds, err := localio.ReadDatasetCSV(bytes.NewReader(b))
	if err != nil {
		return crop.Dataset{}, fmt.Errorf("%s: %w", ref.RID, err)
	}
	return ds, nil
}

// DatasetSource is an input adapter over one Foundry dataset.
type DatasetSource struct {
	Client *foundry.Client
	Ref    foundry.DatasetRef
}

func (s DatasetSource) Load(ctx context.Context) (crop.Dataset, error) {
	return ReadDataset(ctx, s.Client, s.Ref)
}

func (s DatasetSource) Name() string {
	branch := strings.TrimSpace(s.Ref.Branch)
	if branch == "" {
		branch = foundry.DefaultBranch
	}
	return s.Ref.RID + "@" + branch
}

// UploadCSV replaces the dataset's contents with one CSV file via a SNAPSHOT transaction.
func UploadCSV(ctx context.Context, client *foundry.Client, ref foundry.DatasetRef, filename string, csv []byte) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("output filename is required")
	}

	var txnID string
	if err := retryTransient(ctx, func() error {
		var err error
		txnID, err = client.CreateTransaction(ctx, ref.RID, ref.Branch)
		return err
	}); err != nil {
		return err
	}
	if err := retryTransient(ctx, func() error {
		return client.UploadFile(ctx, ref.RID, txnID, filename, "text/csv", csv)
	}); err != nil {
		return err
	}
	return retryTransient(ctx, func() error {
		return client.CommitTransaction(ctx, ref.RID, txnID)
	})
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if foundry.IsRetryable(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

func retryTransient(ctx context.Context, f func() error) error {
	sleep := retryInitialSleep
	var lastErr error
	for i := 0; i < retryAttempts; i++ {
		lastErr = f()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) || i == retryAttempts-1 {
			return lastErr
		}

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		sleep = min(sleep*2, retryMaxSleep)
	}
	return lastErr
}
