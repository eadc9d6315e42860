package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/redact"
)

type jobEnvelope struct {
	ComputeModuleJobV1 computeJob `json:"computeModuleJobV1"`
}

type computeJob struct {
	JobID     string          `json:"jobId"`
	QueryType string          `json:"queryType"`
	Query     json.RawMessage `json:"query"`
}

type jobClientConfig struct {
	GetJobURI       string
	PostResultURI   string
	ModuleAuthToken string
	DefaultCAPath   string
}

// loadJobClientConfigFromEnv reports ok=false when the module is not running under a job runtime.
func loadJobClientConfigFromEnv() (jobClientConfig, bool, error) {
	getJob, err := normalizeLocalhostURI(os.Getenv("GET_JOB_URI"))
	if err != nil {
		return jobClientConfig{}, false, fmt.Errorf("invalid GET_JOB_URI: %w", err)
	}
	postRes, err := normalizeLocalhostURI(os.Getenv("POST_RESULT_URI"))
	if err != nil {
		return jobClientConfig{}, false, fmt.Errorf("invalid POST_RESULT_URI: %w", err)
	}
	if getJob == "" || postRes == "" {
		return jobClientConfig{}, false, nil
	}

	tok, err := readValueOrFile(strings.TrimSpace(os.Getenv("MODULE_AUTH_TOKEN")))
	if err != nil {
		return jobClientConfig{}, false, fmt.Errorf("read MODULE_AUTH_TOKEN: %w", err)
	}
	if tok == "" {
		return jobClientConfig{}, false, fmt.Errorf("MODULE_AUTH_TOKEN is required when GET_JOB_URI/POST_RESULT_URI are set")
	}
	caPath := strings.TrimSpace(os.Getenv("DEFAULT_CA_PATH"))
	if caPath == "" {
		return jobClientConfig{}, false, fmt.Errorf("DEFAULT_CA_PATH is required when GET_JOB_URI/POST_RESULT_URI are set")
	}

	return jobClientConfig{
		GetJobURI:       getJob,
		PostResultURI:   postRes,
		ModuleAuthToken: tok,
		DefaultCAPath:   caPath,
	}, true, nil
}

// normalizeLocalhostURI pins localhost and ::1 to 127.0.0.1. The runtime sidecar often
// listens on IPv4 loopback only, while "localhost" may resolve to ::1 first.
func normalizeLocalhostURI(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := strings.TrimSpace(u.Hostname())
	if host == "localhost" || host == "::1" {
		if port := strings.TrimSpace(u.Port()); port != "" {
			u.Host = "127.0.0.1:" + port
		} else {
			u.Host = "127.0.0.1"
		}
	}
	return u.String(), nil
}

// readValueOrFile returns v itself, or the trimmed contents of v when v names an existing file.
func readValueOrFile(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	if st, err := os.Stat(v); err == nil && !st.IsDir() {
		b, err := os.ReadFile(v)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	return v, nil
}

func newJobHTTPClient(caPath string) (*http.Client, error) {
	b, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read DEFAULT_CA_PATH: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(b); !ok {
		return nil, fmt.Errorf("parse DEFAULT_CA_PATH PEM: no certs found")
	}
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Transport: tr, Timeout: 30 * time.Second}, nil
}

// runJobLoop polls for jobs until ctx is done, running handle once per job and posting its result.
// A failed job still posts its (redacted) error so the runtime can record the failure.
func runJobLoop(
	ctx context.Context,
	hc *http.Client,
	cfg jobClientConfig,
	logger *log.Logger,
	handle func(context.Context, computeJob) ([]byte, error),
) error {
	logger.Printf("job client enabled; polling GET_JOB_URI=%s", cfg.GetJobURI)

	backoff := 500 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, ok, err := getNextJob(ctx, hc, cfg.GetJobURI, cfg.ModuleAuthToken)
		if err != nil {
			logger.Printf("job client: get job failed: %s", redact.Secrets(err.Error()))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, 5*time.Second)
			continue
		}
		backoff = 500 * time.Millisecond
		if !ok {
			if !sleepCtx(ctx, 500*time.Millisecond) {
				return ctx.Err()
			}
			continue
		}

		jobID := strings.TrimSpace(job.JobID)
		if jobID == "" {
			logger.Printf("job client: received job without jobId; skipping")
			continue
		}

		logger.Printf("job client: received jobId=%s queryType=%s", jobID, strings.TrimSpace(job.QueryType))
		result, jobErr := handle(ctx, job)
		if jobErr != nil {
			msg := redact.Secrets(jobErr.Error())
			logger.Printf("job client: jobId=%s failed: %s", jobID, msg)
			result = []byte(msg)
		}

		for attempt := 1; ; attempt++ {
			err := postResult(ctx, hc, cfg.PostResultURI, cfg.ModuleAuthToken, jobID, result)
			if err == nil {
				break
			}
			logger.Printf("job client: post result failed for jobId=%s attempt=%d: %s", jobID, attempt, redact.Secrets(err.Error()))
			if attempt >= 5 || !sleepCtx(ctx, time.Duration(attempt)*time.Second) {
				break
			}
		}
	}
}

func getNextJob(ctx context.Context, hc *http.Client, getJobURI, moduleAuthToken string) (computeJob, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getJobURI, nil)
	if err != nil {
		return computeJob{}, false, err
	}
	req.Header.Set("Module-Auth-Token", moduleAuthToken)
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return computeJob{}, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return computeJob{}, false, nil
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return computeJob{}, false, err
	}
	if resp.StatusCode/100 != 2 {
		return computeJob{}, false, fmt.Errorf("GET job: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var env jobEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return computeJob{}, false, fmt.Errorf("parse GET job response: %w", err)
	}
	return env.ComputeModuleJobV1, true, nil
}

func postResult(ctx context.Context, hc *http.Client, postResultURI, moduleAuthToken, jobID string, result []byte) error {
	base := strings.TrimRight(strings.TrimSpace(postResultURI), "/")
	u := base + "/" + path.Clean("/" + jobID)[1:]

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(result))
	if err != nil {
		return err
	}
	req.Header.Set("Module-Auth-Token", moduleAuthToken)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST result: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
