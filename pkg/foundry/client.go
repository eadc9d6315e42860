package foundry

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

// DefaultBranch is used whenever a dataset reference leaves the branch empty.
const DefaultBranch = "master"

// Client is a minimal HTTP client for the v2 dataset endpoints the report pipeline uses:
// read a table as CSV, and write a file through a SNAPSHOT transaction.
type Client struct {
	apiBaseURL *url.URL
	token      string
	http       *http.Client
}

// NewClient constructs a client for the API gateway base URL
// (e.g. "https://<stack>.palantirfoundry.com/api").
//
// defaultCAPath is optional and, when provided, is used as the TLS trust store.
func NewClient(apiGatewayURL, token, defaultCAPath string) (*Client, error) {
	base, err := parseBaseURL(apiGatewayURL)
	if err != nil {
		return nil, err
	}
	hc, err := newHTTPClient(defaultCAPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		apiBaseURL: base,
		token:      strings.TrimSpace(token),
		http:       hc,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("api gateway base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse api gateway base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api gateway base URL must include a host (got %q)", raw)
	}
	// Trailing slash so ResolveReference treats the base path as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func newHTTPClient(defaultCAPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if p := strings.TrimSpace(defaultCAPath); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read DEFAULT_CA_PATH file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse DEFAULT_CA_PATH PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	accept      string
}

// do sends the request and returns the response body. Non-2xx responses become *HTTPError.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	u := c.resolveAPI(r.path)
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError(r.op, resp, b)
	}
	return b, nil
}

type branchResponse struct {
	Name           string `json:"name"`
	TransactionRID string `json:"transactionRid"`
}

// GetBranchTransactionRID returns the latest transaction on the branch, used to pin
// readTable to one snapshot.
func (c *Client) GetBranchTransactionRID(ctx context.Context, datasetRID, branch string) (string, error) {
	datasetRID = strings.TrimSpace(datasetRID)
	if datasetRID == "" {
		return "", fmt.Errorf("dataset rid is required")
	}
	b, err := c.do(ctx, request{
		op:     "getBranch",
		method: http.MethodGet,
		path: fmt.Sprintf("v2/datasets/%s/branches/%s",
			url.PathEscape(datasetRID), url.PathEscape(branchOrDefault(branch))),
		accept: "application/json",
	})
	if err != nil {
		return "", err
	}
	var out branchResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return "", fmt.Errorf("parse get branch response: %w", err)
	}
	return strings.TrimSpace(out.TransactionRID), nil
}

// ReadTableCSV reads the dataset's current snapshot on branch as CSV bytes.
func (c *Client) ReadTableCSV(ctx context.Context, datasetRID, branch string) ([]byte, error) {
	branch = branchOrDefault(branch)
	txnRID, err := c.GetBranchTransactionRID(ctx, datasetRID, branch)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("branchName", branch)
	if txnRID != "" {
		q.Set("startTransactionRid", txnRID)
		q.Set("endTransactionRid", txnRID)
	}
	q.Set("format", "CSV")

	return c.do(ctx, request{
		op:     "readTable",
		method: http.MethodGet,
		path:   fmt.Sprintf("v2/datasets/%s/readTable", url.PathEscape(datasetRID)),
		query:  q,
		accept: "text/csv",
	})
}

type createTxnRequest struct {
	TransactionType string `json:"transactionType"`
}

type createTxnResponse struct {
	RID           string `json:"rid"`
	TransactionID string `json:"transactionId"`
}

// CreateTransaction opens a SNAPSHOT transaction on branch and returns its id.
func (c *Client) CreateTransaction(ctx context.Context, datasetRID, branch string) (string, error) {
	body, err := json.Marshal(createTxnRequest{TransactionType: "SNAPSHOT"})
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("branchName", branchOrDefault(branch))

	b, err := c.do(ctx, request{
		op:          "createTransaction",
		method:      http.MethodPost,
		path:        fmt.Sprintf("v2/datasets/%s/transactions", url.PathEscape(datasetRID)),
		query:       q,
		body:        body,
		contentType: "application/json",
		accept:      "application/json",
	})
	if err != nil {
		return "", err
	}

	var out createTxnResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return "", fmt.Errorf("parse create transaction response: %w", err)
	}
	txnID := strings.TrimSpace(out.RID)
	if txnID == "" {
		txnID = strings.TrimSpace(out.TransactionID)
	}
	if txnID == "" {
		return "", fmt.Errorf("create transaction response missing rid")
	}
	return txnID, nil
}

// UploadFile uploads b to filePath inside the open transaction.
func (c *Client) UploadFile(ctx context.Context, datasetRID, txnID, filePath, contentType string, b []byte) error {
	q := url.Values{}
	if t := strings.TrimSpace(txnID); t != "" {
		q.Set("transactionRid", t)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := c.do(ctx, request{
		op:     "uploadFile",
		method: http.MethodPost,
		path: fmt.Sprintf("v2/datasets/%s/files/%s/upload",
			url.PathEscape(datasetRID), escapeURLPath(filePath)),
		query:       q,
		body:        b,
		contentType: contentType,
	})
	return err
}

// CommitTransaction commits an open transaction.
func (c *Client) CommitTransaction(ctx context.Context, datasetRID, txnID string) error {
	_, err := c.do(ctx, request{
		op:     "commitTransaction",
		method: http.MethodPost,
		path: fmt.Sprintf("v2/datasets/%s/transactions/%s/commit",
			url.PathEscape(datasetRID), url.PathEscape(txnID)),
		accept: "application/json",
	})
	return err
}

func (c *Client) resolveAPI(relPath string) *url.URL {
	rel := &url.URL{Path: strings.TrimPrefix(relPath, "/")}
	return c.apiBaseURL.ResolveReference(rel)
}

func branchOrDefault(branch string) string {
	if b := strings.TrimSpace(branch); b != "" {
		return b
	}
	return DefaultBranch
}

// escapeURLPath escapes each segment of p while keeping "/" separators.
func escapeURLPath(p string) string {
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "." || cleaned == "" {
		return ""
	}
	parts := strings.Split(cleaned, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
