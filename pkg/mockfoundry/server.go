package mockfoundry

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Upload records a file upload into a dataset transaction.
type Upload struct {
	DatasetRID string
	TxnID      string
	FilePath   string
	Bytes      []byte
}

// Server implements the slice of the Foundry v2 dataset API used by the report pipeline.
//
// Input tables are read from <inputDir>/<rid>.csv. Committed uploads become the dataset's
// head and are also persisted under uploadDir so a restarted server can serve them.
type Server struct {
	inputDir  string
	uploadDir string

	mu      sync.Mutex
	calls   []Call
	uploads []Upload

	expectedAuthorization string

	nextTxn int
	txns    map[string]*txnState
	heads   map[string]head
}

type txnState struct {
	datasetRID string
	branch     string
	committed  bool
	files      map[string][]byte
}

type head struct {
	txnID string
	data  []byte
}

// New constructs a new mock server.
func New(inputDir, uploadDir string) *Server {
	return &Server{
		inputDir:  inputDir,
		uploadDir: uploadDir,
		nextTxn:   1,
		txns:      make(map[string]*txnState),
		heads:     make(map[string]head),
	}
}

// RequireBearerToken enforces that requests carry "Bearer <token>". Empty disables the check.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/datasets/{rid}/branches/{branch}", s.wrap(s.handleGetBranch))
	mux.HandleFunc("GET /api/v2/datasets/{rid}/readTable", s.wrap(s.handleReadTable))
	mux.HandleFunc("POST /api/v2/datasets/{rid}/transactions", s.wrap(s.handleCreateTransaction))
	mux.HandleFunc("POST /api/v2/datasets/{rid}/transactions/{txn}/commit", s.wrap(s.handleCommit))
	mux.HandleFunc("POST /api/v2/datasets/{rid}/files/{rest...}", s.wrap(s.handleUpload))
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Uploads returns a snapshot of uploads made to the server.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// Head returns the last committed contents of a dataset.
func (s *Server) Head(datasetRID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.heads[datasetRID]
	return h.data, ok
}

func (s *Server) wrap(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
		expected := s.expectedAuthorization
		s.mu.Unlock()

		if expected != "" && r.Header.Get("Authorization") != expected {
			writeConjureError(w, http.StatusUnauthorized, "Default:Unauthorized", "UNAUTHORIZED")
			return
		}
		if !isSafeToken(r.PathValue("rid")) {
			writeConjureError(w, http.StatusBadRequest, "Conjure:InvalidArgument", "INVALID_ARGUMENT")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	rid := r.PathValue("rid")
	branch := r.PathValue("branch")

	s.mu.Lock()
	h, committed := s.heads[rid]
	s.mu.Unlock()

	if !committed && !fileExists(s.inputPath(rid)) {
		writeConjureError(w, http.StatusNotFound, "Datasets:DatasetNotFound", "NOT_FOUND")
		return
	}
	writeJSON(w, map[string]string{"name": branch, "transactionRid": h.txnID})
}

func (s *Server) handleReadTable(w http.ResponseWriter, r *http.Request) {
	rid := r.PathValue("rid")
	if got := r.URL.Query().Get("format"); got != "" && !strings.EqualFold(got, "CSV") {
		writeConjureError(w, http.StatusBadRequest, "Conjure:InvalidArgument", "INVALID_ARGUMENT")
		return
	}

	s.mu.Lock()
	h, ok := s.heads[rid]
	s.mu.Unlock()
	if ok {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write(h.data)
		return
	}

	b, err := os.ReadFile(s.inputPath(rid))
	if err != nil {
		writeConjureError(w, http.StatusNotFound, "Datasets:DatasetNotFound", "NOT_FOUND")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	_, _ = w.Write(b)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	rid := r.PathValue("rid")
	var req struct {
		TransactionType string `json:"transactionType"`
	}
	if b, _ := io.ReadAll(r.Body); len(b) > 0 {
		if err := json.Unmarshal(b, &req); err != nil {
			writeConjureError(w, http.StatusBadRequest, "Conjure:InvalidArgument", "INVALID_ARGUMENT")
			return
		}
	}
	if req.TransactionType != "" && req.TransactionType != "SNAPSHOT" {
		writeConjureError(w, http.StatusBadRequest, "Conjure:InvalidArgument", "INVALID_ARGUMENT")
		return
	}

	s.mu.Lock()
	txnID := fmt.Sprintf("ri.foundry.main.transaction.%06d", s.nextTxn)
	s.nextTxn++
	s.txns[txnID] = &txnState{
		datasetRID: rid,
		branch:     r.URL.Query().Get("branchName"),
		files:      make(map[string][]byte),
	}
	s.mu.Unlock()

	writeJSON(w, map[string]string{"rid": txnID, "transactionType": "SNAPSHOT", "status": "OPEN"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	rid := r.PathValue("rid")
	filePath, ok := strings.CutSuffix(r.PathValue("rest"), "/upload")
	if !ok || !isSafeFilePath(filePath) {
		writeConjureError(w, http.StatusBadRequest, "Conjure:InvalidArgument", "INVALID_ARGUMENT")
		return
	}
	txnID := r.URL.Query().Get("transactionRid")

	b, err := io.ReadAll(r.Body)
	if err != nil {
		writeConjureError(w, http.StatusBadRequest, "Conjure:InvalidArgument", "INVALID_ARGUMENT")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[txnID]
	if !ok || txn.datasetRID != rid {
		writeConjureError(w, http.StatusNotFound, "TransactionNotFound", "NOT_FOUND")
		return
	}
	if txn.committed {
		writeConjureError(w, http.StatusConflict, "TransactionNotOpen", "CONFLICT")
		return
	}
	txn.files[filePath] = b
	s.uploads = append(s.uploads, Upload{DatasetRID: rid, TxnID: txnID, FilePath: filePath, Bytes: b})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	rid := r.PathValue("rid")
	txnID := r.PathValue("txn")

	s.mu.Lock()
	txn, ok := s.txns[txnID]
	var data []byte
	switch {
	case !ok || txn.datasetRID != rid:
		s.mu.Unlock()
		writeConjureError(w, http.StatusNotFound, "TransactionNotFound", "NOT_FOUND")
		return
	case txn.committed:
		s.mu.Unlock()
		writeConjureError(w, http.StatusConflict, "TransactionNotOpen", "CONFLICT")
		return
	case len(txn.files) != 1:
		// readTable serves a single CSV per dataset head.
		s.mu.Unlock()
		writeConjureError(w, http.StatusBadRequest, "Conjure:InvalidArgument", "INVALID_ARGUMENT")
		return
	}
	for _, b := range txn.files {
		data = append([]byte(nil), b...)
	}
	txn.committed = true
	s.heads[rid] = head{txnID: txnID, data: data}
	s.mu.Unlock()

	if s.uploadDir != "" {
		dst := filepath.Join(s.uploadDir, rid, "_committed", "readTable.csv")
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err == nil {
			_ = os.WriteFile(dst, data, 0o644)
		}
	}
	writeJSON(w, map[string]string{"rid": txnID, "status": "COMMITTED"})
}

func (s *Server) inputPath(rid string) string {
	return filepath.Join(s.inputDir, rid+".csv")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeConjureError(w http.ResponseWriter, status int, name, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"errorCode":       code,
		"errorName":       name,
		"errorInstanceId": "mock",
	})
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func isSafeToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/\\") && s != "." && s != ".."
}

func isSafeFilePath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
