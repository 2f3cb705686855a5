// Package api serves the vote service over HTTP under
// /api/services/voteservice/v1/, plus Prometheus metrics at /metrics.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voting/chaincode/sealedvote/ledger"
	"github.com/voting/chaincode/sealedvote/metrics"
	"github.com/voting/chaincode/sealedvote/node"
	"github.com/voting/chaincode/sealedvote/schema"
	"github.com/voting/chaincode/sealedvote/transactions"
)

// Prefix is the route prefix of every endpoint.
const Prefix = "/api/services/voteservice/v1/"

const maxBodySize = 1 << 20

// TransactionResponse is returned by every POST endpoint.
type TransactionResponse struct {
	TxHash schema.Hash `json:"tx_hash"`
}

type Server struct {
	node            *node.Node
	disclosureToken string
	logger          *zap.Logger
	mux             *http.ServeMux
}

// NewServer routes requests to n. An empty disclosureToken disables results_dec.
func NewServer(n *node.Node, disclosureToken string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{node: n, disclosureToken: disclosureToken, logger: logger, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET "+Prefix+"candidate", s.handleGetCandidate)
	s.mux.HandleFunc("GET "+Prefix+"candidates", s.handleGetCandidates)
	s.mux.HandleFunc("GET "+Prefix+"voter", s.handleGetVoter)
	s.mux.HandleFunc("GET "+Prefix+"voters", s.handleGetVoters)
	s.mux.HandleFunc("GET "+Prefix+"votes", s.handleGetVotes)
	s.mux.HandleFunc("GET "+Prefix+"results", s.handleGetResults)
	s.mux.HandleFunc("GET "+Prefix+"results_dec", s.handleGetResultsDecrypted)
	s.mux.HandleFunc("GET "+Prefix+"block", s.handleGetBlock)
	s.mux.HandleFunc("GET "+Prefix+"transaction", s.handleGetTransaction)
	s.mux.HandleFunc("POST "+Prefix+"candidates", s.handlePostTransaction)
	s.mux.HandleFunc("POST "+Prefix+"voters", s.handlePostTransaction)
	s.mux.HandleFunc("POST "+Prefix+"votes", s.handlePostTransaction)
	s.mux.Handle("GET /metrics", metrics.Handler())

	return s
}

// ServeHTTP tags each request with an id and logs it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)

	s.logger.Debug("request served",
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", rec.status),
		zap.Duration("elapsed", time.Since(start)))
}

// Start listens on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func identityParam(w http.ResponseWriter, r *http.Request) (schema.Identity, bool) {
	id, err := schema.ParseIdentity(r.URL.Query().Get("pub_key"))
	if err != nil {
		http.Error(w, "Invalid pub_key", http.StatusBadRequest)
		return id, false
	}
	return id, true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	http.Error(w, "Internal error", http.StatusInternalServerError)
}

func (s *Server) handleGetCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := identityParam(w, r)
	if !ok {
		return
	}
	c, err := s.node.Reader().Candidate(id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if c == nil {
		http.Error(w, "Candidate not found", http.StatusNotFound)
		return
	}
	writeJSON(w, c)
}

func (s *Server) handleGetCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.node.Reader().ListCandidates()
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, candidates)
}

func (s *Server) handleGetVoter(w http.ResponseWriter, r *http.Request) {
	id, ok := identityParam(w, r)
	if !ok {
		return
	}
	v, err := s.node.Reader().Voter(id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if v == nil {
		http.Error(w, "Voter not found", http.StatusNotFound)
		return
	}
	writeJSON(w, v)
}

func (s *Server) handleGetVoters(w http.ResponseWriter, r *http.Request) {
	voters, err := s.node.Reader().ListVoters()
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, voters)
}

func (s *Server) handleGetVotes(w http.ResponseWriter, r *http.Request) {
	ballots, err := s.node.Reader().ListSealedBallots()
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, ballots)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	report, err := s.node.Tallies()
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) authorizedForDisclosure(r *http.Request) bool {
	if s.disclosureToken == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.disclosureToken)) == 1
}

func (s *Server) handleGetResultsDecrypted(w http.ResponseWriter, r *http.Request) {
	if !s.authorizedForDisclosure(r) {
		http.Error(w, "Disclosure not permitted", http.StatusForbidden)
		return
	}
	disclosed, err := s.node.Disclose()
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, disclosed)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := identityParam(w, r)
	if !ok {
		return
	}
	height, err := s.node.VoteHeight(id)
	if errors.Is(err, node.ErrNotFound) {
		http.Error(w, "Block not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, height)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	hash, err := schema.ParseHash(r.URL.Query().Get("hash"))
	if err != nil {
		http.Error(w, "Invalid hash", http.StatusBadRequest)
		return
	}
	st, err := s.node.TxStatus(hash)
	if errors.Is(err, node.ErrNotFound) {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, st)
}

// handlePostTransaction accepts a signed envelope of any operation kind; the
// three POST routes are interchangeable.
func (s *Server) handlePostTransaction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	tx, err := transactions.Decode(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hash, err := s.node.Submit(tx)
	switch {
	case errors.Is(err, transactions.ErrInvalidSignature):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, TransactionResponse{TxHash: hash})
}
