// Package indexertest provides an in-process Etherscan-style explorer for
// tests.
package indexertest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/OKaluzny/wallet-engine/pkg/models"
	"github.com/go-chi/chi/v5"
)

// Server answers balance and txlist queries from in-memory fixtures.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	balances map[string]string
	txs      map[string][]models.Transaction
	failures map[string]Failure
	requests []*http.Request
}

// Failure overrides the reply to a given action.
type Failure struct {
	// StatusCode, when non-zero, replies with this HTTP status and no body.
	StatusCode int
	// Status and Message, when StatusCode is zero, form an application error
	// envelope.
	Status  string
	Message string
	// Handler, when set, replaces the reply entirely.
	Handler http.HandlerFunc
}

// NewServer starts a server. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		balances: make(map[string]string),
		txs:      make(map[string][]models.Transaction),
		failures: make(map[string]Failure),
	}
	r := chi.NewRouter()
	r.Get("/api", s.handle)
	s.Server = httptest.NewServer(r)
	return s
}

// Chain returns a chain descriptor pointing at the server.
func (s *Server) Chain() models.Chain {
	return models.Chain{
		Name:       "testnet",
		ID:         models.ChainRopsten,
		IndexerURL: s.URL + "/api",
	}
}

// SetBalance sets the wei balance reported for address.
func (s *Server) SetBalance(address, wei string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[strings.ToLower(address)] = wei
}

// AddTransaction records tx in the history of both its endpoints.
func (s *Server) AddTransaction(tx models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, 2)
	for _, addr := range []string{tx.From, tx.To, tx.ContractAddress} {
		key := strings.ToLower(addr)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		s.txs[key] = append(s.txs[key], tx)
	}
}

// Fail overrides the reply to action until Clear is called.
func (s *Server) Fail(action string, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[action] = f
}

// Clear removes the override for action.
func (s *Server) Clear(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, action)
}

// Requests returns the requests received so far.
func (s *Server) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*http.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action := q.Get("action")
	address := strings.ToLower(q.Get("address"))

	s.mu.Lock()
	s.requests = append(s.requests, r.Clone(r.Context()))
	failure, failing := s.failures[action]
	balance, hasBalance := s.balances[address]
	txs := append([]models.Transaction(nil), s.txs[address]...)
	s.mu.Unlock()

	if failing {
		switch {
		case failure.Handler != nil:
			failure.Handler(w, r)
		case failure.StatusCode != 0:
			w.WriteHeader(failure.StatusCode)
		default:
			writeJSON(w, failure.Status, failure.Message, "")
		}
		return
	}

	switch action {
	case "balance":
		if !hasBalance {
			balance = "0"
		}
		writeJSON(w, "1", "OK", balance)
	case "txlist":
		if len(txs) == 0 {
			writeJSON(w, "0", "No transactions found", []models.Transaction{})
			return
		}
		writeJSON(w, "1", "OK", txs)
	default:
		writeJSON(w, "0", "NOTOK", "Error! Missing Or invalid Action name")
	}
}

func writeJSON(w http.ResponseWriter, status, message string, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"message": message,
		"result":  result,
	})
}
