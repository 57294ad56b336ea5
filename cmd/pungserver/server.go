package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/pung-project/pung/internal/engine"
	"github.com/pung-project/pung/internal/rpc"
)

// Server exposes an *engine.Engine's eight rpc.Channel operations as
// one HTTP/JSON POST endpoint apiece, following keysaver-server/server.go's
// writeJSON/mux-per-route convention.
type Server struct {
	eng *engine.Engine
}

func NewServer(eng *engine.Engine) *Server {
	return &Server{eng: eng}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		writeJSON(w, http.StatusOK, map[string]any{
			"error": map[string]string{"code": rpcErr.Code, "message": rpcErr.Message},
		})
		return
	}
	log.Printf("[server] internal error: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error": map[string]string{"code": "internal", "message": err.Error()},
	})
}

func writeResult(w http.ResponseWriter, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": json.RawMessage(raw)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":{"code":"method_not_allowed"}}`, http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"code": "bad_request", "message": err.Error()},
		})
		return false
	}
	return true
}

// Handler returns the HTTP handler with one route per rpc.Channel
// operation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/close", s.handleClose)
	mux.HandleFunc("/change_extra", s.handleChangeExtra)
	mux.HandleFunc("/send", s.handleSend)
	mux.HandleFunc("/retr", s.handleRetrieve)
	mux.HandleFunc("/get_mapping", s.handleGetMapping)
	mux.HandleFunc("/get_bloom", s.handleGetBloom)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "pungserver"})
}

type registerRequest struct {
	Rate uint32 `json:"rate"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.eng.Register(req.Rate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]uint64{"id": id})
}

type idRequest struct {
	ID uint64 `json:"id"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !decodeBody(w, r, &req) {
		return
	}
	round, err := s.eng.Sync(req.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]uint64{"round": round})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.eng.Close(req.ID); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, struct{}{})
}

type changeExtraRequest struct {
	Extra uint64 `json:"extra"`
}

func (s *Server) handleChangeExtra(w http.ResponseWriter, r *http.Request) {
	var req changeExtraRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.eng.ChangeExtra(req.Extra); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, struct{}{})
}

type sendRequest struct {
	ID     uint64   `json:"id"`
	Round  uint64   `json:"round"`
	Tuples [][]byte `json:"tuples"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.eng.Send(req.ID, req.Round, req.Tuples)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req rpc.RetrieveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.eng.Retrieve(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result)
}

type roundRequest struct {
	Round uint64 `json:"round"`
}

func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	var req roundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.eng.GetMapping(req.Round)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result)
}

func (s *Server) handleGetBloom(w http.ResponseWriter, r *http.Request) {
	var req roundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.eng.GetBloom(req.Round)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result)
}
