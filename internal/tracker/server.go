package tracker

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"bitpeer/internal/logging"
)

// responsePeer is one entry in an announce response's peer list.
type responsePeer struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

// announceResponse is the JSON body returned from a successful announce.
type announceResponse struct {
	Interval int            `json:"interval"`
	Peers    []responsePeer `json:"peers"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server answers GET /announce requests against a shared State. Every other
// method or path is rejected. One handler runs per accepted connection,
// generalizing dropeer's single shared *Tracker http.Handler over
// net/http's connection-per-request model (spec §4.3, §5).
type Server struct {
	state *State
	mux   *http.ServeMux
}

// NewServer builds an HTTP handler serving /announce against state.
func NewServer(state *State) *Server {
	s := &Server{state: state, mux: http.NewServeMux()}
	s.mux.HandleFunc("/announce", s.handleAnnounce)
	s.mux.HandleFunc("/", s.handleNotFound)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	infohash := q.Get("infohash")
	peerID := q.Get("peer_id")
	portStr := q.Get("port")
	event := q.Get("event")

	if infohash == "" || peerID == "" || portStr == "" {
		writeError(w, http.StatusBadRequest, "missing infohash|peer_id|port")
		return
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad port")
		return
	}

	ip, err := remoteIP(r)
	if err != nil {
		logging.Warn("tracker: could not determine remote ip for %s: %v", r.RemoteAddr, err)
		writeError(w, http.StatusBadRequest, "could not determine remote address")
		return
	}

	s.state.GC()

	if event == "stopped" {
		s.state.Remove(infohash, ip, uint16(port), peerID)
	} else {
		s.state.Upsert(infohash, ip, uint16(port), peerID)
	}

	peers := s.state.ListExcept(infohash, ip, uint16(port), peerID)
	resp := announceResponse{Interval: DefaultInterval, Peers: make([]responsePeer, 0, len(peers))}
	for _, p := range peers {
		resp.Peers = append(resp.Peers, responsePeer{IP: p.IP, Port: p.Port})
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if err := enc.Encode(resp); err != nil {
		logging.Error("tracker: failed writing announce response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: reason})
}

func remoteIP(r *http.Request) (string, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "", fmt.Errorf("split remote addr %q: %w", r.RemoteAddr, err)
	}
	return host, nil
}
