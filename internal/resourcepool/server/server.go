// Package server exposes a resourcepool.Pool over the same hand-rolled
// HTTP/1.0 transport the teacher used for its demo job API, so that a
// job's own subprocess can introspect or (for diagnostic tooling)
// exercise the pool without sharing memory with the scheduler process.
package server

import (
	"bufio"
	"encoding/json"
	"net"
	"strconv"

	"testexec/internal/http10"
	"testexec/internal/job"
	"testexec/internal/resourcepool"
	"testexec/internal/util"
)

// Server serves GET /types, /count, /status and POST /accommodates,
// /checkout, /checkin against an in-process Pool.
type Server struct {
	Pool *resourcepool.Pool
}

func New(pool *resourcepool.Pool) *Server {
	return &Server{Pool: pool}
}

// ListenAndServe accepts connections on addr (network "unix" or "tcp")
// until the listener is closed or the process exits.
func (s *Server) ListenAndServe(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	defer ln.Close()
	return s.Serve(ln)
}

// Serve accepts connections on an already-bound listener until it is
// closed, letting callers (tests, the poolserver command) choose an
// ephemeral port or a pre-created socket.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)
	req, err := http10.ParseRequest(r)
	if err != nil {
		http10.WriteErrorJSON(c, 400, "bad_request", err.Error(), nil)
		return
	}

	path, _ := http10.SplitTarget(req.Target)
	reqID := util.NewReqID()
	extra := map[string]string{"X-Request-Id": reqID}

	var body []byte
	if cl := req.Header["content-length"]; cl != "" {
		if n, convErr := strconv.Atoi(cl); convErr == nil && n > 0 {
			body, _ = http10.ReadBody(r, n)
		}
	}

	switch {
	case req.Method == "GET" && path == "/types":
		writeJSON(c, 200, map[string]any{"types": s.Pool.Types()}, extra)
	case req.Method == "GET" && path == "/count":
		q := http10.ParseQuery(splitQuery(req.Target))
		writeJSON(c, 200, map[string]any{"type": q["type"], "count": s.Pool.Count(q["type"])}, extra)
	case req.Method == "GET" && path == "/status":
		writeJSON(c, 200, map[string]any{"empty": s.Pool.Empty(), "types": s.Pool.Types()}, extra)
	case req.Method == "POST" && path == "/accommodates":
		s.handleAccommodates(c, body, extra)
	case req.Method == "POST" && path == "/checkout":
		s.handleCheckout(c, body, extra)
	case req.Method == "POST" && path == "/checkin":
		s.handleCheckin(c, body, extra)
	default:
		http10.WriteErrorJSON(c, 404, "not_found", path, extra)
	}
}

func splitQuery(target string) string {
	_, q := http10.SplitTarget(target)
	return q
}

func (s *Server) handleAccommodates(c net.Conn, body []byte, extra map[string]string) {
	var req job.ResourceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http10.WriteErrorJSON(c, 400, "bad_request", err.Error(), extra)
		return
	}
	res, err := s.Pool.Accommodates(req)
	if err != nil {
		http10.WriteErrorJSON(c, 409, "empty_pool", err.Error(), extra)
		return
	}
	writeJSON(c, 200, map[string]any{"ok": res.Ok, "reason": res.Reason}, extra)
}

func (s *Server) handleCheckout(c net.Conn, body []byte, extra map[string]string) {
	var req job.ResourceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http10.WriteErrorJSON(c, 400, "bad_request", err.Error(), extra)
		return
	}
	acq, err := s.Pool.Checkout(req)
	if err != nil {
		http10.WriteErrorJSON(c, 404, "unavailable", err.Error(), extra)
		return
	}
	writeJSON(c, 200, acq, extra)
}

func (s *Server) handleCheckin(c net.Conn, body []byte, extra map[string]string) {
	var acq job.Acquired
	if err := json.Unmarshal(body, &acq); err != nil {
		http10.WriteErrorJSON(c, 400, "bad_request", err.Error(), extra)
		return
	}
	s.Pool.Checkin(acq)
	writeJSON(c, 200, map[string]any{"ok": true}, extra)
}

func writeJSON(c net.Conn, status int, v any, extra map[string]string) {
	raw, err := json.Marshal(v)
	if err != nil {
		http10.WriteErrorJSON(c, 500, "internal_error", err.Error(), extra)
		return
	}
	http10.WriteJSONH(c, status, string(raw), extra)
}
