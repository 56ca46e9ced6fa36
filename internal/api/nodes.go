package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/rfm-gateway/internal/node"
)

// NodeListResponse is the /api/v1/nodes body.
type NodeListResponse struct {
	Nodes []node.Node `json:"nodes"`
	Count int         `json:"count"`
}

// handleListNodes returns every node the gateway has heard from.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	if s.nodes == nil {
		writeNotFound(w, "node registry not enabled")
		return
	}

	nodes, err := s.nodes.List(r.Context())
	if err != nil {
		s.logger.Error("listing nodes", "error", err, "request_id", requestIDFrom(r.Context()))
		writeInternalError(w, "failed to list nodes")
		return
	}
	writeJSON(w, http.StatusOK, NodeListResponse{Nodes: nodes, Count: len(nodes)})
}

// handleGetNode returns one node by its radio id.
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	if s.nodes == nil {
		writeNotFound(w, "node registry not enabled")
		return
	}

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 || id > 99 {
		writeBadRequest(w, "node id must be a number between 1 and 99")
		return
	}

	n, err := s.nodes.Get(r.Context(), id)
	if errors.Is(err, node.ErrNodeNotFound) {
		writeNotFound(w, "node not found")
		return
	}
	if err != nil {
		s.logger.Error("getting node", "node", id, "error", err, "request_id", requestIDFrom(r.Context()))
		writeInternalError(w, "failed to get node")
		return
	}
	writeJSON(w, http.StatusOK, n)
}
