package server

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/tournevent/delivery/pkg/agency"
)

type connectionResult struct {
	AgencyID string `json:"agencyId"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

func masked(configs []agency.Config) []agency.Config {
	out := make([]agency.Config, len(configs))
	for i, cfg := range configs {
		out[i] = cfg.Masked()
	}
	return out
}

func (s *Server) listAgencies(c *gin.Context) {
	ok(c, masked(s.agencies.All(c.Request.Context())))
}

func (s *Server) listEnabledAgencies(c *gin.Context) {
	ok(c, masked(s.agencies.GetEnabledAgencies(c.Request.Context())))
}

func (s *Server) getAgency(c *gin.Context) {
	id := c.Param("id")
	cfg, found := s.agencies.GetAgencyConfig(c.Request.Context(), id)
	if !found {
		s.writeError(c, agency.NotFoundError(id))
		return
	}
	ok(c, cfg.Masked())
}

func (s *Server) updateAgency(c *gin.Context) {
	var update agency.ConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		fail(c, http.StatusBadRequest, codeBadRequest, err.Error(), nil)
		return
	}

	cfg, err := s.agencies.UpdateAgencyConfig(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, cfg.Masked())
}

func (s *Server) testConnection(c *gin.Context) {
	id := c.Param("id")
	if err := s.agencies.TestConnection(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	ok(c, connectionResult{AgencyID: id, OK: true})
}

func (s *Server) testAllConnections(c *gin.Context) {
	results := s.agencies.TestAllConnections(c.Request.Context())

	out := make([]connectionResult, 0, len(results))
	for id, err := range results {
		r := connectionResult{AgencyID: id, OK: err == nil}
		if err != nil {
			r.Error = err.Error()
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgencyID < out[j].AgencyID })
	ok(c, out)
}
