package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/inspectyard/internal/roster"
)

type addAgentRequest struct {
	Phone           string   `json:"phone"`
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	Zone            string   `json:"zone"`
	Specializations []string `json:"specializations"`
	ExperienceYears int      `json:"experience_years"`
	Rating          float64  `json:"rating"`
}

type updateAgentRequest struct {
	Name            *string  `json:"name"`
	Email           *string  `json:"email"`
	Zone            *string  `json:"zone"`
	Specializations []string `json:"specializations"`
	ExperienceYears *int     `json:"experience_years"`
	Rating          *float64 `json:"rating"`
}

type agentStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func handleListAgents(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		agents, err := roster.List(c.Request.Context(), opts.DB, c.Query("status"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"agents": agents, "count": len(agents)})
	}
}

func handleAddAgent(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addAgentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if req.Phone == "" {
			badRequest(c, "phone is required")
			return
		}
		ctx := c.Request.Context()
		a, err := roster.Add(ctx, opts.DB, roster.AddOpts{
			Address:         req.Phone,
			Name:            req.Name,
			Email:           req.Email,
			Zone:            req.Zone,
			Specializations: req.Specializations,
			ExperienceYears: req.ExperienceYears,
			Rating:          req.Rating,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		opts.OnRosterChange(ctx)
		c.JSON(http.StatusCreated, a)
	}
}

func handleGetAgent(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := roster.Get(c.Request.Context(), opts.DB, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

func handleUpdateAgent(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateAgentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		a, err := roster.Update(c.Request.Context(), opts.DB, c.Param("id"), roster.UpdateOpts{
			Name:            req.Name,
			Email:           req.Email,
			Zone:            req.Zone,
			Specializations: req.Specializations,
			ExperienceYears: req.ExperienceYears,
			Rating:          req.Rating,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

func handleRemoveAgent(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := roster.Remove(ctx, opts.DB, c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		opts.OnRosterChange(ctx)
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

func handleAgentStatus(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req agentStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		ctx := c.Request.Context()
		a, err := roster.SetStatus(ctx, opts.DB, c.Param("id"), req.Status)
		if err != nil {
			writeError(c, err)
			return
		}
		opts.OnRosterChange(ctx)
		c.JSON(http.StatusOK, a)
	}
}
