// Package admin serves the HTTP diagnostics surface of a devsession
// process: health, the live session listing and prometheus metrics.
package admin

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/devsession/internal/auth"
	"github.com/danmuck/devsession/internal/login"
	"github.com/danmuck/devsession/internal/node"
	"github.com/danmuck/devsession/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

type Config struct {
	// Name labels HTTP metrics for this process.
	Name        string
	CORSOrigins []string
	// Token, when set, is required as a bearer token on session views.
	Token string
}

// NodeStatus is one role's entry in /health.
type NodeStatus struct {
	Node     string `json:"node"`
	Role     string `json:"role"`
	Sessions int    `json:"sessions"`
	Tasks    int    `json:"tasks"`
	Pending  int    `json:"pending"`
}

// SessionList is one role's entry in /sessions.
type SessionList struct {
	Node     string             `json:"node"`
	Role     string             `json:"role"`
	Count    int                `json:"count"`
	Sessions []login.ListingRow `json:"sessions"`
}

type Admin struct {
	cfg      Config
	nodes    []node.Node
	router   *gin.Engine
	appeared time.Time
}

func New(cfg Config, nodes ...node.Node) *Admin {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "devsession"
	}
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminAccess(cfg.Name, log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		cfg:      cfg,
		nodes:    nodes,
		router:   r,
		appeared: time.Now(),
	}
	a.registerRoutes()
	return a
}

func (a *Admin) Router() *gin.Engine {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		statuses := make([]NodeStatus, 0, len(a.nodes))
		for _, n := range a.nodes {
			statuses = append(statuses, NodeStatus{
				Node:     n.NodeID(),
				Role:     n.Role(),
				Sessions: n.Registry().Size(),
				Tasks:    n.Tasks(),
				Pending:  n.PendingTransactions(),
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.appeared).String(),
			"version": version,
			"nodes":   statuses,
		})
	})

	sessions := a.router.Group("/", a.requireToken())
	sessions.GET("/sessions", func(c *gin.Context) {
		nodes, ok := a.selectNodes(c)
		if !ok {
			return
		}
		out := make([]SessionList, 0, len(nodes))
		for _, n := range nodes {
			rows := login.ListingRows(n.Registry())
			out = append(out, SessionList{
				Node:     n.NodeID(),
				Role:     n.Role(),
				Count:    len(rows),
				Sessions: rows,
			})
		}
		c.JSON(http.StatusOK, gin.H{"nodes": out})
	})

	sessions.GET("/sessions.txt", func(c *gin.Context) {
		nodes, ok := a.selectNodes(c)
		if !ok {
			return
		}
		var buf bytes.Buffer
		for _, n := range nodes {
			fmt.Fprintf(&buf, "# %s (%s)\n", n.NodeID(), n.Role())
			if err := login.WriteListing(&buf, n.Registry()); err != nil {
				c.String(http.StatusInternalServerError, err.Error())
				return
			}
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (a *Admin) requireToken() gin.HandlerFunc {
	token := strings.TrimSpace(a.cfg.Token)
	if token == "" {
		return func(c *gin.Context) { c.Next() }
	}
	validator := auth.StaticToken{Token: token}
	return func(c *gin.Context) {
		if err := auth.Check(validator, c.GetHeader("Authorization")); err != nil {
			log.Warn().Err(err).Str("path", c.Request.URL.Path).Str("remote", c.ClientIP()).Msg("admin.Admin rejected request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// selectNodes applies the optional ?role= filter.
func (a *Admin) selectNodes(c *gin.Context) ([]node.Node, bool) {
	role := strings.TrimSpace(c.Query("role"))
	if role == "" {
		return a.nodes, true
	}
	var out []node.Node
	for _, n := range a.nodes {
		if n.Role() == role {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no node with role " + role})
		return nil, false
	}
	return out, true
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
