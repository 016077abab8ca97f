package auditor

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/veralog-io/veralog-go/pkg/uri"
)

// Handler exposes the auditor's verdicts over HTTP.
type Handler struct {
	auditor *Auditor
	logger  *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(a *Auditor, logger *zap.Logger) *Handler {
	return &Handler{auditor: a, logger: logger}
}

// Register mounts the audit routes on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/audits", h.ListAudits)
	rg.GET("/audits/:db", h.GetAudit)
}

// ListAudits handles GET /v1/audits — the latest verdict per database.
func (h *Handler) ListAudits(c *gin.Context) {
	results := h.auditor.Results()

	tampered := 0
	for _, r := range results {
		if r.Status == StatusTamper {
			tampered++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"audits":   results,
		"tampered": tampered,
	})
}

// GetAudit handles GET /v1/audits/:db — the latest verdict for one database.
func (h *Handler) GetAudit(c *gin.Context) {
	db := c.Param("db")
	if err := uri.ValidateDatabase(db); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, ok := h.auditor.Result(db)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no audit recorded for database"})
		return
	}

	c.JSON(http.StatusOK, res)
}
