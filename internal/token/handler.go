package token

import (
	"errors"
	"net/http"
	"time"

	"webcall/internal/credentials"
	"webcall/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Path is where the token endpoint is mounted.
const Path = "/api/token"

// Handler exposes the Minter over HTTP. No authentication beyond the
// credentials themselves.
type Handler struct {
	Minter *Minter
	Now    func() time.Time
}

type mintRequest struct {
	AccountID     string `json:"accountId"`
	APIKeyID      string `json:"apiKeyId"`
	APIKeySecret  string `json:"apiKeySecret"`
	ApplicationID string `json:"applicationId"`
}

// Register mounts the endpoint. Every method other than POST gets a 405.
func (h Handler) Register(r gin.IRoutes) {
	r.Any(Path, h.serve)
}

func (h Handler) serve(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Header("Allow", http.MethodPost)
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}
	h.Mint(c)
}

func (h Handler) Mint(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Minter == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token minter not configured"})
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	set := credentials.Set{
		AccountID:     req.AccountID,
		APIKeyID:      req.APIKeyID,
		APIKeySecret:  req.APIKeySecret,
		ApplicationID: req.ApplicationID,
	}.Trimmed()

	grant, err := h.Minter.Mint(c.Request.Context(), now(), set)
	switch {
	case errors.Is(err, ErrMissingCredentials):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": MissingCredentialsMessage})
		return
	case err != nil:
		log.Error("token mint failed", "account_id", set.AccountID, "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, grant)
}
