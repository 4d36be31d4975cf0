package api

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/plc-datalink/rfc1006/internal/apperr"
	"github.com/plc-datalink/rfc1006/internal/models"
)

// maxBodyBytes bounds a profile document upload.
const maxBodyBytes = 1 << 20

// readProfile decodes the request body into a profile. The body is either
// the document object itself or a JSON string holding it, which is what
// older clients send.
func readProfile(c *gin.Context) (models.MachineProfile, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return models.MachineProfile{}, apperr.Validation("read body: %v", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return models.MachineProfile{}, apperr.Validation("configuration data is required")
	}

	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return models.MachineProfile{}, apperr.Validation("configuration data must be a valid JSON object: %v", err)
		}
		data = bytes.TrimSpace([]byte(inner))
	}
	if len(data) == 0 || data[0] != '{' {
		return models.MachineProfile{}, apperr.Validation("configuration data must be a valid JSON object")
	}
	return models.ParseDocument(data)
}
