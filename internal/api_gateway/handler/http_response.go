package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/settleline-recon-engine/internal/api_gateway/middleware"
)

// Response is the envelope every endpoint returns. Data and Error are
// usually exclusive; a completed job whose counters drifted from the stored
// results carries both, so clients get the aggregation alongside the defect.
type Response struct {
	Data          interface{} `json:"data,omitempty"`
	Error         *ErrorInfo  `json:"error,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Meta          *MetaInfo   `json:"meta,omitempty"`
}

// ErrorInfo is the machine-readable error half of the envelope
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MetaInfo carries page/offset pagination metadata. The audit trail uses
// it; keyset-paginated lists return a cursor in their payload instead.
type MetaInfo struct {
	Page       int `json:"page,omitempty"`
	PerPage    int `json:"per_page,omitempty"`
	TotalPages int `json:"total_pages,omitempty"`
	TotalItems int `json:"total_items,omitempty"`
}

// NewResponse wraps data in an envelope without sending it, for handlers
// that need to attach an error alongside the payload
func NewResponse(data interface{}) *Response {
	return &Response{Data: data}
}

// RespondWithData sends the envelope with the given status
func RespondWithData(c *gin.Context, statusCode int, data interface{}) {
	response := NewResponse(data)
	response.CorrelationID = middleware.GetCorrelationID(c)
	c.JSON(statusCode, response)
}

// RespondWithError sends an error envelope with the given status and code
func RespondWithError(c *gin.Context, statusCode int, code, message string) {
	response := &Response{
		Error:         &ErrorInfo{Code: code, Message: message},
		CorrelationID: middleware.GetCorrelationID(c),
	}
	c.JSON(statusCode, response)
}

// RespondWithPaginatedData sends one offset-paginated page with totals
func RespondWithPaginatedData(c *gin.Context, statusCode int, data interface{}, page, perPage, totalItems int) {
	totalPages := totalItems / perPage
	if totalItems%perPage > 0 {
		totalPages++
	}
	response := &Response{
		Data: data,
		Meta: &MetaInfo{
			Page:       page,
			PerPage:    perPage,
			TotalPages: totalPages,
			TotalItems: totalItems,
		},
		CorrelationID: middleware.GetCorrelationID(c),
	}
	c.JSON(statusCode, response)
}

// RespondOK sends a 200 OK response with data
func RespondOK(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusOK, data)
}

// RespondCreated sends a 201 Created response with data
func RespondCreated(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusCreated, data)
}

// RespondAccepted sends a 202 Accepted response with data
func RespondAccepted(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusAccepted, data)
}

// RespondBadRequest sends a 400 Bad Request response
func RespondBadRequest(c *gin.Context, message string) {
	RespondWithError(c, http.StatusBadRequest, "BAD_REQUEST", message)
}

// RespondNotFound sends a 404 Not Found response
func RespondNotFound(c *gin.Context, message string) {
	if message == "" {
		message = "Resource not found"
	}
	RespondWithError(c, http.StatusNotFound, "NOT_FOUND", message)
}

// RespondConflict sends a 409 Conflict response
func RespondConflict(c *gin.Context, message string) {
	RespondWithError(c, http.StatusConflict, "CONFLICT", message)
}

// RespondInternalError sends a 500 Internal Server Error response
func RespondInternalError(c *gin.Context) {
	RespondWithError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "An internal server error occurred")
}
