package handler

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"open-data-insight/internal/model"
)

// ConnectionRequest is the writable part of a DatasetConnection. Unlike the
// stored connection it carries the API key value.
type ConnectionRequest struct {
	PortalName      string                 `json:"portal_name" example:"Open Data Portal"`
	DatasetID       string                 `json:"dataset_id" example:"air-quality"`
	BaseURL         string                 `json:"base_url" example:"https://data.example.org"`
	Path            string                 `json:"path" example:"/api/v1/rows"`
	APIKeyName      string                 `json:"api_key_name,omitempty" example:"token"`
	APIKeyValue     string                 `json:"api_key_value,omitempty"`
	QueryParameters []model.QueryParameter `json:"query_parameters,omitempty"`
	DataFormat      model.DataFormat       `json:"data_format,omitempty" example:"auto"`
	Pagination      *model.Pagination      `json:"pagination,omitempty"`
}

func (req ConnectionRequest) connection() *model.DatasetConnection {
	conn := &model.DatasetConnection{
		PortalName:      req.PortalName,
		DatasetID:       req.DatasetID,
		BaseURL:         req.BaseURL,
		Path:            req.Path,
		APIKeyName:      req.APIKeyName,
		APIKeyValue:     req.APIKeyValue,
		QueryParameters: append([]model.QueryParameter{}, req.QueryParameters...),
		DataFormat:      req.DataFormat,
	}
	if req.Pagination != nil {
		p := *req.Pagination
		conn.Pagination = &p
	}
	return conn
}

// ConnectionList wraps a list of connections.
type ConnectionList struct {
	Items []*model.DatasetConnection `json:"items"`
	Count int                        `json:"count"`
}

func (h *Handler) readConnection(w http.ResponseWriter, r *http.Request) (*model.DatasetConnection, bool) {
	var req ConnectionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return nil, false
	}
	conn := req.connection()
	if err := conn.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return conn, true
}

// TestConnection probes a feed without saving it.
// @Summary Test a connection
// @Description Issue one request against the feed and report status, detected format, schema fields and a preview
// @Tags connections
// @Accept json
// @Produce json
// @Param connection body ConnectionRequest true "Request template"
// @Success 200 {object} model.ConnectionTestResult
// @Failure 400 {object} ErrorResponse
// @Router /connections/test [post]
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.readConnection(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.tester.Test(r.Context(), conn))
}

// CreateConnection tests a feed and saves it when the test succeeds.
// @Summary Create a connection
// @Description Test the request template and save it with the test result; a failed test is rejected
// @Tags connections
// @Accept json
// @Produce json
// @Param connection body ConnectionRequest true "Request template"
// @Success 201 {object} model.DatasetConnection
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /connections [post]
func (h *Handler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.readConnection(w, r)
	if !ok {
		return
	}

	result := h.tester.Test(r.Context(), conn)
	if !result.Success {
		detail := "connection test failed"
		if result.Error != "" {
			detail += ": " + result.Error
		}
		writeError(w, http.StatusBadRequest, detail)
		return
	}
	conn.LastTestResult = &result

	if err := h.repo.CreateConnection(r.Context(), conn); err != nil {
		h.writeServiceError(w, r, err, "connection not found")
		return
	}
	h.logger.Info("connection created",
		zap.String("connection_id", conn.ID),
		zap.String("portal", conn.PortalName),
		zap.String("dataset_id", conn.DatasetID),
	)
	writeJSON(w, http.StatusCreated, conn)
}

// ListConnections returns every saved connection.
// @Summary List connections
// @Tags connections
// @Produce json
// @Success 200 {object} ConnectionList
// @Failure 500 {object} ErrorResponse
// @Router /connections [get]
func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.repo.ListConnections(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "connections not found")
		return
	}
	if conns == nil {
		conns = []*model.DatasetConnection{}
	}
	writeJSON(w, http.StatusOK, ConnectionList{Items: conns, Count: len(conns)})
}

// GetConnection returns one connection.
// @Summary Get a connection
// @Tags connections
// @Produce json
// @Param id path string true "Connection ID"
// @Success 200 {object} model.DatasetConnection
// @Failure 404 {object} ErrorResponse
// @Router /connections/{id} [get]
func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.repo.GetConnection(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// GetAnalysis returns the summary of the latest completed ingestion.
// @Summary Get the latest analysis
// @Tags analysis
// @Produce json
// @Param id path string true "Connection ID"
// @Success 200 {object} model.IngestionSummary
// @Failure 404 {object} ErrorResponse
// @Router /connections/{id}/analysis [get]
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	conn, err := h.repo.GetConnection(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err, "connection not found")
		return
	}
	if conn.LastIngestionSummary == nil {
		writeError(w, http.StatusNotFound, "no completed ingestion for this connection")
		return
	}
	writeJSON(w, http.StatusOK, conn.LastIngestionSummary)
}
