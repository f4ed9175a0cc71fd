package models

type QueryRequest struct {
	Query  string `json:"query" binding:"required"`
	Vision bool   `json:"vision"`
}

type ChatRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"sessionID,omitempty"`
}
