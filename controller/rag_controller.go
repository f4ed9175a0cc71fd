package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github/itish2003/multimodal-rag/models"
	"github/itish2003/multimodal-rag/services"
)

// QueryAnswerer answers single questions from the index.
type QueryAnswerer interface {
	GenerateResponse(ctx context.Context, query string, useVision bool) models.Response
}

// Chatter holds conversational sessions.
type Chatter interface {
	Chat(ctx context.Context, message, sessionID string) (*models.ChatResponse, error)
}

// DocumentLibrary stores uploaded PDFs.
type DocumentLibrary interface {
	Save(filename string, r io.Reader) (string, error)
	List() ([]services.DocumentInfo, error)
	Delete(filename string) error
}

// DocumentIndexer ingests library documents and drops their records.
type DocumentIndexer interface {
	services.Ingester
	services.SourceRemover
}

// IndexManager exposes maintenance of the vector index.
type IndexManager interface {
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) (int, error)
}

var (
	_ QueryAnswerer   = (*services.QueryProcessor)(nil)
	_ Chatter         = (*services.ChatService)(nil)
	_ DocumentIndexer = (*services.FileIndexingService)(nil)
	_ DocumentLibrary = (*services.DocumentLibrary)(nil)
	_ IndexManager    = (*services.VectorStore)(nil)
)

// RAGController handles the HTTP requests of the API and delegates the work
// to the service layer.
type RAGController struct {
	query    QueryAnswerer
	chat     Chatter
	indexer  DocumentIndexer
	library  DocumentLibrary
	index    IndexManager
}

func NewRAGController(query QueryAnswerer, chat Chatter, indexer DocumentIndexer, library DocumentLibrary, index IndexManager) *RAGController {
	return &RAGController{
		query:    query,
		chat:     chat,
		indexer:  indexer,
		library:  library,
		index:    index,
	}
}

// UploadDocument is the handler for POST /api/v1/documents. It stores the
// multipart "file" in the library and ingests it.
func (c *RAGController) UploadDocument(ctx *gin.Context) {
	header, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Missing multipart field 'file': " + err.Error()})
		return
	}
	file, err := header.Open()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Could not read upload: " + err.Error()})
		return
	}
	defer file.Close()

	path, err := c.library.Save(header.Filename, file)
	switch {
	case errors.Is(err, services.ErrInvalidFilename):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, services.ErrDocumentExists):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		log.Error().Str("component", "http").Err(err).Msg("could not store upload")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store document"})
		return
	}

	name := filepath.Base(path)
	report, err := c.indexer.IngestFile(ctx.Request.Context(), path, name)
	if err != nil {
		log.Error().Str("component", "http").Err(err).Str("document", name).Msg("ingestion failed")
		// Drop the file and any batches already stored so the same name
		// can be uploaded again.
		if delErr := c.library.Delete(name); delErr != nil {
			log.Warn().Str("component", "http").Err(delErr).Str("document", name).Msg("could not remove failed upload")
		}
		cleanupCtx := context.WithoutCancel(ctx.Request.Context())
		if delErr := c.indexer.DeleteSource(cleanupCtx, name); delErr != nil {
			log.Warn().Str("component", "http").Err(delErr).Str("document", name).Msg("could not remove records of failed upload")
		}
		ctx.JSON(http.StatusUnprocessableEntity, models.IngestResponse{
			Message:  "Failed to ingest document",
			Document: name,
			Error:    err.Error(),
		})
		return
	}

	ctx.JSON(http.StatusCreated, models.IngestResponse{
		Message:  "Document ingested successfully",
		Document: name,
		Pages:    report.Pages,
		Images:   report.Images,
		Chunks:   report.Chunks,
		Records:  report.Records,
	})
}

// ListDocuments is the handler for GET /api/v1/documents.
func (c *RAGController) ListDocuments(ctx *gin.Context) {
	docs, err := c.library.List()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list documents"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"count": len(docs), "documents": docs})
}

// DeleteDocument is the handler for DELETE /api/v1/documents/:name. It
// removes the file and its records.
func (c *RAGController) DeleteDocument(ctx *gin.Context) {
	name := ctx.Param("name")
	if err := c.library.Delete(name); err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidFilename):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrDocumentNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete document"})
		}
		return
	}
	if err := c.indexer.DeleteSource(ctx.Request.Context(), name); err != nil {
		log.Error().Str("component", "http").Err(err).Str("document", name).Msg("could not delete records")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Document removed but its vectors could not be deleted"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Document deleted", "document": name})
}

// Query is the handler for POST /api/v1/query.
func (c *RAGController) Query(ctx *gin.Context) {
	var req models.QueryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	resp := c.query.GenerateResponse(ctx.Request.Context(), req.Query, req.Vision)
	ctx.JSON(statusFor(resp), models.NewQueryResponse(resp))
}

// statusFor maps a response variant to its HTTP status.
func statusFor(r models.Response) int {
	errResp, ok := r.(models.ErrorResponse)
	if !ok {
		return http.StatusOK
	}
	switch errResp.Kind {
	case models.FailureQuota:
		return http.StatusTooManyRequests
	case models.FailureRetrieval:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// Chat is the handler for POST /api/v1/chat.
func (c *RAGController) Chat(ctx *gin.Context) {
	var req models.ChatRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	resp, err := c.chat.Chat(ctx.Request.Context(), req.Message, req.SessionID)
	if err != nil {
		log.Error().Str("component", "http").Err(err).Msg("chat failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate AI response"})
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// IndexStats is the handler for GET /api/v1/index.
func (c *RAGController) IndexStats(ctx *gin.Context) {
	count, err := c.index.Count(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count vectors"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"vectors": count})
}

// ClearIndex is the handler for DELETE /api/v1/index.
func (c *RAGController) ClearIndex(ctx *gin.Context) {
	deleted, err := c.index.Clear(ctx.Request.Context())
	if err != nil {
		log.Error().Str("component", "http").Err(err).Msg("clear failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear index"})
		return
	}
	if deleted == 0 {
		ctx.JSON(http.StatusOK, gin.H{"message": "No vectors to delete", "deleted": 0})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Index cleared", "deleted": deleted})
}
