package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/ingestion"
	"github.com/ragmind/backend/internal/storage/models"
	"github.com/ragmind/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
}

func NewDocumentHandler(processor *ingestion.Processor) *DocumentHandler {
	return &DocumentHandler{processor: processor}
}

func (h *DocumentHandler) AddDocument(c *fiber.Ctx) error {
	var req struct {
		ID              string            `json:"id"`
		Title           string            `json:"title"`
		Content         string            `json:"content"`
		SourceType      string            `json:"source_type"`
		SourceURL       string            `json:"source_url"`
		KnowledgeBaseID string            `json:"knowledge_base_id"`
		ChunkStrategy   string            `json:"chunk_strategy"`
		Metadata        map[string]string `json:"metadata"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Title == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title and content are required",
		})
	}

	doc := models.Document{
		ID:              req.ID,
		Title:           req.Title,
		Content:         req.Content,
		SourceType:      req.SourceType,
		SourceURL:       req.SourceURL,
		KnowledgeBaseID: req.KnowledgeBaseID,
		ChunkStrategy:   models.ChunkStrategy(req.ChunkStrategy),
		Metadata:        req.Metadata,
	}

	chunkCount, err := h.processor.AddDocument(c.Context(), doc)
	if err != nil {
		logger.Error("Failed to ingest document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status": "indexed",
		"chunks": chunkCount,
	})
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	kbID := c.Query("knowledge_base_id", "default")

	docs, err := h.processor.Documents(c.Context(), kbID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}

	summaries := make([]fiber.Map, 0, len(docs))
	for _, d := range docs {
		summaries = append(summaries, fiber.Map{
			"id":             d.ID,
			"title":          d.Title,
			"source_type":    d.SourceType,
			"source_url":     d.SourceURL,
			"chunk_strategy": string(d.ChunkStrategy),
			"added_at":       d.AddedAt,
		})
	}

	return c.JSON(fiber.Map{
		"knowledge_base_id": kbID,
		"documents":         summaries,
	})
}

func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	docID := c.Params("id")
	kbID := c.Query("knowledge_base_id", "default")

	if docID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "document id is required",
		})
	}

	if err := h.processor.DeleteDocument(c.Context(), kbID, docID); err != nil {
		logger.Error("Failed to delete document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete document",
		})
	}

	return c.JSON(fiber.Map{"status": "deleted"})
}
