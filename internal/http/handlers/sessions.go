package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/services"
)

type SessionHandler struct {
	chat services.ChatService
}

func NewSessionHandler(chat services.ChatService) *SessionHandler {
	return &SessionHandler{chat: chat}
}

func (h *SessionHandler) Create(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	var req struct {
		Title       string      `json:"title"`
		DocumentIDs []uuid.UUID `json:"document_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "", false, "invalid request body"))
		return
	}
	session, err := h.chat.CreateSession(dbctx.New(c.Request.Context()), actor, req.Title, req.DocumentIDs)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondCreated(c, session)
}

func (h *SessionHandler) Get(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("message_limit", "50"))
	session, messages, docIDs, err := h.chat.GetSession(dbctx.New(c.Request.Context()), actor, id, limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": session, "messages": messages, "document_ids": docIDs})
}

func (h *SessionHandler) List(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	sessions, err := h.chat.ListSessions(dbctx.New(c.Request.Context()), actor)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"sessions": sessions})
}

func (h *SessionHandler) LinkDocument(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	docID, ok := pathUUID(c, "document_id")
	if !ok {
		return
	}
	if err := h.chat.LinkDocument(dbctx.New(c.Request.Context()), actor, id, docID); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"linked": true})
}

func (h *SessionHandler) UnlinkDocument(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	docID, ok := pathUUID(c, "document_id")
	if !ok {
		return
	}
	if err := h.chat.UnlinkDocument(dbctx.New(c.Request.Context()), actor, id, docID); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"linked": false})
}

func (h *SessionHandler) Delete(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.chat.DeleteSession(dbctx.New(c.Request.Context()), actor, id); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": true})
}

// SendMessage runs a chat turn. With Accept: text/event-stream (or
// ?stream=true) the answer is streamed as SSE delta events followed by a
// single done event carrying the persisted turn; otherwise the turn comes
// back as plain JSON once generation finishes.
func (h *SessionHandler) SendMessage(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "", false, "invalid request body"))
		return
	}

	dbc := dbctx.New(c.Request.Context())
	if !wantsStream(c) {
		turn, err := h.chat.SendMessage(dbc, actor, id, req.Content, nil)
		if err != nil {
			RespondError(c, err)
			return
		}
		RespondOK(c, turn)
		return
	}

	setSSEHeaders(c)
	turn, err := h.chat.SendMessage(dbc, actor, id, req.Content, func(delta string) {
		writeSSE(c, "delta", gin.H{"text": delta})
	})
	if err != nil {
		writeSSE(c, "error", gin.H{"message": err.Error(), "type": string(apierr.KindOf(err))})
		writeSSE(c, "end", gin.H{"reason": "error"})
		return
	}
	writeSSE(c, "done", turn)
	writeSSE(c, "end", gin.H{"reason": "complete"})
}

func wantsStream(c *gin.Context) bool {
	if c.Query("stream") == "true" {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}
