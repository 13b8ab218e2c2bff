package ui

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"ecombot/internal/service/rag"
	"ecombot/internal/worker"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	// VisitorCookie identifies a browser; its value doubles as the chain session id.
	VisitorCookie = "ecombot_visitor"
	cookieMaxAge  = 30 * 24 * 60 * 60
	pageTitle     = "E-commerce Assistant"
)

// Chatter answers one question for one session.
type Chatter interface {
	Invoke(ctx context.Context, req rag.Request) (*rag.Response, error)
}

// Handler renders the chat page and applies submissions.
type Handler struct {
	chat     Chatter
	board    *Board
	markdown goldmark.Markdown
	tmpl     *template.Template
	logger   *zap.Logger
}

type pageMessage struct {
	Role      string
	Body      template.HTML
	Timestamp string
}

type pageData struct {
	Title     string
	Messages  []pageMessage
	Error     string
	CSRFToken string
}

func NewHandler(chat Chatter, board *Board, logger *zap.Logger) (*Handler, error) {
	if board == nil {
		board = NewBoard()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Handler{
		chat:     chat,
		board:    board,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		tmpl:     tmpl,
		logger:   logger,
	}, nil
}

// RegisterRoutes attaches the page routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.index)
	router.POST("/send", csrfMiddleware(), h.send)
}

func (h *Handler) index(c *gin.Context) {
	visitor := h.visitorID(c)
	h.render(c, http.StatusOK, h.board.Snapshot(visitor), "")
}

func (h *Handler) send(c *gin.Context) {
	visitor := h.visitorID(c)
	input := c.PostForm("message")

	invoke := func(ctx context.Context, question string) (string, error) {
		resp, err := h.chat.Invoke(ctx, rag.Request{Input: question, SessionID: visitor})
		if err != nil {
			return "", err
		}
		return resp.Answer, nil
	}
	state, err := h.board.Update(visitor, func(s State) (State, error) {
		return Step(c.Request.Context(), s, input, invoke)
	})
	if err != nil {
		h.logger.Warn("chat turn failed", zap.String("visitor", visitor), zap.Error(err))
		h.render(c, http.StatusBadGateway, state, bannerFor(err))
		return
	}
	h.render(c, http.StatusOK, state, "")
}

// bannerFor maps a failed turn to the text shown to the visitor. Details stay
// in the log.
func bannerFor(err error) string {
	switch {
	case errors.Is(err, worker.ErrDispatcherBusy):
		return "The assistant is busy right now. Please try again in a moment."
	case errors.Is(err, context.DeadlineExceeded):
		return "The assistant took too long to answer. Please try again."
	default:
		return "Sorry, something went wrong. Please try again."
	}
}

func (h *Handler) visitorID(c *gin.Context) string {
	if id, err := c.Cookie(VisitorCookie); err == nil {
		if _, err := uuid.Parse(id); err == nil {
			return id
		}
	}
	id := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(VisitorCookie, id, cookieMaxAge, "/", "", false, true)
	return id
}

func (h *Handler) render(c *gin.Context, status int, state State, errMsg string) {
	token, err := csrfToken(c)
	if err != nil {
		h.logger.Error("issue csrf token", zap.Error(err))
		c.String(http.StatusInternalServerError, "issue token failed")
		return
	}
	data := pageData{Title: pageTitle, Error: errMsg, CSRFToken: token}
	for _, msg := range state.Messages {
		data.Messages = append(data.Messages, pageMessage{
			Role:      msg.Role,
			Body:      h.renderBody(msg),
			Timestamp: msg.Timestamp,
		})
	}

	var buf bytes.Buffer
	if err := h.tmpl.ExecuteTemplate(&buf, "index.html", data); err != nil {
		h.logger.Error("render page", zap.Error(err))
		c.String(http.StatusInternalServerError, "render page: %v", err)
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

// renderBody converts assistant Markdown to HTML. Raw HTML in the source is
// dropped by goldmark's default renderer. User text is escaped verbatim.
func (h *Handler) renderBody(msg Message) template.HTML {
	if msg.Role != "assistant" {
		return template.HTML(template.HTMLEscapeString(msg.Content))
	}
	var buf strings.Builder
	if err := h.markdown.Convert([]byte(msg.Content), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(msg.Content))
	}
	return template.HTML(buf.String())
}
