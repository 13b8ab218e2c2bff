package ui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecombot/internal/service/rag"
	"ecombot/internal/worker"
)

type fakeChat struct {
	mu       sync.Mutex
	err      error
	sessions []string
}

func (f *fakeChat) Invoke(_ context.Context, req rag.Request) (*rag.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, req.SessionID)
	if f.err != nil {
		return nil, f.err
	}
	return &rag.Response{Answer: fmt.Sprintf("**Top pick** for %s", req.Input)}, nil
}

func newTestRouter(t *testing.T, chat Chatter) (*gin.Engine, *Board) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	board := NewBoard()
	h, err := NewHandler(chat, board, nil)
	require.NoError(t, err)
	router := gin.New()
	h.RegisterRoutes(router)
	return router, board
}

// browser carries the cookies a real visitor would send back.
type browser struct {
	cookies map[string]*http.Cookie
}

func newBrowser() *browser {
	return &browser{cookies: make(map[string]*http.Cookie)}
}

func (b *browser) do(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		b.cookies[c.Name] = c
	}
	return rec
}

func (b *browser) open(router *gin.Engine) *httptest.ResponseRecorder {
	return b.do(router, httptest.NewRequest(http.MethodGet, "/", nil))
}

func (b *browser) send(router *gin.Engine, message string) *httptest.ResponseRecorder {
	form := url.Values{"message": {message}}
	if c, ok := b.cookies[csrfCookie]; ok {
		form.Set(csrfField, c.Value)
	}
	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(router, req)
}

func (b *browser) visitor(t *testing.T) string {
	t.Helper()
	c, ok := b.cookies[VisitorCookie]
	if !ok {
		t.Fatalf("visitor cookie not set")
	}
	return c.Value
}

func TestIndexRendersEmptyPage(t *testing.T) {
	router, _ := newTestRouter(t, &fakeChat{})
	b := newBrowser()
	rec := b.open(router)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<title>E-commerce Assistant</title>")
	assert.Contains(t, body, `name="message"`)
	assert.Contains(t, body, "Thinking...")
	assert.NotContains(t, body, `class="chat-message`)
	b.visitor(t)
	require.Contains(t, b.cookies, csrfCookie)
	assert.Contains(t, body, b.cookies[csrfCookie].Value)
}

func TestSendAppendsTurnsForVisitor(t *testing.T) {
	chat := &fakeChat{}
	router, board := newTestRouter(t, chat)
	b := newBrowser()
	b.open(router)

	rec := b.send(router, "wireless earbuds")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = b.send(router, "<b>cheap</b> ones")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Equal(t, 4, strings.Count(body, `class="chat-message `))
	assert.Contains(t, body, "<strong>Top pick</strong> for wireless earbuds")
	assert.Contains(t, body, "&lt;b&gt;cheap&lt;/b&gt; ones")
	assert.Less(t, strings.Index(body, "wireless earbuds"), strings.Index(body, "cheap"))

	id := b.visitor(t)
	assert.Len(t, board.Snapshot(id).Messages, 4)
	assert.Equal(t, []string{id, id}, chat.sessions)
}

func TestSendEmptyMessageDoesNothing(t *testing.T) {
	chat := &fakeChat{}
	router, board := newTestRouter(t, chat)
	b := newBrowser()
	b.open(router)

	rec := b.send(router, "   ")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, chat.sessions)
	assert.Empty(t, board.Snapshot(b.visitor(t)).Messages)
}

func TestSendRequiresCSRFToken(t *testing.T) {
	chat := &fakeChat{}
	router, _ := newTestRouter(t, chat)
	b := newBrowser()
	b.open(router)
	delete(b.cookies, csrfCookie)

	rec := b.send(router, "wireless earbuds")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, chat.sessions)
}

func TestSendFailureShowsError(t *testing.T) {
	chat := &fakeChat{}
	router, board := newTestRouter(t, chat)
	b := newBrowser()
	b.open(router)

	rec := b.send(router, "first question")
	require.Equal(t, http.StatusOK, rec.Code)

	chat.err = errors.New("upstream 503")
	rec = b.send(router, "second question")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `role="alert"`)
	assert.Contains(t, body, "Sorry, something went wrong. Please try again.")
	assert.NotContains(t, body, "upstream 503")
	assert.NotContains(t, body, "second question")
	assert.Len(t, board.Snapshot(b.visitor(t)).Messages, 2)
}

func TestSendFailureBanners(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"busy", fmt.Errorf("dispatch: %w", worker.ErrDispatcherBusy), "The assistant is busy right now."},
		{"timeout", fmt.Errorf("run chain: %w", context.DeadlineExceeded), "The assistant took too long to answer."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{err: tt.err}
			router, _ := newTestRouter(t, chat)
			b := newBrowser()
			b.open(router)

			rec := b.send(router, "wireless earbuds")
			assert.Equal(t, http.StatusBadGateway, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.NotContains(t, rec.Body.String(), tt.err.Error())
		})
	}
}

func TestVisitorsAreIsolated(t *testing.T) {
	chat := &fakeChat{}
	router, board := newTestRouter(t, chat)
	a, b := newBrowser(), newBrowser()
	a.open(router)
	b.open(router)

	a.send(router, "question from A")
	recB := b.send(router, "question from B")
	require.NotEqual(t, a.visitor(t), b.visitor(t))

	assert.NotContains(t, recB.Body.String(), "question from A")
	assert.Len(t, board.Snapshot(a.visitor(t)).Messages, 2)
	assert.Len(t, board.Snapshot(b.visitor(t)).Messages, 2)
}
