package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/effective-security/biomcp/agent"
	"github.com/effective-security/biomcp/callbacks"
	"github.com/effective-security/biomcp/chatmodel"
	"github.com/effective-security/biomcp/hub"
	"github.com/effective-security/x/values"
	"github.com/gin-gonic/gin"
)

// webTenant keys all browser sessions in the chat store.
const webTenant = "web"

type serverInfo struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	Path         string   `json:"path"`
	Found        bool     `json:"found"`
	Connected    bool     `json:"connected"`
	ToolCount    int      `json:"tool_count"`
}

type toolInfo struct {
	ID          string          `json:"id"`
	Server      string          `json:"server"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type queryRequest struct {
	Question string `json:"question" binding:"required"`
	MaxSteps int    `json:"max_steps"`
}

type queryResponse struct {
	Answer  string   `json:"answer"`
	Steps   []string `json:"steps"`
	Elapsed string   `json:"elapsed"`
}

type chatRequest struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message" binding:"required"`
}

type chatResponse struct {
	ChatID string   `json:"chat_id"`
	Answer string   `json:"answer"`
	Steps  []string `json:"steps"`
}

type callRequest struct {
	Tool string          `json:"tool" binding:"required"`
	Args json.RawMessage `json:"args"`
}

func (s *Server) listServers(c *gin.Context) {
	list := make([]serverInfo, 0)
	for _, srv := range s.registry.Servers() {
		list = append(list, serverInfo{
			Name:         srv.Name,
			Description:  srv.Description,
			Capabilities: srv.Capabilities,
			Path:         srv.Path,
			Found:        srv.Found,
			Connected:    srv.Connected,
			ToolCount:    srv.ToolCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"servers": list})
}

func (s *Server) connectServer(c *gin.Context) {
	name := c.Param("name")
	if err := s.registry.Connect(c.Request.Context(), name); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": s.registry.Connected()})
}

func (s *Server) disconnectServer(c *gin.Context) {
	name := c.Param("name")
	if err := s.registry.Disconnect(name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": s.registry.Connected()})
}

func (s *Server) listTools(c *gin.Context) {
	var refs []hub.ToolRef
	if capability := c.Query("capability"); capability != "" {
		refs = s.registry.FindTools(capability)
	} else if server := c.Query("server"); server != "" {
		refs = s.registry.Tools(server)
	} else {
		refs = s.registry.Tools()
	}

	list := make([]toolInfo, 0, len(refs))
	for _, ref := range refs {
		list = append(list, toolInfo{
			ID:          ref.ID,
			Server:      ref.Server,
			Name:        ref.Tool.Name,
			Description: ref.Tool.Description,
			InputSchema: ref.Tool.InputSchema,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tools": list})
}

func (s *Server) callTool(c *gin.Context) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	args := "{}"
	if len(req.Args) > 0 {
		args = string(req.Args)
	}
	result, err := s.registry.CallTool(c.Request.Context(), req.Tool, args)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if result.IsError {
		c.JSON(http.StatusBadGateway, gin.H{"error": result.Text()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result.Value()})
}

func (s *Server) query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := chatmodel.WithChatContext(c.Request.Context(),
		chatmodel.NewChatContext(webTenant, chatmodel.NewChatID(), nil))

	scratchpad := callbacks.NewScratchpad(callbacks.ModeDefault)
	researcher, err := agent.NewResearcher(s.model, s.registry,
		agent.WithMaxSteps(values.NumbersCoalesce(req.MaxSteps, agent.DefaultMaxSteps)),
		agent.WithCallback(scratchpad),
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	scratchpad.StartRun(ctx)
	started := time.Now()
	resp, err := researcher.Call(ctx, &agent.CallInput{Input: req.Question})
	elapsed := time.Since(started)
	_, trace := scratchpad.EndRun(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "steps": traceSteps(trace)})
		return
	}

	var answer string
	if len(resp.Choices) > 0 {
		answer = resp.Choices[0].Content
	}
	c.JSON(http.StatusOK, queryResponse{
		Answer:  answer,
		Steps:   traceSteps(trace),
		Elapsed: elapsed.Round(time.Millisecond).String(),
	})
}

func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chatID := values.StringsCoalesce(req.ChatID, chatmodel.NewChatID())
	ctx := chatmodel.WithChatContext(c.Request.Context(),
		chatmodel.NewChatContext(webTenant, chatID, nil))

	scratchpad := callbacks.NewScratchpad(callbacks.ModeDefault)
	researcher, err := agent.NewResearcher(s.model, s.registry,
		agent.WithStore(s.store),
		agent.WithCallback(scratchpad),
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	scratchpad.StartRun(ctx)
	resp, err := researcher.Call(ctx, &agent.CallInput{Input: req.Message})
	_, trace := scratchpad.EndRun(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "chat_id": chatID})
		return
	}

	// title new chats with the first question
	if req.ChatID == "" {
		_, _ = s.store.UpdateChat(ctx, truncate(req.Message, 80), nil)
	}

	var answer string
	if len(resp.Choices) > 0 {
		answer = resp.Choices[0].Content
	}
	c.JSON(http.StatusOK, chatResponse{
		ChatID: chatID,
		Answer: answer,
		Steps:  traceSteps(trace),
	})
}

func (s *Server) listChats(c *gin.Context) {
	ctx := chatmodel.WithChatContext(c.Request.Context(),
		chatmodel.NewChatContext(webTenant, chatmodel.NewChatID(), nil))

	ids, err := s.store.ListChats(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	type chatEntry struct {
		ChatID string `json:"chat_id"`
		Title  string `json:"title"`
	}
	list := make([]chatEntry, 0, len(ids))
	for _, id := range ids {
		title, _ := s.store.GetChatTitle(ctx, id)
		list = append(list, chatEntry{ChatID: id, Title: title})
	}
	c.JSON(http.StatusOK, gin.H{"chats": list})
}

func (s *Server) getChat(c *gin.Context) {
	ctx := chatmodel.WithChatContext(c.Request.Context(),
		chatmodel.NewChatContext(webTenant, c.Param("id"), nil))

	info, err := s.store.GetChatInfo(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if info.CreatedAt.IsZero() {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// traceSteps splits the scratchpad trace into display lines.
func traceSteps(trace []byte) []string {
	if len(trace) == 0 {
		return []string{}
	}
	lines := strings.Split(strings.TrimRight(string(trace), "\n"), "\n")
	return lines
}

// truncate shortens s to at most limit runes, never splitting a
// multi-byte character.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
