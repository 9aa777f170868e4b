package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"salesdesk/src/completion"
	"salesdesk/src/monitoring"
	"salesdesk/src/msgproto"
	"salesdesk/src/threads"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
)

//go:embed template/*.html
var templateFS embed.FS

var parsedTemplates = template.Must(template.ParseFS(templateFS, "template/*.html"))

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	conn *websocket.Conn
	// conversationID filters pushed events; empty means all conversations.
	conversationID string
	send           chan []byte
	hub            *Hub
}

type outbound struct {
	conversationID string
	data           []byte
}

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			monitoring.WSClientConnected()
			log.Printf("ws: client registered, total: %d", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				monitoring.WSClientDisconnected()
			}
			h.mu.Unlock()
			log.Printf("ws: client unregistered, total: %d", len(h.clients))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if client.conversationID != "" && client.conversationID != msg.conversationID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (c *Client) readPump(manager *threads.Manager) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read error: %v", err)
			}
			break
		}

		handleMessage(c, manager, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func handleMessage(c *Client, manager *threads.Manager, message []byte) {
	var msg struct {
		Type    string `json:"type"`
		Payload struct {
			ConversationID string `json:"conversationId"`
			Content        string `json:"content"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("ws: invalid message format: %v", err)
		return
	}

	switch msg.Type {
	case "chat.message":
		controller, ok := manager.Get(msg.Payload.ConversationID)
		if !ok {
			c.sendError(msg.Payload.ConversationID, "unknown conversation")
			return
		}
		if err := controller.Send(msg.Payload.Content); err != nil {
			c.sendError(msg.Payload.ConversationID, err.Error())
		}
	default:
		log.Printf("ws: unknown message type: %s", msg.Type)
	}
}

// sendError goes to the one client whose request failed, not the room.
func (c *Client) sendError(conversationID, reason string) {
	data, _ := json.Marshal(map[string]interface{}{
		"type": "chat.rejected",
		"payload": map[string]string{
			"conversationId": conversationID,
			"reason":         reason,
		},
	})
	select {
	case c.send <- data:
	default:
	}
}

func wsHandler(w http.ResponseWriter, r *http.Request, hub *Hub, manager *threads.Manager) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn:           conn,
		conversationID: r.URL.Query().Get("conversationId"),
		send:           make(chan []byte, 256),
		hub:            hub,
	}

	hub.register <- client
	go client.writePump()
	go client.readPump(manager)
}

// hubNotifier bridges conversation events onto the websocket fanout.
func hubNotifier(hub *Hub) threads.Notifier {
	return func(ev threads.Event) {
		data, err := json.Marshal(map[string]interface{}{
			"type":    ev.Type,
			"payload": ev,
		})
		if err != nil {
			log.Printf("ws: failed to encode event: %v", err)
			return
		}
		hub.broadcast <- outbound{conversationID: ev.ConversationID, data: data}
	}
}

func indexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if err := parsedTemplates.ExecuteTemplate(w, "index.html", nil); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type server struct {
	manager *threads.Manager
}

func (s *server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.listConversations(w)
	case "POST":
		s.createConversation(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) listConversations(w http.ResponseWriter) {
	type convView struct {
		ID      string                `json:"id"`
		Thread  completion.ThreadKind `json:"thread"`
		Subject string                `json:"subject"`
		State   threads.State         `json:"state"`
	}

	views := []convView{}
	for _, c := range s.manager.List() {
		views = append(views, convView{
			ID:      c.ID(),
			Thread:  c.Context().Thread,
			Subject: c.Context().Subject,
			State:   c.State(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"conversations": views,
	})
}

func (s *server) createConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string `json:"id"`
		Thread  string `json:"thread"`
		Subject string `json:"subject"`
		Summary string `json:"summary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		http.Error(w, "Subject required", http.StatusBadRequest)
		return
	}

	controller, err := s.manager.Create(req.ID, completion.Context{
		Thread:  completion.ThreadKind(req.Thread),
		Subject: req.Subject,
		Summary: req.Summary,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	controller.Open()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":    controller.ID(),
		"state": controller.State(),
	})
}

func (s *server) conversationHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.Split(path, "/")
	conversationID := parts[0]

	if conversationID == "" {
		http.Error(w, "Conversation ID required", http.StatusBadRequest)
		return
	}
	controller, ok := s.manager.Get(conversationID)
	if !ok {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if len(parts) < 2 || parts[1] != "messages" {
		http.Error(w, "Invalid endpoint", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case "GET":
		s.listMessages(w, controller)
	case "POST":
		s.sendMessage(w, r, controller)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) listMessages(w http.ResponseWriter, controller *threads.Controller) {
	type messageView struct {
		threads.Message
		Plan     msgproto.Plan      `json:"plan"`
		Selected *threads.Selection `json:"selected,omitempty"`
	}

	controller.Open()

	views := []messageView{}
	for _, m := range controller.Messages() {
		view := messageView{Message: m, Plan: controller.Plan(m)}
		if sel, ok := s.manager.Selections().Selected(m.ID); ok {
			view.Selected = &sel
		}
		views = append(views, view)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"state":    controller.State(),
		"messages": views,
	})
}

func (s *server) sendMessage(w http.ResponseWriter, r *http.Request, controller *threads.Controller) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := controller.Send(req.Content); err != nil {
		switch {
		case errors.Is(err, threads.ErrEmptyMessage):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, threads.ErrBusy):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, threads.ErrClosed):
			http.Error(w, err.Error(), http.StatusGone)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"state": controller.State(),
	})
}

func (s *server) selectionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ConversationID string `json:"conversationId"`
		MessageID      string `json:"messageId"`
		Key            string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	controller, ok := s.manager.Get(req.ConversationID)
	if !ok {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	kind, ok := approvableKey(controller, req.MessageID, req.Key)
	if !ok {
		http.Error(w, "No approvable part matches that key", http.StatusBadRequest)
		return
	}

	err := s.manager.Selections().Approve(threads.Selection{
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Kind:           kind,
		Key:            req.Key,
	})
	switch {
	case errors.Is(err, threads.ErrAlreadySelected):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, threads.ErrInvalidSelection):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"recorded": true,
	})
}

// approvableKey checks that the named message actually renders a part with
// the submitted selection key, so clients cannot record arbitrary strings.
func approvableKey(controller *threads.Controller, messageID, key string) (msgproto.BlockKind, bool) {
	for _, m := range controller.Messages() {
		if m.ID != messageID {
			continue
		}
		for _, part := range controller.Plan(m).Parts {
			if part.SelectionKey != "" && part.SelectionKey == key {
				return part.Block, true
			}
		}
		return "", false
	}
	return "", false
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	dbPath := os.Getenv("SALESDESK_DB")
	if dbPath == "" {
		os.MkdirAll("data", 0o755)
		dbPath = "data/salesdesk.db"
	}
	store, err := threads.OpenStore(dbPath)
	if err != nil {
		log.Fatalf("database initialization failed: %v", err)
	}
	log.Printf("db: initialized at %s", dbPath)

	planner, err := msgproto.NewPlanner(512)
	if err != nil {
		log.Fatalf("planner initialization failed: %v", err)
	}

	hub := newHub()
	go hub.run()

	manager, err := threads.NewManager(completion.NewOpenAI(), planner, store, hubNotifier(hub))
	if err != nil {
		log.Fatalf("thread manager initialization failed: %v", err)
	}
	defer manager.Shutdown()

	srv := &server{manager: manager}

	mux := http.NewServeMux()
	mux.HandleFunc("/", indexHandler)
	mux.HandleFunc("/api/conversations", srv.conversationsHandler)
	mux.HandleFunc("/api/conversations/", srv.conversationHandler)
	mux.HandleFunc("/api/selections", srv.selectionsHandler)
	mux.Handle("/metrics", monitoring.Handler())
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		wsHandler(w, r, hub, manager)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server: listening on :%s", port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: failed to start: %v", err)
		}
	case <-shutdownCtx.Done():
		log.Println("server: shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("server: shutdown error: %v", err)
		}
	}

	log.Println("server: stopped")
}
