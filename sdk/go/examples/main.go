package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"StakePilot-Chain/sdk/go/stakepilot"
)

func main() {
	var log []stakepilot.Message
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/threads/demo/messages", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req struct {
				Messages []stakepilot.Message `json:"messages"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			for _, msg := range req.Messages {
				msg.ThreadID = "demo"
				msg.Seq = uint64(len(log) + 1)
				msg.CreatedAt = time.Now().UTC()
				log = append(log, msg)
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"threadId": "demo", "messages": log[len(log)-len(req.Messages):]})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"threadId": "demo", "messages": log})
		}
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := stakepilot.NewClient(server.URL, server.Client())
	if err != nil {
		panic(err)
	}
	ctx := context.Background()

	if _, err := client.Submit(ctx, "demo", []stakepilot.Message{{
		ID:   "ai-1",
		Role: "ai",
		ToolCalls: []stakepilot.ToolCall{{
			ID:   "call-1",
			Name: "delegate",
			Args: json.RawMessage(`{"validatorId":1,"amount":"100"}`),
		}},
	}}); err != nil {
		panic(err)
	}

	msgs, err := client.Messages(ctx, "demo")
	if err != nil {
		panic(err)
	}
	for _, msg := range msgs {
		fmt.Printf("#%d %s %s tool_calls=%d\n", msg.Seq, msg.Role, msg.ID, len(msg.ToolCalls))
	}
}
