//go:build ignore

// Command ws_client optimizes a merchant's route and prints the events that
// arrive on the merchant channel.
//
//	go run scripts/ws_client.go -merchant m1
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
	Message string          `json:"message,omitempty"`
}

func main() {
	merchant := flag.String("merchant", "m1", "merchant id")
	wait := flag.Duration("wait", 3*time.Second, "how long to listen after optimizing")
	flag.Parse()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	hdr := http.Header{}
	hdr.Set("X-Role", "merchant")
	hdr.Set("X-Merchant-Id", *merchant)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Channel: "merchant:" + *merchant}); err != nil {
		log.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s %s %s%s", m.Type, m.Channel, string(m.Event), m.Message)
		}
	}()

	time.Sleep(300 * time.Millisecond)
	body, _ := json.Marshal(map[string]string{"merchantId": *merchant})
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/optimize", bytes.NewReader(body))
	req.Header = hdr.Clone()
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	var out struct {
		Plan struct {
			ID            string   `json:"id"`
			OrderSequence []string `json:"orderSequence"`
		} `json:"plan"`
		Code string `json:"code"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	_ = resp.Body.Close()
	log.Printf("optimize status=%d plan=%s sequence=%v code=%s", resp.StatusCode, out.Plan.ID, out.Plan.OrderSequence, out.Code)

	select {
	case <-time.After(*wait):
	case <-done:
	}
}
