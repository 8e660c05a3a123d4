package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"
)

func main() {
	// CLI parameter parsing.
	server := flag.String("server", "http://127.0.0.1:8480", "Base URL of the exchange server")
	trader := flag.String("trader", "", "Trader identity (compulsory for mutating actions)")
	action := flag.String("action", "book", "Action: ['deposit', 'withdraw', 'faucet', 'place', 'book', 'balance', 'assets', 'register', 'watch']")

	// Order / transfer parameters.
	assetSym := flag.String("asset", "LINK", "Asset symbol")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	amount := flag.Uint64("amount", 0, "Quantity (base units)")
	price := flag.Uint64("price", 0, "Limit price (quote units per base unit)")

	flag.Parse()

	base := strings.TrimRight(*server, "/")

	switch strings.ToLower(*action) {
	case "deposit", "withdraw", "faucet":
		requireTrader(*trader)
		body := map[string]any{"trader": *trader, "asset": *assetSym, "amount": *amount}
		post(base+"/api/v1/"+strings.ToLower(*action), body)

	case "place":
		requireTrader(*trader)
		body := map[string]any{
			"trader": *trader,
			"asset":  *assetSym,
			"side":   strings.ToLower(*sideStr),
			"amount": *amount,
			"price":  *price,
		}
		post(base+"/api/v1/orders", body)

	case "book":
		get(fmt.Sprintf("%s/api/v1/books/%s/%s", base, *assetSym, strings.ToLower(*sideStr)))

	case "balance":
		requireTrader(*trader)
		get(fmt.Sprintf("%s/api/v1/balances/%s/%s", base, *trader, *assetSym))

	case "assets":
		get(base + "/api/v1/assets")

	case "register":
		post(base+"/api/v1/assets", map[string]any{"asset": *assetSym})

	case "watch":
		watch(base)

	default:
		log.Fatalf("Unknown action: %s", *action)
	}
}

func requireTrader(trader string) {
	if trader == "" {
		fmt.Println("Error: -trader is compulsory for this action.")
		flag.Usage()
		os.Exit(1)
	}
}

func post(endpoint string, body map[string]any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("Failed to encode request: %v", err)
	}
	resp, err := http.Post(endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("Request to %s failed: %v", endpoint, err)
	}
	defer resp.Body.Close()
	printResponse(resp)
}

func get(endpoint string) {
	resp, err := http.Get(endpoint)
	if err != nil {
		log.Fatalf("Request to %s failed: %v", endpoint, err)
	}
	defer resp.Body.Close()
	printResponse(resp)
}

func printResponse(resp *http.Response) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed reading response: %v", err)
	}

	// Re-indent for readability; fall back to the raw body.
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		data = pretty.Bytes()
	}
	fmt.Printf("[%s]\n%s\n", resp.Status, data)
}

// watch subscribes to the trade feed and prints executions as they
// happen, until interrupted.
func watch(base string) {
	u, err := url.Parse(base)
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	wsURL := fmt.Sprintf("%s://%s/ws", scheme, u.Host)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", wsURL, err)
	}
	defer conn.Close()

	fmt.Println("Listening for trades... (Press Ctrl+C to exit)")
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			log.Fatalf("Connection lost: %v", err)
		}
		fmt.Printf("[TRADE] %s\n", payload)
	}
}
