// Command chat is a terminal client for manual testing: it registers or logs
// in a user, opens a project room, prints the conversation as it changes and
// sends each stdin line as a message.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"projectchat/internal/chat"
)

func main() {
	baseURL := flag.String("server", "http://localhost:8080", "server base URL")
	username := flag.String("user", "", "username")
	password := flag.String("pass", "password123", "password")
	room := flag.String("room", "", "project room id")
	flag.Parse()

	if *username == "" || *room == "" {
		log.Fatal("usage: chat -user NAME -room PROJECT_ID [-server URL] [-pass PASSWORD]")
	}

	token, userID := authenticate(*baseURL, *username, *password)

	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws"
	ctrl := chat.NewController(*baseURL, wsURL)
	ctrl.OnChange = func() { render(ctrl, userID) }
	ctrl.OnState = func(state chat.ConnState) {
		fmt.Printf("-- %s --\n", state)
	}

	if err := ctrl.Open(context.Background(), *room, chat.Credentials{Token: token, UserID: userID}); err != nil {
		log.Fatalf("open room: %v", err)
	}
	defer ctrl.Close()

	if err := ctrl.HistoryErr(); err != nil {
		fmt.Println("-- history unavailable, starting empty --")
	}
	render(ctrl, userID)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if _, err := ctrl.SendMessage(scanner.Text()); err != nil {
			fmt.Printf("!! %v\n", err)
		}
	}
}

func render(ctrl *chat.Controller, selfID string) {
	for _, msg := range ctrl.Messages() {
		marker := " "
		switch msg.State {
		case chat.MessagePending:
			marker = "…"
		case chat.MessageFailed:
			marker = "✗"
		}
		who := msg.SenderID
		if who == selfID {
			who = "me"
		}
		fmt.Printf("%s [%s] %s: %s\n", marker, msg.CreatedAt.Format("15:04:05"), who, msg.Body)
	}
	fmt.Println("----")
}

// authenticate registers (ignoring an already-exists error) and logs in.
func authenticate(baseURL, username, password string) (token, userID string) {
	creds := map[string]string{"username": username, "password": password}
	postJSON(baseURL+"/register", creds)

	resp, err := postJSON(baseURL+"/login", creds)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("login failed: status %d", resp.StatusCode)
	}

	var data struct {
		AccessToken string `json:"access_token"`
		ID          string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		log.Fatalf("login failed: %v", err)
	}
	return data.AccessToken, data.ID
}

func postJSON(url string, data interface{}) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(url, "application/json", bytes.NewBuffer(jsonData))
}
