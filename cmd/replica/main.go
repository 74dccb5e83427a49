package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// replica is a terminal client for the design server. It opens a session,
// optionally uploads a photo, prints session events and sends what is typed.
func main() {
	var (
		server string
		image  string
	)

	cmd := &cobra.Command{
		Use:   "replica",
		Short: "Interactive terminal client for the room redesign server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &client{base: strings.TrimRight(server, "/"), http: &http.Client{Timeout: 3 * time.Minute}}
			return c.run(image)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&image, "image", "", "room photo to upload on start")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type client struct {
	base  string
	token string
	http  *http.Client
}

type intent struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	StyleID     string `json:"style_id,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

func (c *client) run(image string) error {
	if err := c.createSession(); err != nil {
		return err
	}

	if image != "" {
		raw, err := os.ReadFile(image)
		if err != nil {
			return err
		}
		if _, err := c.do(http.MethodPost, "/api/v1/session/image", "application/octet-stream", bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("uploading %s: %w", image, err)
		}
	}

	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				fmt.Println("connection closed:", err)
				return
			}
			fmt.Printf("< %s\n", message)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		conn.Close()
		os.Exit(0)
	}()

	fmt.Println("Commands: /style <id>, /confirm [instruction], /cancel, /reset, /download <path>, exit")
	fmt.Println("Anything else is sent as a chat message.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" {
			return nil
		}

		if strings.HasPrefix(line, "/download") {
			path := strings.TrimSpace(strings.TrimPrefix(line, "/download"))
			if err := c.download(path); err != nil {
				fmt.Println("download failed:", err)
			}
			continue
		}

		if err := conn.WriteJSON(parseIntent(line)); err != nil {
			return fmt.Errorf("sending intent: %w", err)
		}
	}
}

func parseIntent(line string) intent {
	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch command {
	case "/style":
		return intent{Type: "select_style", StyleID: rest}
	case "/confirm":
		return intent{Type: "confirm", Instruction: rest}
	case "/cancel":
		return intent{Type: "cancel"}
	case "/reset":
		return intent{Type: "reset"}
	default:
		return intent{Type: "chat", Text: line}
	}
}

func (c *client) createSession() error {
	body, err := c.do(http.MethodPost, "/api/v1/sessions", "", nil)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decoding session: %w", err)
	}
	c.token = resp.Token
	return nil
}

func (c *client) dial() (*websocket.Conn, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {c.token}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", u.Host, err)
	}
	return conn, nil
}

func (c *client) download(path string) error {
	if path == "" {
		path = "room.png"
	}
	body, err := c.do(http.MethodGet, "/api/v1/session/image/current", "", nil)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return err
	}
	fmt.Println("saved", path)
	return nil
}

func (c *client) do(method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}
