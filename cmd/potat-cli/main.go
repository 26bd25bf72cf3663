// Command potat-cli is an interactive debug client for eval-server: it
// issues submissions to /eval and prints the shaped Response, for manual
// exercising of the capability bridge without standing up a real client.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

func main() {
	baseURL := flag.String("base", "http://127.0.0.1:8080", "eval-server base URL")
	token := flag.String("token", "", "bearer token for /eval")
	flag.Parse()

	client := newClient(*baseURL, *token, 15*time.Second)

	rl, err := readline.New("potat> ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "init readline failed:", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	fmt.Println("potat-cli: submit <code...> | set base <url> | set token <token> | exit")

	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if handleSystemCommand(client, line) {
			continue
		}

		if err := handleSubmit(client, line); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func handleSystemCommand(client *client, line string) bool {
	switch {
	case line == "exit" || line == "quit":
		os.Exit(0)
	case strings.HasPrefix(line, "set base "):
		client.baseURL = strings.TrimSpace(strings.TrimPrefix(line, "set base "))
		fmt.Println("base set to", client.baseURL)
		return true
	case strings.HasPrefix(line, "set token "):
		client.token = strings.TrimSpace(strings.TrimPrefix(line, "set token "))
		fmt.Println("token updated")
		return true
	}
	return false
}

func handleSubmit(client *client, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if len(tokens) == 0 || tokens[0] != "submit" {
		return fmt.Errorf("unknown command, try: submit <code...>")
	}
	code := strings.Join(tokens[1:], " ")
	if code == "" {
		return fmt.Errorf("usage: submit <code...>")
	}

	body, err := json.Marshal(map[string]interface{}{"code": code, "msg": map[string]interface{}{}})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := client.post(context.Background(), "/eval", body)
	if err != nil {
		return err
	}

	fmt.Printf("HTTP %d (%s)\n", resp.statusCode, resp.duration)
	var pretty interface{}
	if err := json.Unmarshal(resp.body, &pretty); err == nil {
		formatted, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(formatted))
		return nil
	}
	fmt.Println(string(resp.body))
	return nil
}

// client is a minimal HTTP client for the /eval endpoint: one base URL, one
// bearer token, no retries or connection pooling tuning.
type client struct {
	baseURL string
	token   string
	timeout time.Duration
}

func newClient(baseURL, token string, timeout time.Duration) *client {
	return &client{baseURL: baseURL, token: token, timeout: timeout}
}

type response struct {
	statusCode int
	body       []byte
	duration   time.Duration
}

func (c *client) post(ctx context.Context, path string, body []byte) (response, error) {
	var out response
	httpClient := &http.Client{Timeout: c.timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	out.duration = time.Since(start)
	if err != nil {
		return out, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	out.statusCode = resp.StatusCode
	out.body, err = io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("read response: %w", err)
	}
	return out, nil
}
