// ABOUTME: Entry point for the stream-client CLI
// ABOUTME: Watches and publishes to scheme-gateway stream rooms over SSE

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
)

// getConfigPath returns the path to the stream-client config file.
// Priority: STREAM_CLIENT_CONFIG env var > XDG_CONFIG_HOME/scheme-gateway/stream-client.toml > ~/.config/scheme-gateway/stream-client.toml
func getConfigPath() string {
	if envPath := os.Getenv("STREAM_CLIENT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "stream-client.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "scheme-gateway", "stream-client.toml")
}

func usage() {
	fmt.Println("Usage: stream-client <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                    Run the relay peer server")
	fmt.Println("  init                     Initiate streaming on the gateway")
	fmt.Println("  watch <room>             Subscribe to a room and print events")
	fmt.Println("  publish <room> <text>    Publish a text chunk to a room")
	fmt.Println("  end <room> [message]     End a stream and notify the room")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := Load(getConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch os.Args[1] {
	case "serve":
		err = runRelay(ctx, cfg, setupLogger(cfg.Logging.Level))
	case "init":
		err = runStreamInit(ctx, cfg)
	case "watch":
		if len(os.Args) < 3 {
			usage()
		}
		err = runWatch(ctx, cfg, os.Args[2])
	case "publish":
		if len(os.Args) < 4 {
			usage()
		}
		err = runPublish(ctx, cfg, os.Args[2], strings.Join(os.Args[3:], " "))
	case "end":
		msg := "done streaming"
		if len(os.Args) > 3 {
			msg = strings.Join(os.Args[3:], " ")
		}
		if len(os.Args) < 3 {
			usage()
		}
		err = runEnd(ctx, cfg, os.Args[2], msg)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func runStreamInit(ctx context.Context, cfg *Config) error {
	body, _, err := postJSON(ctx, cfg.Gateway.URL+"/stream/init", nil)
	if err != nil {
		return err
	}
	fmt.Print(string(body))
	return nil
}

// streamBuffer mirrors the gateway's stream event body: the bare buffer,
// without the room wrapper publishers send.
type streamBuffer struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func runWatch(ctx context.Context, cfg *Config, room string) error {
	u := fmt.Sprintf("%s/stream/events?stream-room=%s", cfg.Gateway.URL, url.QueryEscape(room))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	green.Print("▶ ")
	fmt.Printf("joined room %s", room)
	if connID := resp.Header.Get("X-Stream-Connection"); connID != "" {
		gray.Printf(" (connection %s)", connID)
	}
	fmt.Println()

	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			printEvent(event, strings.TrimPrefix(line, "data: "))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// printEvent renders one SSE frame. Stream chunks get their text parts
// extracted, everything else is printed raw.
func printEvent(event, data string) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	if event == "stream" {
		var buffer streamBuffer
		if err := json.Unmarshal([]byte(data), &buffer); err == nil {
			for _, cand := range buffer.Candidates {
				for _, part := range cand.Content.Parts {
					fmt.Print(part.Text)
				}
			}
			return
		}
	}

	cyan.Printf("\n[%s] ", event)
	gray.Println(data)
}

func runPublish(ctx context.Context, cfg *Config, room, text string) error {
	// Accept raw JSON buffers, wrap plain text in the chunk shape.
	buffer := json.RawMessage(text)
	if !json.Valid(buffer) {
		wrapped, err := json.Marshal(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
			},
		})
		if err != nil {
			return fmt.Errorf("encoding chunk: %w", err)
		}
		buffer = wrapped
	}

	payload := map[string]any{"room": room, "buffer": buffer}
	body, status, err := postJSON(ctx, cfg.Gateway.URL+"/stream", payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("gateway returned %d: %s", status, strings.TrimSpace(string(body)))
	}
	fmt.Println("published")
	return nil
}

func runEnd(ctx context.Context, cfg *Config, room, message string) error {
	payload := map[string]any{"room": room, "message": message}
	body, status, err := postJSON(ctx, cfg.Gateway.URL+"/end", payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("gateway returned %d: %s", status, strings.TrimSpace(string(body)))
	}
	fmt.Println("ended")
	return nil
}

func postJSON(ctx context.Context, url string, payload any) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}
