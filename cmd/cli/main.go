// Command emberctl is a CLI client for the Ember server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "ember")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ember")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.Create(tokenPath())
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// ---- http client ----

type apiClient struct {
	base  string
	token string
	hc    *http.Client
}

func newClient(base, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		hc:    &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends one JSON request and decodes the response into out (when
// non-nil). Non-2xx responses come back as errors carrying the body.
func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out != nil && len(b) > 0 {
		return json.Unmarshal(b, out)
	}
	return nil
}

// authedClient builds a client with the stored token.
func authedClient(base string) *apiClient {
	token, err := loadToken()
	if err != nil {
		fail(err)
	}
	return newClient(base, token)
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `emberctl
Usage:
  emberctl -addr URL <cmd> [args]

Commands:
  version
  register    -u <username> -p <password>
  login       -u <username> -p <password>          (saves token)
  send        -conversation <uuid> -file <blob> [-id uuid] [-unlock-height N] [-burn-at RFC3339]
  get         -id <uuid>
  ack         -id <uuid>
  burn        -id <uuid> -at <RFC3339>
  cancel-burn -id <uuid>
  stats
  handshake   -responder <uuid> [-ttl dur]
  session     -id <uuid>
  complete    -id <uuid>
  fail        -id <uuid> -reason <text>
  retry       -id <uuid>
  expire      -id <uuid>
  key-lost    [-reason <text>]
  watch       -conversation <uuid>                 (stream burn events)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the HTTP API.
func main() {
	// global flags
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("emberctl %s (%s)\n", version, buildDate)

	case "register":
		fs := flag.NewFlagSet("register", flag.ExitOnError)
		usr := fs.String("u", "", "username")
		pwd := fs.String("p", "", "password")
		_ = fs.Parse(flag.Args()[1:])
		if *usr == "" || *pwd == "" {
			fmt.Fprintln(os.Stderr, "need -u and -p")
			os.Exit(1)
		}

		var resp struct {
			UserID string `json:"user_id"`
		}
		cli := newClient(*addr, "")
		if err := cli.do(ctx, http.MethodPost, "/api/auth/register",
			map[string]string{"username": *usr, "password": *pwd}, &resp); err != nil {
			fail(err)
		}
		fmt.Println(resp.UserID)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		usr := fs.String("u", "", "username")
		pwd := fs.String("p", "", "password")
		_ = fs.Parse(flag.Args()[1:])
		if *usr == "" || *pwd == "" {
			fmt.Fprintln(os.Stderr, "need -u and -p")
			os.Exit(1)
		}

		var resp struct {
			UserID      string    `json:"user_id"`
			AccessToken string    `json:"access_token"`
			ExpiresAt   time.Time `json:"expires_at"`
		}
		cli := newClient(*addr, "")
		if err := cli.do(ctx, http.MethodPost, "/api/auth/login",
			map[string]string{"username": *usr, "password": *pwd}, &resp); err != nil {
			fail(err)
		}
		if err := saveToken(resp.AccessToken, resp.ExpiresAt); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "send":
		fs := flag.NewFlagSet("send", flag.ExitOnError)
		conv := fs.String("conversation", "", "conversation id (uuid)")
		id := fs.String("id", "", "message id (uuid, optional)")
		file := fs.String("file", "", "ciphertext file ('-'=stdin)")
		unlockHeight := fs.Int64("unlock-height", 0, "chain height gating decryption")
		burnAt := fs.String("burn-at", "", "burn deadline (RFC3339)")
		_ = fs.Parse(flag.Args()[1:])
		if *conv == "" || *file == "" {
			fmt.Fprintln(os.Stderr, "need -conversation and -file")
			os.Exit(1)
		}
		if *id == "" {
			uid, _ := u.NewV4()
			*id = uid.String()
		}

		body, err := readAll(*file)
		if err != nil {
			fail(err)
		}
		req := map[string]any{
			"id":              *id,
			"conversation_id": *conv,
			"body_enc":        body,
		}
		if *unlockHeight > 0 {
			req["unlock_height"] = *unlockHeight
		}
		if *burnAt != "" {
			at, err := time.Parse(time.RFC3339, *burnAt)
			if err != nil {
				fail(fmt.Errorf("bad -burn-at: %w", err))
			}
			req["burn_at"] = at
		}

		var out map[string]any
		if err := authedClient(*addr).do(ctx, http.MethodPost, "/api/messages", req, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "get":
		id := requireID(flag.Args()[1:])
		var out map[string]any
		if err := authedClient(*addr).do(ctx, http.MethodGet, "/api/messages/"+id, nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "ack":
		id := requireID(flag.Args()[1:])
		if err := authedClient(*addr).do(ctx, http.MethodPost, "/api/messages/"+id+"/ack", nil, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "burn":
		fs := flag.NewFlagSet("burn", flag.ExitOnError)
		id := fs.String("id", "", "message id (uuid)")
		at := fs.String("at", "", "burn deadline (RFC3339)")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" || *at == "" {
			fmt.Fprintln(os.Stderr, "need -id and -at")
			os.Exit(1)
		}
		deadline, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			fail(fmt.Errorf("bad -at: %w", err))
		}

		if err := authedClient(*addr).do(ctx, http.MethodPut, "/api/messages/"+*id+"/burn",
			map[string]any{"burn_at": deadline}, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "cancel-burn":
		id := requireID(flag.Args()[1:])
		if err := authedClient(*addr).do(ctx, http.MethodDelete, "/api/messages/"+id+"/burn", nil, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "stats":
		var out map[string]any
		if err := authedClient(*addr).do(ctx, http.MethodGet, "/api/scheduler/stats", nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "handshake":
		fs := flag.NewFlagSet("handshake", flag.ExitOnError)
		responder := fs.String("responder", "", "responder id (uuid)")
		ttl := fs.Duration("ttl", 0, "session lifetime (0 = no deadline)")
		_ = fs.Parse(flag.Args()[1:])
		if *responder == "" {
			fmt.Fprintln(os.Stderr, "need -responder")
			os.Exit(1)
		}

		var out map[string]any
		if err := authedClient(*addr).do(ctx, http.MethodPost, "/api/handshakes",
			map[string]any{"responder_id": *responder, "ttl_seconds": int64(ttl.Seconds())}, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "session":
		id := requireID(flag.Args()[1:])
		var out map[string]any
		if err := authedClient(*addr).do(ctx, http.MethodGet, "/api/handshakes/"+id, nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "complete", "retry", "expire":
		id := requireID(flag.Args()[1:])
		var out map[string]any
		if err := authedClient(*addr).do(ctx, http.MethodPost, "/api/handshakes/"+id+"/"+cmd, nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "fail":
		fs := flag.NewFlagSet("fail", flag.ExitOnError)
		id := fs.String("id", "", "session id (uuid)")
		reason := fs.String("reason", "", "failure reason")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" || *reason == "" {
			fmt.Fprintln(os.Stderr, "need -id and -reason")
			os.Exit(1)
		}

		var out map[string]any
		if err := authedClient(*addr).do(ctx, http.MethodPost, "/api/handshakes/"+*id+"/fail",
			map[string]string{"reason": *reason}, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "key-lost":
		fs := flag.NewFlagSet("key-lost", flag.ExitOnError)
		reason := fs.String("reason", "", "what happened to the key")
		_ = fs.Parse(flag.Args()[1:])

		if err := authedClient(*addr).do(ctx, http.MethodPost, "/api/recovery/key-lost",
			map[string]string{"reason": *reason}, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "watch":
		fs := flag.NewFlagSet("watch", flag.ExitOnError)
		conv := fs.String("conversation", "", "conversation id (uuid)")
		_ = fs.Parse(flag.Args()[1:])
		if *conv == "" {
			fmt.Fprintln(os.Stderr, "need -conversation")
			os.Exit(1)
		}

		wsURL := strings.Replace(*addr, "http", "ws", 1) + "/ws?conversation_id=" + *conv
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			fail(fmt.Errorf("dial %s: %w", wsURL, err))
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
		defer conn.Close()

		for {
			var ev map[string]any
			if err := conn.ReadJSON(&ev); err != nil {
				fail(err)
			}
			printJSON(ev)
		}

	default:
		usage()
	}
}

// ---- helpers ----

// requireID parses the common single -id flag form.
func requireID(args []string) string {
	fs := flag.NewFlagSet("id", flag.ExitOnError)
	id := fs.String("id", "", "id (uuid)")
	_ = fs.Parse(args)
	if *id == "" {
		fmt.Fprintln(os.Stderr, "need -id")
		os.Exit(1)
	}
	return *id
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
