package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/zankora/agw/internal/config"
	"github.com/zankora/agw/pkg/protocol"
)

// resFrame is the client-side view of any server frame.
type resFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Err     *protocol.Error `json:"err"`
	Payload json.RawMessage `json:"payload"`
}

// dialGateway opens a control-plane connection using flags, env, and the
// local config file, in that order.
func dialGateway() (*websocket.Conn, error) {
	url := serverURL
	if url == "" {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return nil, err
		}
		url = fmt.Sprintf("ws://%s:%d%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.WSPath)
	}

	key := apiKey
	if key == "" {
		key = os.Getenv("AGW_API_KEY")
	}
	header := http.Header{}
	if key != "" {
		header.Set("x-api-key", key)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return conn, nil
}

// call sends one request and reads frames until its response arrives,
// discarding pushed events.
func call(conn *websocket.Conn, method string, payload any) (resFrame, error) {
	req, err := protocol.NewRequest(method, payload)
	if err != nil {
		return resFrame{}, err
	}
	if err := conn.WriteJSON(req); err != nil {
		return resFrame{}, fmt.Errorf("send %s: %w", method, err)
	}
	for {
		var f resFrame
		if err := conn.ReadJSON(&f); err != nil {
			return resFrame{}, fmt.Errorf("read: %w", err)
		}
		if strings.HasPrefix(f.Type, "res:") && f.ID == req.ID {
			return f, nil
		}
	}
}

// oneShot dials, issues a single RPC, prints the payload as indented JSON,
// and exits non-zero on any failure.
func oneShot(method string, payload any) {
	conn, err := dialGateway()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	res, err := call(conn, method, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if !res.OK {
		printErr(res)
		os.Exit(1)
	}
	printJSON(res.Payload)
}

func printErr(f resFrame) {
	if f.Err != nil {
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", f.Err.Code, f.Err.Message)
		return
	}
	fmt.Fprintln(os.Stderr, "error: request failed")
}

func printJSON(raw json.RawMessage) {
	var buf any
	if err := json.Unmarshal(raw, &buf); err != nil {
		fmt.Println(string(raw))
		return
	}
	out, _ := json.MarshalIndent(buf, "", "  ")
	fmt.Println(string(out))
}
