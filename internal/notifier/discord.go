package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Discord rejects message content above this many characters.
const discordContentLimit = 2000

// Discord posts {"content": text} to a webhook URL.
type Discord struct {
	webhook string
	http    *http.Client
}

func NewDiscord(webhook string, client *http.Client) (*Discord, error) {
	webhook = strings.TrimSpace(webhook)
	if webhook == "" {
		return nil, errors.New("discord webhook is empty")
	}
	if client == nil {
		client = &http.Client{Timeout: 8 * time.Second}
	}
	return &Discord{webhook: webhook, http: client}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"content": truncateRunes(text, discordContentLimit)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord webhook: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
