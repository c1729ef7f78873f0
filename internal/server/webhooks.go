package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"echowar/internal/domain"
	"echowar/internal/engine"
	"echowar/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
)

// WebhookConfig describes one battle-log delivery target. An empty EpochID
// subscribes the hook to every epoch.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	EpochID        string   `yaml:"epoch_id,omitempty" json:"epoch_id,omitempty"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	PublicOnly     bool     `yaml:"public_only,omitempty" json:"public_only,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

type webhookDispatcher struct {
	engine   engine.Engine
	logger   *log.Logger
	webhooks []WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[string]int64
}

func startWebhookDispatcher(cfg Config) {
	if len(cfg.Webhooks) == 0 {
		return
	}
	logger := cfg.Engine.Logger
	if logger == nil {
		logger = log.Default()
	}
	d := &webhookDispatcher{
		engine:   cfg.Engine,
		logger:   logger,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[string]int64),
	}
	go d.run()
}

func (d *webhookDispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *webhookDispatcher) dispatchAll() {
	ctx := context.Background()
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		for _, epochID := range d.epochsFor(ctx, hook) {
			d.dispatchWebhook(ctx, i, hook, epochID)
		}
	}
}

func (d *webhookDispatcher) epochsFor(ctx context.Context, hook WebhookConfig) []string {
	if strings.TrimSpace(hook.EpochID) != "" {
		return []string{hook.EpochID}
	}
	epochs, err := d.engine.Repo.ListEpochs(ctx)
	if err != nil {
		d.logger.Printf("webhook: list epochs failed: %v", err)
		return nil
	}
	ids := make([]string, 0, len(epochs))
	for _, ep := range epochs {
		ids = append(ids, ep.ID)
	}
	return ids
}

func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook WebhookConfig, epochID string) {
	key := fmt.Sprintf("%d:%s", idx, epochID)
	cursor := d.cursorFor(ctx, key, epochID)
	entries, err := logEntriesAfter(ctx, d.engine.Repo, epochID, cursor, hook.PublicOnly)
	if err != nil {
		d.logger.Printf("webhook: fetch battle log failed: %v", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, entry := range entries {
		if !filter.match(entry.EventType) {
			d.setCursor(key, entry.ID)
			continue
		}
		if err := d.postEntry(ctx, hook, entry); err != nil {
			d.logger.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(key, entry.ID)
	}
}

// cursorFor starts a fresh hook past the newest existing entry so only new
// activity is delivered.
func (d *webhookDispatcher) cursorFor(ctx context.Context, key, epochID string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[key]; ok {
		return cur
	}
	var cur int64
	latest, err := d.engine.Repo.ListBattleLog(ctx, epochID, repo.BattleLogFilter{Limit: 1})
	if err != nil {
		d.logger.Printf("webhook: init cursor failed: %v", err)
	} else if len(latest) > 0 {
		cur = latest[0].ID
	}
	d.cursors[key] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(key string, value int64) {
	d.mu.Lock()
	d.cursors[key] = value
	d.mu.Unlock()
}

func (d *webhookDispatcher) postEntry(ctx context.Context, hook WebhookConfig, entry domain.BattleLogEntry) error {
	data, err := json.Marshal(battleLogResponse(entry))
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Echowar-Event", entry.EventType)
	req.Header.Set("X-Echowar-Delivery", fmt.Sprintf("%d", entry.ID))
	req.Header.Set("X-Echowar-Epoch", entry.EpochID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Echowar-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
