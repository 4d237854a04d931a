package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/httpx"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/log"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/storage"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/types"
)

// CursorKey stores the last at-least-started journal position
const CursorKey = "events_position"

// DefaultEventSuffixes keep only catalog mutations we act on
var DefaultEventSuffixes = []string{"product.update", "price.update"}

// TokenSource supplies a fresh access token for journal requests
type TokenSource interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// Batch is one page of journal events
type Batch struct {
	Events     []types.JournalEvent
	NextCursor string
	HasMore    bool
}

// Consumer pulls events from the remote journal with an opaque cursor
type Consumer struct {
	url           string
	clientID      string
	imsOrgID      string
	client        *httpx.Client
	tokens        TokenSource
	kv            storage.KV
	eventSuffixes []string
}

// NewConsumer creates a journal consumer
func NewConsumer(journalURL, clientID, imsOrgID string, client *httpx.Client, tokens TokenSource, kv storage.KV) *Consumer {
	return &Consumer{
		url:           journalURL,
		clientID:      clientID,
		imsOrgID:      imsOrgID,
		client:        client,
		tokens:        tokens,
		kv:            kv,
		eventSuffixes: DefaultEventSuffixes,
	}
}

// WithEventSuffixes overrides the kept event-type suffixes
func (c *Consumer) WithEventSuffixes(suffixes []string) *Consumer {
	c.eventSuffixes = suffixes
	return c
}

// Fetch pulls up to limit events after cursor. The journal signals
// end-of-stream with 500 by convention; 400 and 404 likewise map to an
// empty batch with the cursor unchanged.
func (c *Consumer) Fetch(ctx context.Context, cursor string, limit int) (*Batch, error) {
	tok, err := c.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("invalid journal url: %w", err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("since", cursor)
	}
	u.RawQuery = q.Encode()

	raw, err := c.client.Request(ctx, "journal-fetch", u.String(), httpx.Options{
		Headers: map[string]string{
			"Authorization": "Bearer " + tok,
			"x-api-key":     c.clientID,
			"x-ims-org-id":  c.imsOrgID,
		},
	})
	if err != nil {
		var herr *httpx.Error
		if errors.As(err, &herr) {
			switch herr.StatusCode {
			case http.StatusInternalServerError, http.StatusBadRequest, http.StatusNotFound:
				log.WithComponent("journal").Debug().
					Int("status", herr.StatusCode).
					Msg("journal signalled no events available")
				return &Batch{NextCursor: cursor}, nil
			}
		}
		return nil, err
	}
	if len(raw) == 0 {
		return &Batch{NextCursor: cursor}, nil
	}

	events, err := parseEvents(raw)
	if err != nil {
		return nil, err
	}

	// The cursor tracks the raw page, not the kept events: a page whose
	// events are all filtered out must still advance, or every subsequent
	// fetch re-reads it forever
	batch := &Batch{NextCursor: cursor}
	if len(events) > 0 {
		batch.NextCursor = events[len(events)-1].Position
		batch.HasMore = true
	}
	batch.Events = c.filterAndExtract(events)
	return batch, nil
}

// rawEvent is the wire shape of one journal entry
type rawEvent struct {
	Type     string          `json:"type"`
	Position string          `json:"position"`
	Data     json.RawMessage `json:"data"`
}

// parseEvents handles a JSON array, an {events: [...]} envelope, and JSONL
func parseEvents(raw []byte) ([]types.JournalEvent, error) {
	trimmed := bytes.TrimSpace(raw)

	var rawEvents []rawEvent
	switch {
	case len(trimmed) == 0:
		return nil, nil
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &rawEvents); err != nil {
			return nil, fmt.Errorf("failed to parse journal array: %w", err)
		}
	case trimmed[0] == '{' && bytes.Contains(trimmed, []byte(`"events"`)):
		var envelope struct {
			Events []rawEvent      `json:"events"`
			Page   json.RawMessage `json:"_page"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("failed to parse journal envelope: %w", err)
		}
		rawEvents = envelope.Events
	default:
		// Newline-delimited JSON
		scanner := bufio.NewScanner(bytes.NewReader(trimmed))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var ev rawEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				return nil, fmt.Errorf("failed to parse journal line: %w", err)
			}
			rawEvents = append(rawEvents, ev)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	out := make([]types.JournalEvent, 0, len(rawEvents))
	for _, re := range rawEvents {
		out = append(out, types.JournalEvent{
			Type:     re.Type,
			Position: re.Position,
			Data:     re.Data,
		})
	}
	return out, nil
}

// filterAndExtract keeps events matching the configured type suffixes and
// resolves their SKU; events without an extractable SKU are dropped with a
// warning.
func (c *Consumer) filterAndExtract(events []types.JournalEvent) []types.JournalEvent {
	logger := log.WithComponent("journal")
	kept := events[:0]
	for _, ev := range events {
		if !c.typeMatches(ev.Type) {
			continue
		}
		sku, ok := ExtractSKU(ev.Data)
		if !ok {
			logger.Warn().Str("type", ev.Type).Str("position", ev.Position).Msg("event carries no sku, dropping")
			continue
		}
		ev.SKU = sku
		kept = append(kept, ev)
	}
	return kept
}

func (c *Consumer) typeMatches(eventType string) bool {
	for _, suffix := range c.eventSuffixes {
		if strings.HasSuffix(eventType, suffix) {
			return true
		}
	}
	return false
}

// ExtractSKU resolves the SKU from an event payload: data.sku if present,
// else data.product.sku.
func ExtractSKU(data []byte) (string, bool) {
	var payload struct {
		SKU     string `json:"sku"`
		Product struct {
			SKU string `json:"sku"`
		} `json:"product"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", false
	}
	if payload.SKU != "" {
		return payload.SKU, true
	}
	if payload.Product.SKU != "" {
		return payload.Product.SKU, true
	}
	return "", false
}

// Kind maps a journal event type onto the queued-event kind
func Kind(eventType string) types.EventKind {
	if strings.HasSuffix(eventType, "price.update") {
		return types.EventKindPriceUpdate
	}
	return types.EventKindProductUpdate
}

// LoadCursor reads the persisted cursor; empty when none is stored
func (c *Consumer) LoadCursor() (string, error) {
	data, ok, err := c.kv.Get(CursorKey)
	if err != nil || !ok {
		return "", err
	}
	return string(data), nil
}

// SaveCursor persists the cursor after a batch's work has been scheduled.
// Advance-on-schedule is safe because renders skip unchanged hashes and
// preview/publish are idempotent by path.
func (c *Consumer) SaveCursor(cursor string) error {
	if cursor == "" {
		return nil
	}
	return c.kv.Put(CursorKey, []byte(cursor), 0)
}
