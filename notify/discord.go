package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"stockwatch/models"
)

const (
	colorGreen  = 0x00ff00
	colorRed    = 0xff0000
	colorYellow = 0xffcc00
	colorGrey   = 0x95a5a6
)

// DiscordWebhook posts stock alerts as webhook embeds. Discord caps a
// message at 10 embeds, so larger batches go out in chunks.
type DiscordWebhook struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordWebhook(webhookURL string) *DiscordWebhook {
	return &DiscordWebhook{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordWebhook) Notify(ctx context.Context, events []models.StockEvent) error {
	const maxEmbeds = 10

	for start := 0; start < len(events); start += maxEmbeds {
		end := start + maxEmbeds
		if end > len(events) {
			end = len(events)
		}

		embeds := make([]discordEmbed, 0, end-start)
		for i := start; i < end; i++ {
			embeds = append(embeds, buildEmbed(&events[i]))
		}

		if err := d.send(ctx, discordMessage{Embeds: embeds}); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiscordWebhook) send(ctx context.Context, msg discordMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned %d", resp.StatusCode)
	}
	return nil
}

func buildEmbed(e *models.StockEvent) discordEmbed {
	embed := discordEmbed{
		Title:     Headline(e),
		URL:       productURL(e),
		Timestamp: e.CreatedAt.UTC().Format(time.RFC3339),
		Footer:    discordFooter{Text: "stockwatch"},
	}

	switch e.Kind {
	case models.EventNewlyInStock, models.EventNewProduct:
		embed.Color = colorGreen
	case models.EventNewlyOutOfStock, models.EventStoreUnreachable:
		embed.Color = colorRed
	case models.EventPriceChanged:
		embed.Color = colorYellow
	default:
		embed.Color = colorGrey
	}

	embed.Fields = append(embed.Fields, discordField{Name: "Store", Value: e.StoreID, Inline: true})

	if e.Current != nil && e.Current.Price != nil {
		embed.Fields = append(embed.Fields,
			discordField{Name: "Price", Value: "$" + e.Current.Price.StringFixed(2), Inline: true})
	}
	if e.Kind == models.EventPriceChanged && e.Previous != nil && e.Previous.LastPrice != nil {
		embed.Fields = append(embed.Fields,
			discordField{Name: "Was", Value: "$" + e.Previous.LastPrice.StringFixed(2), Inline: true})
	}
	if e.Unpersisted {
		embed.Fields = append(embed.Fields,
			discordField{Name: "Note", Value: "state update not persisted", Inline: false})
	}

	return embed
}

type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	URL       string         `json:"url,omitempty"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Footer    discordFooter  `json:"footer"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}
