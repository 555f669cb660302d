package search

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/config"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ElasticClient indexes completed event results and serves the event
// search endpoint.
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexEventResult indexes a completed event's outcome. Using the event ID
// as document ID makes a re-index of the same completion idempotent.
func (c *ElasticClient) IndexEventResult(ctx context.Context, event *models.Event, tally map[string]int) error {
	log.Info().Str("event_id", event.ID.String()).Msg("indexing event result")

	totalVotes := 0
	for _, n := range tally {
		totalVotes += n
	}

	doc := map[string]interface{}{
		"id":           event.ID.String(),
		"kind":         event.Kind,
		"title":        event.Title,
		"category":     event.Category,
		"mode":         event.Mode,
		"creator":      event.CreatorWallet,
		"rounds":       event.Rounds,
		"total_votes":  totalVotes,
		"tally":        tally,
		"is_public":    event.IsPublic,
		"created_at":   event.CreatedAt,
		"completed_at": event.CompletedAt,
	}
	if event.WinnerWallet != nil {
		doc["winner"] = *event.WinnerWallet
	}
	if event.Description != nil {
		doc["description"] = *event.Description
	}
	if event.StakeAmount != nil {
		doc["stake_amount"] = *event.StakeAmount
		doc["stake_currency"] = event.StakeCurrency
	}

	docJson, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event document")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: event.ID.String(),
		Body:       bytes.NewReader(docJson),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Info().Str("event_id", event.ID.String()).Msg("event result indexed successfully")
	return nil
}

// SearchEvents performs a full-text search over completed events. q matches
// against title, description and participant wallets; kind and category
// narrow the result when non-empty.
func (c *ElasticClient) SearchEvents(ctx context.Context, q, kind, category string, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	must := []map[string]interface{}{}
	if q != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q,
				"fields": []string{"title^2", "description", "creator", "winner"},
			},
		})
	}
	filter := []map[string]interface{}{}
	if kind != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"kind": kind},
		})
	}
	if category != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"category": category},
		})
	}

	query := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"completed_at": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   must,
				"filter": filter,
			},
		},
	}

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.SearchRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return nil, errors.Errorf("Elasticsearch search error: %v", e)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	hits, ok := result["hits"].(map[string]interface{})
	if !ok {
		return nil, errors.New("unexpected search result format")
	}
	hitsArray, ok := hits["hits"].([]interface{})
	if !ok {
		return nil, errors.New("unexpected hits format")
	}

	var docs []map[string]interface{}
	for _, hit := range hitsArray {
		hitMap, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}
		source, ok := hitMap["_source"].(map[string]interface{})
		if !ok {
			continue
		}
		docs = append(docs, source)
	}

	return docs, nil
}
