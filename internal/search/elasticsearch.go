package search

import (
	"bytes"
	"context"
	"sort"
	"strconv"

	"example.com/backstage/services/library/config"
	"example.com/backstage/services/library/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrSearchDisabled is returned when Elasticsearch is not configured
var ErrSearchDisabled = errors.New("search is disabled")

const dateLayout = "2006-01-02"

// IssueNoteDocument is the searchable projection of an issue note
type IssueNoteDocument struct {
	ID          int64    `json:"id"`
	Date        string   `json:"date"`
	MemberID    string   `json:"member_id"`
	Books       []string `json:"books"`
	Outstanding []string `json:"outstanding"`
	Returned    []string `json:"returned"`
}

// IssueNoteQuery filters the projection; empty fields do not filter
type IssueNoteQuery struct {
	MemberID        string
	ISBN            string
	OutstandingOnly bool
	Size            int
}

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client  *elasticsearch.Client
	config  config.ElasticConfig
	enabled bool
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	if !cfg.Enabled {
		return &ElasticClient{config: cfg, enabled: false}, nil
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client:  client,
		config:  cfg,
		enabled: true,
	}, nil
}

// Enabled reports whether the client talks to Elasticsearch
func (c *ElasticClient) Enabled() bool {
	return c.enabled
}

func (c *ElasticClient) indexName() string {
	return config.FormatIndex(c.config, c.config.Index)
}

// BuildIssueNoteDocument projects a note, with its items and returns
// loaded, into a search document. Book lists are sorted.
func BuildIssueNoteDocument(note models.IssueNote) IssueNoteDocument {
	returned := make(map[string]bool, len(note.Returns))
	for _, r := range note.Returns {
		returned[r.ISBN] = true
	}

	doc := IssueNoteDocument{
		ID:          note.ID,
		Date:        note.Date.Format(dateLayout),
		MemberID:    note.MemberID,
		Books:       []string{},
		Outstanding: []string{},
		Returned:    []string{},
	}

	for _, item := range note.Items {
		doc.Books = append(doc.Books, item.ISBN)
		if returned[item.ISBN] {
			doc.Returned = append(doc.Returned, item.ISBN)
		} else {
			doc.Outstanding = append(doc.Outstanding, item.ISBN)
		}
	}

	sort.Strings(doc.Books)
	sort.Strings(doc.Outstanding)
	sort.Strings(doc.Returned)

	return doc
}

// BuildSearchQuery builds the bool query body for q
func BuildSearchQuery(q IssueNoteQuery) map[string]interface{} {
	filters := []interface{}{}

	if q.MemberID != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"member_id": q.MemberID},
		})
	}

	if q.ISBN != "" {
		field := "books"
		if q.OutstandingOnly {
			field = "outstanding"
		}
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{field: q.ISBN},
		})
	} else if q.OutstandingOnly {
		filters = append(filters, map[string]interface{}{
			"exists": map[string]interface{}{"field": "outstanding"},
		})
	}

	size := q.Size
	if size <= 0 {
		size = 100
	}

	return map[string]interface{}{
		"size": size,
		"sort": []interface{}{
			map[string]interface{}{"id": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		},
	}
}

// issueNoteMapping keeps ids and isbns as exact-match keywords
var issueNoteMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"id":          map[string]interface{}{"type": "long"},
			"date":        map[string]interface{}{"type": "date", "format": "yyyy-MM-dd"},
			"member_id":   map[string]interface{}{"type": "keyword"},
			"books":       map[string]interface{}{"type": "keyword"},
			"outstanding": map[string]interface{}{"type": "keyword"},
			"returned":    map[string]interface{}{"type": "keyword"},
		},
	},
}

// EnsureIndex creates the issue note index with its mapping if missing
func (c *ElasticClient) EnsureIndex(ctx context.Context) error {
	if !c.enabled {
		return ErrSearchDisabled
	}

	exists, err := esapi.IndicesExistsRequest{Index: []string{c.indexName()}}.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to check Elasticsearch index")
	}
	exists.Body.Close()
	if exists.StatusCode == 200 {
		return nil
	}

	body, err := json.Marshal(issueNoteMapping)
	if err != nil {
		return errors.Wrap(err, "failed to marshal index mapping")
	}

	res, err := esapi.IndicesCreateRequest{
		Index: c.indexName(),
		Body:  bytes.NewReader(body),
	}.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to create Elasticsearch index")
	}
	defer res.Body.Close()

	if res.IsError() {
		return decodeError(res, "create index")
	}

	log.Info().Str("index", c.indexName()).Msg("Created issue note index")
	return nil
}

// IndexIssueNote indexes a document keyed by the issue note id
func (c *ElasticClient) IndexIssueNote(ctx context.Context, doc IssueNoteDocument) error {
	if !c.enabled {
		return ErrSearchDisabled
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal issue note document")
	}

	req := esapi.IndexRequest{
		Index:      c.indexName(),
		DocumentID: strconv.FormatInt(doc.ID, 10),
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return decodeError(res, "index")
	}

	log.Debug().Int64("issue_note_id", doc.ID).Msg("Issue note indexed")
	return nil
}

// SearchIssueNotes runs q against the issue note index
func (c *ElasticClient) SearchIssueNotes(ctx context.Context, q IssueNoteQuery) ([]IssueNoteDocument, error) {
	if !c.enabled {
		return nil, ErrSearchDisabled
	}

	body, err := json.Marshal(BuildSearchQuery(q))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{c.indexName()},
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		// A missing index means nothing has been indexed yet
		if res.StatusCode == 404 {
			return []IssueNoteDocument{}, nil
		}
		return nil, decodeError(res, "search")
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source IssueNoteDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	docs := make([]IssueNoteDocument, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		docs = append(docs, hit.Source)
	}

	return docs, nil
}

// Ping checks the cluster
func (c *ElasticClient) Ping(ctx context.Context) error {
	if !c.enabled {
		return ErrSearchDisabled
	}

	res, err := c.client.Ping(c.client.Ping.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "failed to ping Elasticsearch")
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("Elasticsearch ping returned %s", res.Status())
	}
	return nil
}

func decodeError(res *esapi.Response, op string) error {
	var e map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
		return errors.Wrapf(err, "failed to parse Elasticsearch %s error response", op)
	}
	return errors.Errorf("Elasticsearch %s error: %v", op, e)
}
