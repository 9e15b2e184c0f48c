package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/gridsx/pipegos/event"
)

// ElasticStore indexes documents into Elasticsearch, one index per table
// stream. Document ids come from the caller, never generated here.
type ElasticStore struct {
	client *elasticsearch.Client
}

func NewElasticStore(addresses []string, username, password string) (*ElasticStore, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &ElasticStore{client: client}, nil
}

func (s *ElasticStore) Upsert(ctx context.Context, index, id string, doc event.Row) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return s.checkResponse(res, false)
}

func (s *ElasticStore) Delete(ctx context.Context, index, id string) error {
	req := esapi.DeleteRequest{
		Index:      index,
		DocumentID: id,
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return s.checkResponse(res, true)
}

// checkResponse sorts store answers into the failure taxonomy: 404 on delete
// is success, 429 and 5xx are transient, remaining 4xx are rejections.
func (s *ElasticStore) checkResponse(res *esapi.Response, isDelete bool) error {
	if !res.IsError() {
		return nil
	}
	if isDelete && res.StatusCode == http.StatusNotFound {
		return nil
	}
	msg, _ := io.ReadAll(res.Body)
	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
		return fmt.Errorf("elasticsearch unavailable: %s: %s", res.Status(), string(msg))
	}
	return fmt.Errorf("%w: %s: %s", ErrRejected, res.Status(), string(msg))
}

func (s *ElasticStore) Close() error {
	return nil
}
