package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/pkg/errors"
	"github.com/tidwall/wal"
)

// Options selects how a shard keeps its data.
type Options struct {
	// Memory keeps the bleve index in memory only.
	Memory bool
	// WAL journals every write and replays the journal on open.
	WAL bool
	// Sync fsyncs the journal on every write.
	Sync bool
}

type Store struct {
	index bleve.Index
	log   *wal.Log
	path  string
	mu    sync.Mutex
}

type Operation string

const (
	OpIndex  Operation = "INDEX"
	OpDelete Operation = "DELETE"
)

type LogEntry struct {
	Op   Operation              `json:"op"`
	ID   string                 `json:"id"`
	Data map[string]interface{} `json:"data,omitempty"`
}

func Open(path string, opts Options) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, errors.WithStack(err)
	}

	blevePath := filepath.Join(path, "bleve")
	walPath := filepath.Join(path, "wal")

	var index bleve.Index
	var err error

	switch {
	case opts.Memory:
		index, err = bleve.NewMemOnly(GetDefaultMapping())
	default:
		if _, statErr := os.Stat(blevePath); os.IsNotExist(statErr) {
			index, err = bleve.New(blevePath, GetDefaultMapping())
		} else {
			index, err = bleve.Open(blevePath)
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open bleve index")
	}

	s := &Store{
		index: index,
		path:  path,
	}

	if !opts.WAL {
		return s, nil
	}

	walOpts := *wal.DefaultOptions
	walOpts.NoSync = !opts.Sync

	log, err := wal.Open(walPath, &walOpts)
	if err != nil {
		index.Close()
		return nil, errors.Wrap(err, "failed to open wal")
	}
	s.log = log

	if err := s.replay(); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "failed to replay wal")
	}

	return s, nil
}

func (s *Store) replay() error {
	lastIndex, err := s.log.LastIndex()
	if err != nil {
		return errors.WithStack(err)
	}

	if lastIndex == 0 {
		return nil
	}

	firstIndex, err := s.log.FirstIndex()
	if err != nil {
		return errors.WithStack(err)
	}

	batch := s.index.NewBatch()
	for i := firstIndex; i <= lastIndex; i++ {
		data, err := s.log.Read(i)
		if err != nil {
			return errors.WithStack(err)
		}
		var entry LogEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}

		switch entry.Op {
		case OpIndex:
			if err := batch.Index(entry.ID, entry.Data); err != nil {
				return errors.WithStack(err)
			}
		case OpDelete:
			batch.Delete(entry.ID)
		}
	}
	return errors.WithStack(s.index.Batch(batch))
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Close(); err != nil {
		return errors.WithStack(err)
	}
	if s.log == nil {
		return nil
	}
	return errors.WithStack(s.log.Close())
}

func (s *Store) journal(entry LogEntry) error {
	if s.log == nil {
		return nil
	}

	entryBytes, err := json.Marshal(entry)
	if err != nil {
		return errors.WithStack(err)
	}

	lastIndex, err := s.log.LastIndex()
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(s.log.Write(lastIndex+1, entryBytes))
}

// withSource copies data and adds the _source field used for document retrieval.
func withSource(data map[string]interface{}) (map[string]interface{}, error) {
	sourceBytes, err := json.Marshal(data)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	doc := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		doc[k] = v
	}
	doc["_source"] = string(sourceBytes)
	return doc, nil
}

func (s *Store) Index(id string, data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := withSource(data)
	if err != nil {
		return err
	}

	if err := s.journal(LogEntry{Op: OpIndex, ID: id, Data: doc}); err != nil {
		return err
	}

	return errors.WithStack(s.index.Index(id, doc))
}

func (s *Store) BatchIndex(ids []string, data []map[string]interface{}) error {
	if len(ids) != len(data) {
		return errors.Errorf("batch has %d ids for %d documents", len(ids), len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.index.NewBatch()
	for i, id := range ids {
		doc, err := withSource(data[i])
		if err != nil {
			return err
		}
		if err := s.journal(LogEntry{Op: OpIndex, ID: id, Data: doc}); err != nil {
			return err
		}
		if err := batch.Index(id, doc); err != nil {
			return errors.WithStack(err)
		}
	}

	return errors.WithStack(s.index.Batch(batch))
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.journal(LogEntry{Op: OpDelete, ID: id}); err != nil {
		return err
	}

	return errors.WithStack(s.index.Delete(id))
}

func (s *Store) Get(id string) (map[string]interface{}, error) {
	query := bleve.NewDocIDQuery([]string{id})
	searchRequest := bleve.NewSearchRequest(query)
	searchRequest.Fields = []string{"_source"}

	res, err := s.index.Search(searchRequest)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if res.Total == 0 {
		return nil, nil
	}

	sourceStr, ok := res.Hits[0].Fields["_source"].(string)
	if !ok {
		return nil, fmt.Errorf("_source field not found or not a string")
	}

	var result map[string]interface{}
	err = json.Unmarshal([]byte(sourceStr), &result)
	return result, errors.WithStack(err)
}

func (s *Store) Search(req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	res, err := s.index.Search(req)
	return res, errors.WithStack(err)
}

func (s *Store) DocCount() (uint64, error) {
	count, err := s.index.DocCount()
	return count, errors.WithStack(err)
}

func GetDefaultMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	sourceFieldMapping := bleve.NewTextFieldMapping()
	sourceFieldMapping.Store = true
	sourceFieldMapping.Index = false
	m.DefaultMapping.AddFieldMappingsAt("_source", sourceFieldMapping)
	return m
}
