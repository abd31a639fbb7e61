package node

import (
	"strings"

	"esfixture/internal/api/elasticsearch"
	"esfixture/internal/shard"
	"esfixture/pkg/models"
	"esfixture/pkg/transport"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/pkg/errors"
)

// The node answers the transport protocol itself.
var _ transport.Backend = (*Node)(nil)

func (n *Node) ClusterName() string {
	return n.cluster.Name
}

func (n *Node) NodeName() string {
	return n.name
}

func (n *Node) checkOpen() error {
	if n.IsClosed() {
		return errors.WithStack(ErrClosed)
	}
	return nil
}

func (n *Node) index(name string) (*shard.Index, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	idx := n.manager.GetIndex(name)
	if idx == nil {
		return nil, errors.Wrapf(transport.ErrIndexNotFound, "index '%s'", name)
	}
	return idx, nil
}

// CreateIndex creates an index. Zero shards or negative replicas fall back
// to the node defaults.
func (n *Node) CreateIndex(name string, shards, replicas int) error {
	if err := n.checkOpen(); err != nil {
		return err
	}
	_, err := n.manager.CreateIndex(name, shard.IndexSettings{Shards: shards, Replicas: replicas})
	if errors.Is(err, shard.ErrIndexExists) {
		return errors.Wrapf(transport.ErrIndexExists, "index '%s'", name)
	}
	return err
}

// Index stores doc, creating the index with defaults if needed.
func (n *Node) Index(index, id string, doc map[string]interface{}) error {
	if err := n.checkOpen(); err != nil {
		return err
	}
	idx, err := n.manager.GetOrCreateIndex(index)
	if err != nil {
		return err
	}
	return idx.Index(id, doc)
}

func (n *Node) BatchIndex(index string, ids []string, docs []map[string]interface{}) error {
	if err := n.checkOpen(); err != nil {
		return err
	}
	idx, err := n.manager.GetOrCreateIndex(index)
	if err != nil {
		return err
	}
	return idx.BatchIndex(ids, docs)
}

// Get returns nil without error when the document does not exist.
func (n *Node) Get(index, id string) (map[string]interface{}, error) {
	idx, err := n.index(index)
	if err != nil {
		return nil, err
	}
	return idx.Get(id)
}

func (n *Node) Delete(index, id string) error {
	idx, err := n.index(index)
	if err != nil {
		return err
	}
	return idx.Delete(id)
}

// Search runs a query string search. An empty query or "*" matches all.
func (n *Node) Search(index string, req models.SearchRequest) (*models.SearchResponse, error) {
	idx, err := n.index(index)
	if err != nil {
		return nil, err
	}

	var q query.Query
	if qs := strings.TrimSpace(req.Query); qs == "" || qs == "*" {
		q = bleve.NewMatchAllQuery()
	} else {
		q = bleve.NewQueryStringQuery(qs)
	}

	size := req.Size
	if size <= 0 {
		size = 10
	}

	search := bleve.NewSearchRequestOptions(q, size, req.From, false)
	search.Fields = []string{"_source"}
	res, err := idx.Search(search)
	if err != nil {
		return nil, errors.Wrapf(err, "search on '%s' failed", index)
	}

	return &models.SearchResponse{
		Total: res.Total,
		Hits:  elasticsearch.SourceHits(res),
		Took:  res.Took.Milliseconds(),
	}, nil
}

func (n *Node) Indices() ([]models.IndexInfo, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}

	names := n.manager.ListIndices()
	infos := make([]models.IndexInfo, 0, len(names))
	for _, name := range names {
		idx := n.manager.GetIndex(name)
		if idx == nil {
			continue
		}
		docs, err := idx.DocCount()
		if err != nil {
			return nil, errors.Wrapf(err, "could not count documents of '%s'", name)
		}
		st := idx.Settings()
		infos = append(infos, models.IndexInfo{
			Name:     name,
			Shards:   st.Shards,
			Replicas: st.Replicas,
			Docs:     docs,
		})
	}
	return infos, nil
}
