package transport

import (
	"esfixture/pkg/models"

	"github.com/pkg/errors"
)

type RequestType int

const (
	ReqHandshake RequestType = iota
	ReqHealth
	ReqCreateIndex
	ReqIndex
	ReqBatchIndex
	ReqGet
	ReqDelete
	ReqSearch
	ReqListIndices
)

// Request is one line of the transport protocol.
type Request struct {
	Type        RequestType              `json:"type"`
	ClusterName string                   `json:"cluster_name,omitempty"`
	IndexName   string                   `json:"index_name,omitempty"`
	ID          string                   `json:"id,omitempty"`
	Data        map[string]interface{}   `json:"data,omitempty"`
	BatchIDs    []string                 `json:"batch_ids,omitempty"`
	BatchDocs   []map[string]interface{} `json:"batch_docs,omitempty"`
	Search      *models.SearchRequest    `json:"search,omitempty"`
	NumShards   int                      `json:"num_shards,omitempty"`
	NumReplicas int                      `json:"num_replicas,omitempty"`
}

// Response answers exactly one Request.
type Response struct {
	ClusterName string                 `json:"cluster_name,omitempty"`
	NodeName    string                 `json:"node_name,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Search      *models.SearchResponse `json:"search,omitempty"`
	Health      *models.ClusterHealth  `json:"health,omitempty"`
	Indices     []models.IndexInfo     `json:"indices,omitempty"`
	Err         string                 `json:"err,omitempty"`
	Code        string                 `json:"code,omitempty"`
}

const (
	codeClusterMismatch = "cluster_mismatch"
	codeIndexNotFound   = "index_not_found"
	codeIndexExists     = "index_exists"
)

var (
	ErrClosed          = errors.New("transport client is closed")
	ErrClusterMismatch = errors.New("cluster name mismatch")
	ErrIndexNotFound   = errors.New("no such index")
	ErrIndexExists     = errors.New("index already exists")
	ErrNoAddress       = errors.New("no transport address configured")
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrClusterMismatch):
		return codeClusterMismatch
	case errors.Is(err, ErrIndexNotFound):
		return codeIndexNotFound
	case errors.Is(err, ErrIndexExists):
		return codeIndexExists
	}
	return ""
}

// responseError rebuilds a remote error so callers can match it with errors.Is.
func responseError(resp *Response) error {
	switch resp.Code {
	case codeClusterMismatch:
		return errors.Wrap(ErrClusterMismatch, resp.Err)
	case codeIndexNotFound:
		return errors.Wrap(ErrIndexNotFound, resp.Err)
	case codeIndexExists:
		return errors.Wrap(ErrIndexExists, resp.Err)
	}
	return errors.New(resp.Err)
}
