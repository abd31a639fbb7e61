package elasticsearch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"esfixture/internal/cluster"
	"esfixture/internal/shard"
	"esfixture/pkg/models"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/xid"
)

const Version = "8.10.2"

type Service struct {
	manager *shard.Manager
	cluster *cluster.Cluster
}

func NewService(m *shard.Manager, c *cluster.Cluster) *Service {
	return &Service{manager: m, cluster: c}
}

func (s *Service) RegisterHandlers(r *gin.Engine) {
	r.Use(func(c *gin.Context) {
		c.Header("X-Elastic-Product", "Elasticsearch")
		c.Next()
	})

	r.GET("/", s.Info)
	r.GET("/_cluster/health", s.Health)
	r.GET("/_cluster/health/:index", s.Health)
	r.GET("/_nodes", s.Nodes)
	r.GET("/_cat/indices", s.CatIndices)
	r.GET("/_mapping", s.Mapping)
	r.GET("/:index/_mapping", s.Mapping)

	r.PUT("/:index", s.CreateIndex)
	r.GET("/:index", s.GetIndexInfo)
	r.HEAD("/:index", s.HeadIndex)
	r.PUT("/:index/_doc/:id", s.Index)
	r.POST("/:index/_doc/:id", s.Index)
	r.POST("/:index/_doc", s.Index)
	r.PUT("/:index/_create/:id", s.Index)
	r.POST("/:index/_create/:id", s.Index)
	r.GET("/:index/_doc/:id", s.Get)
	r.DELETE("/:index/_doc/:id", s.Delete)
	r.POST("/:index/_search", s.Search)
	r.GET("/:index/_search", s.Search)

	r.POST("/_bulk", s.Bulk)
	r.POST("/:index/_bulk", s.Bulk)
	r.POST("/_mget", s.MGet)
	r.POST("/:index/_mget", s.MGet)
}

func esError(c *gin.Context, status int, errType, reason, index string) {
	cause := gin.H{
		"type":   errType,
		"reason": reason,
	}
	if index != "" {
		cause["index"] = index
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"root_cause": []gin.H{cause},
			"type":       errType,
			"reason":     reason,
			"index":      index,
		},
		"status": status,
	})
}

func (s *Service) indexNotFound(c *gin.Context, name string) {
	esError(c, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]", name)
}

func (s *Service) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":         s.cluster.Self.Name,
		"cluster_name": s.cluster.Name,
		"cluster_uuid": s.cluster.Self.ID,
		"version": gin.H{
			"number":         Version,
			"build_flavor":   "default",
			"build_type":     "tar",
			"build_snapshot": false,
			"lucene_version": "9.7.0",
		},
		"tagline": "You Know, for Search",
	})
}

func (s *Service) currentHealth(index string) (models.ClusterHealth, bool) {
	if index == "" {
		return s.cluster.Health(s.manager.States()), true
	}
	idx := s.manager.GetIndex(index)
	if idx == nil {
		return models.ClusterHealth{}, false
	}
	return s.cluster.IndexHealth(idx.State()), true
}

// Health supports wait_for_status and timeout the way Elasticsearch does:
// it blocks until the status is reached and reports timed_out otherwise.
func (s *Service) Health(c *gin.Context) {
	index := c.Param("index")

	health, ok := s.currentHealth(index)
	if !ok {
		s.indexNotFound(c, index)
		return
	}

	rawStatus := c.Query("wait_for_status")
	if rawStatus == "" {
		c.JSON(http.StatusOK, health)
		return
	}

	min, err := models.ParseStatus(rawStatus)
	if err != nil {
		esError(c, http.StatusBadRequest, "illegal_argument_exception", err.Error(), "")
		return
	}

	timeout := 30 * time.Second
	if raw := c.Query("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			esError(c, http.StatusBadRequest, "illegal_argument_exception", err.Error(), "")
			return
		}
		timeout = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for !health.Status.AtLeast(min) {
		select {
		case <-ctx.Done():
			health.TimedOut = true
			c.JSON(http.StatusRequestTimeout, health)
			return
		case <-ticker.C:
		}
		health, _ = s.currentHealth(index)
	}

	c.JSON(http.StatusOK, health)
}

func (s *Service) Nodes(c *gin.Context) {
	self := s.cluster.Self
	c.JSON(http.StatusOK, gin.H{
		"cluster_name": s.cluster.Name,
		"nodes": gin.H{
			self.ID: gin.H{
				"name":    self.Name,
				"version": Version,
				"roles":   self.Roles(),
				"http": gin.H{
					"publish_address": self.HTTPAddr,
				},
				"transport": gin.H{
					"publish_address": self.TransportAddr,
				},
			},
		},
	})
}

func (s *Service) CatIndices(c *gin.Context) {
	var sb strings.Builder
	for _, name := range s.manager.ListIndices() {
		idx := s.manager.GetIndex(name)
		if idx == nil {
			continue
		}
		health := s.cluster.IndexHealth(idx.State())
		docs, _ := idx.DocCount()
		settings := idx.Settings()
		sb.WriteString(fmt.Sprintf("%s open %s %s %d %d %d\n", health.Status, name, name, settings.Shards, settings.Replicas, docs))
	}
	c.String(http.StatusOK, sb.String())
}

func (s *Service) HeadIndex(c *gin.Context) {
	if s.manager.GetIndex(c.Param("index")) != nil {
		c.Status(http.StatusOK)
	} else {
		c.Status(http.StatusNotFound)
	}
}

func (s *Service) GetIndexInfo(c *gin.Context) {
	name := c.Param("index")
	result := make(map[string]interface{})

	for _, n := range strings.Split(name, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		idx := s.manager.GetIndex(n)
		if idx == nil {
			continue
		}
		settings := idx.Settings()
		result[n] = gin.H{
			"settings": gin.H{
				"index": gin.H{
					"number_of_shards":   strconv.Itoa(settings.Shards),
					"number_of_replicas": strconv.Itoa(settings.Replicas),
				},
			},
			"mappings": gin.H{
				"properties": idx.Mapping.Properties(),
			},
		}
	}

	if len(result) == 0 && c.Query("ignore_unavailable") != "true" {
		s.indexNotFound(c, name)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Service) Mapping(c *gin.Context) {
	name := c.Param("index")

	names := s.manager.ListIndices()
	if name != "" {
		names = strings.Split(name, ",")
	}

	result := make(map[string]interface{})
	for _, n := range names {
		idx := s.manager.GetIndex(strings.TrimSpace(n))
		if idx != nil {
			result[idx.Name] = gin.H{"mappings": gin.H{"properties": idx.Mapping.Properties()}}
		}
	}

	if name != "" && len(result) == 0 {
		s.indexNotFound(c, name)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Service) CreateIndex(c *gin.Context) {
	name := c.Param("index")

	var body struct {
		Settings struct {
			Shards   json.Number `json:"number_of_shards"`
			Replicas json.Number `json:"number_of_replicas"`
			Index    struct {
				Shards   json.Number `json:"number_of_shards"`
				Replicas json.Number `json:"number_of_replicas"`
			} `json:"index"`
		} `json:"settings"`
	}
	if c.Request.ContentLength != 0 {
		if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			esError(c, http.StatusBadRequest, "parse_exception", err.Error(), name)
			return
		}
	}

	settings := shard.IndexSettings{Replicas: -1}
	if n, err := firstNumber(body.Settings.Index.Shards, body.Settings.Shards); err == nil {
		settings.Shards = n
	}
	if n, err := firstNumber(body.Settings.Index.Replicas, body.Settings.Replicas); err == nil {
		settings.Replicas = n
	}

	if _, err := s.manager.CreateIndex(name, settings); err != nil {
		if errors.Is(err, shard.ErrIndexExists) {
			esError(c, http.StatusBadRequest, "resource_already_exists_exception", "index ["+name+"] already exists", name)
			return
		}
		esError(c, http.StatusInternalServerError, "exception", err.Error(), name)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true, "shards_acknowledged": true, "index": name})
}

func firstNumber(values ...json.Number) (int, error) {
	for _, v := range values {
		if v == "" {
			continue
		}
		n, err := v.Int64()
		return int(n), err
	}
	return 0, errors.New("no value")
}

func (s *Service) Index(c *gin.Context) {
	name := c.Param("index")
	id := c.Param("id")
	if id == "" {
		id = xid.New().String()
	}

	var data map[string]interface{}
	if err := c.BindJSON(&data); err != nil {
		esError(c, http.StatusBadRequest, "parse_exception", err.Error(), name)
		return
	}

	idx, err := s.manager.GetOrCreateIndex(name)
	if err != nil {
		esError(c, http.StatusInternalServerError, "exception", err.Error(), name)
		return
	}

	if err := idx.Index(id, data); err != nil {
		esError(c, http.StatusInternalServerError, "exception", err.Error(), name)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"_index":   name,
		"_id":      id,
		"result":   "created",
		"_version": 1,
	})
}

func (s *Service) Bulk(c *gin.Context) {
	scanner := bufio.NewScanner(c.Request.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	type batch struct {
		ids  []string
		docs []map[string]interface{}
	}
	batches := make(map[string]*batch)
	var order []string
	var responseItems []interface{}
	hasErrors := false

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var action map[string]map[string]interface{}
		if err := json.Unmarshal(line, &action); err != nil {
			hasErrors = true
			continue
		}

		for op, meta := range action {
			indexName, _ := meta["_index"].(string)
			if indexName == "" {
				indexName = c.Param("index")
			}
			id, _ := meta["_id"].(string)

			switch op {
			case "index", "create":
				if !scanner.Scan() {
					break
				}
				var doc map[string]interface{}
				if err := json.Unmarshal(scanner.Bytes(), &doc); err != nil || indexName == "" {
					hasErrors = true
					continue
				}
				if id == "" {
					id = xid.New().String()
				}
				b, ok := batches[indexName]
				if !ok {
					b = &batch{}
					batches[indexName] = b
					order = append(order, indexName)
				}
				b.ids = append(b.ids, id)
				b.docs = append(b.docs, doc)
			case "delete":
				status := http.StatusOK
				if idx := s.manager.GetIndex(indexName); idx == nil || idx.Delete(id) != nil {
					status = http.StatusNotFound
				}
				responseItems = append(responseItems, gin.H{
					"delete": gin.H{"_index": indexName, "_id": id, "status": status},
				})
			}
		}
	}

	for _, name := range order {
		b := batches[name]
		status := http.StatusCreated
		idx, err := s.manager.GetOrCreateIndex(name)
		if err == nil {
			err = idx.BatchIndex(b.ids, b.docs)
		}
		if err != nil {
			hasErrors = true
			status = http.StatusInternalServerError
		}
		for _, id := range b.ids {
			responseItems = append(responseItems, gin.H{
				"index": gin.H{
					"_index": name,
					"_id":    id,
					"status": status,
				},
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"took":   0,
		"errors": hasErrors,
		"items":  responseItems,
	})
}

func (s *Service) MGet(c *gin.Context) {
	var req struct {
		Docs []struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		} `json:"docs"`
		IDs []string `json:"ids"`
	}

	if err := c.BindJSON(&req); err != nil {
		esError(c, http.StatusBadRequest, "parse_exception", err.Error(), "")
		return
	}

	indexName := c.Param("index")
	for _, id := range req.IDs {
		req.Docs = append(req.Docs, struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		}{Index: indexName, ID: id})
	}

	results := []interface{}{}
	for _, d := range req.Docs {
		n := d.Index
		if n == "" {
			n = indexName
		}
		var doc map[string]interface{}
		if idx := s.manager.GetIndex(n); idx != nil {
			doc, _ = idx.Get(d.ID)
		}
		if doc != nil {
			results = append(results, gin.H{"_index": n, "_id": d.ID, "found": true, "_source": doc})
		} else {
			results = append(results, gin.H{"_index": n, "_id": d.ID, "found": false})
		}
	}

	c.JSON(http.StatusOK, gin.H{"docs": results})
}

func (s *Service) Get(c *gin.Context) {
	name := c.Param("index")
	id := c.Param("id")

	idx := s.manager.GetIndex(name)
	if idx == nil {
		s.indexNotFound(c, name)
		return
	}

	doc, err := idx.Get(id)
	if err != nil {
		esError(c, http.StatusInternalServerError, "exception", err.Error(), name)
		return
	}

	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"_index": name, "_id": id, "found": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"_index":  name,
		"_id":     id,
		"found":   true,
		"_source": doc,
	})
}

func (s *Service) Delete(c *gin.Context) {
	name := c.Param("index")
	id := c.Param("id")

	idx := s.manager.GetIndex(name)
	if idx == nil {
		s.indexNotFound(c, name)
		return
	}

	if err := idx.Delete(id); err != nil {
		esError(c, http.StatusInternalServerError, "exception", err.Error(), name)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"_index": name,
		"_id":    id,
		"result": "deleted",
	})
}

// BuildQuery translates the subset of the query DSL the node understands.
func BuildQuery(q map[string]interface{}) query.Query {
	if q == nil {
		return bleve.NewMatchAllQuery()
	}
	if _, ok := q["match_all"]; ok {
		return bleve.NewMatchAllQuery()
	}
	if qs, ok := q["query_string"].(map[string]interface{}); ok {
		if str, ok := qs["query"].(string); ok && str != "" {
			return bleve.NewQueryStringQuery(str)
		}
		return bleve.NewMatchAllQuery()
	}
	if m, ok := q["match"].(map[string]interface{}); ok {
		for field, v := range m {
			text := fmt.Sprint(v)
			if opts, ok := v.(map[string]interface{}); ok {
				text = fmt.Sprint(opts["query"])
			}
			mq := bleve.NewMatchQuery(text)
			mq.SetField(field)
			return mq
		}
	}
	if t, ok := q["term"].(map[string]interface{}); ok {
		for field, v := range t {
			if opts, ok := v.(map[string]interface{}); ok {
				v = opts["value"]
			}
			tq := bleve.NewTermQuery(strings.ToLower(fmt.Sprint(v)))
			tq.SetField(field)
			return tq
		}
	}
	if b, ok := q["bool"].(map[string]interface{}); ok {
		conj := bleve.NewConjunctionQuery()
		for _, key := range []string{"must", "filter"} {
			for _, clause := range clauses(b[key]) {
				conj.AddQuery(BuildQuery(clause))
			}
		}
		if len(conj.Conjuncts) == 0 {
			conj.AddQuery(bleve.NewMatchAllQuery())
		}
		return conj
	}
	return bleve.NewMatchAllQuery()
}

func clauses(raw interface{}) []map[string]interface{} {
	switch v := raw.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{v}
	case []interface{}:
		var out []map[string]interface{}
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// SourceHits decodes the stored _source of every hit.
func SourceHits(res *bleve.SearchResult) []models.Hit {
	hits := make([]models.Hit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		source := make(map[string]interface{})
		if s, ok := hit.Fields["_source"].(string); ok {
			json.Unmarshal([]byte(s), &source)
		}
		hits = append(hits, models.Hit{ID: hit.ID, Score: hit.Score, Source: source})
	}
	return hits
}

func (s *Service) Search(c *gin.Context) {
	name := c.Param("index")

	var q query.Query
	from, size := 0, 10

	if c.Request.Method == http.MethodGet {
		if qs := c.Query("q"); qs != "" {
			q = bleve.NewQueryStringQuery(qs)
		}
		if v, err := strconv.Atoi(c.Query("from")); err == nil {
			from = v
		}
		if v, err := strconv.Atoi(c.Query("size")); err == nil {
			size = v
		}
	} else {
		var body struct {
			Query      map[string]interface{} `json:"query"`
			PostFilter map[string]interface{} `json:"post_filter"`
			From       *int                   `json:"from"`
			Size       *int                   `json:"size"`
		}
		if c.Request.ContentLength != 0 {
			if err := c.BindJSON(&body); err != nil {
				return
			}
		}
		q = BuildQuery(body.Query)
		if body.PostFilter != nil {
			q = bleve.NewConjunctionQuery(q, BuildQuery(body.PostFilter))
		}
		if body.From != nil {
			from = *body.From
		}
		if body.Size != nil {
			size = *body.Size
		}
	}
	if q == nil {
		q = bleve.NewMatchAllQuery()
	}

	idx := s.manager.GetIndex(name)
	if idx == nil {
		s.indexNotFound(c, name)
		return
	}

	req := bleve.NewSearchRequestOptions(q, size, from, false)
	req.Fields = []string{"_source"}
	res, err := idx.Search(req)
	if err != nil {
		esError(c, http.StatusInternalServerError, "search_phase_execution_exception", err.Error(), name)
		return
	}

	hits := []gin.H{}
	for _, hit := range SourceHits(res) {
		hits = append(hits, gin.H{
			"_index":  name,
			"_id":     hit.ID,
			"_score":  hit.Score,
			"_source": hit.Source,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"took":      res.Took.Milliseconds(),
		"timed_out": false,
		"hits": gin.H{
			"total": gin.H{
				"value":    res.Total,
				"relation": "eq",
			},
			"max_score": res.MaxScore,
			"hits":      hits,
		},
	})
}
