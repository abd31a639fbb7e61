package graphql

import (
	"encoding/json"
	"net/http"
	"sync"

	"esfixture/internal/api/elasticsearch"
	"esfixture/internal/shard"

	"github.com/blevesearch/bleve/v2"
	"github.com/gin-gonic/gin"
	"github.com/graphql-go/graphql"
	"github.com/pkg/errors"
)

// IndexService serves one index. Its schema is rebuilt when the index
// mapping has grown since the last build.
type IndexService struct {
	index       *shard.Index
	schema      graphql.Schema
	mu          sync.Mutex
	lastMapping int
	built       bool
}

type Service struct {
	manager       *shard.Manager
	indexServices map[string]*IndexService
	mu            sync.Mutex
}

func NewService(m *shard.Manager) *Service {
	return &Service{
		manager:       m,
		indexServices: make(map[string]*IndexService),
	}
}

func (s *Service) RegisterHandlers(r *gin.Engine) {
	r.POST("/graphql/:index", s.Handler())
}

func (s *Service) indexService(name string) *IndexService {
	idx := s.manager.GetIndex(name)
	if idx == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	is, ok := s.indexServices[name]
	if !ok || is.index != idx {
		is = &IndexService{index: idx}
		s.indexServices[name] = is
	}
	return is
}

// Schema returns the current schema, rebuilding it if needed.
func (is *IndexService) Schema() (graphql.Schema, error) {
	is.mu.Lock()
	defer is.mu.Unlock()

	fields := is.index.Mapping.Len()
	if is.built && fields == is.lastMapping {
		return is.schema, nil
	}

	schema, err := is.buildSchema()
	if err != nil {
		return graphql.Schema{}, err
	}
	is.schema = schema
	is.lastMapping = fields
	is.built = true
	return schema, nil
}

func (is *IndexService) buildSchema() (graphql.Schema, error) {
	docType := is.index.Mapping.BuildGraphQLType("Document")

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"get": &graphql.Field{
				Type: docType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					doc, err := is.index.Get(id)
					if err != nil || doc == nil {
						return nil, err
					}
					doc["id"] = id
					return doc, nil
				},
			},
			"search": &graphql.Field{
				Type: graphql.NewList(docType),
				Args: graphql.FieldConfigArgument{
					"query": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"size":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 10},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					queryString := p.Args["query"].(string)
					size, _ := p.Args["size"].(int)
					q := bleve.NewQueryStringQuery(queryString)
					req := bleve.NewSearchRequestOptions(q, size, 0, false)
					req.Fields = []string{"_source"}
					res, err := is.index.Search(req)
					if err != nil {
						return nil, err
					}

					var results []map[string]interface{}
					for _, hit := range elasticsearch.SourceHits(res) {
						hit.Source["id"] = hit.ID
						results = append(results, hit.Source)
					}
					return results, nil
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"index": &graphql.Field{
				Type: graphql.String,
				Args: graphql.FieldConfigArgument{
					"id":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"json": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					jsonStr := p.Args["json"].(string)
					var data map[string]interface{}
					if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
						return nil, err
					}
					if err := is.index.Index(id, data); err != nil {
						return nil, err
					}
					return "ok", nil
				},
			},
			"delete": &graphql.Field{
				Type: graphql.String,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					if err := is.index.Delete(id); err != nil {
						return nil, err
					}
					return "ok", nil
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
	return schema, errors.WithStack(err)
}

func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("index")

		is := s.indexService(name)
		if is == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "index not found"})
			return
		}

		var request struct {
			Query         string                 `json:"query"`
			OperationName string                 `json:"operationName"`
			Variables     map[string]interface{} `json:"variables"`
		}

		if err := c.BindJSON(&request); err != nil {
			return
		}

		schema, err := is.Schema()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  request.Query,
			VariableValues: request.Variables,
			OperationName:  request.OperationName,
		})

		c.JSON(http.StatusOK, result)
	}
}
