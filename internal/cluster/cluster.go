package cluster

import (
	"esfixture/pkg/models"

	"github.com/rs/xid"
)

type Node struct {
	ID   string
	Name string
	// Data is false for nodes that hold no shards.
	Data          bool
	HTTPAddr      string
	TransportAddr string
}

func (n Node) Roles() []string {
	if n.Data {
		return []string{"master", "data", "ingest"}
	}
	return []string{"master", "ingest"}
}

// Cluster is the single-node view an embedded node keeps of its cluster.
type Cluster struct {
	Name string
	Self Node
}

func NewCluster(name, nodeName string, data bool) *Cluster {
	return &Cluster{
		Name: name,
		Self: Node{
			ID:   xid.New().String(),
			Name: nodeName,
			Data: data,
		},
	}
}

// IndexState is what health computation needs to know about an index.
type IndexState struct {
	Name     string
	Shards   int
	Replicas int
}

// Health computes the cluster health of the local node holding indices.
// Primaries are assigned only on data nodes. Replicas are never assigned as
// a replica cannot live on the node holding its primary.
func (c *Cluster) Health(indices []IndexState) models.ClusterHealth {
	health := models.ClusterHealth{
		ClusterName:   c.Name,
		NumberOfNodes: 1,
	}
	if c.Self.Data {
		health.NumberOfDataNodes = 1
	}

	total := 0
	for _, idx := range indices {
		copies := idx.Shards * (1 + idx.Replicas)
		total += copies
		if !c.Self.Data {
			health.UnassignedShards += copies
			continue
		}
		health.ActivePrimaryShards += idx.Shards
		health.ActiveShards += idx.Shards
		health.UnassignedShards += idx.Shards * idx.Replicas
	}

	switch {
	case total == 0:
		health.Status = models.StatusGreen
		health.ActiveShardsPercent = 100
		return health
	case !c.Self.Data:
		health.Status = models.StatusRed
	case health.UnassignedShards > 0:
		health.Status = models.StatusYellow
	default:
		health.Status = models.StatusGreen
	}

	health.ActiveShardsPercent = float64(health.ActiveShards) * 100 / float64(total)
	return health
}

// IndexHealth computes the health of a single index.
func (c *Cluster) IndexHealth(idx IndexState) models.ClusterHealth {
	return c.Health([]IndexState{idx})
}
