package cluster

import (
	"testing"

	"esfixture/pkg/models"

	"github.com/stretchr/testify/assert"
)

func TestHealth(t *testing.T) {
	type testCase struct {
		Name     string
		Data     bool
		Indices  []IndexState
		Status   models.Status
		Active   int
		Unassign int
	}

	testCases := []testCase{
		{Name: "no indices", Data: true, Status: models.StatusGreen},
		{Name: "no indices without data", Data: false, Status: models.StatusGreen},
		{
			Name:    "primaries only",
			Data:    true,
			Indices: []IndexState{{Name: "books", Shards: 2}},
			Status:  models.StatusGreen,
			Active:  2,
		},
		{
			Name:     "replicas stay unassigned",
			Data:     true,
			Indices:  []IndexState{{Name: "books", Shards: 1, Replicas: 1}, {Name: "authors", Shards: 1}},
			Status:   models.StatusYellow,
			Active:   2,
			Unassign: 1,
		},
		{
			Name:     "non data node",
			Data:     false,
			Indices:  []IndexState{{Name: "books", Shards: 1}},
			Status:   models.StatusRed,
			Unassign: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			c := NewCluster("cluster-test", "node-test", tc.Data)
			health := c.Health(tc.Indices)

			assert.Equal(t, "cluster-test", health.ClusterName)
			assert.Equal(t, tc.Status, health.Status)
			assert.Equal(t, tc.Active, health.ActiveShards)
			assert.Equal(t, tc.Unassign, health.UnassignedShards)
			assert.Equal(t, 1, health.NumberOfNodes)
		})
	}
}

func TestRoles(t *testing.T) {
	c := NewCluster("c", "n", false)
	assert.NotContains(t, c.Self.Roles(), "data")
	assert.NotEmpty(t, c.Self.ID)
}
