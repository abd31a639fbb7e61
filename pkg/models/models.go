package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Document map[string]interface{}

type SearchRequest struct {
	Query string `json:"query"`
	From  int    `json:"from"`
	Size  int    `json:"size"`
}

type SearchResponse struct {
	Total uint64 `json:"total"`
	Hits  []Hit  `json:"hits"`
	Took  int64  `json:"took"`
}

type Hit struct {
	ID     string                 `json:"id"`
	Score  float64                `json:"score"`
	Source map[string]interface{} `json:"source"`
}

// Status is a cluster health color. Higher is healthier.
type Status int

const (
	StatusRed Status = iota
	StatusYellow
	StatusGreen
)

func (s Status) String() string {
	switch s {
	case StatusGreen:
		return "green"
	case StatusYellow:
		return "yellow"
	default:
		return "red"
	}
}

// AtLeast reports whether s is as healthy as min or better.
func (s Status) AtLeast(min Status) bool {
	return s >= min
}

func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "green":
		return StatusGreen, nil
	case "yellow":
		return StatusYellow, nil
	case "red":
		return StatusRed, nil
	}
	return StatusRed, fmt.Errorf("unknown health status '%s'", raw)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type ClusterHealth struct {
	ClusterName         string  `json:"cluster_name"`
	Status              Status  `json:"status"`
	TimedOut            bool    `json:"timed_out"`
	NumberOfNodes       int     `json:"number_of_nodes"`
	NumberOfDataNodes   int     `json:"number_of_data_nodes"`
	ActivePrimaryShards int     `json:"active_primary_shards"`
	ActiveShards        int     `json:"active_shards"`
	UnassignedShards    int     `json:"unassigned_shards"`
	ActiveShardsPercent float64 `json:"active_shards_percent_as_number"`
}

type IndexInfo struct {
	Name     string `json:"name"`
	Shards   int    `json:"number_of_shards"`
	Replicas int    `json:"number_of_replicas"`
	Docs     uint64 `json:"docs_count"`
}
