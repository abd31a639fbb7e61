package shard

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"esfixture/internal/cluster"
	"esfixture/internal/mapping"
	"esfixture/internal/store"

	"github.com/blevesearch/bleve/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

var ErrIndexExists = errors.New("index already exists")

// IndexSettings are fixed when an index is created.
type IndexSettings struct {
	Shards   int `json:"number_of_shards"`
	Replicas int `json:"number_of_replicas"`
}

type Options struct {
	DefaultShards   int
	DefaultReplicas int
	Store           store.Options
	// Reload opens the indices found under the base path.
	Reload bool
}

type Index struct {
	Name     string
	shards   []*store.Store
	settings IndexSettings
	path     string
	Mapping  *mapping.Mapping
	mu       sync.RWMutex
}

type Manager struct {
	indices  map[string]*Index
	basePath string
	opts     Options
	mu       sync.RWMutex
}

func NewManager(basePath string, opts Options) (*Manager, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, errors.WithStack(err)
	}

	if opts.DefaultShards <= 0 {
		opts.DefaultShards = 1
	}
	if opts.DefaultReplicas < 0 {
		opts.DefaultReplicas = 0
	}

	m := &Manager{
		indices:  make(map[string]*Index),
		basePath: basePath,
		opts:     opts,
	}

	if !opts.Reload {
		return m, nil
	}

	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(basePath, entry.Name(), "meta.json")); err != nil {
			continue
		}
		if _, err := m.openIndex(entry.Name(), IndexSettings{}); err != nil {
			m.Close()
			return nil, errors.Wrapf(err, "failed to open index '%s'", entry.Name())
		}
	}

	return m, nil
}

func (m *Manager) openIndex(name string, settings IndexSettings) (*Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, ok := m.indices[name]; ok {
		return idx, nil
	}

	indexPath := filepath.Join(m.basePath, name)
	if err := os.MkdirAll(indexPath, 0755); err != nil {
		return nil, errors.WithStack(err)
	}

	metaPath := filepath.Join(indexPath, "meta.json")
	if data, err := os.ReadFile(metaPath); err == nil {
		if err := json.Unmarshal(data, &settings); err != nil {
			return nil, errors.Wrapf(err, "invalid metadata for index '%s'", name)
		}
	}

	if settings.Shards <= 0 {
		settings.Shards = m.opts.DefaultShards
	}
	if settings.Replicas < 0 {
		settings.Replicas = m.opts.DefaultReplicas
	}

	idx := &Index{
		Name:     name,
		settings: settings,
		path:     indexPath,
		shards:   make([]*store.Store, settings.Shards),
		Mapping:  mapping.NewMapping(),
	}

	mappingPath := filepath.Join(indexPath, "mapping.json")
	if data, err := os.ReadFile(mappingPath); err == nil {
		var fields map[string]mapping.FieldType
		if err := json.Unmarshal(data, &fields); err == nil {
			idx.Mapping = mapping.FromFields(fields)
		}
	}

	for i := 0; i < settings.Shards; i++ {
		shardPath := filepath.Join(indexPath, fmt.Sprintf("shard_%d", i))
		s, err := store.Open(shardPath, m.opts.Store)
		if err != nil {
			idx.Close()
			return nil, err
		}
		idx.shards[i] = s
	}

	meta, err := json.Marshal(settings)
	if err != nil {
		idx.Close()
		return nil, errors.WithStack(err)
	}
	if err := os.WriteFile(metaPath, meta, 0644); err != nil {
		idx.Close()
		return nil, errors.WithStack(err)
	}

	m.indices[name] = idx
	return idx, nil
}

// CreateIndex creates a new index. Zero shards means the manager default,
// negative replicas the manager default.
func (m *Manager) CreateIndex(name string, settings IndexSettings) (*Index, error) {
	if name == "" {
		return nil, errors.New("index name is required")
	}

	m.mu.RLock()
	_, exists := m.indices[name]
	m.mu.RUnlock()
	if exists {
		return nil, errors.Wrapf(ErrIndexExists, "index '%s'", name)
	}

	return m.openIndex(name, settings)
}

// GetOrCreateIndex returns the named index, creating it with defaults if needed.
func (m *Manager) GetOrCreateIndex(name string) (*Index, error) {
	if idx := m.GetIndex(name); idx != nil {
		return idx, nil
	}
	return m.openIndex(name, IndexSettings{Replicas: -1})
}

func (m *Manager) GetIndex(name string) *Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indices[name]
}

func (m *Manager) ListIndices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.indices))
	for name := range m.indices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// States lists the state of every index for health computation.
func (m *Manager) States() []cluster.IndexState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	states := make([]cluster.IndexState, 0, len(m.indices))
	for _, idx := range m.indices {
		states = append(states, idx.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs *multierror.Error
	for name, idx := range m.indices {
		if err := idx.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "failed to close index '%s'", name))
		}
		delete(m.indices, name)
	}
	return errs.ErrorOrNil()
}

func (idx *Index) Settings() IndexSettings {
	return idx.settings
}

func (idx *Index) State() cluster.IndexState {
	return cluster.IndexState{
		Name:     idx.Name,
		Shards:   idx.settings.Shards,
		Replicas: idx.settings.Replicas,
	}
}

func (idx *Index) saveMapping() {
	mappingPath := filepath.Join(idx.path, "mapping.json")
	data, err := json.Marshal(idx.Mapping.Fields())
	if err != nil {
		return
	}
	os.WriteFile(mappingPath, data, 0644)
}

func (idx *Index) getShardID(id string) int {
	hash := crc32.ChecksumIEEE([]byte(id))
	return int(hash % uint32(idx.settings.Shards))
}

func (idx *Index) Index(id string, data map[string]interface{}) error {
	if idx.Mapping.Sniff(data) {
		idx.saveMapping()
	}
	shardID := idx.getShardID(id)
	return idx.shards[shardID].Index(id, data)
}

func (idx *Index) BatchIndex(ids []string, data []map[string]interface{}) error {
	if len(ids) != len(data) {
		return errors.Errorf("batch has %d ids for %d documents", len(ids), len(data))
	}

	numShards := idx.settings.Shards
	shardGroupsIds := make([][]string, numShards)
	shardGroupsData := make([][]map[string]interface{}, numShards)

	sniffed := false
	for i, id := range ids {
		d := data[i]
		if idx.Mapping.Sniff(d) {
			sniffed = true
		}
		shardID := idx.getShardID(id)
		shardGroupsIds[shardID] = append(shardGroupsIds[shardID], id)
		shardGroupsData[shardID] = append(shardGroupsData[shardID], d)
	}
	if sniffed {
		idx.saveMapping()
	}

	var wg sync.WaitGroup
	errs := make([]error, numShards)
	for i := 0; i < numShards; i++ {
		if len(shardGroupsIds[i]) == 0 {
			continue
		}
		wg.Add(1)
		go func(i_ int) {
			defer wg.Done()
			errs[i_] = idx.shards[i_].BatchIndex(shardGroupsIds[i_], shardGroupsData[i_])
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) Get(id string) (map[string]interface{}, error) {
	shardID := idx.getShardID(id)
	return idx.shards[shardID].Get(id)
}

func (idx *Index) Delete(id string) error {
	shardID := idx.getShardID(id)
	return idx.shards[shardID].Delete(id)
}

// Search runs req on every shard and merges the hits by score. Paging is
// applied after the merge.
func (idx *Index) Search(req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	numShards := idx.settings.Shards
	shardReq := *req
	shardReq.From = 0
	shardReq.Size = req.From + req.Size

	var wg sync.WaitGroup
	results := make([]*bleve.SearchResult, numShards)
	errs := make([]error, numShards)

	for i := 0; i < numShards; i++ {
		wg.Add(1)
		go func(i_ int) {
			defer wg.Done()
			res, err := idx.shards[i_].Search(&shardReq)
			results[i_] = res
			errs[i_] = err
		}(i)
	}
	wg.Wait()

	var finalResult *bleve.SearchResult
	for i, res := range results {
		if errs[i] != nil {
			return nil, errs[i]
		}
		if res == nil {
			continue
		}
		if finalResult == nil {
			finalResult = res
		} else {
			finalResult.Merge(res)
		}
	}

	if finalResult == nil {
		return &bleve.SearchResult{Request: req}, nil
	}

	hits := finalResult.Hits
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	from := req.From
	if from > len(hits) {
		from = len(hits)
	}
	to := from + req.Size
	if to > len(hits) {
		to = len(hits)
	}
	finalResult.Hits = hits[from:to]
	finalResult.Request = req

	return finalResult, nil
}

func (idx *Index) DocCount() (uint64, error) {
	var total uint64
	for _, s := range idx.shards {
		count, err := s.DocCount()
		if err != nil {
			return 0, err
		}
		total += count
	}
	return total, nil
}

func (idx *Index) Close() error {
	idx.saveMapping()

	var errs *multierror.Error
	for _, s := range idx.shards {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (idx *Index) GetMetadata() Metadata {
	md := Metadata{
		NumShards:   idx.settings.Shards,
		NumReplicas: idx.settings.Replicas,
		Shards:      make([]string, idx.settings.Shards),
	}
	for i := 0; i < idx.settings.Shards; i++ {
		md.Shards[i] = fmt.Sprintf("shard_%d", i)
	}
	return md
}

type Metadata struct {
	NumShards   int      `json:"num_shards"`
	NumReplicas int      `json:"num_replicas"`
	Shards      []string `json:"shards"`
}
