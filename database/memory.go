package database

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quartzbi/metasync/types"
	"github.com/quartzbi/metasync/utils"
)

// MemoryStore keeps collections in process memory. Documents are deep
// copied on the way in and out so callers can never mutate stored state.
type MemoryStore struct {
	collections map[string]map[string]map[string]interface{}
	mutex       sync.RWMutex
	logger      types.Logger
	state       atomic.Value
}

func NewMemoryStore(logger types.Logger) (types.StoreManager, error) {
	store := &MemoryStore{
		collections: make(map[string]map[string]map[string]interface{}),
		logger:      logger,
	}

	store.state.Store(StateStopped)
	return store, nil
}

func (m *MemoryStore) Start() error {
	if !m.transitionState(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}

	m.logger.Info("Memory store started")
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.transitionState(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}

	m.mutex.Lock()
	m.collections = make(map[string]map[string]map[string]interface{})
	m.mutex.Unlock()

	m.logger.Info("Memory store stopped gracefully")
	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *MemoryStore) CreateCollection(collectionName string) error {
	if collectionName == "" {
		return types.ErrCollectionEmpty
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.collections[collectionName]; exists {
		return types.ErrCollectionExists
	}

	m.collections[collectionName] = make(map[string]map[string]interface{})
	return nil
}

func (m *MemoryStore) DropCollection(collectionName string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.collections, collectionName)
	return nil
}

func (m *MemoryStore) CreateDocuments(ctx context.Context, request types.CreateDocumentsRequest) ([]string, error) {
	if request.Collection == "" {
		return nil, types.ErrCollectionEmpty
	}
	if len(request.Data) == 0 {
		return []string{}, nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	collection, exists := m.collections[request.Collection]
	if !exists {
		collection = make(map[string]map[string]interface{})
		m.collections[request.Collection] = collection
	}

	ids := make([]string, 0, len(request.Data))
	now := time.Now().UnixNano()

	for i, data := range request.Data {
		doc, err := asDocument(data)
		if err != nil {
			return nil, err
		}

		internalID := uuid.New().String()
		doc["internal_id"] = internalID
		doc["cr_time"] = now + int64(i)
		doc["ch_time"] = now + int64(i)

		collection[internalID] = doc
		ids = append(ids, internalID)
	}

	return ids, nil
}

func (m *MemoryStore) ReadDocuments(ctx context.Context, request types.ReadDocumentsRequest) ([]map[string]interface{}, int64, error) {
	if request.Collection == "" {
		return nil, 0, types.ErrCollectionEmpty
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	collection, exists := m.collections[request.Collection]
	if !exists {
		return []map[string]interface{}{}, 0, nil
	}

	var matched []map[string]interface{}
	for _, doc := range collection {
		if matchesFilter(doc, request.Filter) {
			matched = append(matched, deepCopyDocument(doc))
		}
	}

	total := int64(len(matched))

	if len(request.Sort) > 0 {
		sortDocuments(matched, request.Sort)
	}

	if request.Skip > 0 {
		if request.Skip >= len(matched) {
			return []map[string]interface{}{}, total, nil
		}
		matched = matched[request.Skip:]
	}

	if request.Limit > 0 && request.Limit < len(matched) {
		matched = matched[:request.Limit]
	}

	return matched, total, nil
}

func (m *MemoryStore) DeleteDocuments(ctx context.Context, request types.DeleteDocumentsRequest) (int64, error) {
	if request.Collection == "" {
		return 0, types.ErrCollectionEmpty
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	collection, exists := m.collections[request.Collection]
	if !exists {
		return 0, nil
	}

	var toDelete []string
	for id, doc := range collection {
		if matchesFilter(doc, request.Filter) {
			toDelete = append(toDelete, id)
		}
	}

	for _, id := range toDelete {
		delete(collection, id)
	}

	return int64(len(toDelete)), nil
}

func (m *MemoryStore) getState() State {
	return m.state.Load().(State)
}

func (m *MemoryStore) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

// asDocument turns any value into a stored document. Maps pass through,
// everything else goes through a JSON round trip so struct records like
// SyncRunRecord can be written directly.
func asDocument(data interface{}) (map[string]interface{}, error) {
	if doc, ok := data.(map[string]interface{}); ok {
		return deepCopyDocument(doc), nil
	}

	raw, err := utils.Marshal(data)
	if err != nil {
		return nil, types.Errorf(types.ErrDocumentInvalid, "%v", err)
	}

	var doc map[string]interface{}
	if err := utils.Unmarshal(raw, &doc); err != nil {
		return nil, types.Errorf(types.ErrDocumentInvalid, "%v", err)
	}

	return doc, nil
}

func deepCopyDocument(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyDocument(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

func matchesFilter(doc map[string]interface{}, filter map[string]interface{}) bool {
	for key, value := range filter {
		if !matchesField(doc, key, value) {
			return false
		}
	}
	return true
}

// matchesField resolves dotted keys ("report.window.start") against nested
// documents before comparing.
func matchesField(doc map[string]interface{}, key string, filterValue interface{}) bool {
	keys := strings.Split(key, ".")
	current := doc

	for i, k := range keys {
		if i == len(keys)-1 {
			docValue, exists := current[k]
			if !exists {
				return false
			}
			return compareValues(docValue, filterValue)
		}

		next, exists := current[k]
		if !exists {
			return false
		}
		nextMap, ok := next.(map[string]interface{})
		if !ok {
			return false
		}
		current = nextMap
	}

	return false
}

func compareValues(docValue, filterValue interface{}) bool {
	operators, ok := filterValue.(map[string]interface{})
	if !ok {
		return looseEqual(docValue, filterValue)
	}

	for op, value := range operators {
		switch op {
		case "$eq":
			if !looseEqual(docValue, value) {
				return false
			}
		case "$ne":
			if looseEqual(docValue, value) {
				return false
			}
		case "$gt":
			if !compareNumbers(docValue, value, ">") {
				return false
			}
		case "$gte":
			if !compareNumbers(docValue, value, ">=") {
				return false
			}
		case "$lt":
			if !compareNumbers(docValue, value, "<") {
				return false
			}
		case "$lte":
			if !compareNumbers(docValue, value, "<=") {
				return false
			}
		case "$in":
			if !valueIn(docValue, value) {
				return false
			}
		case "$nin":
			if valueIn(docValue, value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func valueIn(docValue, filterValue interface{}) bool {
	arr, ok := filterValue.([]interface{})
	if !ok {
		return false
	}
	for _, v := range arr {
		if looseEqual(docValue, v) {
			return true
		}
	}
	return false
}

// looseEqual compares values the way JSON documents see them: numbers of
// any width compare by value, everything else by interface equality.
func looseEqual(a, b interface{}) bool {
	if aNum, aOk := toFloat64(a); aOk {
		if bNum, bOk := toFloat64(b); bOk {
			return aNum == bNum
		}
	}
	return a == b
}

func compareNumbers(a, b interface{}, op string) bool {
	aVal, aOk := toFloat64(a)
	bVal, bOk := toFloat64(b)

	if !aOk || !bOk {
		return false
	}

	switch op {
	case ">":
		return aVal > bVal
	case ">=":
		return aVal >= bVal
	case "<":
		return aVal < bVal
	case "<=":
		return aVal <= bVal
	}
	return false
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// sortDocuments orders by the requested fields, field names applied in
// lexical order since map iteration carries no order of its own. Direction
// 1 is ascending, -1 descending, matching clover sort options.
func sortDocuments(docs []map[string]interface{}, sortSpec map[string]int) {
	fields := make([]string, 0, len(sortSpec))
	for field := range sortSpec {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	sort.SliceStable(docs, func(i, j int) bool {
		for _, field := range fields {
			cmp := compareForSort(docs[i][field], docs[j][field])
			if cmp == 0 {
				continue
			}
			if sortSpec[field] < 0 {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func compareForSort(a, b interface{}) int {
	if aNum, aOk := toFloat64(a); aOk {
		if bNum, bOk := toFloat64(b); bOk {
			switch {
			case aNum < bNum:
				return -1
			case aNum > bNum:
				return 1
			default:
				return 0
			}
		}
	}

	aStr, aOk := a.(string)
	bStr, bOk := b.(string)
	if aOk && bOk {
		return strings.Compare(aStr, bStr)
	}
	return 0
}
