package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/iammorganparry/clive/apps/casegen/internal/models"
)

const collectionPrefix = "casegen_"

// CollectionName maps a corpus to its Qdrant collection.
func CollectionName(corpus models.Corpus) string {
	return collectionPrefix + string(corpus)
}

// CollectionManager creates corpus collections lazily. Concurrent ingests
// into a new corpus share a single create call.
type CollectionManager struct {
	client *QdrantClient
	group  singleflight.Group
	ready  sync.Map // collection name -> struct{}
}

func NewCollectionManager(client *QdrantClient) *CollectionManager {
	return &CollectionManager{client: client}
}

// EnsureForCorpus returns the collection for corpus, creating it first if
// this process has not seen it yet. Failures are not remembered, so the next
// call retries.
func (m *CollectionManager) EnsureForCorpus(ctx context.Context, corpus models.Corpus) (string, error) {
	name := CollectionName(corpus)
	if _, ok := m.ready.Load(name); ok {
		return name, nil
	}

	_, err, _ := m.group.Do(name, func() (any, error) {
		if err := m.client.EnsureCollection(ctx, name); err != nil {
			return nil, err
		}
		m.ready.Store(name, struct{}{})
		return nil, nil
	})
	if err != nil {
		return "", fmt.Errorf("ensure collection for %s corpus: %w", corpus, err)
	}
	return name, nil
}
