package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"resume-search-go/internal/storage"
	"resume-search-go/internal/types"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder 返回固定维度向量的测试桩
type stubEmbedder struct {
	dim       int
	callCount int32
	err       error
}

func (s *stubEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	atomic.AddInt32(&s.callCount, 1)
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		vec := make([]float64, s.dim)
		for j := range vec {
			vec[j] = float64(len(texts[i])%7) * 0.1
		}
		out[i] = vec
	}
	return out, nil
}

// fakeVectorIndex 记录upsert/delete调用的测试桩
type fakeVectorIndex struct {
	mu      sync.Mutex
	points  map[string][]float64
	payload map[string]map[string]interface{}
	deletes []string
	failAll bool
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{
		points:  make(map[string][]float64),
		payload: make(map[string]map[string]interface{}),
	}
}

func (f *fakeVectorIndex) UpsertResumeVector(ctx context.Context, resumeID string, vector []float64, payload map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", errors.New("index down")
	}
	f.points[resumeID] = vector
	f.payload[resumeID] = payload
	return "point-" + resumeID, nil
}

func (f *fakeVectorIndex) SearchResumes(ctx context.Context, queryVector []float64, limit int, filter *types.SearchFilter) ([]storage.VectorHit, error) {
	return nil, nil
}

func (f *fakeVectorIndex) FilterResumes(ctx context.Context, filter *types.SearchFilter, limit int) ([]storage.VectorHit, error) {
	return nil, nil
}

func (f *fakeVectorIndex) DeleteResumeVector(ctx context.Context, resumeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("index down")
	}
	delete(f.points, resumeID)
	f.deletes = append(f.deletes, resumeID)
	return nil
}

func newTestIndexer(dim int, embedDim int, index *fakeVectorIndex) (*Indexer, *stubEmbedder) {
	stub := &stubEmbedder{dim: embedDim}
	holder := NewEmbedderHolder(func(ctx context.Context) (Embedder, error) {
		return stub, nil
	})
	return NewIndexer(NewNormalizer(), holder, index, dim), stub
}

func TestPadVector(t *testing.T) {
	// 维度不足补零
	padded := PadVector([]float64{0.1, 0.2}, 4)
	assert.Equal(t, []float64{0.1, 0.2, 0, 0}, padded)

	// 维度超出截断
	truncated := PadVector([]float64{0.1, 0.2, 0.3, 0.4, 0.5}, 3)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, truncated)

	// 维度一致原样返回
	exact := []float64{0.1, 0.2, 0.3}
	assert.Equal(t, exact, PadVector(exact, 3))

	// 长度恒等于目标维度
	for _, d := range []int{1, 4, 16} {
		assert.Len(t, PadVector([]float64{1, 2, 3}, d), d)
	}
}

func TestIndexResume(t *testing.T) {
	index := newFakeVectorIndex()
	indexer, _ := newTestIndexer(4, 4, index)

	record := &types.ResumeRecord{
		ID:              "r1",
		Title:           "Backend Engineer",
		Role:            "backend",
		ExperienceLevel: types.ExperienceSenior,
		Skills:          []string{"go"},
		Content:         "built services",
		IsPublic:        true,
		CreatedAt:       1700000000000,
		UpdatedAt:       1700000001000,
	}

	pointID, err := indexer.IndexResume(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, "point-r1", pointID)

	require.Contains(t, index.points, "r1")
	assert.Len(t, index.points["r1"], 4, "向量长度应等于索引维度")

	payload := index.payload["r1"]
	assert.Equal(t, "backend", payload["role"])
	assert.Equal(t, "senior", payload["experience_level"])
	assert.Equal(t, true, payload["is_public"])
	assert.Equal(t, "built services", payload["content_preview"])
	assert.Equal(t, int64(1700000000000), payload["created_at"])
	assert.Equal(t, int64(1700000001000), payload["updated_at"])
}

func TestIndexResumePadsShortVector(t *testing.T) {
	index := newFakeVectorIndex()
	// embedder输出2维，索引维度4
	indexer, _ := newTestIndexer(4, 2, index)

	record := &types.ResumeRecord{ID: "r1", Content: "some text"}
	_, err := indexer.IndexResume(context.Background(), record)
	require.NoError(t, err)

	vec := index.points["r1"]
	require.Len(t, vec, 4)
	assert.Equal(t, float64(0), vec[2], "补齐部分应为零")
	assert.Equal(t, float64(0), vec[3])
}

func TestIndexResumeEmptyContent(t *testing.T) {
	index := newFakeVectorIndex()
	indexer, stub := newTestIndexer(4, 4, index)

	record := &types.ResumeRecord{ID: "r1"}
	_, err := indexer.IndexResume(context.Background(), record)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExtractionFailed))
	assert.Equal(t, int32(0), atomic.LoadInt32(&stub.callCount), "无文本时不应调用embedding")
}

func TestIndexResumeIndexDown(t *testing.T) {
	index := newFakeVectorIndex()
	index.failAll = true
	indexer, _ := newTestIndexer(4, 4, index)

	_, err := indexer.IndexResume(context.Background(), &types.ResumeRecord{ID: "r1", Content: "text"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndexUnavailable))
}

func TestDeleteFromIndexIdempotent(t *testing.T) {
	index := newFakeVectorIndex()
	indexer, _ := newTestIndexer(4, 4, index)

	// 从未索引过的简历删除同样成功
	err := indexer.DeleteFromIndex(context.Background(), "never-indexed")
	require.NoError(t, err)
	err = indexer.DeleteFromIndex(context.Background(), "never-indexed")
	require.NoError(t, err)
	assert.Len(t, index.deletes, 2)
}

type stubInvalidator struct {
	calls int32
	err   error
}

func (s *stubInvalidator) InvalidateSearchSessions(ctx context.Context) error {
	atomic.AddInt32(&s.calls, 1)
	return s.err
}

func TestIndexMutationsInvalidateSearchSessions(t *testing.T) {
	index := newFakeVectorIndex()
	stub := &stubEmbedder{dim: 4}
	holder := NewEmbedderHolder(func(ctx context.Context) (Embedder, error) {
		return stub, nil
	})
	invalidator := &stubInvalidator{}
	indexer := NewIndexer(NewNormalizer(), holder, index, 4, WithSessionInvalidator(invalidator))

	_, err := indexer.IndexResume(context.Background(), &types.ResumeRecord{ID: "r1", Content: "text"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&invalidator.calls), "索引写入后应作废搜索会话")

	err = indexer.DeleteFromIndex(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&invalidator.calls), "索引删除后应作废搜索会话")

	// 作废失败只记日志，不影响索引操作本身
	invalidator.err = errors.New("redis down")
	_, err = indexer.IndexResume(context.Background(), &types.ResumeRecord{ID: "r2", Content: "text"})
	require.NoError(t, err)
}

func TestIndexBatch(t *testing.T) {
	index := newFakeVectorIndex()
	indexer, _ := newTestIndexer(4, 4, index)

	records := make([]*types.ResumeRecord, 20)
	for i := range records {
		records[i] = &types.ResumeRecord{
			ID:      fmt.Sprintf("r%d", i),
			Content: fmt.Sprintf("resume content %d", i),
		}
	}
	// 中间混入一条无文本记录
	records[7] = &types.ResumeRecord{ID: "r7"}

	results := indexer.IndexBatch(context.Background(), records)
	require.Len(t, results, 20)

	for i, res := range results {
		if i == 7 {
			assert.Error(t, res.Err, "无文本记录应失败")
			continue
		}
		assert.NoError(t, res.Err, "第%d条应成功", i)
		assert.Equal(t, fmt.Sprintf("r%d", i), res.ResumeID, "结果应保持输入顺序")
	}

	assert.Len(t, index.points, 19)
}

func TestIndexResumeConcurrentSameID(t *testing.T) {
	index := newFakeVectorIndex()
	indexer, _ := newTestIndexer(4, 4, index)

	record := &types.ResumeRecord{ID: "same", Content: "concurrent writes"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := indexer.IndexResume(context.Background(), record)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// 同一ID的并发写入互相串行，索引中只有一个点
	assert.Len(t, index.points, 1)
}
