package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"resume-search-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointIDForResumeDeterministic(t *testing.T) {
	id1 := PointIDForResume("resume-123")
	id2 := PointIDForResume("resume-123")
	id3 := PointIDForResume("resume-456")

	assert.Equal(t, id1, id2, "同一简历ID应生成同一点ID")
	assert.NotEqual(t, id1, id3, "不同简历ID应生成不同点ID")
}

func TestUpsertResumeVector(t *testing.T) {
	var captured struct {
		Points []struct {
			ID      string                 `json:"id"`
			Vector  []float64              `json:"vector"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"points"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/collections/resumes/points", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("wait"))

		err := json.NewDecoder(r.Body).Decode(&captured)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"status":"acknowledged"},"status":"ok","time":0.001}`))
	}))
	defer server.Close()

	q := newQdrantForTest(server.URL, "resumes", 4)

	vector := []float64{0.1, 0.2, 0.3, 0.4}
	pointID, err := q.UpsertResumeVector(context.Background(), "resume-abc", vector, map[string]interface{}{
		"role": "backend",
	})
	require.NoError(t, err, "upsert应成功")

	assert.Equal(t, PointIDForResume("resume-abc"), pointID, "返回的点ID应为确定性ID")
	require.Len(t, captured.Points, 1)
	assert.Equal(t, pointID, captured.Points[0].ID)
	assert.Equal(t, vector, captured.Points[0].Vector)
	assert.Equal(t, "resume-abc", captured.Points[0].Payload["resume_id"], "payload必须回填resume_id")
	assert.Equal(t, "backend", captured.Points[0].Payload["role"])
}

func TestUpsertResumeVectorDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("维度不匹配时不应发起任何HTTP请求")
	}))
	defer server.Close()

	q := newQdrantForTest(server.URL, "resumes", 4)

	_, err := q.UpsertResumeVector(context.Background(), "resume-abc", []float64{0.1, 0.2}, nil)
	assert.Error(t, err, "维度不匹配应报错")
	assert.Contains(t, err.Error(), "维度")
}

func TestSearchResumesFilterTranslation(t *testing.T) {
	var captured map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/resumes/points/search", r.URL.Path)
		err := json.NewDecoder(r.Body).Decode(&captured)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":[{"id":"p1","score":0.93,"payload":{"resume_id":"r1","role":"backend"}}],"status":"ok","time":0.002}`))
	}))
	defer server.Close()

	q := newQdrantForTest(server.URL, "resumes", 4)

	filter := &types.SearchFilter{
		Role:   "backend",
		Skills: []string{"go", "mysql"},
	}
	hits, err := q.SearchResumes(context.Background(), []float64{0.1, 0.2, 0.3, 0.4}, 10, filter)
	require.NoError(t, err)

	require.Len(t, hits, 1)
	assert.Equal(t, "p1", hits[0].ID)
	assert.InDelta(t, 0.93, float64(hits[0].Score), 0.0001)
	assert.Equal(t, "r1", hits[0].Payload["resume_id"])

	// 验证过滤器翻译
	qf, ok := captured["filter"].(map[string]interface{})
	require.True(t, ok, "请求体应包含filter")
	must, ok := qf["must"].([]interface{})
	require.True(t, ok)
	assert.Len(t, must, 3, "role+2个skill共3个must条件")
}

func TestSearchResumesEmptyFilterOmitted(t *testing.T) {
	var captured map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := json.NewDecoder(r.Body).Decode(&captured)
		require.NoError(t, err)
		w.Write([]byte(`{"result":[],"status":"ok","time":0.001}`))
	}))
	defer server.Close()

	q := newQdrantForTest(server.URL, "resumes", 4)

	_, err := q.SearchResumes(context.Background(), []float64{0, 0, 0, 0}, 10, &types.SearchFilter{})
	require.NoError(t, err)

	_, hasFilter := captured["filter"]
	assert.False(t, hasFilter, "空过滤器不应出现在请求体中")
}

func TestFilterResumesScrollsWithFilter(t *testing.T) {
	var captured map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/resumes/points/scroll", r.URL.Path)
		err := json.NewDecoder(r.Body).Decode(&captured)
		require.NoError(t, err)
		w.Write([]byte(`{"result":{"points":[{"id":"p1","payload":{"resume_id":"r1","role":"backend"}}]},"status":"ok","time":0.001}`))
	}))
	defer server.Close()

	q := newQdrantForTest(server.URL, "resumes", 4)

	hits, err := q.FilterResumes(context.Background(), &types.SearchFilter{Role: "backend"}, 10)
	require.NoError(t, err)

	require.Len(t, hits, 1)
	assert.Equal(t, "p1", hits[0].ID)
	assert.Equal(t, "r1", hits[0].Payload["resume_id"])
	assert.Zero(t, hits[0].Score, "过滤检索没有相似度分数")

	assert.Equal(t, true, captured["with_payload"])
	_, hasFilter := captured["filter"]
	assert.True(t, hasFilter, "请求体应包含filter")
}

func TestDeletePointsIdempotent(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		assert.Equal(t, "/collections/resumes/points/delete", r.URL.Path)
		w.Write([]byte(`{"result":{"status":"acknowledged"},"status":"ok","time":0.001}`))
	}))
	defer server.Close()

	q := newQdrantForTest(server.URL, "resumes", 4)

	// 重复删除同一简历应始终成功
	err := q.DeleteResumeVector(context.Background(), "resume-abc")
	require.NoError(t, err)
	err = q.DeleteResumeVector(context.Background(), "resume-abc")
	require.NoError(t, err)
	assert.Equal(t, 2, callCount)

	// 空列表直接短路
	err = q.DeletePoints(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, callCount, "空列表不应发起请求")
}

func TestSearchResumesIndexUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"error"}`))
	}))
	defer server.Close()

	q := newQdrantForTest(server.URL, "resumes", 4)

	_, err := q.SearchResumes(context.Background(), []float64{0, 0, 0, 0}, 10, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIndexUnavailable, "服务端错误应映射为索引不可用")
}

func TestScrollPointIDs(t *testing.T) {
	page := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/resumes/points/scroll", r.URL.Path)
		page++
		if page == 1 {
			w.Write([]byte(`{"result":{"points":[{"id":"p1","payload":{"resume_id":"r1"}},{"id":"p2","payload":{"resume_id":"r2"}}],"next_page_offset":"p2"},"status":"ok"}`))
		} else {
			w.Write([]byte(`{"result":{"points":[{"id":"p3","payload":{"resume_id":"r3"}}],"next_page_offset":null},"status":"ok"}`))
		}
	}))
	defer server.Close()

	q := newQdrantForTest(server.URL, "resumes", 4)

	mapping, err := q.ScrollPointIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, page, "应翻页直到next_page_offset为空")
	assert.Equal(t, map[string]string{"p1": "r1", "p2": "r2", "p3": "r3"}, mapping)
}
