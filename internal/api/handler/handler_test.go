package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"resume-search-go/internal/api/handler"
	"resume-search-go/internal/api/router"
	"resume-search-go/internal/config"
	"resume-search-go/internal/processor"
	"resume-search-go/internal/storage"
	"resume-search-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSearch 固定响应的搜索服务测试桩
type fakeSearch struct {
	resp *types.SearchResponse
	err  error
}

func (f *fakeSearch) Search(ctx context.Context, query string, filter *types.SearchFilter, page, pageSize int) (*types.SearchResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// fakeStore 内存记录库测试桩
type fakeStore struct {
	records map[string]*types.ResumeRecord
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]*types.ResumeRecord{}}
}

func (f *fakeStore) CreateResume(ctx context.Context, record *types.ResumeRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records[record.ID] = record
	return nil
}

func (f *fakeStore) GetResumeByID(ctx context.Context, id string) (*types.ResumeRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	record, ok := f.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return record, nil
}

func (f *fakeStore) UpdateResume(ctx context.Context, id string, updates map[string]interface{}) error {
	if f.err != nil {
		return f.err
	}
	record, ok := f.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	for column, value := range updates {
		switch column {
		case "title":
			record.Title = value.(string)
		case "role":
			record.Role = value.(string)
		case "author":
			record.Author = value.(string)
		case "experience_level":
			record.ExperienceLevel = types.ExperienceLevel(value.(string))
		case "years_experience":
			record.YearsExperience = value.(int)
		case "education":
			record.Education = value.(string)
		case "is_public":
			record.IsPublic = value.(bool)
		case "skills_json":
			data, err := json.Marshal(value)
			if err != nil {
				return err
			}
			var skills []string
			if err := json.Unmarshal(data, &skills); err != nil {
				return err
			}
			record.Skills = skills
		}
	}
	return nil
}

func (f *fakeStore) GetResumeIDByContentMD5(ctx context.Context, md5Hex string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	for id, record := range f.records {
		if record.ContentMD5 == md5Hex {
			return id, nil
		}
	}
	return "", storage.ErrNotFound
}

func (f *fakeStore) DeleteResume(ctx context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.records[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeStore) ListResumes(ctx context.Context, offset, limit int) ([]*types.ResumeRecord, int64, error) {
	out := make([]*types.ResumeRecord, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, int64(len(f.records)), nil
}

type fakeFiles struct {
	uploads int32
	deletes []string
	err     error
}

func (f *fakeFiles) UploadResumeFileStreaming(ctx context.Context, resumeID, fileExt string, reader io.Reader, fileSize int64) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	atomic.AddInt32(&f.uploads, 1)
	return storage.ObjectKeyForResume(resumeID, fileExt), "md5", nil
}

func (f *fakeFiles) GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	return "https://minio.local/" + objectKey, nil
}

func (f *fakeFiles) DeleteResumeFile(ctx context.Context, objectKey string) error {
	if f.err != nil {
		return f.err
	}
	f.deletes = append(f.deletes, objectKey)
	return nil
}

type fakeMD5 struct {
	known map[string]string
}

func (f *fakeMD5) CheckAndSetFileMD5(ctx context.Context, md5Hex, resumeID string) (bool, string, error) {
	if existing, ok := f.known[md5Hex]; ok {
		return true, existing, nil
	}
	if f.known == nil {
		f.known = map[string]string{}
	}
	f.known[md5Hex] = resumeID
	return false, "", nil
}

func (f *fakeMD5) RemoveFileMD5(ctx context.Context, md5Hex string) error {
	delete(f.known, md5Hex)
	return nil
}

type fakeQueue struct {
	events []string
	err    error
}

func (f *fakeQueue) PublishIndexEvent(ctx context.Context, resumeID string, action storage.IndexAction) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, resumeID+":"+string(action))
	return nil
}

type fakeExtractor struct {
	text string
}

func (f *fakeExtractor) ExtractTextFromBytes(ctx context.Context, data []byte, uri string) (string, map[string]interface{}, error) {
	return f.text, nil, nil
}

type fakeIndexService struct {
	indexed []string
	removed []string
	err     error
}

func (f *fakeIndexService) IndexResume(ctx context.Context, record *types.ResumeRecord) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.indexed = append(f.indexed, record.ID)
	return storage.PointIDForResume(record.ID), nil
}

func (f *fakeIndexService) DeleteFromIndex(ctx context.Context, resumeID string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, resumeID)
	return nil
}

type fakeFeedback struct{}

func (f *fakeFeedback) GenerateFeedback(ctx context.Context, record *types.ResumeRecord, req *types.FeedbackRequest) (*types.FeedbackResult, error) {
	return &types.FeedbackResult{ResumeID: record.ID, Feedback: "# 反馈", Fallback: true}, nil
}

type testEnv struct {
	engine  *server.Hertz
	store   *fakeStore
	files   *fakeFiles
	md5s    *fakeMD5
	queue   *fakeQueue
	indexer *fakeIndexService
	search  *fakeSearch
}

func newTestEnv(t *testing.T, mutate func(*testEnv)) *testEnv {
	return newTestEnvWithConfig(t, "", mutate)
}

func newTestEnvWithConfig(t *testing.T, adminAPIKey string, mutate func(*testEnv)) *testEnv {
	t.Helper()
	cfg := &config.Config{}
	cfg.Indexing.Enabled = true
	cfg.Server.AdminAPIKey = adminAPIKey

	env := &testEnv{
		store:   newFakeStore(),
		files:   &fakeFiles{},
		md5s:    &fakeMD5{},
		queue:   nil,
		indexer: &fakeIndexService{},
		search:  &fakeSearch{resp: &types.SearchResponse{Results: []types.SearchResult{}}},
	}
	if mutate != nil {
		mutate(env)
	}

	searchHandler := handler.NewSearchHandler(cfg, env.search)
	var queue handler.IndexEventPublisher
	if env.queue != nil {
		queue = env.queue
	}
	var md5s handler.MD5Registry
	if env.md5s != nil {
		md5s = env.md5s
	}
	resumeHandler := handler.NewResumeHandler(cfg, env.store, env.files, md5s,
		queue, &fakeExtractor{text: "提取出的简历文本"}, env.indexer, &fakeFeedback{})

	env.engine = server.Default(server.WithHostPorts("127.0.0.1:0"))
	router.RegisterRoutes(env.engine, cfg, searchHandler, resumeHandler)
	return env
}

func performJSON(t *testing.T, env *testEnv, method, path string, payload interface{}) *ut.ResponseRecorder {
	t.Helper()
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		require.NoError(t, err)
	}
	return ut.PerformRequest(env.engine.Engine, method, path,
		&ut.Body{Body: bytes.NewReader(body), Len: len(body)},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
}

func multipartUpload(t *testing.T, fileContent []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "resume.pdf")
	require.NoError(t, err)
	_, err = part.Write(fileContent)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestHandleSearchOK(t *testing.T) {
	env := newTestEnv(t, func(e *testEnv) {
		e.search = &fakeSearch{resp: &types.SearchResponse{
			Results:      []types.SearchResult{{ID: "r1", Score: 0.9, Source: types.SourceHydrated}},
			Page:         1,
			PageSize:     10,
			TotalResults: 1,
			TotalPages:   1,
		}}
	})

	resp := performJSON(t, env, "POST", "/api/v1/search", map[string]interface{}{
		"searchQuery": "golang 后端",
		"page":        1,
		"pageSize":    10,
	})
	require.Equal(t, http.StatusOK, resp.Code)

	var result types.SearchResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	assert.Equal(t, 1, result.TotalResults)
	assert.Equal(t, "r1", result.Results[0].ID)
}

func TestHandleSearchInvalidQuery(t *testing.T) {
	env := newTestEnv(t, func(e *testEnv) {
		e.search = &fakeSearch{err: processor.NewInvalidQueryError("查询为空")}
	})

	resp := performJSON(t, env, "POST", "/api/v1/search", map[string]interface{}{"searchQuery": ""})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, handler.ErrorTypeInvalidQuery, body["error_type"])
}

func TestHandleSearchIndexUnavailable(t *testing.T) {
	env := newTestEnv(t, func(e *testEnv) {
		e.search = &fakeSearch{err: processor.NewIndexError("", "connection refused")}
	})

	resp := performJSON(t, env, "POST", "/api/v1/search", map[string]interface{}{"searchQuery": "golang"})
	require.Equal(t, http.StatusInternalServerError, resp.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, handler.ErrorTypeIndexUnavailable, body["error_type"], "错误分类必须区分索引不可用")
}

func TestHandleResumeUploadNewFile(t *testing.T) {
	env := newTestEnv(t, nil)

	body, contentType := multipartUpload(t, []byte("%PDF-1.4 fake"), map[string]string{
		"title":  "资深Go工程师简历",
		"role":   "backend",
		"skills": "Go, MySQL , Redis",
	})
	resp := ut.PerformRequest(env.engine.Engine, "POST", "/api/v1/resumes/upload",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	require.Equal(t, http.StatusOK, resp.Code)

	var uploadResp handler.ResumeUploadResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &uploadResp))
	assert.NotEmpty(t, uploadResp.ResumeID)
	assert.Equal(t, "CREATED_INDEXED", uploadResp.Status)
	assert.False(t, uploadResp.Duplicate)

	record, err := env.store.GetResumeByID(context.Background(), uploadResp.ResumeID)
	require.NoError(t, err)
	assert.Equal(t, "资深Go工程师简历", record.Title)
	assert.Equal(t, []string{"Go", "MySQL", "Redis"}, record.Skills)
	assert.Equal(t, "提取出的简历文本", record.Content)
	assert.Equal(t, int32(1), atomic.LoadInt32(&env.files.uploads))
	assert.Equal(t, []string{uploadResp.ResumeID}, env.indexer.indexed)
}

func TestHandleResumeUploadDuplicate(t *testing.T) {
	env := newTestEnv(t, nil)

	fileContent := []byte("%PDF-1.4 duplicate candidate")
	body, contentType := multipartUpload(t, fileContent, nil)
	first := ut.PerformRequest(env.engine.Engine, "POST", "/api/v1/resumes/upload",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	require.Equal(t, http.StatusOK, first.Code)
	var firstResp handler.ResumeUploadResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResp))

	body, contentType = multipartUpload(t, fileContent, nil)
	second := ut.PerformRequest(env.engine.Engine, "POST", "/api/v1/resumes/upload",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	require.Equal(t, http.StatusOK, second.Code)

	var secondResp handler.ResumeUploadResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResp))
	assert.True(t, secondResp.Duplicate)
	assert.Equal(t, "DUPLICATE_FILE_SKIPPED", secondResp.Status)
	assert.Equal(t, firstResp.ResumeID, secondResp.ResumeID, "重复上传应返回既有记录ID")
	assert.Equal(t, int32(1), atomic.LoadInt32(&env.files.uploads), "重复文件不应再次上传")
}

func TestHandleResumeUploadDuplicateFallsBackToStore(t *testing.T) {
	// MD5登记表未配置时按记录库content_md5去重
	env := newTestEnv(t, func(e *testEnv) {
		e.md5s = nil
	})

	fileContent := []byte("%PDF-1.4 store dedup")
	body, contentType := multipartUpload(t, fileContent, nil)
	first := ut.PerformRequest(env.engine.Engine, "POST", "/api/v1/resumes/upload",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	require.Equal(t, http.StatusOK, first.Code)
	var firstResp handler.ResumeUploadResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResp))

	body, contentType = multipartUpload(t, fileContent, nil)
	second := ut.PerformRequest(env.engine.Engine, "POST", "/api/v1/resumes/upload",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	require.Equal(t, http.StatusOK, second.Code)

	var secondResp handler.ResumeUploadResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResp))
	assert.True(t, secondResp.Duplicate)
	assert.Equal(t, firstResp.ResumeID, secondResp.ResumeID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&env.files.uploads), "重复文件不应再次上传")
}

func TestHandleResumeUploadQueuePreferred(t *testing.T) {
	env := newTestEnv(t, func(e *testEnv) {
		e.queue = &fakeQueue{}
	})

	body, contentType := multipartUpload(t, []byte("%PDF-1.4 queue"), nil)
	resp := ut.PerformRequest(env.engine.Engine, "POST", "/api/v1/resumes/upload",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	require.Equal(t, http.StatusOK, resp.Code)

	var uploadResp handler.ResumeUploadResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &uploadResp))
	assert.Equal(t, "CREATED_INDEX_QUEUED", uploadResp.Status)
	assert.Empty(t, env.indexer.indexed, "配置了队列时不应同步索引")
	assert.Equal(t, []string{uploadResp.ResumeID + ":upsert"}, env.queue.events)
}

func TestHandleResumeUploadMissingFile(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := performJSON(t, env, "POST", "/api/v1/resumes/upload", map[string]string{"title": "no file"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleGetResume(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.records["r1"] = &types.ResumeRecord{ID: "r1", Title: "t", PDFURL: "resume/r1/original.pdf"}

	resp := ut.PerformRequest(env.engine.Engine, "GET", "/api/v1/resumes/r1", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Contains(t, body["pdf_download_url"], "resume/r1/original.pdf")

	notFound := ut.PerformRequest(env.engine.Engine, "GET", "/api/v1/resumes/missing", nil)
	assert.Equal(t, http.StatusNotFound, notFound.Code)
}

func TestHandleDeleteResumeVectorFailureStillDeletes(t *testing.T) {
	env := newTestEnv(t, func(e *testEnv) {
		e.indexer = &fakeIndexService{err: errors.New("index down")}
	})
	env.store.records["r1"] = &types.ResumeRecord{ID: "r1", PDFURL: "resume/r1/original.pdf"}

	resp := ut.PerformRequest(env.engine.Engine, "DELETE", "/api/v1/resumes/r1", nil)
	require.Equal(t, http.StatusOK, resp.Code, "向量删除失败不应阻止记录删除")

	_, err := env.store.GetResumeByID(context.Background(), "r1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, []string{"resume/r1/original.pdf"}, env.files.deletes)
}

func TestHandleReindexResume(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.records["r1"] = &types.ResumeRecord{ID: "r1", Content: "text"}

	resp := ut.PerformRequest(env.engine.Engine, "PUT", "/api/v1/resumes/r1/index", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"r1"}, env.indexer.indexed)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "r1", body["resumeId"])

	notFound := ut.PerformRequest(env.engine.Engine, "PUT", "/api/v1/resumes/missing/index", nil)
	assert.Equal(t, http.StatusNotFound, notFound.Code, "重建不存在的记录应返回404")
}

func TestHandleUpdateResume(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.records["r1"] = &types.ResumeRecord{ID: "r1", Title: "旧标题", Content: "text"}

	resp := performJSON(t, env, "PUT", "/api/v1/resumes/r1", map[string]interface{}{
		"title":     "新标题",
		"skills":    []string{"Go", "Redis"},
		"is_public": true,
	})
	require.Equal(t, http.StatusOK, resp.Code)

	record := env.store.records["r1"]
	assert.Equal(t, "新标题", record.Title)
	assert.Equal(t, []string{"Go", "Redis"}, record.Skills)
	assert.True(t, record.IsPublic)
	assert.Equal(t, "text", record.Content, "未提交的字段不应被修改")
	assert.Equal(t, []string{"r1"}, env.indexer.indexed, "元数据更新后应重建索引")
}

func TestHandleUpdateResumeValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.records["r1"] = &types.ResumeRecord{ID: "r1", Title: "t"}

	// 空更新体拒绝
	resp := performJSON(t, env, "PUT", "/api/v1/resumes/r1", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// 非法经验等级拒绝
	resp = performJSON(t, env, "PUT", "/api/v1/resumes/r1", map[string]interface{}{
		"experience_level": "wizard",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// 不存在的记录404
	resp = performJSON(t, env, "PUT", "/api/v1/resumes/missing", map[string]interface{}{
		"title": "x",
	})
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Empty(t, env.indexer.indexed)
}

func TestHandleRemoveFromIndexIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)

	// 未入索引的ID删除同样返回200
	for i := 0; i < 2; i++ {
		resp := ut.PerformRequest(env.engine.Engine, "DELETE", "/api/v1/resumes/never-indexed/index", nil)
		assert.Equal(t, http.StatusOK, resp.Code)
	}
	assert.Equal(t, []string{"never-indexed", "never-indexed"}, env.indexer.removed)
}

func TestHandleResumeFeedback(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.records["r1"] = &types.ResumeRecord{ID: "r1", Content: "简历内容"}

	resp := performJSON(t, env, "POST", "/api/v1/resumes/r1/feedback", map[string]string{"targetRole": "后端工程师"})
	require.Equal(t, http.StatusOK, resp.Code)

	var result types.FeedbackResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	assert.Equal(t, "r1", result.ResumeID)
	assert.NotEmpty(t, result.Feedback)
}

func TestAdminAPIKeyProtectsMutatingRoutes(t *testing.T) {
	env := newTestEnvWithConfig(t, "secret-key", nil)
	env.store.records["r1"] = &types.ResumeRecord{ID: "r1"}

	// 无key的写操作被拒绝
	resp := ut.PerformRequest(env.engine.Engine, "DELETE", "/api/v1/resumes/r1", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, handler.ErrorTypeUnauthorized, body["error_type"])

	// 读操作不受影响
	resp = ut.PerformRequest(env.engine.Engine, "GET", "/api/v1/resumes/r1", nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	// 携带正确key放行
	resp = ut.PerformRequest(env.engine.Engine, "DELETE", "/api/v1/resumes/r1", nil,
		ut.Header{Key: "X-API-Key", Value: "secret-key"})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := ut.PerformRequest(env.engine.Engine, "GET", "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}
