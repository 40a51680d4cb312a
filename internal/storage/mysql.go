package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"resume-search-go/internal/config"
	"resume-search-go/internal/storage/models"
	"resume-search-go/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("resume-search-go/storage/mysql")

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer trace.Tracer
	dbName string
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

type gormSpanKey struct{}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	registrations := []struct {
		register  func(string, func(*gorm.DB)) error
		operation string
		name      string
	}{
		{func(n string, f func(*gorm.DB)) error { return cb.Create().Before("gorm:create").Register(n, f) }, "CREATE", "otel:before_create"},
		{func(n string, f func(*gorm.DB)) error { return cb.Query().Before("gorm:query").Register(n, f) }, "SELECT", "otel:before_query"},
		{func(n string, f func(*gorm.DB)) error { return cb.Update().Before("gorm:update").Register(n, f) }, "UPDATE", "otel:before_update"},
		{func(n string, f func(*gorm.DB)) error { return cb.Delete().Before("gorm:delete").Register(n, f) }, "DELETE", "otel:before_delete"},
	}
	for _, r := range registrations {
		if err := r.register(r.name, p.before(r.operation)); err != nil {
			return err
		}
	}

	afterRegistrations := []struct {
		register func(string, func(*gorm.DB)) error
		name     string
	}{
		{func(n string, f func(*gorm.DB)) error { return cb.Create().After("gorm:create").Register(n, f) }, "otel:after_create"},
		{func(n string, f func(*gorm.DB)) error { return cb.Query().After("gorm:query").Register(n, f) }, "otel:after_query"},
		{func(n string, f func(*gorm.DB)) error { return cb.Update().After("gorm:update").Register(n, f) }, "otel:after_update"},
		{func(n string, f func(*gorm.DB)) error { return cb.Delete().After("gorm:delete").Register(n, f) }, "otel:after_delete"},
	}
	for _, r := range afterRegistrations {
		if err := r.register(r.name, p.after()); err != nil {
			return err
		}
	}

	return nil
}

// before 返回在GORM操作之前执行的回调函数
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		spanName := fmt.Sprintf("%s %s", operation, tableName)
		newCtx, span := p.tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		)

		// 将span保存在DB上下文中，以便在after回调中使用
		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

// after 返回在GORM操作之后执行的回调函数
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))

		if db.Error != nil {
			if errors.Is(db.Error, gorm.ErrRecordNotFound) {
				// ErrRecordNotFound 是业务逻辑正常情况的一部分，不应作为错误处理
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				span.SetAttributes(attribute.String("error.type", "database_error"))
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer: mysqlTracer,
		dbName: dbName,
	}
}

// ResumeRecordStore 记录库接口，简历元数据的权威存取边界
type ResumeRecordStore interface {
	// CreateResume 创建一条简历记录
	CreateResume(ctx context.Context, record *types.ResumeRecord) error

	// GetResumeByID 按ID获取简历记录，不存在时返回 ErrNotFound
	GetResumeByID(ctx context.Context, id string) (*types.ResumeRecord, error)

	// UpdateResume 部分更新简历记录，不存在时返回 ErrNotFound
	UpdateResume(ctx context.Context, id string, updates map[string]interface{}) error

	// DeleteResume 删除简历记录，不存在时返回 ErrNotFound
	DeleteResume(ctx context.Context, id string) error

	// ListResumes 按更新时间倒序分页列出简历记录
	ListResumes(ctx context.Context, offset, limit int) ([]*types.ResumeRecord, int64, error)

	// GetResumeIDs 返回全部简历ID集合，供一致性校验使用
	GetResumeIDs(ctx context.Context) ([]string, error)
}

// 确保MySQL实现了ResumeRecordStore接口
var _ ResumeRecordStore = (*MySQL)(nil)

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	// 构建DSN，添加超时设置
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	default:
		logLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}

	// 设置连接池参数
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{
		db:  db,
		cfg: cfg,
	}

	// 注册OpenTelemetry追踪插件
	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := m.autoMigrateSchema(); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	log.Println("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构
func (m *MySQL) autoMigrateSchema() error {
	currentLogger := m.db.Logger

	// 迁移期间关闭SQL日志打印
	silentDB := m.db.Session(&gorm.Session{Logger: currentLogger.LogMode(logger.Silent)})

	if err := silentDB.AutoMigrate(&models.Resume{}); err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// CreateResume 创建简历记录。ID冲突视为错误，ID一经创建不可变。
func (m *MySQL) CreateResume(ctx context.Context, record *types.ResumeRecord) error {
	model, err := models.FromRecord(record)
	if err != nil {
		return err
	}
	if err := m.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("创建简历记录失败: %w", err)
	}
	return nil
}

// GetResumeByID 按ID获取简历记录
func (m *MySQL) GetResumeByID(ctx context.Context, id string) (*types.ResumeRecord, error) {
	var model models.Resume
	err := m.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("查询简历记录失败: %w", err)
	}
	return model.ToRecord(), nil
}

// UpdateResume 部分更新简历记录。updates的key为数据库列名。
func (m *MySQL) UpdateResume(ctx context.Context, id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	// id 不可变
	delete(updates, "id")

	result := m.db.WithContext(ctx).Model(&models.Resume{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("更新简历记录失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteResume 删除简历记录
func (m *MySQL) DeleteResume(ctx context.Context, id string) error {
	result := m.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Resume{})
	if result.Error != nil {
		return fmt.Errorf("删除简历记录失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListResumes 按更新时间倒序分页列出简历记录
func (m *MySQL) ListResumes(ctx context.Context, offset, limit int) ([]*types.ResumeRecord, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := m.db.WithContext(ctx).Model(&models.Resume{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计简历记录失败: %w", err)
	}

	var rows []models.Resume
	err := m.db.WithContext(ctx).
		Order("updated_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询简历列表失败: %w", err)
	}

	records := make([]*types.ResumeRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].ToRecord())
	}
	return records, total, nil
}

// GetResumeIDs 返回全部简历ID集合
func (m *MySQL) GetResumeIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := m.db.WithContext(ctx).Model(&models.Resume{}).Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("查询简历ID集合失败: %w", err)
	}
	return ids, nil
}

// GetResumeIDByContentMD5 按内容MD5查找已存在的简历ID，用于上传去重兜底
func (m *MySQL) GetResumeIDByContentMD5(ctx context.Context, md5Hex string) (string, error) {
	var model models.Resume
	err := m.db.WithContext(ctx).Select("id").Where("content_md5 = ?", md5Hex).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("按MD5查询简历失败: %w", err)
	}
	return model.ID, nil
}
