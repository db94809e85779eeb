package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/testematch/internal/audit/domain"
	obscontext "github.com/smallbiznis/testematch/internal/observability/context"
	"github.com/smallbiznis/testematch/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, rec auditdomain.Record) error {
	action := strings.TrimSpace(rec.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	targetType := strings.TrimSpace(rec.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}
	actorType, actorID := s.resolveActor(ctx, rec.ActorType, rec.ActorID)

	payload := map[string]any{}
	for key, value := range rec.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   normalize(rec.TargetID),
		Metadata:   datatypes.JSONMap(payload),
		IPAddress:  normalize(rec.IPAddress),
		UserAgent:  normalize(rec.UserAgent),
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResult, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListResult{}, auditdomain.ErrInvalidTimeRange
	}

	page := req.Page.Normalize(pagination.MaxLimit)
	filter := auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
	}

	total, err := s.repo.Count(ctx, s.db, filter)
	if err != nil {
		return auditdomain.ListResult{}, err
	}
	logs, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		return auditdomain.ListResult{}, err
	}
	if logs == nil {
		logs = []auditdomain.AuditLog{}
	}

	return auditdomain.ListResult{
		Logs:     logs,
		PageInfo: pagination.BuildPageInfo(page, total),
	}, nil
}

func (s *Service) resolveActor(ctx context.Context, actorType auditdomain.ActorType, actorID string) (string, *string) {
	kind := strings.TrimSpace(string(actorType))
	id := strings.TrimSpace(actorID)
	if kind == "" {
		if ctxType, ctxID := obscontext.ActorFromContext(ctx); ctxType != "" {
			kind = ctxType
			if id == "" {
				id = ctxID
			}
		}
	}
	if kind == "" {
		kind = string(auditdomain.ActorTypeSystem)
	}
	return kind, normalize(id)
}

func normalize(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
