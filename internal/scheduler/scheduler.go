package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"loja/backend/internal/domain"
)

// Backuper creates one backup file.
type Backuper interface {
	Create(ctx context.Context) (domain.BackupFile, error)
}

// Scheduler runs automatic backups on a standard five-field cron expression.
type Scheduler struct {
	cron     *cron.Cron
	backups  Backuper
	spec     string
	logger   *zap.Logger
	deadline time.Duration
}

func New(spec string, backups Backuper, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:     cron.New(),
		backups:  backups,
		spec:     spec,
		logger:   logger.Named("scheduler"),
		deadline: 2 * time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, s.runBackup); err != nil {
		return nil, fmt.Errorf("invalid backup schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for a running job.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting scheduler", zap.String("backup_cron", s.spec))
	s.cron.Start()
	<-ctx.Done()

	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) runBackup() {
	ctx, cancel := context.WithTimeout(context.Background(), s.deadline)
	defer cancel()

	file, err := s.backups.Create(ctx)
	if err != nil {
		s.logger.Error("scheduled backup failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled backup created", zap.String("file", file.Name))
}
