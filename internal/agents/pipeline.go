package agents

import (
	"time"

	"github.com/ahmetk3436/autoremedy/internal/config"
	"github.com/ahmetk3436/autoremedy/internal/executor"
	"github.com/ahmetk3436/autoremedy/internal/workflow"
)

// Pipeline is the full agent set, registered with one manager.
type Pipeline struct {
	Manager     *Manager
	Collector   *Collector
	Detector    *Detector
	Recommender *Recommender
	Approval    *Approval
	Remediator  *Remediator
	Auditor     *Auditor
	Engine      *workflow.Engine
}

// NewPipeline builds every agent from the process configuration. Servers
// with a registered connection are sampled through exec; the rest fall back
// to synthetic samples.
func NewPipeline(cfg *config.Config, deps Deps, exec *executor.Executor) (*Pipeline, error) {
	deps = deps.withDefaults()

	engine := workflow.NewEngine(deps.Store, deps.Events)
	engine.SetClock(deps.Now)

	p := &Pipeline{
		Manager: NewManager(deps.Store, deps.Events, cfg.SupervisorInterval),
		Engine:  engine,
	}
	p.Collector = NewCollector(deps, CollectorOptions{
		Interval: cfg.CollectInterval,
		Sampler: &CommandSampler{
			Runner:   exec,
			Fallback: NewSyntheticSampler(time.Now().UnixNano()),
		},
	})
	p.Detector = NewDetector(deps, DetectorOptions{
		Interval:     cfg.DetectInterval,
		GlobalCap:    cfg.GlobalAlertCap,
		PerServerCap: cfg.PerServerAlertCap,
		AlertTTL:     cfg.AlertTTL,
		AIDetection:  cfg.AIDetection,
	})
	p.Recommender = NewRecommender(deps, RecommenderOptions{
		Interval:            cfg.RecommendInterval,
		MinInterval:         cfg.RecommendMinInterval,
		CacheTTL:            cfg.RecommendCacheTTL,
		DailyCap:            cfg.DailyActionCap,
		DefaultMaxExecution: cfg.DefaultMaxExecution,
		OS:                  exec,
	})
	p.Approval = NewApproval(deps, ApprovalOptions{Interval: cfg.ApprovalInterval, Engine: engine})
	p.Remediator = NewRemediator(deps, RemediatorOptions{
		Interval:       cfg.RemediateInterval,
		MaxConcurrent:  cfg.MaxConcurrentExecutions,
		DefaultTimeout: cfg.DefaultMaxExecution,
		Runner:         exec,
	})
	p.Auditor = NewAuditor(deps, AuditorOptions{Interval: cfg.AuditInterval})

	for _, a := range []Agent{p.Collector, p.Detector, p.Recommender, p.Approval, p.Remediator, p.Auditor} {
		if err := p.Manager.Register(a); err != nil {
			return nil, err
		}
	}
	return p, nil
}
